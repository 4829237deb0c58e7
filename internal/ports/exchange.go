package ports

import (
	"context"
	"time"

	"candlesync/internal/domain"
)

// LiveFetcher retrieves recent candles from a rate-limited exchange REST API.
type LiveFetcher interface {
	// FetchLive retrieves candles for a symbol/interval. With zero start and
	// end it issues a single call returning up to limit most recent bars;
	// with a window it pages through the API, advancing past the last
	// received close time, until the window is covered, a page comes back
	// empty, or the expected bar count for the window is reached.
	// Failures are surfaced to the caller; there is no automatic retry.
	FetchLive(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]*domain.Candle, error)
}

// ArchiveFetcher retrieves pre-packaged daily candle files from a bulk
// archive endpoint.
type ArchiveFetcher interface {
	// FetchDay retrieves and parses the archive file for one calendar day
	// (domain.DateLayout format). A day the archive does not have yields
	// (nil, nil); "no data for that day" is not an error. A payload that
	// downloads but cannot be parsed is a hard error.
	FetchDay(ctx context.Context, symbol, interval string, segment domain.MarketSegment, date string) ([]*domain.Candle, error)
}

// Exchange is the capability surface one exchange exposes to the ingestion
// engine. Implementations are selected through the registry at startup, not
// resolved by name at call time.
type Exchange interface {
	LiveFetcher
	ArchiveFetcher
}
