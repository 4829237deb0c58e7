package ports

import (
	"context"

	"candlesync/internal/domain"
)

// UpsertResult reports how many rows an upsert created versus overwrote.
type UpsertResult struct {
	Created int
	Updated int
}

// CandleRepository defines the interface for persisting and reading candles.
// Rows are keyed by the unique triple (symbol, interval, open_time); the
// ingestion engine never deletes rows. Time bounds are epoch milliseconds,
// inclusive on both ends.
type CandleRepository interface {
	// Upsert inserts candles that are new for their key and overwrites the
	// numeric fields of candles that already exist. Input is deduplicated by
	// open time before writing; within one call the operation is idempotent.
	Upsert(ctx context.Context, symbol, interval string, candles []*domain.Candle) (UpsertResult, error)

	// FindRange retrieves the stored candles for a window, ordered by open
	// time ascending and deduplicated.
	FindRange(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]*domain.Candle, error)

	// OpenTimes retrieves the distinct open times present for a window, in
	// ascending order.
	OpenTimes(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]int64, error)

	// CountRange counts the distinct open times present for a window.
	CountRange(ctx context.Context, symbol, interval string, startMs, endMs int64) (int64, error)
}
