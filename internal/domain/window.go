package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedSegment indicates a market segment the archive does not serve.
var ErrUnsupportedSegment = errors.New("unsupported market segment")

// MarketSegment selects the archive URL namespace for a symbol.
type MarketSegment string

const (
	SegmentSpot    MarketSegment = "spot"
	SegmentFutures MarketSegment = "futures"
	SegmentOption  MarketSegment = "option"
)

// ArchivePath maps the segment onto the path element used by the daily
// archive. USD-margined futures live under "futures/um".
func (s MarketSegment) ArchivePath() (string, error) {
	switch s {
	case SegmentSpot, SegmentOption:
		return string(s), nil
	case SegmentFutures:
		return "futures/um", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSegment, string(s))
	}
}

// DownloadWindow describes one ingestion request: which series to fetch and
// the inclusive time range to cover. It is constructed per request and never
// persisted.
type DownloadWindow struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
	Segment  MarketSegment
}

// Validate checks the window is internally consistent. The segment is only
// checked when the window can reach the archive path.
func (w DownloadWindow) Validate() error {
	if w.Symbol == "" {
		return errors.New("window symbol must be set")
	}
	if _, err := IntervalDuration(w.Interval); err != nil {
		return err
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("window end %s before start %s", w.End, w.Start)
	}
	return nil
}
