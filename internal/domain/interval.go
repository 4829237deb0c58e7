package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownInterval indicates an interval string outside the supported set.
// Unknown intervals are a configuration error, never silently defaulted.
var ErrUnknownInterval = errors.New("unknown candle interval")

// intervalDurations maps the supported bar intervals to wall-clock durations.
// "1M" is treated as 30 days, matching how the archive lays out monthly bars.
var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// IntervalDuration resolves a textual bar interval ("1m", "15m", "1h", ...)
// to its wall-clock duration.
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervalDurations[interval]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	return d, nil
}

// ExpectedCount returns the number of candles a complete series covering
// [startMs, endMs] (inclusive, epoch milliseconds) contains at the given
// interval: floor((end-start)/duration) + 1.
func ExpectedCount(startMs, endMs int64, interval string) (int64, error) {
	d, err := IntervalDuration(interval)
	if err != nil {
		return 0, err
	}
	if endMs < startMs {
		return 0, fmt.Errorf("invalid window: end %d before start %d", endMs, startMs)
	}
	return (endMs-startMs)/d.Milliseconds() + 1, nil
}
