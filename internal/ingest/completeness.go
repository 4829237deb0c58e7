package ingest

import (
	"context"
	"fmt"

	"candlesync/internal/domain"
)

// Analyze computes expected versus actual candle counts for the inclusive
// window [startMs, endMs] and lists the open times that are absent from the
// store. Expected slots are anchored at startMs and advance by the interval
// duration.
func (s *Service) Analyze(ctx context.Context, symbol, interval string, startMs, endMs int64) (*domain.GapReport, error) {
	dur, err := domain.IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	expected, err := domain.ExpectedCount(startMs, endMs, interval)
	if err != nil {
		return nil, err
	}

	times, err := s.repo.OpenTimes(ctx, symbol, interval, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("completeness analysis failed for %s/%s: %w", symbol, interval, err)
	}

	present := make(map[int64]struct{}, len(times))
	for _, t := range times {
		present[t] = struct{}{}
	}

	report := &domain.GapReport{
		Symbol:        symbol,
		Interval:      interval,
		Start:         startMs,
		End:           endMs,
		ExpectedCount: expected,
		ActualCount:   int64(len(times)),
	}
	report.MissingCount = report.ExpectedCount - report.ActualCount
	if report.MissingCount < 0 {
		report.MissingCount = 0
	}
	if report.ExpectedCount > 0 {
		report.Completeness = float64(report.ActualCount) / float64(report.ExpectedCount) * 100
	}

	stepMs := dur.Milliseconds()
	for t := startMs; t <= endMs; t += stepMs {
		if _, ok := present[t]; !ok {
			report.MissingOpenTimes = append(report.MissingOpenTimes, t)
		}
	}

	s.logger.Debug(ctx, "Completeness analyzed", map[string]interface{}{
		"symbol": symbol, "interval": interval,
		"expected": report.ExpectedCount, "actual": report.ActualCount,
		"completeness": report.Completeness,
	})
	return report, nil
}

// Repair loads the stored series for the window, synthesizes interpolated
// fillers for the missing slots, and writes them back. Returns the open
// times that were filled.
func (s *Service) Repair(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]int64, error) {
	stored, err := s.repo.FindRange(ctx, symbol, interval, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("gap repair failed for %s/%s: %w", symbol, interval, err)
	}
	if len(stored) < 2 {
		return nil, nil
	}

	filled, missing, err := domain.FillMissingCandles(stored, interval)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return nil, nil
	}

	if _, err := s.repo.Upsert(ctx, symbol, interval, filled); err != nil {
		return nil, fmt.Errorf("failed to store filler candles for %s/%s: %w", symbol, interval, err)
	}
	s.logger.Info(ctx, "Gap repair complete", map[string]interface{}{
		"symbol": symbol, "interval": interval, "filled": len(missing),
	})
	return missing, nil
}
