package ingest

import (
	"context"
	"testing"

	"candlesync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourCandle(ot int64, close float64) *domain.Candle {
	return &domain.Candle{
		Symbol: "ETHUSDT", Interval: "1h", OpenTime: ot,
		Open: close - 0.5, High: close + 1, Low: close - 1, Close: close, Volume: 10,
		CloseTime: ot + 60*60*1000 - 1, QuoteVolume: 1000, TradeCount: 20,
		TakerBuyVolume: 5, TakerBuyQuoteVolume: 500,
	}
}

func TestAnalyze_SparseSeries(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, newFakeExchange())
	ctx := context.Background()

	// A 16-hour window of 2h bars holds 9 slots; store only the two edges.
	const stepMs = int64(2 * 60 * 60 * 1000)
	startMs := int64(1700000000000)
	endMs := startMs + 8*stepMs
	edges := []*domain.Candle{
		{Symbol: "ETHUSDT", Interval: "2h", OpenTime: startMs, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1, CloseTime: startMs + stepMs - 1},
		{Symbol: "ETHUSDT", Interval: "2h", OpenTime: endMs, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1, CloseTime: endMs + stepMs - 1},
	}
	_, err := repo.Upsert(ctx, "ETHUSDT", "2h", edges)
	require.NoError(t, err)

	report, err := svc.Analyze(ctx, "ETHUSDT", "2h", startMs, endMs)
	require.NoError(t, err)

	assert.Equal(t, int64(9), report.ExpectedCount)
	assert.Equal(t, int64(2), report.ActualCount)
	assert.Equal(t, int64(7), report.MissingCount)
	assert.InDelta(t, 2.0/9.0*100, report.Completeness, 1e-9)

	require.Len(t, report.MissingOpenTimes, 7)
	for i, missing := range report.MissingOpenTimes {
		assert.Equal(t, startMs+int64(i+1)*stepMs, missing)
	}
}

func TestAnalyze_CompleteSeries(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, newFakeExchange())
	ctx := context.Background()

	const stepMs = int64(60 * 60 * 1000)
	startMs := int64(1700000000000)
	candles := make([]*domain.Candle, 0, 24)
	for i := 0; i < 24; i++ {
		candles = append(candles, hourCandle(startMs+int64(i)*stepMs, 100))
	}
	_, err := repo.Upsert(ctx, "ETHUSDT", "1h", candles)
	require.NoError(t, err)

	report, err := svc.Analyze(ctx, "ETHUSDT", "1h", startMs, startMs+23*stepMs)
	require.NoError(t, err)

	assert.Equal(t, int64(24), report.ExpectedCount)
	assert.Equal(t, int64(24), report.ActualCount)
	assert.Equal(t, int64(0), report.MissingCount)
	assert.Equal(t, 100.0, report.Completeness)
	assert.Empty(t, report.MissingOpenTimes)
}

func TestAnalyze_UnknownInterval(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), newFakeExchange())

	_, err := svc.Analyze(context.Background(), "ETHUSDT", "45m", 0, 1000)
	assert.ErrorIs(t, err, domain.ErrUnknownInterval)
}

func TestRepair_FillsGap(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, newFakeExchange())
	ctx := context.Background()

	const stepMs = int64(60 * 60 * 1000)
	startMs := int64(1700000000000)
	// Slots 0, 3 present; slots 1 and 2 missing.
	stored := []*domain.Candle{
		hourCandle(startMs, 100),
		hourCandle(startMs+3*stepMs, 110),
	}
	_, err := repo.Upsert(ctx, "ETHUSDT", "1h", stored)
	require.NoError(t, err)

	missing, err := svc.Repair(ctx, "ETHUSDT", "1h", startMs, startMs+3*stepMs)
	require.NoError(t, err)
	assert.Equal(t, []int64{startMs + stepMs, startMs + 2*stepMs}, missing)

	// The store now holds a contiguous series.
	report, err := svc.Analyze(ctx, "ETHUSDT", "1h", startMs, startMs+3*stepMs)
	require.NoError(t, err)
	assert.Equal(t, 100.0, report.Completeness)

	// Fillers bridge the surrounding candles.
	filled, err := repo.FindRange(ctx, "ETHUSDT", "1h", startMs+stepMs, startMs+stepMs)
	require.NoError(t, err)
	require.Len(t, filled, 1)
	assert.Equal(t, filled[0].Open, filled[0].Close)
}

func TestRepair_NothingToFill(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, newFakeExchange())
	ctx := context.Background()

	const stepMs = int64(60 * 60 * 1000)
	startMs := int64(1700000000000)
	contiguous := []*domain.Candle{
		hourCandle(startMs, 100),
		hourCandle(startMs+stepMs, 101),
	}
	_, err := repo.Upsert(ctx, "ETHUSDT", "1h", contiguous)
	require.NoError(t, err)

	upsertsBefore := repo.upsertCalls
	missing, err := svc.Repair(ctx, "ETHUSDT", "1h", startMs, startMs+stepMs)
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Equal(t, upsertsBefore, repo.upsertCalls) // No write when nothing is missing.
}

func TestRepair_TooFewCandles(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, newFakeExchange())
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "ETHUSDT", "1h", []*domain.Candle{hourCandle(1700000000000, 100)})
	require.NoError(t, err)

	missing, err := svc.Repair(ctx, "ETHUSDT", "1h", 1700000000000, 1700003600000)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
