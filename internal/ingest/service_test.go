package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"candlesync/internal/domain"
	"candlesync/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeRepo implements ports.CandleRepository in memory, keyed by open time.
type fakeRepo struct {
	mu          sync.Mutex
	byOpenTime  map[int64]*domain.Candle
	upsertCalls int
	failOnCall  int // 1-based upsert call index that fails, 0 = never
	batches     [][]*domain.Candle
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byOpenTime: make(map[int64]*domain.Candle)}
}

func (f *fakeRepo) Upsert(ctx context.Context, symbol, interval string, candles []*domain.Candle) (ports.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.failOnCall != 0 && f.upsertCalls == f.failOnCall {
		return ports.UpsertResult{}, errors.New("store unavailable")
	}
	var res ports.UpsertResult
	for _, c := range candles {
		if _, ok := f.byOpenTime[c.OpenTime]; ok {
			res.Updated++
		} else {
			res.Created++
		}
		f.byOpenTime[c.OpenTime] = c
	}
	f.batches = append(f.batches, candles)
	return res, nil
}

func (f *fakeRepo) FindRange(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]*domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	times := f.openTimesLocked(startMs, endMs)
	out := make([]*domain.Candle, 0, len(times))
	for _, t := range times {
		out = append(out, f.byOpenTime[t])
	}
	return out, nil
}

func (f *fakeRepo) OpenTimes(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openTimesLocked(startMs, endMs), nil
}

func (f *fakeRepo) CountRange(ctx context.Context, symbol, interval string, startMs, endMs int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.openTimesLocked(startMs, endMs))), nil
}

func (f *fakeRepo) openTimesLocked(startMs, endMs int64) []int64 {
	times := make([]int64, 0, len(f.byOpenTime))
	for t := range f.byOpenTime {
		if t >= startMs && t <= endMs {
			times = append(times, t)
		}
	}
	for i := 1; i < len(times); i++ {
		for j := i; j > 0 && times[j] < times[j-1]; j-- {
			times[j], times[j-1] = times[j-1], times[j]
		}
	}
	return times
}

// fakeExchange implements ports.Exchange with canned per-day payloads.
// Days at or after holdFrom block until the fetch context is cancelled,
// standing in for slow network downloads.
type fakeExchange struct {
	mu          sync.Mutex
	dayCandles  map[string][]*domain.Candle
	dayErrs     map[string]error
	holdFrom    string
	fetchedDays []string

	liveCandles []*domain.Candle
	liveErr     error
	liveCalls   int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		dayCandles: make(map[string][]*domain.Candle),
		dayErrs:    make(map[string]error),
	}
}

func (f *fakeExchange) FetchDay(ctx context.Context, symbol, interval string, segment domain.MarketSegment, date string) ([]*domain.Candle, error) {
	f.mu.Lock()
	f.fetchedDays = append(f.fetchedDays, date)
	f.mu.Unlock()
	if f.holdFrom != "" && date >= f.holdFrom {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.dayErrs[date]; err != nil {
		return nil, err
	}
	return f.dayCandles[date], nil
}

func (f *fakeExchange) FetchLive(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]*domain.Candle, error) {
	f.mu.Lock()
	f.liveCalls++
	f.mu.Unlock()
	if f.liveErr != nil {
		return nil, f.liveErr
	}
	return f.liveCandles, nil
}

func dayOf(date string, i int) *domain.Candle {
	startMs, _, _ := domain.DayBounds(date)
	ot := startMs + int64(i)*15*60*1000
	return &domain.Candle{
		Symbol: "ETHUSDT", Interval: "15m", OpenTime: ot,
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
		CloseTime: ot + 15*60*1000 - 1, QuoteVolume: 1000, TradeCount: 20,
		TakerBuyVolume: 5, TakerBuyQuoteVolume: 500,
	}
}

func newTestService(t *testing.T, repo *fakeRepo, ex *fakeExchange) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Logger:         &mockLogger{},
		Repository:     repo,
		Exchange:       ex,
		LiveCutoffDays: 30,
		FetchLimit:     500,
		ArchiveWorkers: 3,
		Now:            func() time.Time { return time.Date(2024, 10, 27, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc
}

func archiveWindow(startDate, endDate string) domain.DownloadWindow {
	start, _ := time.ParseInLocation(domain.DateLayout, startDate, time.UTC)
	end, _ := time.ParseInLocation(domain.DateLayout, endDate, time.UTC)
	return domain.DownloadWindow{
		Symbol:   "ETHUSDT",
		Interval: "15m",
		Start:    start,
		End:      end,
		Segment:  domain.SegmentSpot,
	}
}

func TestDownloadFromArchive_VisitsEveryDayInOrder(t *testing.T) {
	repo := newFakeRepo()
	ex := newFakeExchange()
	days := []string{"2023-11-01", "2023-11-02", "2023-11-03"}
	for i, d := range days {
		ex.dayCandles[d] = []*domain.Candle{dayOf(d, 0), dayOf(d, i+1)}
	}
	svc := newTestService(t, repo, ex)

	progress := make(chan *domain.ProgressEvent, len(days)+1)
	processed, err := svc.DownloadFromArchive(context.Background(), archiveWindow(days[0], days[2]), progress)
	require.NoError(t, err)
	assert.Equal(t, days, processed)

	// Each day fetched exactly once.
	ex.mu.Lock()
	assert.ElementsMatch(t, days, ex.fetchedDays)
	ex.mu.Unlock()

	// All candles landed in the store.
	repo.mu.Lock()
	assert.Len(t, repo.byOpenTime, 6)
	assert.Equal(t, 3, repo.upsertCalls)
	repo.mu.Unlock()

	// Progress events in day order with ascending fractions, then the sentinel.
	var events []*domain.ProgressEvent
	for ev := range progress {
		if ev == nil {
			break
		}
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, "ETHUSDT", ev.Symbol)
		assert.Equal(t, days[i], ev.Date)
		assert.InDelta(t, float64(i+1)/3.0, ev.Progress, 1e-9)
	}
}

func TestDownloadFromArchive_MissingDayStillCounts(t *testing.T) {
	repo := newFakeRepo()
	ex := newFakeExchange()
	ex.dayCandles["2023-11-01"] = []*domain.Candle{dayOf("2023-11-01", 0)}
	// 2023-11-02 has no archive file: FetchDay yields (nil, nil).
	ex.dayCandles["2023-11-03"] = []*domain.Candle{dayOf("2023-11-03", 0)}
	svc := newTestService(t, repo, ex)

	processed, err := svc.DownloadFromArchive(context.Background(), archiveWindow("2023-11-01", "2023-11-03"), nil)
	require.NoError(t, err)
	assert.Len(t, processed, 3)

	repo.mu.Lock()
	assert.Equal(t, 2, repo.upsertCalls) // Empty day skips the store entirely.
	repo.mu.Unlock()
}

func TestDownloadFromArchive_FailedDayIsIsolated(t *testing.T) {
	repo := newFakeRepo()
	ex := newFakeExchange()
	ex.dayCandles["2023-11-01"] = []*domain.Candle{dayOf("2023-11-01", 0)}
	ex.dayErrs["2023-11-02"] = errors.New("truncated payload")
	ex.dayCandles["2023-11-03"] = []*domain.Candle{dayOf("2023-11-03", 0)}
	svc := newTestService(t, repo, ex)

	progress := make(chan *domain.ProgressEvent, 4)
	processed, err := svc.DownloadFromArchive(context.Background(), archiveWindow("2023-11-01", "2023-11-03"), progress)
	require.NoError(t, err)
	assert.Len(t, processed, 3)

	// The bad day contributed nothing, the days around it did.
	repo.mu.Lock()
	assert.Len(t, repo.byOpenTime, 2)
	repo.mu.Unlock()

	// Progress still reaches 1.0 and the sentinel still arrives.
	var last *domain.ProgressEvent
	for ev := range progress {
		if ev == nil {
			break
		}
		last = ev
	}
	require.NotNil(t, last)
	assert.InDelta(t, 1.0, last.Progress, 1e-9)
}

func TestDownloadFromArchive_StoreFailureAborts(t *testing.T) {
	repo := newFakeRepo()
	repo.failOnCall = 2
	ex := newFakeExchange()
	for _, d := range []string{"2023-11-01", "2023-11-02", "2023-11-03"} {
		ex.dayCandles[d] = []*domain.Candle{dayOf(d, 0)}
	}
	svc := newTestService(t, repo, ex)

	processed, err := svc.DownloadFromArchive(context.Background(), archiveWindow("2023-11-01", "2023-11-03"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2023-11-02")
	assert.Equal(t, []string{"2023-11-01"}, processed)
}

func TestDownloadFromArchive_StoreFailureStopsFetching(t *testing.T) {
	repo := newFakeRepo()
	repo.failOnCall = 1
	ex := newFakeExchange()
	ex.dayCandles["2023-11-01"] = []*domain.Candle{dayOf("2023-11-01", 0)}
	ex.holdFrom = "2023-11-02"
	svc := newTestService(t, repo, ex)

	_, err := svc.DownloadFromArchive(context.Background(), archiveWindow("2023-11-01", "2023-11-20"), nil)
	require.Error(t, err)

	// The abort must reach the worker pool: only the first day and the few
	// fetches already in flight may have started, never the whole window.
	ex.mu.Lock()
	defer ex.mu.Unlock()
	assert.Less(t, len(ex.fetchedDays), 10)
	assert.NotContains(t, ex.fetchedDays, "2023-11-20")
}

func TestDownloadFromArchive_CancelledContext(t *testing.T) {
	repo := newFakeRepo()
	ex := newFakeExchange()
	ex.dayCandles["2023-11-01"] = []*domain.Candle{dayOf("2023-11-01", 0)}
	svc := newTestService(t, repo, ex)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processed, err := svc.DownloadFromArchive(ctx, archiveWindow("2023-11-01", "2023-11-03"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
	assert.Empty(t, processed)
}

func TestDownloadFromArchive_RejectsBadWindow(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), newFakeExchange())

	w := archiveWindow("2023-11-01", "2023-11-03")
	w.Segment = domain.MarketSegment("margin")
	_, err := svc.DownloadFromArchive(context.Background(), w, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedSegment)

	w = archiveWindow("2023-11-03", "2023-11-01")
	_, err = svc.DownloadFromArchive(context.Background(), w, nil)
	assert.Error(t, err)
}

func TestDownload_RoutesBySourceAge(t *testing.T) {
	t.Run("recent window hits the live API", func(t *testing.T) {
		repo := newFakeRepo()
		ex := newFakeExchange()
		ex.liveCandles = []*domain.Candle{dayOf("2024-10-26", 0)}
		svc := newTestService(t, repo, ex)

		w := domain.DownloadWindow{
			Symbol:   "ETHUSDT",
			Interval: "15m",
			Start:    time.Date(2024, 10, 26, 0, 0, 0, 0, time.UTC),
			End:      time.Date(2024, 10, 27, 0, 0, 0, 0, time.UTC),
			Segment:  domain.SegmentSpot,
		}
		progress := make(chan *domain.ProgressEvent, 1)
		require.NoError(t, svc.Download(context.Background(), w, progress))

		assert.Equal(t, 1, ex.liveCalls)
		assert.Empty(t, ex.fetchedDays)
		repo.mu.Lock()
		assert.Len(t, repo.byOpenTime, 1)
		repo.mu.Unlock()
		assert.Nil(t, <-progress) // Live path emits only the sentinel.
	})

	t.Run("old window hits the archive", func(t *testing.T) {
		repo := newFakeRepo()
		ex := newFakeExchange()
		ex.dayCandles["2023-11-01"] = []*domain.Candle{dayOf("2023-11-01", 0)}
		svc := newTestService(t, repo, ex)

		require.NoError(t, svc.Download(context.Background(), archiveWindow("2023-11-01", "2023-11-01"), nil))
		assert.Equal(t, 0, ex.liveCalls)
		assert.Equal(t, []string{"2023-11-01"}, ex.fetchedDays)
	})
}

func TestDownload_LiveFetchErrorSurfaces(t *testing.T) {
	repo := newFakeRepo()
	ex := newFakeExchange()
	ex.liveErr = ports.ErrRateLimited
	svc := newTestService(t, repo, ex)

	w := domain.DownloadWindow{
		Symbol:   "ETHUSDT",
		Interval: "15m",
		Start:    time.Date(2024, 10, 26, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 10, 27, 0, 0, 0, 0, time.UTC),
		Segment:  domain.SegmentSpot,
	}
	err := svc.Download(context.Background(), w, nil)
	assert.ErrorIs(t, err, ports.ErrRateLimited)
	repo.mu.Lock()
	assert.Equal(t, 0, repo.upsertCalls)
	repo.mu.Unlock()
}

func TestNewService_Validation(t *testing.T) {
	base := Config{
		Logger:         &mockLogger{},
		Repository:     newFakeRepo(),
		Exchange:       newFakeExchange(),
		LiveCutoffDays: 30,
		FetchLimit:     500,
	}

	_, err := NewService(base)
	assert.NoError(t, err)

	noLogger := base
	noLogger.Logger = nil
	_, err = NewService(noLogger)
	assert.Error(t, err)

	noCutoff := base
	noCutoff.LiveCutoffDays = 0
	_, err = NewService(noCutoff)
	assert.Error(t, err)

	noLimit := base
	noLimit.FetchLimit = -1
	_, err = NewService(noLimit)
	assert.Error(t, err)
}
