package ingest

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"candlesync/internal/domain"
	"candlesync/internal/ports"
)

// Service orchestrates candle ingestion: it routes download windows between
// the live API and the bulk archive, drives the per-day archive loop, and
// reports completeness of the stored series.
type Service struct {
	logger     ports.Logger
	repo       ports.CandleRepository
	exchange   ports.Exchange
	cutoffDays int
	fetchLimit int
	workers    int
	now        func() time.Time
}

// Config holds the dependencies and tuning for the ingestion service.
type Config struct {
	Logger         ports.Logger
	Repository     ports.CandleRepository
	Exchange       ports.Exchange
	LiveCutoffDays int              // Windows starting earlier route to the archive
	FetchLimit     int              // Max bars per live API call
	ArchiveWorkers int              // Bounded concurrency for archive day fetches
	Now            func() time.Time // Clock override for tests; defaults to time.Now
}

// NewService creates a new ingestion service instance.
func NewService(cfg Config) (*Service, error) {
	if cfg.Logger == nil || cfg.Repository == nil || cfg.Exchange == nil {
		return nil, fmt.Errorf("missing required dependencies for ingestion service")
	}
	if cfg.LiveCutoffDays <= 0 {
		return nil, fmt.Errorf("configuration LiveCutoffDays must be positive")
	}
	if cfg.FetchLimit <= 0 {
		return nil, fmt.Errorf("configuration FetchLimit must be positive")
	}
	workers := cfg.ArchiveWorkers
	if workers <= 0 {
		workers = 1
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		logger:     cfg.Logger,
		repo:       cfg.Repository,
		exchange:   cfg.Exchange,
		cutoffDays: cfg.LiveCutoffDays,
		fetchLimit: cfg.FetchLimit,
		workers:    workers,
		now:        now,
	}, nil
}

// Download ingests the window through whichever source the router selects.
// The whole window goes one way; see Route.
func (s *Service) Download(ctx context.Context, w domain.DownloadWindow, progress chan<- *domain.ProgressEvent) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid download window: %w", err)
	}

	source := Route(w, s.now(), s.cutoffDays)
	s.logger.Info(ctx, "Download window routed", map[string]interface{}{
		"symbol": w.Symbol, "interval": w.Interval, "source": source.String(),
		"start": w.Start.Format(time.RFC3339), "end": w.End.Format(time.RFC3339),
	})

	switch source {
	case SourceArchive:
		_, err := s.DownloadFromArchive(ctx, w, progress)
		return err
	default:
		return s.downloadLive(ctx, w, progress)
	}
}

// dayResult carries one archive day's outcome from a fetch worker to the
// in-order consumer.
type dayResult struct {
	candles []*domain.Candle
	err     error
}

// DownloadFromArchive iterates every calendar day in the window (inclusive,
// ascending), fetches each day's archive file, and upserts non-empty results
// before the next day's result is consumed. Day fetches run on a bounded
// worker pool, but upserts and progress events stay in day order: after each
// day one ProgressEvent{(i+1)/total} is emitted, and a nil sentinel follows
// the last day.
//
// A failed day download is isolated (logged and skipped, the loop continues),
// while a store failure aborts the job. Cancellation is honored between days.
// Returns the calendar dates processed.
func (s *Service) DownloadFromArchive(ctx context.Context, w domain.DownloadWindow, progress chan<- *domain.ProgressEvent) ([]string, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid download window: %w", err)
	}
	if _, err := w.Segment.ArchivePath(); err != nil {
		return nil, err
	}

	days := domain.DateRange(w.Start, w.End)
	total := len(days)
	s.logger.Info(ctx, "Starting archive download", map[string]interface{}{
		"symbol": w.Symbol, "interval": w.Interval, "segment": string(w.Segment), "days": total,
	})

	results := make([]chan dayResult, total)
	for i := range results {
		results[i] = make(chan dayResult, 1)
	}

	poolCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(poolCtx)
	g.SetLimit(s.workers)
	go func() {
		for i, date := range days {
			i, date := i, date
			if gctx.Err() != nil {
				return
			}
			g.Go(func() error {
				candles, err := s.exchange.FetchDay(gctx, w.Symbol, w.Interval, w.Segment, date)
				results[i] <- dayResult{candles: candles, err: err}
				return nil
			})
		}
	}()
	defer g.Wait()
	defer cancel() // Runs before the Wait: an early return stops the spawner and in-flight fetches.

	processed := make([]string, 0, total)
	for i, date := range days {
		select {
		case <-ctx.Done():
			return processed, fmt.Errorf("archive download interrupted after %d/%d days: %w: %w",
				len(processed), total, ports.ErrContextCanceled, ctx.Err())
		case res := <-results[i]:
			switch {
			case res.err != nil:
				// Isolate the failure to this day; completeness analysis can
				// quantify the shortfall afterwards.
				s.logger.Error(ctx, res.err, "Archive day failed, continuing with next day", map[string]interface{}{
					"symbol": w.Symbol, "interval": w.Interval, "date": date,
				})
			case len(res.candles) > 0:
				upserted, err := s.repo.Upsert(ctx, w.Symbol, w.Interval, res.candles)
				if err != nil {
					return processed, fmt.Errorf("failed to store candles for %s: %w", date, err)
				}
				s.logger.Debug(ctx, "Archive day stored", map[string]interface{}{
					"date": date, "created": upserted.Created, "updated": upserted.Updated,
				})
			}

			processed = append(processed, date)
			emitProgress(ctx, s.logger, progress, &domain.ProgressEvent{
				Symbol:   w.Symbol,
				Date:     date,
				Progress: float64(i+1) / float64(total),
			})
		}
	}

	emitProgress(ctx, s.logger, progress, nil) // Completion sentinel
	s.logger.Info(ctx, "Archive download finished", map[string]interface{}{
		"symbol": w.Symbol, "interval": w.Interval, "days": len(processed),
	})
	return processed, nil
}

// downloadLive covers the window with the paginated live API in one job and
// stores the result. The live path has no per-day granularity, so only the
// completion sentinel is emitted.
func (s *Service) downloadLive(ctx context.Context, w domain.DownloadWindow, progress chan<- *domain.ProgressEvent) error {
	candles, err := s.exchange.FetchLive(ctx, w.Symbol, w.Interval, w.Start, w.End, s.fetchLimit)
	if err != nil {
		return fmt.Errorf("live fetch failed for %s/%s: %w", w.Symbol, w.Interval, err)
	}

	if len(candles) > 0 {
		upserted, err := s.repo.Upsert(ctx, w.Symbol, w.Interval, candles)
		if err != nil {
			return fmt.Errorf("failed to store live candles for %s/%s: %w", w.Symbol, w.Interval, err)
		}
		s.logger.Info(ctx, "Live candles stored", map[string]interface{}{
			"symbol": w.Symbol, "interval": w.Interval,
			"created": upserted.Created, "updated": upserted.Updated,
		})
	}

	emitProgress(ctx, s.logger, progress, nil) // Completion sentinel
	return nil
}
