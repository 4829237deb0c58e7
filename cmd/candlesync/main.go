package main

import (
	"context"
	"flag"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"candlesync/config"
	"candlesync/internal/adapters/binancearchive"
	"candlesync/internal/adapters/binanceclient"
	"candlesync/internal/adapters/logger"
	"candlesync/internal/adapters/sqlite"
	"candlesync/internal/domain"
	"candlesync/internal/ingest"
	"candlesync/internal/ports"
	"candlesync/internal/registry"
	"candlesync/internal/utils"
)

func main() {
	var (
		job      = flag.String("job", "download", "job to run: download, analyze, repair or export")
		exchange = flag.String("exchange", "binance", "exchange identifier")
		symbol   = flag.String("symbol", "BTCUSDT", "trading symbol")
		interval = flag.String("interval", "15m", "bar interval (1m, 15m, 1h, ...)")
		segment  = flag.String("segment", "spot", "market segment: spot, futures or option")
		startStr = flag.String("start", "", "window start date (YYYY-MM-DD)")
		endStr   = flag.String("end", "", "window end date (YYYY-MM-DD)")
		outFile  = flag.String("out", "", "output CSV path for the export job")
	)
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath:   cfg.DBPath,
		Exchange: *exchange,
		Logger:   appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize candle repository")
		log.Fatalf("FATAL: Failed to initialize candle repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing candle repository")
		}
	}()

	// 4. Build the exchange registry and open the requested exchange
	reg, err := registry.New(appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to create exchange registry: %v", err)
	}
	reg.Register("binance", func() (ports.Exchange, error) {
		live, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     appLogger,
		})
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := live.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("binance API unreachable: %w", err)
		}
		archive, err := binancearchive.New(binancearchive.Config{
			BaseURL: cfg.ArchiveBaseURL,
			Timeout: cfg.HTTPTimeout,
			Logger:  appLogger,
		})
		if err != nil {
			return nil, err
		}
		return registry.Combine(live, archive), nil
	})

	exch, err := reg.Open(*exchange)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to open exchange")
		log.Fatalf("FATAL: Failed to open exchange: %v", err)
	}

	// 5. Initialize the ingestion service
	svc, err := ingest.NewService(ingest.Config{
		Logger:         appLogger,
		Repository:     repo,
		Exchange:       exch,
		LiveCutoffDays: cfg.LiveCutoffDays,
		FetchLimit:     cfg.FetchLimit,
		ArchiveWorkers: cfg.ArchiveWorkers,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ingestion service: %v", err)
	}

	// Cancel the job cleanly on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startMs, endMs, window, err := parseWindow(*symbol, *interval, *segment, *startStr, *endStr)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Invalid window arguments")
		log.Fatalf("FATAL: Invalid window arguments: %v", err)
	}

	switch *job {
	case "download":
		runDownload(ctx, appLogger, svc, window)
	case "analyze":
		report, err := svc.Analyze(ctx, *symbol, *interval, startMs, endMs)
		if err != nil {
			log.Fatalf("FATAL: Analysis failed: %v", err)
		}
		fmt.Printf("%s %s [%d..%d]: expected=%d actual=%d missing=%d completeness=%.2f%%\n",
			report.Symbol, report.Interval, report.Start, report.End,
			report.ExpectedCount, report.ActualCount, report.MissingCount, report.Completeness)
	case "repair":
		filled, err := svc.Repair(ctx, *symbol, *interval, startMs, endMs)
		if err != nil {
			log.Fatalf("FATAL: Gap repair failed: %v", err)
		}
		fmt.Printf("Filled %d missing candles\n", len(filled))
	case "export":
		filename := *outFile
		if filename == "" {
			filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", *symbol, *interval, *startStr, *endStr)
		}
		candles, err := repo.FindRange(ctx, *symbol, *interval, startMs, endMs)
		if err != nil {
			log.Fatalf("FATAL: Failed to load candles: %v", err)
		}
		if err := utils.WriteCandlesToCSV(candles, filename); err != nil {
			log.Fatalf("FATAL: Failed to write CSV: %v", err)
		}
		appLogger.Info(ctx, "Exported candles", map[string]interface{}{"count": len(candles), "filename": filename})
	default:
		log.Fatalf("FATAL: Unknown job %q", *job)
	}
}

// parseWindow turns the CLI date arguments into a download window plus the
// millisecond bounds used by the analyze/repair/export jobs. End defaults to
// today, start to seven days before end.
func parseWindow(symbol, interval, segment, startStr, endStr string) (int64, int64, domain.DownloadWindow, error) {
	var w domain.DownloadWindow

	end := time.Now().UTC().Truncate(24 * time.Hour)
	if endStr != "" {
		var err error
		end, err = time.ParseInLocation(domain.DateLayout, endStr, time.UTC)
		if err != nil {
			return 0, 0, w, fmt.Errorf("invalid -end: %w", err)
		}
	}
	start := end.AddDate(0, 0, -7)
	if startStr != "" {
		var err error
		start, err = time.ParseInLocation(domain.DateLayout, startStr, time.UTC)
		if err != nil {
			return 0, 0, w, fmt.Errorf("invalid -start: %w", err)
		}
	}

	w = domain.DownloadWindow{
		Symbol:   symbol,
		Interval: interval,
		Start:    start,
		End:      end.AddDate(0, 0, 1).Add(-time.Millisecond), // Inclusive through end of day
		Segment:  domain.MarketSegment(segment),
	}
	return start.UnixMilli(), w.End.UnixMilli(), w, nil
}

// runDownload drives a download job while consuming its progress channel.
func runDownload(ctx context.Context, appLogger ports.Logger, svc *ingest.Service, w domain.DownloadWindow) {
	progress := make(chan *domain.ProgressEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range progress {
			if ev == nil {
				return // Completion sentinel
			}
			appLogger.Info(ctx, "Download progress", map[string]interface{}{
				"symbol": ev.Symbol, "date": ev.Date, "progress": fmt.Sprintf("%.1f%%", ev.Progress*100),
			})
		}
	}()

	err := svc.Download(ctx, w, progress)
	close(progress)
	<-done
	if err != nil {
		appLogger.Error(ctx, err, "Download failed")
		os.Exit(1)
	}
	appLogger.Info(ctx, "Download complete", map[string]interface{}{"symbol": w.Symbol, "interval": w.Interval})
}
