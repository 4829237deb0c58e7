package binancearchive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"time"

	"candlesync/internal/domain"
	"candlesync/internal/ports"
)

const defaultBaseURL = "https://data.binance.vision"

// Client implements the ports.ArchiveFetcher interface against the daily
// kline archive: one ZIP per calendar day, each containing a single CSV of
// 12 positional columns.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     ports.Logger
}

// Config holds configuration specific to the archive client adapter.
type Config struct {
	BaseURL string        // Defaults to the public archive host
	Timeout time.Duration // Per-request timeout (default 60s)
	Logger  ports.Logger
}

// New creates a new archive client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for archive client")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     cfg.Logger,
	}, nil
}

// archiveURL builds the deterministic download URL for one day:
// {base}/data/{segment-path}/daily/klines/{symbol}/{interval}/{symbol}-{interval}-{date}.zip
func (c *Client) archiveURL(symbol, interval string, segment domain.MarketSegment, date string) (string, error) {
	segmentPath, err := segment.ArchivePath()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/data/%s/daily/klines/%s/%s/%s-%s-%s.zip",
		c.baseURL, segmentPath, symbol, interval, symbol, interval, date), nil
}

// FetchDay downloads and parses the archive file for one calendar day.
//
// A non-success HTTP status means the archive has no file for that day and
// yields (nil, nil) so the caller can continue with the next day. A payload
// that downloads but cannot be unzipped or parsed is a hard error.
func (c *Client) FetchDay(ctx context.Context, symbol, interval string, segment domain.MarketSegment, date string) ([]*domain.Candle, error) {
	op := "FetchDay"

	url, err := c.archiveURL(symbol, interval, segment, date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request for %s: %w", op, url, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%s: download of %s failed: %w: %w", op, url, ports.ErrConnectionFailed, err)
		c.logger.Error(ctx, err, "Archive download failed", map[string]interface{}{"url": url, "date": date})
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Missing-day condition: the archive simply has no file for this day.
		c.logger.Debug(ctx, "No archive data for day", map[string]interface{}{
			"symbol": symbol, "interval": interval, "date": date, "status": resp.StatusCode,
		})
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read archive body for %s: %w", op, date, err)
	}

	candles, err := parseArchive(body, symbol, interval)
	if err != nil {
		err = fmt.Errorf("%s: %s %s %s: %w", op, symbol, interval, date, err)
		c.logger.Error(ctx, err, "Archive payload could not be parsed", map[string]interface{}{"url": url, "date": date})
		return nil, err
	}

	c.logger.Debug(ctx, "Archive day fetched", map[string]interface{}{
		"symbol": symbol, "interval": interval, "date": date, "count": len(candles),
	})
	return candles, nil
}

// parseArchive unpacks the single-member ZIP and parses its CSV rows into
// canonical candles. Header presence is ambiguous across archive vintages:
// if the first byte of the member is a decimal digit the file has no header
// row, otherwise the first row is a header and is skipped.
func parseArchive(payload []byte, symbol, interval string) ([]*domain.Candle, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedArchive, err)
	}
	if len(zr.File) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one file in archive, got %d", ports.ErrMalformedArchive, len(zr.File))
	}

	member, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open archive member: %v", ports.ErrMalformedArchive, err)
	}
	defer member.Close()

	raw, err := io.ReadAll(member)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read archive member: %v", ports.ErrMalformedArchive, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	hasHeader := raw[0] < '0' || raw[0] > '9'

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1 // Arity is validated per record by the normalizer.

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedArchive, err)
	}
	if hasHeader {
		records = records[1:]
	}

	candles := make([]*domain.Candle, 0, len(records))
	for _, rec := range records {
		candle, err := domain.CandleFromRecord(symbol, interval, rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrMalformedArchive, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}
