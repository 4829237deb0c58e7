package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"candlesync/internal/domain"
	"candlesync/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// maxKlineLimit is the hard per-call record cap of the klines endpoint.
	maxKlineLimit = 1000
)

// Client implements the ports.LiveFetcher interface using the go-binance library.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter. API keys are optional: klines are
// a public endpoint, keys only raise the request weight allowance.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using the global binance.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		spotClient: client,
		logger:     cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1120, -1121: // Parameter/Request format errors, bad interval/symbol
			mappedErr = ports.ErrInvalidRequest
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		// Default for other errors (e.g., parsing errors within the adapter)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// FetchLive retrieves candles for a symbol/interval from the REST API.
//
// With zero start and end it issues a single bounded call returning up to
// limit most recent bars. With a window it pages forward: each call is
// anchored at the current cursor, the cursor advances to the last received
// close time + 1ms, and the loop terminates on an empty page, when the
// cursor passes end, or when the expected bar count for the window has been
// collected. Each page is one blocking round trip; failures surface to the
// caller without retry.
func (c *Client) FetchLive(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]*domain.Candle, error) {
	op := "FetchLive"
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	if start.IsZero() && end.IsZero() {
		klines, err := c.spotClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		return c.translateKlines(ctx, op, symbol, interval, klines)
	}

	expected, err := domain.ExpectedCount(start.UnixMilli(), end.UnixMilli(), interval)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var all []*domain.Candle
	current := start
	for {
		klines, err := c.spotClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(current.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}

		page, err := c.translateKlines(ctx, op, symbol, interval, klines)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		last := klines[len(klines)-1]
		current = time.UnixMilli(last.CloseTime + 1)
		if !current.Before(end) || int64(len(all)) >= expected {
			break
		}
	}

	c.logger.Debug(ctx, "Fetched live candles", map[string]interface{}{
		"symbol": symbol, "interval": interval, "count": len(all),
	})
	return all, nil
}

func (c *Client) translateKlines(ctx context.Context, op, symbol, interval string, klines []*binance.Kline) ([]*domain.Candle, error) {
	candles := make([]*domain.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := translateKline(k, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// translateKline converts the library's kline (numeric fields as strings)
// into the canonical candle shape.
func translateKline(k *binance.Kline, symbol, interval string) (*domain.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse open '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse high '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse low '%s': %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse close '%s': %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse volume '%s': %w", k.Volume, err)
	}
	quoteVolume, err := strconv.ParseFloat(k.QuoteAssetVolume, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse quote volume '%s': %w", k.QuoteAssetVolume, err)
	}
	takerBuyVolume, err := strconv.ParseFloat(k.TakerBuyBaseAssetVolume, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse taker buy volume '%s': %w", k.TakerBuyBaseAssetVolume, err)
	}
	takerBuyQuoteVolume, err := strconv.ParseFloat(k.TakerBuyQuoteAssetVolume, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse taker buy quote volume '%s': %w", k.TakerBuyQuoteAssetVolume, err)
	}

	return &domain.Candle{
		Symbol:              symbol,
		Interval:            interval,
		OpenTime:            k.OpenTime,
		Open:                open,
		High:                high,
		Low:                 low,
		Close:               closePrice,
		Volume:              volume,
		CloseTime:           k.CloseTime,
		QuoteVolume:         quoteVolume,
		TradeCount:          k.TradeNum,
		TakerBuyVolume:      takerBuyVolume,
		TakerBuyQuoteVolume: takerBuyQuoteVolume,
	}, nil
}
