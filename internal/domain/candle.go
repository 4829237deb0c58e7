package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// RecordFields is the number of positional fields in a raw kline record as
// delivered by both the REST API and the daily archive CSV files.
const RecordFields = 12

// ErrMalformedRecord indicates a raw record that does not have the expected
// 12 positional fields or contains an unparsable value.
var ErrMalformedRecord = errors.New("malformed candle record")

// Candle is the canonical OHLCV bar. The triple (Symbol, Interval, OpenTime)
// uniquely identifies a candle within a store; OpenTime values for a given
// symbol and interval are strictly increasing when the series is complete.
// Timestamps are epoch milliseconds throughout the store.
type Candle struct {
	Symbol              string
	Interval            string
	OpenTime            int64 // Start of the interval
	Open                float64
	High                float64
	Low                 float64
	Close               float64
	Volume              float64
	CloseTime           int64 // End of the interval
	QuoteVolume         float64
	TradeCount          int64
	TakerBuyVolume      float64
	TakerBuyQuoteVolume float64
}

// CandleFromRecord maps one raw positional record (12 string fields, as read
// from an archive CSV) onto a canonical Candle. Field order is fixed:
// open_time, open, high, low, close, volume, close_time, quote_volume,
// trade_count, taker_buy_volume, taker_buy_quote_volume, ignore.
// The trailing ignore flag is discarded. Value ranges are not validated.
func CandleFromRecord(symbol, interval string, rec []string) (*Candle, error) {
	if len(rec) != RecordFields {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrMalformedRecord, len(rec), RecordFields)
	}

	vals := make([]float64, RecordFields-1)
	for i := 0; i < RecordFields-1; i++ {
		v, err := strconv.ParseFloat(rec[i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d %q: %v", ErrMalformedRecord, i, rec[i], err)
		}
		vals[i] = v
	}

	return &Candle{
		Symbol:              symbol,
		Interval:            interval,
		OpenTime:            int64(vals[0]),
		Open:                vals[1],
		High:                vals[2],
		Low:                 vals[3],
		Close:               vals[4],
		Volume:              vals[5],
		CloseTime:           int64(vals[6]),
		QuoteVolume:         vals[7],
		TradeCount:          int64(vals[8]),
		TakerBuyVolume:      vals[9],
		TakerBuyQuoteVolume: vals[10],
	}, nil
}

// Key returns the in-memory dedup key for a candle within one (symbol,
// interval) series.
func (c *Candle) Key() int64 { return c.OpenTime }
