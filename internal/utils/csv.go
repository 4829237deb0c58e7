package utils

import (
	"candlesync/internal/domain"
	"encoding/csv"
	"os"
	"strconv"
)

// WriteCandlesToCSV exports a stored series for external tooling (charting,
// spreadsheet inspection). Timestamps stay in epoch milliseconds so the file
// round-trips with the store unit.
func WriteCandlesToCSV(candles []*domain.Candle, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume", "quote_volume", "trade_count"})

	for _, c := range candles {
		writer.Write([]string{
			strconv.FormatInt(c.OpenTime, 10),
			strconv.FormatInt(c.CloseTime, 10),
			c.Symbol,
			c.Interval,
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
			strconv.FormatFloat(c.QuoteVolume, 'f', -1, 64),
			strconv.FormatInt(c.TradeCount, 10),
		})
	}
	return writer.Error()
}
