package domain

// GapReport quantifies how complete a stored series is over a window.
// All timestamps are epoch milliseconds. Computed on demand, never persisted.
type GapReport struct {
	Symbol           string
	Interval         string
	Start            int64
	End              int64
	ExpectedCount    int64
	ActualCount      int64
	MissingCount     int64
	Completeness     float64 // Percentage, 0..100
	MissingOpenTimes []int64
}

// FillMissingCandles walks an ordered series and synthesizes interpolated
// filler candles for every missing interval slot. For a gap between prev and
// current, each filler takes open = close = avg(prev.Close, current.Open),
// high = max(prev.High, current.High), low = min(prev.Low, current.Low) and
// volume = avg(prev.Volume, current.Volume); the filler then becomes prev for
// the next slot. The interpolation is deliberately simple and its exact shape
// is relied upon downstream for reproducibility.
//
// Returns the filled sequence and the open times that were synthesized.
func FillMissingCandles(ordered []*Candle, interval string) ([]*Candle, []int64, error) {
	step, err := IntervalDuration(interval)
	if err != nil {
		return nil, nil, err
	}
	stepMs := step.Milliseconds()

	if len(ordered) < 2 {
		return ordered, nil, nil
	}

	filled := make([]*Candle, 0, len(ordered))
	var missing []int64

	prev := ordered[0]
	filled = append(filled, prev)
	for _, current := range ordered[1:] {
		for expectedNext := prev.OpenTime + stepMs; current.OpenTime > expectedNext; expectedNext += stepMs {
			mid := (prev.Close + current.Open) / 2
			filler := &Candle{
				Symbol:    current.Symbol,
				Interval:  current.Interval,
				OpenTime:  expectedNext,
				Open:      mid,
				High:      maxFloat(prev.High, current.High),
				Low:       minFloat(prev.Low, current.Low),
				Close:     mid,
				Volume:    (prev.Volume + current.Volume) / 2,
				CloseTime: expectedNext + stepMs - 1,
			}
			filled = append(filled, filler)
			missing = append(missing, expectedNext)
			prev = filler
		}
		filled = append(filled, current)
		prev = current
	}

	return filled, missing, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
