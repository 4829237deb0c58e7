package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used by the daily archive and the
// progress events ("2024-10-27").
const DateLayout = "2006-01-02"

// DateRange returns every calendar day in [start, end] inclusive, in UTC and
// ascending order, formatted with DateLayout.
func DateRange(start, end time.Time) []string {
	start = start.UTC().Truncate(24 * time.Hour)
	end = end.UTC().Truncate(24 * time.Hour)

	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days
}

// DayBounds returns the first and last epoch millisecond of the given
// calendar day (UTC): [00:00:00.000, 23:59:59.999].
func DayBounds(date string) (startMs, endMs int64, err error) {
	d, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	startMs = d.UnixMilli()
	endMs = d.AddDate(0, 0, 1).UnixMilli() - 1
	return startMs, endMs, nil
}
