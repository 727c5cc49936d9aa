package report

import (
	"fmt"
	"time"
)

// PeriodLayout is the canonical calendar-month form used in AggregateKeys
// and Snapshot files.
const PeriodLayout = "2006-01"

// ParsePeriod validates a calendar-month string and returns the first
// instant of that month in UTC.
func ParsePeriod(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("period must not be empty")
	}
	t, err := time.ParseInLocation(PeriodLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return t, nil
}

// PeriodOf truncates a timestamp to its calendar month.
func PeriodOf(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// PeriodRange returns the n consecutive periods ending at the month
// containing end, oldest first. Dashboard series are built over this range
// so every month appears even when no records landed in it.
func PeriodRange(end time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	end = end.UTC()
	first := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	periods := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		periods = append(periods, first.AddDate(0, -i, 0).Format(PeriodLayout))
	}
	return periods
}

// PreviousPeriod returns the month before the one containing t.
// Monthly source resources on the portal lag one month behind, so runs
// usually target this period.
func PreviousPeriod(t time.Time) string {
	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -1, 0).Format(PeriodLayout)
}
