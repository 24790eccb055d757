// Package daterange handles the UTC calendar days that partition latency data.
package daterange

import (
	"strings"
	"time"

	"github.com/example/latency-dashboard/internal/apperror"
)

// Layout is the ISO calendar-day layout used by the API and the store.
const Layout = "2006-01-02"

// UpstreamLayout is the day layout the timing source expects.
const UpstreamLayout = "02/01/2006"

// Parse reads a YYYY-MM-DD day and returns midnight UTC of that day.
func Parse(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, apperror.New(apperror.KindValidation, "date is required")
	}
	day, err := time.Parse(Layout, trimmed)
	if err != nil {
		return time.Time{}, apperror.New(apperror.KindValidation, "invalid date %q: expected YYYY-MM-DD", value)
	}
	return day, nil
}

// Day truncates t to midnight UTC of its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Format renders a day as YYYY-MM-DD.
func Format(day time.Time) string {
	return day.UTC().Format(Layout)
}

// Yesterday returns the UTC calendar day before now.
func Yesterday(now time.Time) time.Time {
	return Day(now).AddDate(0, 0, -1)
}

const secondsPerDay = 24 * 60 * 60

// Check validates [start, end] without materialising it and returns its span in days.
// A positive maxDays caps the span.
func Check(start, end time.Time, maxDays int) (int, error) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return 0, apperror.New(apperror.KindValidation, "end_date %s is before start_date %s", Format(end), Format(start))
	}
	span := Span(start, end)
	if maxDays > 0 && span > maxDays {
		return 0, apperror.New(apperror.KindValidation, "range of %d days exceeds the limit of %d", span, maxDays)
	}
	return span, nil
}

// Days lists every day in [start, end] inclusive. The range must not be inverted.
func Days(start, end time.Time) ([]time.Time, error) {
	span, err := Check(start, end, 0)
	if err != nil {
		return nil, err
	}
	start, end = Day(start), Day(end)
	days := make([]time.Time, 0, span)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// Span counts the days in [start, end] inclusive. It counts Unix seconds rather than a
// time.Duration, which saturates past roughly 292 years.
func Span(start, end time.Time) int {
	return int((Day(end).Unix()-Day(start).Unix())/secondsPerDay) + 1
}

// Recent returns the window of n days ending yesterday, so the partial current day is never included.
func Recent(now time.Time, n int) (start, end time.Time) {
	end = Yesterday(now)
	start = end.AddDate(0, 0, -(n - 1))
	return start, end
}

// LastNIncludingToday returns the n-day window ending on today's UTC date.
func LastNIncludingToday(now time.Time, n int) (start, end time.Time) {
	end = Day(now)
	start = end.AddDate(0, 0, -(n - 1))
	return start, end
}
