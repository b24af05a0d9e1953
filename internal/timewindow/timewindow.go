// Package timewindow computes the trailing time ranges and graph buckets used
// by the aggregation code. All functions work in the location of the time they
// are given; callers convert to the preferred zone first.
package timewindow

import (
	"time"

	"github.com/rotisserie/eris"
)

// Window names a trailing aggregation window.
type Window string

const (
	Day   Window = "day"
	Month Window = "month"
	Year  Window = "year"
	All   Window = "all"
)

// Windows lists the windows in ascending span.
var Windows = []Window{Day, Month, Year, All}

// Parse validates a window name.
func Parse(s string) (Window, error) {
	switch w := Window(s); w {
	case Day, Month, Year, All:
		return w, nil
	default:
		return "", eris.Errorf("timewindow: unknown window %q", s)
	}
}

// Range is a half-open interval [Start, End). A zero Start or End leaves that
// side unbounded.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// For returns the trailing range for w ending at now: last 24 hours, last 30
// days, last 12 months, or everything.
func For(w Window, now time.Time) Range {
	switch w {
	case Day:
		return Range{Start: now.Add(-24 * time.Hour)}
	case Month:
		return Range{Start: now.AddDate(0, 0, -30)}
	case Year:
		return Range{Start: now.AddDate(0, -12, 0)}
	default:
		return Range{}
	}
}

// BeginningOfHour truncates t to the start of its hour.
func BeginningOfHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// BeginningOfDay truncates t to local midnight.
func BeginningOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// BeginningOfMonth truncates t to the first instant of its month.
func BeginningOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// Bucket is one graph sub-interval.
type Bucket struct {
	Index   int    `json:"index"`
	Label   string `json:"label"`
	Range   Range  `json:"range"`
	Current bool   `json:"current"`
}

const (
	hourLabel  = "15:04"
	dayLabel   = "01-02"
	monthLabel = "2006-01"
)

// Hours returns 24 hourly buckets, oldest first; the last one is the current,
// still-accumulating hour.
func Hours(now time.Time) []Bucket {
	cur := BeginningOfHour(now)
	buckets := make([]Bucket, 24)
	for i := range buckets {
		start := cur.Add(-time.Duration(23-i) * time.Hour)
		buckets[i] = Bucket{
			Index:   i,
			Label:   start.Format(hourLabel),
			Range:   Range{Start: start, End: start.Add(time.Hour)},
			Current: i == 23,
		}
	}
	return buckets
}

// Days returns 30 daily buckets, oldest first, ending with today.
func Days(now time.Time) []Bucket {
	today := BeginningOfDay(now)
	buckets := make([]Bucket, 30)
	for i := range buckets {
		start := today.AddDate(0, 0, -(29 - i))
		buckets[i] = Bucket{
			Index:   i,
			Label:   start.Format(dayLabel),
			Range:   Range{Start: start, End: start.AddDate(0, 0, 1)},
			Current: i == 29,
		}
	}
	return buckets
}

// Months returns 12 monthly buckets, oldest first, ending with this month.
func Months(now time.Time) []Bucket {
	month := BeginningOfMonth(now)
	buckets := make([]Bucket, 12)
	for i := range buckets {
		start := month.AddDate(0, -(11 - i), 0)
		buckets[i] = Bucket{
			Index:   i,
			Label:   start.Format(monthLabel),
			Range:   Range{Start: start, End: start.AddDate(0, 1, 0)},
			Current: i == 11,
		}
	}
	return buckets
}

// Buckets returns the graph resolution for w: hours for a day, days for a
// month, months for a year. All has no buckets.
func Buckets(w Window, now time.Time) []Bucket {
	switch w {
	case Day:
		return Hours(now)
	case Month:
		return Days(now)
	case Year:
		return Months(now)
	default:
		return nil
	}
}

// Span returns the combined range covered by buckets.
func Span(buckets []Bucket) Range {
	if len(buckets) == 0 {
		return Range{}
	}
	return Range{Start: buckets[0].Range.Start, End: buckets[len(buckets)-1].Range.End}
}
