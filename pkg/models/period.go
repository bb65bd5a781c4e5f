package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date format used in period keys.
const DateLayout = "2006-01-02"

// Period is an inclusive reporting window of calendar dates (UTC midnight).
// A single-day period has Start == End.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewPeriod creates a period, swapping the bounds if needed.
func NewPeriod(start, end time.Time) Period {
	start, end = truncateDay(start), truncateDay(end)
	if start.After(end) {
		start, end = end, start
	}
	return Period{Start: start, End: end}
}

// Day returns the single-day period containing t.
func Day(t time.Time) Period {
	d := truncateDay(t)
	return Period{Start: d, End: d}
}

// Quarter returns calendar quarter q (1-4) of year.
func Quarter(year, q int) Period {
	start := time.Date(year, time.Month(3*(q-1)+1), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 3, -1)}
}

// QuarterOf returns the calendar quarter containing t.
func QuarterOf(t time.Time) Period {
	return Quarter(t.Year(), (int(t.Month())-1)/3+1)
}

// Year returns the calendar year period.
func Year(year int) Period {
	return Period{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

// Key is the stable textual form used as part of natural keys.
func (p Period) Key() string {
	if p.Start.Equal(p.End) {
		return p.End.Format(DateLayout)
	}
	return p.Start.Format(DateLayout) + ".." + p.End.Format(DateLayout)
}

func (p Period) String() string { return p.Key() }

// Before orders periods by end date, then start date.
func (p Period) Before(o Period) bool {
	if !p.End.Equal(o.End) {
		return p.End.Before(o.End)
	}
	return p.Start.Before(o.Start)
}

// Equal reports whether both bounds match.
func (p Period) Equal(o Period) bool {
	return p.Start.Equal(o.Start) && p.End.Equal(o.End)
}

// Contains reports whether t falls inside the period (bounds included).
func (p Period) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// ParsePeriod accepts "2024-03-31", "2024Q1", "2024" and "2024-01-01..2024-03-31".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Period{}, fmt.Errorf("empty period")
	}
	if from, to, ok := strings.Cut(s, ".."); ok {
		start, err := time.Parse(DateLayout, from)
		if err != nil {
			return Period{}, fmt.Errorf("period start %q: %w", from, err)
		}
		end, err := time.Parse(DateLayout, to)
		if err != nil {
			return Period{}, fmt.Errorf("period end %q: %w", to, err)
		}
		return NewPeriod(start, end), nil
	}
	upper := strings.ToUpper(s)
	if y, q, ok := strings.Cut(upper, "Q"); ok {
		year, err := strconv.Atoi(y)
		if err != nil {
			return Period{}, fmt.Errorf("period year %q: %w", y, err)
		}
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 4 {
			return Period{}, fmt.Errorf("invalid quarter %q", s)
		}
		return Quarter(year, n), nil
	}
	if len(s) == 4 {
		year, err := strconv.Atoi(s)
		if err != nil {
			return Period{}, fmt.Errorf("period year %q: %w", s, err)
		}
		return Year(year), nil
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return Period{}, fmt.Errorf("period %q: %w", s, err)
	}
	return Day(d), nil
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
