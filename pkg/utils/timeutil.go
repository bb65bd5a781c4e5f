// Package utils provides small helpers shared by the fetchers, parsers and
// CLI: filing-calendar arithmetic, identifier normalization and formatting.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// ET is the US Eastern time zone EDGAR and eFD timestamps are expressed in.
var ET *time.Location

func init() {
	var err error
	ET, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback: fixed EST if tz database is not available
		ET = time.FixedZone("EST", -5*60*60)
	}
}

// NowET returns the current time in US Eastern time.
func NowET() time.Time {
	return time.Now().In(ET)
}

// Date returns the UTC midnight for the given calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// QuarterEnd returns the last day of the calendar quarter containing t.
func QuarterEnd(t time.Time) time.Time {
	q := (int(t.Month()) - 1) / 3
	start := Date(t.Year(), time.Month(3*q+1), 1)
	return start.AddDate(0, 3, -1)
}

// QuarterEndBefore returns the last quarter end strictly before the filing
// date. A 13F filed on 2024-02-14 reports 2023-12-31; one filed on
// 2024-05-15 reports 2024-03-31.
func QuarterEndBefore(filed time.Time) time.Time {
	q := (int(filed.Month()) - 1) / 3
	return Date(filed.Year(), time.Month(3*q+1), 1).AddDate(0, 0, -1)
}

// IsQuarterEnd reports whether t is the last day of a calendar quarter.
func IsQuarterEnd(t time.Time) bool {
	d := Date(t.Year(), t.Month(), t.Day())
	return d.Equal(QuarterEnd(d))
}

var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	"01/02/2006",
	"01-02-2006",
	"1/2/2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
}

// ParseDate parses the date formats EDGAR and eFD use and returns the UTC
// midnight of that calendar date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date(t.Year(), t.Month(), t.Day()), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// FormatEFDDate formats t for eFD search forms ("01/02/2006 00:00:00").
func FormatEFDDate(t time.Time) string {
	return t.Format("01/02/2006") + " 00:00:00"
}

// FormatDateTimeET formats a timestamp to "2006-01-02 15:04:05 ET".
func FormatDateTimeET(t time.Time) string {
	return t.In(ET).Format("2006-01-02 15:04:05") + " ET"
}
