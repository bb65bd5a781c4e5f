package utils

import (
	"testing"
	"time"
)

func TestQuarterEnd(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{Date(2024, 1, 1), Date(2024, 3, 31)},
		{Date(2024, 3, 31), Date(2024, 3, 31)},
		{Date(2024, 4, 1), Date(2024, 6, 30)},
		{Date(2024, 8, 15), Date(2024, 9, 30)},
		{Date(2024, 12, 2), Date(2024, 12, 31)},
	}
	for _, tt := range tests {
		if got := QuarterEnd(tt.in); !got.Equal(tt.want) {
			t.Errorf("QuarterEnd(%s) = %s, want %s", tt.in.Format("2006-01-02"), got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
		}
	}
}

func TestQuarterEndBefore(t *testing.T) {
	tests := []struct {
		filed time.Time
		want  time.Time
	}{
		{Date(2024, 2, 14), Date(2023, 12, 31)},
		{Date(2024, 5, 15), Date(2024, 3, 31)},
		{Date(2024, 8, 14), Date(2024, 6, 30)},
		{Date(2024, 11, 14), Date(2024, 9, 30)},
		// late filer still maps to the previous quarter end
		{Date(2024, 3, 20), Date(2023, 12, 31)},
		{Date(2024, 4, 1), Date(2024, 3, 31)},
		// filing on a quarter end reports the prior quarter
		{Date(2024, 6, 30), Date(2024, 3, 31)},
	}
	for _, tt := range tests {
		if got := QuarterEndBefore(tt.filed); !got.Equal(tt.want) {
			t.Errorf("QuarterEndBefore(%s) = %s, want %s", tt.filed.Format("2006-01-02"), got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
		}
	}
}

func TestParseDate(t *testing.T) {
	want := Date(2024, 5, 15)
	for _, s := range []string{"2024-05-15", "20240515", "05/15/2024", "05-15-2024", "5/15/2024", "2024-05-15T16:01:02-04:00"} {
		got, err := ParseDate(s)
		if err != nil {
			t.Errorf("ParseDate(%q) error: %v", s, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseDate("next tuesday"); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestFormatEFDDate(t *testing.T) {
	if got := FormatEFDDate(Date(2024, 1, 5)); got != "01/05/2024 00:00:00" {
		t.Errorf("FormatEFDDate = %q", got)
	}
}
