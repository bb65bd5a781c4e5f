package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0"},
		{"999", "$999"},
		{"1001", "$1,001"},
		{"1234567.89", "$1,234,567.89"},
		{"-15000", "-$15,000"},
		{"50000000", "$50,000,000"},
	}
	for _, tt := range tests {
		if got := FormatUSD(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("FormatUSD(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatUSDCompact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"500", "$500.00"},
		{"15000", "$15.00K"},
		{"2500000", "$2.50M"},
		{"1250000000", "$1.25B"},
		{"-2500000", "-$2.50M"},
	}
	for _, tt := range tests {
		if got := FormatUSDCompact(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("FormatUSDCompact(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatShares(t *testing.T) {
	if got := FormatShares(decimal.NewFromInt(915560382)); got != "915,560,382" {
		t.Errorf("FormatShares = %q", got)
	}
	if got := FormatShares(decimal.RequireFromString("-1200.5")); got != "-1,200.5" {
		t.Errorf("FormatShares = %q", got)
	}
}
