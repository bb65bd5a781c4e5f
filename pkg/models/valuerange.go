package models

import (
	"github.com/shopspring/decimal"
)

// ValueRange is a disclosed amount band. A missing Max means open-ended
// ("Over $50,000,000"); Min == Max is an exact amount.
type ValueRange struct {
	Min  decimal.Decimal     `json:"min"`
	Max  decimal.NullDecimal `json:"max"`
	Text string              `json:"text,omitempty"`
}

// ExactRange returns the degenerate range [v, v].
func ExactRange(v decimal.Decimal) ValueRange {
	return ValueRange{Min: v, Max: decimal.NewNullDecimal(v)}
}

// Bounded reports whether the range has an upper bound.
func (r ValueRange) Bounded() bool { return r.Max.Valid }

// Exact reports whether the range is a single value.
func (r ValueRange) Exact() bool { return r.Max.Valid && r.Max.Decimal.Equal(r.Min) }

// Midpoint is the representative magnitude. Open-ended ranges use their minimum.
func (r ValueRange) Midpoint() decimal.Decimal {
	if !r.Max.Valid {
		return r.Min
	}
	return r.Min.Add(r.Max.Decimal).Div(decimal.NewFromInt(2))
}

// Overlaps reports whether the two ranges share at least one value.
func (r ValueRange) Overlaps(o ValueRange) bool {
	if r.Max.Valid && r.Max.Decimal.LessThan(o.Min) {
		return false
	}
	if o.Max.Valid && o.Max.Decimal.LessThan(r.Min) {
		return false
	}
	return true
}

func (r ValueRange) String() string {
	if r.Text != "" {
		return r.Text
	}
	if r.Exact() {
		return r.Min.String()
	}
	if !r.Max.Valid {
		return "over " + r.Min.String()
	}
	return r.Min.String() + " - " + r.Max.Decimal.String()
}
