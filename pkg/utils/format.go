package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatUSD formats an amount as "$1,234,567.89", dropping cents on whole
// dollar amounts.
func FormatUSD(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	amount = amount.Abs()

	s := amount.StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	out := "$" + groupThousands(intPart)
	if frac != "00" {
		out += "." + frac
	}
	if negative {
		return "-" + out
	}
	return out
}

// FormatUSDCompact formats large amounts with K/M/B suffixes ("$1.25B").
func FormatUSDCompact(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	amount = amount.Abs()

	prefix := "$"
	if negative {
		prefix = "-$"
	}

	switch {
	case amount.GreaterThanOrEqual(decimal.New(1, 9)):
		return prefix + amount.Shift(-9).StringFixed(2) + "B"
	case amount.GreaterThanOrEqual(decimal.New(1, 6)):
		return prefix + amount.Shift(-6).StringFixed(2) + "M"
	case amount.GreaterThanOrEqual(decimal.New(1, 3)):
		return prefix + amount.Shift(-3).StringFixed(2) + "K"
	default:
		return prefix + amount.StringFixed(2)
	}
}

// FormatShares formats a share count with thousands separators.
func FormatShares(n decimal.Decimal) string {
	s := n.String()
	intPart, frac, hasFrac := strings.Cut(strings.TrimPrefix(s, "-"), ".")
	out := groupThousands(intPart)
	if hasFrac {
		out += "." + frac
	}
	if n.IsNegative() {
		return "-" + out
	}
	return out
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
