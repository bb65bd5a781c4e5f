package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

var amountNumber = regexp.MustCompile(`[0-9][0-9,]*(?:\.[0-9]+)?`)

// isUndisclosed reports whether an amount text means "not disclosed".
func isUndisclosed(lower string) bool {
	switch lower {
	case "", "-", "--", "n/a", "unascertainable", "undetermined", "value not readily ascertainable":
		return true
	}
	return false
}

// ParseAmount parses a disclosed amount band such as "$1,001 - $15,000",
// "Over $50,000,000" or "None (or less than $1,001)". It returns nil for an
// undisclosed amount.
func ParseAmount(text string) (*models.ValueRange, error) {
	clean := cleanText(text)
	lower := strings.ToLower(clean)
	if isUndisclosed(lower) {
		return nil, nil
	}

	if strings.HasPrefix(lower, "none") {
		r := models.ValueRange{Min: decimal.Zero, Max: decimal.NewNullDecimal(decimal.NewFromInt(1000)), Text: clean}
		return &r, nil
	}

	nums := amountNumber.FindAllString(clean, -1)
	vals := make([]decimal.Decimal, 0, len(nums))
	for _, n := range nums {
		v, err := decimal.NewFromString(strings.ReplaceAll(n, ",", ""))
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", clean, err)
		}
		vals = append(vals, v)
	}

	switch {
	case strings.Contains(lower, "over") && len(vals) >= 1:
		r := models.ValueRange{Min: vals[len(vals)-1].Add(decimal.NewFromInt(1)), Text: clean}
		return &r, nil
	case len(vals) == 1:
		r := models.ExactRange(vals[0])
		r.Text = clean
		return &r, nil
	case len(vals) == 2:
		if vals[1].LessThan(vals[0]) {
			return nil, fmt.Errorf("amount %q: inverted range", clean)
		}
		r := models.ValueRange{Min: vals[0], Max: decimal.NewNullDecimal(vals[1]), Text: clean}
		return &r, nil
	}
	return nil, fmt.Errorf("amount %q: unrecognized", clean)
}

// addRanges sums two ranges; an open-ended operand makes the sum open-ended.
func addRanges(a, b *models.ValueRange) *models.ValueRange {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	sum := models.ValueRange{Min: a.Min.Add(b.Min)}
	if a.Max.Valid && b.Max.Valid {
		sum.Max = decimal.NewNullDecimal(a.Max.Decimal.Add(b.Max.Decimal))
	}
	return &sum
}

// NormalizeTransactionType maps eFD transaction labels ("Purchase",
// "Sale (Partial)", "Sale (Full)", "Exchange") to a TransactionType.
func NormalizeTransactionType(s string) (models.TransactionType, bool) {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "purchase") || strings.Contains(l, "buy"):
		return models.TxnBuy, true
	case strings.Contains(l, "sale") || strings.Contains(l, "sell") || strings.Contains(l, "sold"):
		switch {
		case strings.Contains(l, "partial"):
			return models.TxnSellPartial, true
		case strings.Contains(l, "full"):
			return models.TxnSellFull, true
		}
		return models.TxnSell, true
	case strings.Contains(l, "exchange"):
		return models.TxnExchange, true
	}
	return "", false
}

// Asset categories for net-worth report holdings, checked in order.
var assetCategories = []struct {
	name  string
	words []string
}{
	{"Real Estate", []string{"real estate", "property", "residence", "home", "land", "house", "condo", "farm"}},
	{"Retirement", []string{"401k", "401 k", "ira", "pension", "retirement", "tsp", "thrift"}},
	{"Mutual Funds", []string{"fund", "funds", "mutual", "etf", "index"}},
	{"Cash", []string{"bank", "cash", "money market", "checking", "savings", "cd", "certificate", "deposit"}},
	{"Bonds", []string{"bond", "bonds", "treasury", "municipal", "note", "notes", "government securities"}},
	{"Business Interest", []string{"business", "partnership", "ownership", "venture", "llc member", "business entity"}},
	{"Stocks", []string{"stock", "stocks", "common", "share", "shares", "equity", "corp", "inc", "ltd", "llc", "corporate securities"}},
}

// CategorizeAsset assigns a coarse category from the reported asset type and
// description.
func CategorizeAsset(assetType, description string) string {
	for _, text := range []string{assetType, description} {
		padded := " " + utils.NormalizeName(text) + " "
		if padded == "  " {
			continue
		}
		for _, c := range assetCategories {
			for _, w := range c.words {
				if strings.Contains(padded, " "+w+" ") {
					return c.name
				}
			}
		}
	}
	return "Other"
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
