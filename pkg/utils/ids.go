package utils

import (
	"strings"
	"unicode"
)

// PadCIK left-pads a CIK with zeros to the 10 digits EDGAR URLs expect.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	cik = strings.TrimPrefix(strings.ToUpper(cik), "CIK")
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}

// TrimCIK strips leading zeros ("0001067983" -> "1067983").
func TrimCIK(cik string) string {
	t := strings.TrimLeft(strings.TrimSpace(cik), "0")
	if t == "" {
		return "0"
	}
	return t
}

// AccessionPath removes the dashes from an accession number for use in
// archive paths ("0000950123-24-002518" -> "000095012324002518").
func AccessionPath(acc string) string {
	return strings.ReplaceAll(strings.TrimSpace(acc), "-", "")
}

// NormalizeTicker uppercases a ticker, strips a leading "$" and rewrites
// share-class separators to a dot (BRK/B, BRK-B -> BRK.B).
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(strings.ToUpper(ticker))
	ticker = strings.TrimPrefix(ticker, "$")
	ticker = strings.NewReplacer("/", ".", "-", ".", " ", "").Replace(ticker)
	return ticker
}

// IsTickerLike reports whether s looks like a US listing symbol: 1-5 letters
// optionally followed by a one-letter class suffix.
func IsTickerLike(s string) bool {
	s = NormalizeTicker(s)
	base, class, hasClass := strings.Cut(s, ".")
	if len(base) < 1 || len(base) > 5 {
		return false
	}
	for _, r := range base {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	if hasClass {
		return len(class) == 1 && class[0] >= 'A' && class[0] <= 'Z'
	}
	return true
}

// NormalizeName lowercases a security or filer name and collapses
// punctuation and whitespace, so "APPLE INC." and "Apple, Inc" compare equal.
func NormalizeName(name string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
