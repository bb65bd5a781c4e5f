// Package securities normalizes raw security identifiers from filings into
// canonical ids. Resolution precedence:
//
//  1. an explicit ticker ("(NVDA)", "Ticker: NVDA", a ticker column),
//  2. an exact CUSIP from the mapping file,
//  3. the CUSIP issuer prefix (first six characters),
//  4. a well-formed CUSIP with a valid check digit ("CUSIP:<cusip>"),
//  5. the issuer name, only for items that carry no CUSIP,
//  6. otherwise the normalized raw name ("RAW:<name>"), flagged for mapping.
//
// Name fragments are never matched against items with a CUSIP: distinct
// issuers share words ("Apple Hospitality", "Berkshire Hills") and would
// collapse onto one id.
package securities

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seenimoa/filingwatch/pkg/utils"
)

// Status of a resolution attempt.
type Status string

const (
	Resolved   Status = "resolved"
	Unresolved Status = "unresolved"
)

// Resolution methods.
const (
	MethodTicker      = "ticker"
	MethodCUSIP       = "cusip"
	MethodCUSIPPrefix = "cusip_prefix"
	MethodName        = "name"
	MethodCUSIPRaw    = "cusip_raw"
	MethodRaw         = "raw"
)

// Prefixes of non-ticker canonical ids.
const (
	CUSIPPrefix = "CUSIP:"
	RawPrefix   = "RAW:"
)

// Input carries whatever identifying fields a line item has.
type Input struct {
	Name   string // issuer or asset name
	CUSIP  string
	Ticker string // ticker column, may be "--"
	Text   string // free text that may embed "(TICKER)"
}

// Resolution is the outcome for one line item.
type Resolution struct {
	Status       Status
	Canonical    string
	Method       string
	NeedsMapping bool
}

// Mapping is the YAML mapping file layout.
type Mapping struct {
	CUSIPs        map[string]string `yaml:"cusips"`
	CUSIPPrefixes map[string]string `yaml:"cusip_prefixes"`
	Names         map[string]string `yaml:"names"`
}

type nameKey struct {
	key    string
	ticker string
}

// Resolver applies the resolution chain. It is safe for concurrent use
// once constructed.
type Resolver struct {
	cusips   map[string]string
	prefixes map[string]string
	names    []nameKey
}

// NewResolver returns a resolver with the built-in tables plus any given
// mappings, later mappings overriding earlier ones.
func NewResolver(mappings ...Mapping) *Resolver {
	r := &Resolver{
		cusips:   make(map[string]string),
		prefixes: make(map[string]string, len(builtinCUSIPPrefixes)),
	}
	for k, v := range builtinCUSIPPrefixes {
		r.prefixes[k] = v
	}
	names := make(map[string]string, len(builtinNames))
	for k, v := range builtinNames {
		names[k] = v
	}
	for _, m := range mappings {
		for k, v := range m.CUSIPs {
			r.cusips[strings.ToUpper(strings.TrimSpace(k))] = utils.NormalizeTicker(v)
		}
		for k, v := range m.CUSIPPrefixes {
			r.prefixes[strings.ToUpper(strings.TrimSpace(k))] = utils.NormalizeTicker(v)
		}
		for k, v := range m.Names {
			names[utils.NormalizeName(k)] = utils.NormalizeTicker(v)
		}
	}
	for k, v := range names {
		r.names = append(r.names, nameKey{key: k, ticker: v})
	}
	// Longest key first so "bank of america" beats "america".
	sort.Slice(r.names, func(i, j int) bool {
		if len(r.names[i].key) != len(r.names[j].key) {
			return len(r.names[i].key) > len(r.names[j].key)
		}
		return r.names[i].key < r.names[j].key
	})
	return r
}

// LoadMapping reads a YAML mapping file.
func LoadMapping(path string) (Mapping, error) {
	var m Mapping
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read securities mapping: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse securities mapping %s: %w", path, err)
	}
	return m, nil
}

var (
	parenTicker = regexp.MustCompile(`\(([A-Z]{1,5}(?:[./][A-Z])?)\)`)
	labelTicker = regexp.MustCompile(`(?i)ticker:\s*([A-Za-z]{1,5}(?:[./-][A-Za-z])?)\b`)
)

// Resolve runs the chain.
func (r *Resolver) Resolve(in Input) Resolution {
	if t := explicitTicker(in); t != "" {
		return Resolution{Status: Resolved, Canonical: t, Method: MethodTicker}
	}

	cusip := strings.ToUpper(strings.TrimSpace(in.CUSIP))
	if t, ok := r.cusips[cusip]; ok && cusip != "" {
		return Resolution{Status: Resolved, Canonical: t, Method: MethodCUSIP}
	}
	if len(cusip) >= 6 {
		if t, ok := r.prefixes[cusip[:6]]; ok {
			return Resolution{Status: Resolved, Canonical: t, Method: MethodCUSIPPrefix}
		}
	}

	if ValidCUSIP(cusip) {
		return Resolution{Status: Resolved, Canonical: CUSIPPrefix + cusip, Method: MethodCUSIPRaw}
	}

	name := utils.NormalizeName(in.Name)
	if name != "" && cusip == "" {
		padded := " " + name + " "
		for _, nk := range r.names {
			if strings.Contains(padded, " "+nk.key+" ") {
				return Resolution{Status: Resolved, Canonical: nk.ticker, Method: MethodName}
			}
		}
	}

	raw := name
	if raw == "" {
		raw = strings.ToLower(cusip)
	}
	return Resolution{Status: Unresolved, Canonical: RawPrefix + raw, Method: MethodRaw, NeedsMapping: true}
}

func explicitTicker(in Input) string {
	if t := strings.TrimSpace(in.Ticker); t != "" && utils.IsTickerLike(t) {
		return utils.NormalizeTicker(t)
	}
	for _, s := range []string{in.Text, in.Name} {
		if s == "" {
			continue
		}
		if m := parenTicker.FindStringSubmatch(s); m != nil {
			return utils.NormalizeTicker(m[1])
		}
		if m := labelTicker.FindStringSubmatch(s); m != nil && utils.IsTickerLike(m[1]) {
			return utils.NormalizeTicker(m[1])
		}
	}
	return ""
}

// ValidCUSIP reports whether s is a 9-character CUSIP with a correct check
// digit.
func ValidCUSIP(s string) bool {
	if len(s) != 9 {
		return false
	}
	sum := 0
	for i := 0; i < 8; i++ {
		v, ok := cusipValue(s[i])
		if !ok {
			return false
		}
		if i%2 == 1 {
			v *= 2
		}
		sum += v/10 + v%10
	}
	check := (10 - sum%10) % 10
	return s[8] == byte('0'+check)
}

func cusipValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10, true
	case c == '*':
		return 36, true
	case c == '@':
		return 37, true
	case c == '#':
		return 38, true
	}
	return 0, false
}
