package reconcile

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// position is one security's aggregate inside a snapshot.
type position struct {
	id       string // canonical id after remapping
	reported string // id as carried by the line item
	name     string
	class    string
	putCall  string
	quantity decimal.NullDecimal
	value    *models.ValueRange
	items    []models.LineItem
}

// matchKey is the fallback identity: normalized name, class and option side.
func (p *position) matchKey() string {
	name := utils.NormalizeName(p.name)
	if name == "" {
		return ""
	}
	return name + "|" + strings.ToLower(strings.TrimSpace(p.class)) + "|" + p.putCall
}

// positions aggregates line items by canonical security id.
func (e *Engine) positions(s *models.Snapshot) map[string]*position {
	out := make(map[string]*position, len(s.Items))
	for _, it := range s.Items {
		reported := it.SecurityID
		if reported == "" {
			reported = "RAW:" + utils.NormalizeName(it.Name)
		}
		id := e.canonical(reported)

		p, ok := out[id]
		if !ok {
			p = &position{id: id, reported: reported, name: it.Name, class: it.Class, putCall: it.PutCall}
			out[id] = p
		}
		p.items = append(p.items, it)

		switch {
		case p.quantity.Valid && it.Quantity.Valid:
			p.quantity.Decimal = p.quantity.Decimal.Add(it.Quantity.Decimal)
		case it.Quantity.Valid:
			p.quantity = it.Quantity
		}
		if it.Value != nil {
			if p.value == nil {
				v := *it.Value
				p.value = &v
			} else {
				sum := models.ValueRange{Min: p.value.Min.Add(it.Value.Min)}
				if p.value.Max.Valid && it.Value.Max.Valid {
					sum.Max = decimal.NewNullDecimal(p.value.Max.Decimal.Add(it.Value.Max.Decimal))
				}
				p.value = &sum
			}
		}
	}
	return out
}

type pair struct {
	prior *position
	cur   *position
	flags []string
}

type matching struct {
	pairs      []pair
	onlyCur    []string
	onlyPrior  []string
	flags      map[string][]string // by current id
	priorFlags map[string][]string // by prior id
	warnings   []models.Warning
}

// match pairs securities across snapshots: first by canonical id (after
// the remap table), then by the name+class fallback. A fallback key shared
// by more than one unmatched security on either side is ambiguous: the
// securities stay unmatched and are flagged.
func (e *Engine) match(cur, prev map[string]*position) matching {
	m := matching{flags: make(map[string][]string), priorFlags: make(map[string][]string)}

	var unCur, unPrior []string
	for _, id := range sortedKeys(cur) {
		p, ok := prev[id]
		if !ok {
			unCur = append(unCur, id)
			continue
		}
		pr := pair{prior: p, cur: cur[id]}
		if p.reported != id || cur[id].reported != id {
			pr.flags = []string{models.FlagRemapped}
		}
		m.pairs = append(m.pairs, pr)
	}
	for _, id := range sortedKeys(prev) {
		if _, ok := cur[id]; !ok {
			unPrior = append(unPrior, id)
		}
	}

	priorByKey := make(map[string][]string)
	for _, id := range unPrior {
		if k := prev[id].matchKey(); k != "" {
			priorByKey[k] = append(priorByKey[k], id)
		}
	}
	curByKey := make(map[string][]string)
	for _, id := range unCur {
		if k := cur[id].matchKey(); k != "" {
			curByKey[k] = append(curByKey[k], id)
		}
	}

	paired := make(map[string]bool)
	for _, id := range unCur {
		k := cur[id].matchKey()
		cands := priorByKey[k]
		switch {
		case k == "" || len(cands) == 0:
			m.onlyCur = append(m.onlyCur, id)
		case len(cands) == 1 && len(curByKey[k]) == 1:
			m.pairs = append(m.pairs, pair{prior: prev[cands[0]], cur: cur[id], flags: []string{models.FlagNameMatched}})
			paired[cands[0]] = true
		default:
			m.onlyCur = append(m.onlyCur, id)
			m.flags[id] = []string{models.FlagAmbiguousIdentifier}
			for _, c := range cands {
				m.priorFlags[c] = []string{models.FlagAmbiguousIdentifier}
			}
			err := &AmbiguousIdentifierError{SecurityID: id, Name: cur[id].name, Candidates: cands}
			m.warnings = append(m.warnings, models.Warning{Code: WarnAmbiguousIdentifier, Message: err.Error()})
		}
	}
	for _, id := range unPrior {
		if !paired[id] {
			m.onlyPrior = append(m.onlyPrior, id)
		}
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
