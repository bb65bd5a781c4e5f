// Package reconcile compares a new snapshot with the entity's prior snapshot
// and derives per-security deltas. It is pure: no I/O, deterministic output.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/filingwatch/pkg/models"
)

// Warning code recorded when the fallback matcher finds several candidates.
const WarnAmbiguousIdentifier = "ambiguous_identifier"

// AmbiguousIdentifierError reports a security that could continue as more
// than one security in the other snapshot. It is recovered as a warning.
type AmbiguousIdentifierError struct {
	SecurityID string
	Name       string
	Candidates []string
}

func (e *AmbiguousIdentifierError) Error() string {
	return fmt.Sprintf("ambiguous identifier %s (%s): candidates %s",
		e.SecurityID, e.Name, strings.Join(e.Candidates, ", "))
}

// Thresholds define the noise band: a change is ignored when
// |change| <= max(Absolute, Relative * |prior|).
type Thresholds struct {
	Absolute decimal.Decimal
	Relative decimal.Decimal
}

// DefaultThresholds ignores changes of half a percent or less.
func DefaultThresholds() Thresholds {
	return Thresholds{Absolute: decimal.Zero, Relative: decimal.RequireFromString("0.005")}
}

func (t Thresholds) within(change, prior decimal.Decimal) bool {
	limit := t.Relative.Mul(prior.Abs())
	if t.Absolute.GreaterThan(limit) {
		limit = t.Absolute
	}
	return change.Abs().LessThanOrEqual(limit)
}

// Engine reconciles snapshots. It is safe for concurrent use.
type Engine struct {
	thresholds Thresholds
	remaps     map[string]string
}

// New creates an engine. remaps maps old canonical ids to new ones.
func New(thresholds Thresholds, remaps []models.IdentifierRemap) *Engine {
	e := &Engine{thresholds: thresholds, remaps: make(map[string]string, len(remaps))}
	for _, r := range remaps {
		if r.OldID != "" && r.NewID != "" && r.OldID != r.NewID {
			e.remaps[r.OldID] = r.NewID
		}
	}
	return e
}

// WithRemaps returns a copy of the engine using the given remap table.
func (e *Engine) WithRemaps(remaps []models.IdentifierRemap) *Engine {
	return New(e.thresholds, remaps)
}

// canonical follows the remap chain from id.
func (e *Engine) canonical(id string) string {
	seen := 0
	for {
		next, ok := e.remaps[id]
		if !ok || seen > len(e.remaps) {
			return id
		}
		id = next
		seen++
	}
}

// Reconcile derives deltas for new against prior. A nil prior produces the
// first-observation baseline. The returned deltas are sorted by security id.
func (e *Engine) Reconcile(newSnap, prior *models.Snapshot) ([]models.Delta, []models.Warning) {
	if newSnap == nil {
		return nil, nil
	}
	cur := e.positions(newSnap)

	var deltas []models.Delta
	var warnings []models.Warning

	switch {
	case prior == nil:
		for _, id := range sortedKeys(cur) {
			deltas = append(deltas, opened(cur[id]))
		}
	case newSnap.SourceKind.IsTransactional():
		deltas, warnings = e.reconcileTrades(cur, e.positions(prior))
	default:
		deltas, warnings = e.reconcilePositions(cur, e.positions(prior))
	}

	for i := range deltas {
		deltas[i].EntityID = newSnap.EntityID
		deltas[i].NewSnapshotID = newSnap.ID
		if prior != nil {
			deltas[i].PriorSnapshotID = prior.ID
		}
		deltas[i].ChangePct = deltas[i].RelativeChange()
	}
	sort.SliceStable(deltas, func(i, j int) bool { return deltas[i].SecurityID < deltas[j].SecurityID })
	return deltas, warnings
}

func (e *Engine) reconcilePositions(cur, prev map[string]*position) ([]models.Delta, []models.Warning) {
	m := e.match(cur, prev)
	var deltas []models.Delta

	for _, p := range m.pairs {
		d := e.compare(p.prior, p.cur)
		d.Flags = appendFlags(d.Flags, p.flags...)
		deltas = append(deltas, d)
	}
	for _, id := range m.onlyCur {
		d := opened(cur[id])
		d.Flags = appendFlags(d.Flags, m.flags[id]...)
		deltas = append(deltas, d)
	}
	for _, id := range m.onlyPrior {
		d := closed(prev[id], nil)
		d.Flags = appendFlags(d.Flags, m.priorFlags[id]...)
		deltas = append(deltas, d)
	}
	return deltas, m.warnings
}

// compare classifies one security present in both snapshots.
func (e *Engine) compare(prior, cur *position) models.Delta {
	d := base(cur)
	d.PriorQuantity, d.PriorValue = prior.quantity, prior.value
	if prior.reported != cur.id {
		d.PriorSecurityID = prior.reported
	}

	switch {
	case prior.quantity.Valid && cur.quantity.Valid:
		d.Basis = models.BasisQuantity
		if cur.quantity.Decimal.IsZero() {
			return closed(prior, &d)
		}
		d.Change = cur.quantity.Decimal.Sub(prior.quantity.Decimal)
		d.Magnitude = d.Change.Abs()
		d.Classification = e.direction(d.Change, prior.quantity.Decimal)

	case prior.value != nil && cur.value != nil:
		d.Basis = models.BasisValue
		d.Change = cur.value.Midpoint().Sub(prior.value.Midpoint())
		d.Magnitude = d.Change.Abs()
		switch {
		case prior.value.Exact() && cur.value.Exact():
			d.Classification = e.direction(d.Change, prior.value.Min)
		case prior.value.Overlaps(*cur.value):
			d.Classification = models.DeltaUnchanged
			d.Flags = appendFlags(d.Flags, models.FlagRangeOverlap)
		case cur.value.Min.GreaterThan(prior.value.Min):
			d.Classification = models.DeltaIncreased
		default:
			d.Classification = models.DeltaDecreased
		}

	default:
		d.Basis = models.BasisNone
		d.Classification = models.DeltaUnchanged
		d.Flags = appendFlags(d.Flags, models.FlagIncomparable)
	}
	return d
}

func (e *Engine) direction(change, prior decimal.Decimal) models.Classification {
	switch {
	case e.thresholds.within(change, prior):
		return models.DeltaUnchanged
	case change.IsPositive():
		return models.DeltaIncreased
	default:
		return models.DeltaDecreased
	}
}

// reconcileTrades classifies every security traded in cur. Securities absent
// from a trade report produce no delta.
func (e *Engine) reconcileTrades(cur, prev map[string]*position) ([]models.Delta, []models.Warning) {
	m := e.match(cur, prev)
	seen := make(map[string]*pair, len(m.pairs))
	for i := range m.pairs {
		seen[m.pairs[i].cur.id] = &m.pairs[i]
	}

	var deltas []models.Delta
	for _, id := range sortedKeys(cur) {
		pos := cur[id]
		d := base(pos)
		d.Basis = models.BasisValue
		d.Flags = appendFlags(d.Flags, m.flags[id]...)

		var prior *position
		if p, ok := seen[id]; ok {
			prior = p.prior
			d.PriorValue, d.PriorQuantity = prior.value, prior.quantity
			if prior.reported != id {
				d.PriorSecurityID = prior.reported
			}
			d.Flags = appendFlags(d.Flags, p.flags...)
		}

		net, hasBuy, hasSell, last := netTrades(pos.items)
		d.TransactionType = last
		d.Change = net
		d.Magnitude = net.Abs()

		switch {
		case last == models.TxnSellFull:
			d.Classification = models.DeltaClosed
		case hasBuy && !hasSell, hasBuy && hasSell && net.IsPositive():
			d.Classification = models.DeltaNew
			if prior != nil {
				d.Classification = models.DeltaIncreased
			}
		case hasSell && !hasBuy, hasBuy && hasSell && net.IsNegative():
			d.Classification = models.DeltaDecreased
		default:
			d.Classification = models.DeltaUnchanged
		}
		deltas = append(deltas, d)
	}
	return deltas, m.warnings
}

// netTrades sums buy midpoints minus sell midpoints over trades in date
// order and returns the type of the last trade.
func netTrades(items []models.LineItem) (net decimal.Decimal, hasBuy, hasSell bool, last models.TransactionType) {
	sorted := append([]models.LineItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].TransactionDate.Equal(sorted[j].TransactionDate) {
			return sorted[i].TransactionDate.Before(sorted[j].TransactionDate)
		}
		return sorted[i].Key < sorted[j].Key
	})
	for _, it := range sorted {
		mid := decimal.Zero
		if it.Value != nil {
			mid = it.Value.Midpoint()
		}
		switch {
		case it.TransactionType == models.TxnBuy:
			hasBuy = true
			net = net.Add(mid)
		case it.TransactionType.IsSell():
			hasSell = true
			net = net.Sub(mid)
		}
		last = it.TransactionType
	}
	return net, hasBuy, hasSell, last
}

func base(p *position) models.Delta {
	return models.Delta{
		SecurityID:  p.id,
		Name:        p.name,
		NewQuantity: p.quantity,
		NewValue:    p.value,
	}
}

// opened builds the delta for a security only present in the new snapshot.
func opened(p *position) models.Delta {
	d := base(p)
	d.Classification = models.DeltaNew
	if len(p.items) > 0 && p.items[0].TransactionType != models.TxnHold && p.items[0].TransactionType != "" {
		_, _, _, d.TransactionType = netTrades(p.items)
	}
	switch {
	case p.quantity.Valid:
		d.Basis = models.BasisQuantity
		d.Change = p.quantity.Decimal
	case p.value != nil:
		d.Basis = models.BasisValue
		d.Change = p.value.Midpoint()
	default:
		d.Basis = models.BasisNone
	}
	d.Magnitude = d.Change.Abs()
	return d
}

// closed builds the delta for a security that left the portfolio. When d is
// non-nil it is completed in place of a fresh delta.
func closed(prior *position, d *models.Delta) models.Delta {
	var out models.Delta
	if d != nil {
		out = *d
	} else {
		out = models.Delta{SecurityID: prior.id, Name: prior.name}
	}
	out.Classification = models.DeltaClosed
	out.PriorQuantity, out.PriorValue = prior.quantity, prior.value
	switch {
	case prior.quantity.Valid:
		out.Basis = models.BasisQuantity
		out.Change = prior.quantity.Decimal.Neg()
	case prior.value != nil:
		out.Basis = models.BasisValue
		out.Change = prior.value.Midpoint().Neg()
	default:
		out.Basis = models.BasisNone
		out.Change = decimal.Zero
	}
	out.Magnitude = out.Change.Abs()
	return out
}

func appendFlags(flags []string, add ...string) []string {
	for _, f := range add {
		dup := false
		for _, x := range flags {
			if x == f {
				dup = true
				break
			}
		}
		if !dup {
			flags = append(flags, f)
		}
	}
	return flags
}
