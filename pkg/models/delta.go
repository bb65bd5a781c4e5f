package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Classification is the outcome of comparing one security across two snapshots.
type Classification string

const (
	DeltaNew       Classification = "new"
	DeltaIncreased Classification = "increased"
	DeltaDecreased Classification = "decreased"
	DeltaClosed    Classification = "closed"
	DeltaUnchanged Classification = "unchanged"
)

// Delta flags.
const (
	FlagAmbiguousIdentifier = "ambiguous_identifier"
	FlagRemapped            = "remapped"
	FlagRangeOverlap        = "range_overlap"
	FlagNameMatched         = "name_matched"
	FlagIncomparable        = "incomparable"
)

// Measurement basis of a delta.
const (
	BasisQuantity = "quantity"
	BasisValue    = "value"
	BasisNone     = "none"
)

// Delta is a derived change record between two adjacent snapshots. Deltas are
// never deleted; recomputation marks the old ones superseded.
type Delta struct {
	ID              int64               `json:"id,omitempty"`
	EntityID        int64               `json:"entity_id,omitempty"`
	SecurityID      string              `json:"security_id"`
	PriorSecurityID string              `json:"prior_security_id,omitempty"`
	Name            string              `json:"name"`
	Classification  Classification      `json:"classification"`
	TransactionType TransactionType     `json:"transaction_type,omitempty"`
	Basis           string              `json:"basis"`
	Change          decimal.Decimal     `json:"change"`
	Magnitude       decimal.Decimal     `json:"magnitude"`
	ChangePct       decimal.NullDecimal `json:"change_pct"`
	PriorQuantity   decimal.NullDecimal `json:"prior_quantity"`
	NewQuantity     decimal.NullDecimal `json:"new_quantity"`
	PriorValue      *ValueRange         `json:"prior_value,omitempty"`
	NewValue        *ValueRange         `json:"new_value,omitempty"`
	PriorSnapshotID int64               `json:"prior_snapshot_id,omitempty"`
	NewSnapshotID   int64               `json:"new_snapshot_id,omitempty"`
	Flags           []string            `json:"flags,omitempty"`
	SupersededAt    *time.Time          `json:"superseded_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at,omitempty"`
}

// RelativeChange returns Change divided by the prior amount on the delta's
// basis (0.25 is a 25% increase). It is null without a non-zero prior.
func (d Delta) RelativeChange() decimal.NullDecimal {
	var prior decimal.Decimal
	switch {
	case d.Basis == BasisQuantity && d.PriorQuantity.Valid:
		prior = d.PriorQuantity.Decimal
	case d.Basis == BasisValue && d.PriorValue != nil:
		prior = d.PriorValue.Midpoint()
	default:
		return decimal.NullDecimal{}
	}
	if prior.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Change.DivRound(prior.Abs(), WeightPrecision))
}

// HasFlag reports whether f is set on the delta.
func (d Delta) HasFlag(f string) bool {
	for _, x := range d.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// IdentifierRemap records that a security changed canonical identifier
// (CUSIP change, ticker rename) so reconciliation can match across it.
type IdentifierRemap struct {
	OldID     string    `json:"old_id"`
	NewID     string    `json:"new_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
