package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind names the document family a snapshot was parsed from.
type SourceKind string

const (
	SourceInstitutionalReport  SourceKind = "institutional-report"
	SourceLegislatorDisclosure SourceKind = "legislator-disclosure"
	SourceNetWorthReport       SourceKind = "net-worth-report"
)

// AllSourceKinds lists the supported kinds in a stable order.
var AllSourceKinds = []SourceKind{
	SourceInstitutionalReport,
	SourceLegislatorDisclosure,
	SourceNetWorthReport,
}

// Valid reports whether s is a known source kind.
func (s SourceKind) Valid() bool {
	switch s {
	case SourceInstitutionalReport, SourceLegislatorDisclosure, SourceNetWorthReport:
		return true
	}
	return false
}

// IsTransactional reports whether snapshots of this kind list discrete trades
// rather than full positions.
func (s SourceKind) IsTransactional() bool {
	return s == SourceLegislatorDisclosure
}

// EntityKind returns the entity kind that files this source.
func (s SourceKind) EntityKind() EntityKind {
	if s == SourceInstitutionalReport {
		return EntityInstitutional
	}
	return EntityLegislator
}

// ParseStatus records whether a snapshot parsed cleanly.
type ParseStatus string

const (
	ParseOK           ParseStatus = "parsed"
	ParseWithWarnings ParseStatus = "parsed_with_warnings"
)

// TransactionType is the normalized kind of a line item.
type TransactionType string

const (
	TxnHold        TransactionType = "hold"
	TxnBuy         TransactionType = "buy"
	TxnSell        TransactionType = "sell"
	TxnSellPartial TransactionType = "sell_partial"
	TxnSellFull    TransactionType = "sell_full"
	TxnExchange    TransactionType = "exchange"
)

// IsSell reports whether t is any kind of sale.
func (t TransactionType) IsSell() bool {
	return t == TxnSell || t == TxnSellPartial || t == TxnSellFull
}

// Warning is a non-fatal problem recorded against a snapshot.
type Warning struct {
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// Summary holds per-snapshot totals.
type Summary struct {
	Positions      int                 `json:"positions"`
	ValueMin       decimal.Decimal     `json:"value_min"`
	ValueMax       decimal.NullDecimal `json:"value_max"`
	LiabilitiesMin decimal.Decimal     `json:"liabilities_min"`
	LiabilitiesMax decimal.NullDecimal `json:"liabilities_max"`
}

// NetWorth returns assets minus liabilities as a range. The bounds are
// crossed: the low end subtracts the largest possible liability.
func (s Summary) NetWorth() ValueRange {
	nw := ValueRange{}
	if s.LiabilitiesMax.Valid {
		nw.Min = s.ValueMin.Sub(s.LiabilitiesMax.Decimal)
	} else {
		nw.Min = s.ValueMin
	}
	if s.ValueMax.Valid {
		nw.Max = decimal.NewNullDecimal(s.ValueMax.Decimal.Sub(s.LiabilitiesMin))
	}
	return nw
}

// WeightPrecision is the number of decimal places kept for portfolio weights
// and relative changes.
const WeightPrecision = 6

// LineItem is one holding or trade inside a snapshot.
type LineItem struct {
	ID              int64               `json:"id,omitempty"`
	Key             string              `json:"key"`
	SecurityID      string              `json:"security_id"`
	RawIdentifier   string              `json:"raw_identifier,omitempty"`
	Name            string              `json:"name"`
	Class           string              `json:"class,omitempty"`
	Resolution      string              `json:"resolution,omitempty"`
	NeedsMapping    bool                `json:"needs_mapping,omitempty"`
	Quantity        decimal.NullDecimal `json:"quantity"`
	Value           *ValueRange         `json:"value,omitempty"`
	TransactionType TransactionType     `json:"transaction_type"`
	TransactionDate time.Time           `json:"transaction_date,omitempty"`
	Owner           string              `json:"owner,omitempty"`
	PutCall         string              `json:"put_call,omitempty"`
	AssetType       string              `json:"asset_type,omitempty"`
	// Weight is the item's share of the report's total value, set for
	// institutional reports only.
	Weight decimal.NullDecimal `json:"portfolio_weight"`
}

// Snapshot is the parsed state of one entity for one reporting period.
type Snapshot struct {
	ID           int64       `json:"id,omitempty"`
	EntityID     int64       `json:"entity_id,omitempty"`
	Entity       EntityRef   `json:"entity"`
	Period       Period      `json:"period"`
	SourceKind   SourceKind  `json:"source_kind"`
	Revision     int         `json:"revision"`
	SourceURL    string      `json:"source_url"`
	Checksum     string      `json:"checksum"`
	RetrievedAt  time.Time   `json:"retrieved_at"`
	DocumentID   string      `json:"document_id,omitempty"`
	FiledAt      time.Time   `json:"filed_at,omitempty"`
	ParseStatus  ParseStatus `json:"parse_status"`
	Warnings     []Warning   `json:"warnings,omitempty"`
	Summary      Summary     `json:"summary"`
	Items        []LineItem  `json:"items,omitempty"`
	SupersededBy int64       `json:"superseded_by,omitempty"`
	SupersededAt *time.Time  `json:"superseded_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at,omitempty"`
}

// Active reports whether this revision is the authoritative one.
func (s *Snapshot) Active() bool { return s.SupersededAt == nil }

// Summarize recomputes Positions and value totals from the line items,
// keeping any liability totals already set. For institutional reports it
// also sets each item's portfolio weight.
func (s *Snapshot) Summarize() {
	s.Summary.Positions = len(s.Items)
	s.Summary.ValueMin = decimal.Zero
	s.Summary.ValueMax = decimal.NewNullDecimal(decimal.Zero)
	for _, it := range s.Items {
		if it.Value == nil {
			continue
		}
		s.Summary.ValueMin = s.Summary.ValueMin.Add(it.Value.Min)
		if s.Summary.ValueMax.Valid && it.Value.Max.Valid {
			s.Summary.ValueMax.Decimal = s.Summary.ValueMax.Decimal.Add(it.Value.Max.Decimal)
		} else {
			s.Summary.ValueMax = decimal.NullDecimal{}
		}
	}
	if s.SourceKind == SourceInstitutionalReport {
		s.weigh()
	}
}

// weigh sets Weight to value / total for each item with a value. Weights stay
// null when the total is zero.
func (s *Snapshot) weigh() {
	total := s.Summary.ValueMin
	for i := range s.Items {
		it := &s.Items[i]
		it.Weight = decimal.NullDecimal{}
		if it.Value == nil || total.IsZero() {
			continue
		}
		it.Weight = decimal.NewNullDecimal(it.Value.Midpoint().DivRound(total, WeightPrecision))
	}
}
