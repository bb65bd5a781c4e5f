package reconcile

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func qty(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func band(min, max string) *models.ValueRange {
	r := models.ValueRange{Min: d(min)}
	if max != "" {
		r.Max = decimal.NewNullDecimal(d(max))
	}
	return &r
}

func holding(id, name, q string) models.LineItem {
	return models.LineItem{Key: id, SecurityID: id, Name: name, Class: "COM", Quantity: qty(q), TransactionType: models.TxnHold}
}

func trade(key, id string, typ models.TransactionType, day int, v *models.ValueRange) models.LineItem {
	return models.LineItem{
		Key:             key,
		SecurityID:      id,
		Name:            id,
		TransactionType: typ,
		TransactionDate: utils.Date(2024, 1, day),
		Value:           v,
	}
}

func snap(id int64, kind models.SourceKind, items ...models.LineItem) *models.Snapshot {
	return &models.Snapshot{ID: id, EntityID: 7, SourceKind: kind, Items: items}
}

func byID(t *testing.T, deltas []models.Delta) map[string]models.Delta {
	t.Helper()
	out := make(map[string]models.Delta, len(deltas))
	for _, dl := range deltas {
		if _, dup := out[dl.SecurityID]; dup {
			t.Fatalf("duplicate delta for %s", dl.SecurityID)
		}
		out[dl.SecurityID] = dl
	}
	return out
}

// ── Position Tests ──

func TestReconcileBaseline(t *testing.T) {
	e := New(DefaultThresholds(), nil)
	cur := snap(2, models.SourceInstitutionalReport,
		holding("AAPL", "APPLE INC", "100"),
		holding("MSFT", "MICROSOFT CORP", "50"),
	)
	deltas, warnings := e.Reconcile(cur, nil)
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings %+v", warnings)
	}
	if len(deltas) != 2 {
		t.Fatalf("got %d deltas, want 2", len(deltas))
	}
	for _, dl := range deltas {
		if dl.Classification != models.DeltaNew {
			t.Errorf("%s classified %s, baseline must be new", dl.SecurityID, dl.Classification)
		}
		if dl.PriorSnapshotID != 0 || dl.NewSnapshotID != 2 || dl.EntityID != 7 {
			t.Errorf("%s snapshot refs = %d -> %d (entity %d)", dl.SecurityID, dl.PriorSnapshotID, dl.NewSnapshotID, dl.EntityID)
		}
	}
	if deltas[0].SecurityID != "AAPL" || !deltas[0].Magnitude.Equal(d("100")) {
		t.Errorf("first delta = %+v", deltas[0])
	}
}

func TestReconcileQuantityClassification(t *testing.T) {
	e := New(DefaultThresholds(), nil)
	prior := snap(1, models.SourceInstitutionalReport,
		holding("AAPL", "APPLE INC", "100"),
		holding("MSFT", "MICROSOFT CORP", "100"),
		holding("KO", "COCA COLA CO", "100"),
		holding("BAC", "BANK AMER CORP", "1000"),
		holding("OXY", "OCCIDENTAL PETE CORP", "100"),
		holding("CVX", "CHEVRON CORP", "100"),
	)
	cur := snap(2, models.SourceInstitutionalReport,
		holding("AAPL", "APPLE INC", "150"),
		holding("MSFT", "MICROSOFT CORP", "60"),
		holding("BAC", "BANK AMER CORP", "1004"),
		holding("OXY", "OCCIDENTAL PETE CORP", "0"),
		holding("CVX", "CHEVRON CORP", "100"),
		holding("NVDA", "NVIDIA CORPORATION", "10"),
	)

	deltas, _ := e.Reconcile(cur, prior)
	got := byID(t, deltas)

	tests := []struct {
		id        string
		class     models.Classification
		change    string
		magnitude string
		pct       string // empty when there is no prior
	}{
		{"AAPL", models.DeltaIncreased, "50", "50", "0.5"},
		{"MSFT", models.DeltaDecreased, "-40", "40", "-0.4"},
		{"KO", models.DeltaClosed, "-100", "100", "-1"},
		{"BAC", models.DeltaUnchanged, "4", "4", "0.004"},
		{"OXY", models.DeltaClosed, "-100", "100", "-1"},
		{"CVX", models.DeltaUnchanged, "0", "0", "0"},
		{"NVDA", models.DeltaNew, "10", "10", ""},
	}
	for _, tt := range tests {
		dl, ok := got[tt.id]
		if !ok {
			t.Errorf("no delta for %s", tt.id)
			continue
		}
		if dl.Classification != tt.class {
			t.Errorf("%s classified %s, want %s", tt.id, dl.Classification, tt.class)
		}
		if !dl.Change.Equal(d(tt.change)) || !dl.Magnitude.Equal(d(tt.magnitude)) {
			t.Errorf("%s change/magnitude = %s/%s, want %s/%s", tt.id, dl.Change, dl.Magnitude, tt.change, tt.magnitude)
		}
		if tt.pct == "" && dl.ChangePct.Valid {
			t.Errorf("%s change_pct = %s, want null", tt.id, dl.ChangePct.Decimal)
		}
		if tt.pct != "" && (!dl.ChangePct.Valid || !dl.ChangePct.Decimal.Equal(d(tt.pct))) {
			t.Errorf("%s change_pct = %v, want %s", tt.id, dl.ChangePct, tt.pct)
		}
		if dl.Basis != models.BasisQuantity {
			t.Errorf("%s basis = %s", tt.id, dl.Basis)
		}
		if dl.PriorSnapshotID != 1 || dl.NewSnapshotID != 2 {
			t.Errorf("%s refs = %d -> %d", tt.id, dl.PriorSnapshotID, dl.NewSnapshotID)
		}
	}
	if len(deltas) != len(tests) {
		t.Errorf("got %d deltas, want %d", len(deltas), len(tests))
	}
}

func TestReconcileAbsoluteThreshold(t *testing.T) {
	e := New(Thresholds{Absolute: d("10"), Relative: decimal.Zero}, nil)
	prior := snap(1, models.SourceInstitutionalReport, holding("AAPL", "APPLE INC", "100"))
	cur := snap(2, models.SourceInstitutionalReport, holding("AAPL", "APPLE INC", "110"))
	deltas, _ := e.Reconcile(cur, prior)
	if deltas[0].Classification != models.DeltaUnchanged {
		t.Errorf("change of 10 within absolute threshold 10 classified %s", deltas[0].Classification)
	}
}

func TestReconcileValueRanges(t *testing.T) {
	e := New(DefaultThresholds(), nil)
	item := func(id string, v *models.ValueRange) models.LineItem {
		return models.LineItem{Key: id, SecurityID: id, Name: id, Value: v, TransactionType: models.TxnHold}
	}
	prior := snap(1, models.SourceNetWorthReport,
		item("UP", band("1001", "15000")),
		item("DOWN", band("50001", "100000")),
		item("SAME", band("1001", "15000")),
		item("NESTED", band("1001", "50000")),
		item("OPEN", band("50000001", "")),
	)
	cur := snap(2, models.SourceNetWorthReport,
		item("UP", band("15001", "50000")),
		item("DOWN", band("1001", "15000")),
		item("SAME", band("1001", "15000")),
		item("NESTED", band("15001", "50000")),
		item("OPEN", band("5000001", "25000000")),
	)
	got := byID(t, mustReconcile(e, cur, prior))

	tests := []struct {
		id        string
		class     models.Classification
		magnitude string
		overlap   bool
	}{
		{"UP", models.DeltaIncreased, "24500", false},
		{"DOWN", models.DeltaDecreased, "67000", false},
		{"SAME", models.DeltaUnchanged, "0", true},
		{"NESTED", models.DeltaUnchanged, "7000", true},
		{"OPEN", models.DeltaDecreased, "35000000.5", false},
	}
	for _, tt := range tests {
		dl := got[tt.id]
		if dl.Classification != tt.class {
			t.Errorf("%s classified %s, want %s", tt.id, dl.Classification, tt.class)
		}
		if !dl.Magnitude.Equal(d(tt.magnitude)) {
			t.Errorf("%s magnitude = %s, want %s", tt.id, dl.Magnitude, tt.magnitude)
		}
		if dl.HasFlag(models.FlagRangeOverlap) != tt.overlap {
			t.Errorf("%s range_overlap flag = %v, want %v", tt.id, dl.HasFlag(models.FlagRangeOverlap), tt.overlap)
		}
		if dl.PriorValue == nil || dl.NewValue == nil {
			t.Errorf("%s should keep both ranges for display", tt.id)
		}
	}
}

func mustReconcile(e *Engine, cur, prior *models.Snapshot) []models.Delta {
	deltas, _ := e.Reconcile(cur, prior)
	return deltas
}

func TestReconcileIncomparable(t *testing.T) {
	e := New(DefaultThresholds(), nil)
	prior := snap(1, models.SourceInstitutionalReport, models.LineItem{SecurityID: "X", Name: "X", Quantity: qty("5")})
	cur := snap(2, models.SourceInstitutionalReport, models.LineItem{SecurityID: "X", Name: "X", Value: band("10", "10")})
	deltas, _ := e.Reconcile(cur, prior)
	if deltas[0].Classification != models.DeltaUnchanged || !deltas[0].HasFlag(models.FlagIncomparable) {
		t.Errorf("delta = %+v, want unchanged + incomparable", deltas[0])
	}
}

// ── Identifier Remapping Tests ──

func TestReconcileRemapTable(t *testing.T) {
	e := New(DefaultThresholds(), []models.IdentifierRemap{{OldID: "FB", NewID: "META", Reason: "ticker change"}})
	prior := snap(1, models.SourceInstitutionalReport, holding("FB", "FACEBOOK INC", "100"))
	cur := snap(2, models.SourceInstitutionalReport, holding("META", "META PLATFORMS INC", "120"))

	deltas, warnings := e.Reconcile(cur, prior)
	if len(deltas) != 1 || len(warnings) != 0 {
		t.Fatalf("deltas = %+v warnings = %+v, want one continuing security", deltas, warnings)
	}
	dl := deltas[0]
	if dl.SecurityID != "META" || dl.PriorSecurityID != "FB" {
		t.Errorf("ids = %s <- %s", dl.SecurityID, dl.PriorSecurityID)
	}
	if dl.Classification != models.DeltaIncreased || !dl.HasFlag(models.FlagRemapped) {
		t.Errorf("delta = %+v, want increased + remapped", dl)
	}
}

func TestReconcileRemapChain(t *testing.T) {
	e := New(DefaultThresholds(), []models.IdentifierRemap{
		{OldID: "A", NewID: "B"},
		{OldID: "B", NewID: "C"},
		{OldID: "C", NewID: "A"},
	})
	// A cycle must terminate.
	_ = e.canonical("A")

	e = e.WithRemaps([]models.IdentifierRemap{{OldID: "OLD1", NewID: "OLD2"}, {OldID: "OLD2", NewID: "NEW"}})
	if got := e.canonical("OLD1"); got != "NEW" {
		t.Errorf("canonical(OLD1) = %s, want NEW", got)
	}
}

func TestReconcileNameFallback(t *testing.T) {
	e := New(DefaultThresholds(), nil)
	prior := snap(1, models.SourceInstitutionalReport, holding("CUSIP:111111111", "ACME CORP", "100"))
	cur := snap(2, models.SourceInstitutionalReport, holding("CUSIP:222222222", "Acme Corp.", "100"))

	deltas, warnings := e.Reconcile(cur, prior)
	if len(deltas) != 1 || len(warnings) != 0 {
		t.Fatalf("deltas = %+v, want one name-matched delta", deltas)
	}
	dl := deltas[0]
	if dl.Classification != models.DeltaUnchanged || !dl.HasFlag(models.FlagNameMatched) {
		t.Errorf("delta = %+v", dl)
	}
	if dl.PriorSecurityID != "CUSIP:111111111" {
		t.Errorf("PriorSecurityID = %s", dl.PriorSecurityID)
	}
}

func TestReconcileNameFallbackRespectsOptionSide(t *testing.T) {
	e := New(DefaultThresholds(), nil)
	put := holding("AAPL:PUT", "APPLE INC", "10")
	put.PutCall = "PUT"
	call := holding("AAPL:CALL", "APPLE INC", "10")
	call.PutCall = "CALL"

	got := byID(t, mustReconcile(e, snap(2, models.SourceInstitutionalReport, call), snap(1, models.SourceInstitutionalReport, put)))
	if got["AAPL:PUT"].Classification != models.DeltaClosed || got["AAPL:CALL"].Classification != models.DeltaNew {
		t.Errorf("puts and calls must not be paired: %+v", got)
	}
}

func TestReconcileAmbiguousIdentifier(t *testing.T) {
	e := New(DefaultThresholds(), nil)
	prior := snap(1, models.SourceInstitutionalReport,
		holding("CUSIP:111111111", "ACME CORP", "100"),
		holding("CUSIP:333333333", "ACME CORP", "50"),
	)
	cur := snap(2, models.SourceInstitutionalReport, holding("CUSIP:222222222", "ACME CORP", "150"))

	deltas, warnings := e.Reconcile(cur, prior)
	if len(warnings) != 1 || warnings[0].Code != WarnAmbiguousIdentifier {
		t.Fatalf("warnings = %+v, want one ambiguous_identifier", warnings)
	}
	if !strings.Contains(warnings[0].Message, "CUSIP:111111111") {
		t.Errorf("warning should list candidates: %s", warnings[0].Message)
	}

	got := byID(t, deltas)
	if len(got) != 3 {
		t.Fatalf("got %d deltas, want close+close+new", len(got))
	}
	if dl := got["CUSIP:222222222"]; dl.Classification != models.DeltaNew || !dl.HasFlag(models.FlagAmbiguousIdentifier) {
		t.Errorf("new side = %+v", dl)
	}
	for _, id := range []string{"CUSIP:111111111", "CUSIP:333333333"} {
		if dl := got[id]; dl.Classification != models.DeltaClosed || !dl.HasFlag(models.FlagAmbiguousIdentifier) {
			t.Errorf("%s = %+v", id, dl)
		}
	}

	var amb *AmbiguousIdentifierError
	err := error(&AmbiguousIdentifierError{SecurityID: "X", Candidates: []string{"A", "B"}})
	if !errors.As(err, &amb) || !strings.Contains(err.Error(), "A, B") {
		t.Errorf("AmbiguousIdentifierError formatting: %v", err)
	}
}

// ── Transaction Tests ──

func TestReconcileTrades(t *testing.T) {
	e := New(DefaultThresholds(), nil)
	small := band("1001", "15000")
	mid := band("15001", "50000")

	prior := snap(1, models.SourceLegislatorDisclosure,
		trade("1-1", "AAPL", models.TxnBuy, 2, small),
		trade("1-2", "DIS", models.TxnBuy, 2, small),
	)
	cur := snap(2, models.SourceLegislatorDisclosure,
		trade("1-1", "AAPL", models.TxnBuy, 10, small),
		trade("1-2", "NVDA", models.TxnBuy, 10, small),
		trade("1-3", "MSFT", models.TxnSellFull, 11, mid),
		trade("1-4", "TSLA", models.TxnSellPartial, 11, small),
		trade("1-5", "GOOGL", models.TxnExchange, 12, nil),
		trade("1-6", "KO", models.TxnSell, 12, nil),
		trade("1-7", "PEP", models.TxnBuy, 3, mid),
		trade("1-8", "PEP", models.TxnSell, 4, small),
		trade("1-9", "XOM", models.TxnBuy, 3, small),
		trade("1-10", "XOM", models.TxnSellFull, 9, small),
	)

	deltas, _ := e.Reconcile(cur, prior)
	got := byID(t, deltas)

	want := map[string]models.Classification{
		"AAPL":  models.DeltaIncreased,
		"NVDA":  models.DeltaNew,
		"MSFT":  models.DeltaClosed,
		"TSLA":  models.DeltaDecreased,
		"GOOGL": models.DeltaUnchanged,
		"KO":    models.DeltaDecreased,
		"PEP":   models.DeltaNew,
		"XOM":   models.DeltaClosed,
	}
	if len(got) != len(want) {
		t.Errorf("got %d deltas, want %d (DIS is absent, not closed)", len(got), len(want))
	}
	for id, class := range want {
		if got[id].Classification != class {
			t.Errorf("%s classified %s, want %s", id, got[id].Classification, class)
		}
	}
	if _, ok := got["DIS"]; ok {
		t.Error("absence from a trade report must not produce a delta")
	}
	if !got["AAPL"].Magnitude.Equal(d("8000.5")) || got["AAPL"].TransactionType != models.TxnBuy {
		t.Errorf("AAPL = %+v", got["AAPL"])
	}
	if !got["PEP"].Change.Equal(d("24500")) {
		t.Errorf("PEP net change = %s, want 24500", got["PEP"].Change)
	}
	if got["XOM"].TransactionType != models.TxnSellFull {
		t.Errorf("XOM last trade = %s", got["XOM"].TransactionType)
	}
}

func TestReconcileDeterministic(t *testing.T) {
	e := New(DefaultThresholds(), nil)
	prior := snap(1, models.SourceInstitutionalReport,
		holding("C", "CITIGROUP INC", "1"),
		holding("A", "A", "1"),
	)
	cur := snap(2, models.SourceInstitutionalReport,
		holding("B", "B", "1"),
		holding("A", "A", "2"),
	)
	first, _ := e.Reconcile(cur, prior)
	for i := 0; i < 20; i++ {
		again, _ := e.Reconcile(cur, prior)
		if !reflect.DeepEqual(first, again) {
			t.Fatal("Reconcile output is not deterministic")
		}
	}
	ids := []string{first[0].SecurityID, first[1].SecurityID, first[2].SecurityID}
	if !reflect.DeepEqual(ids, []string{"A", "B", "C"}) {
		t.Errorf("order = %v, want sorted", ids)
	}
}
