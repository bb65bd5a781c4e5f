package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bounded(min, max string) ValueRange {
	return ValueRange{Min: d(min), Max: decimal.NewNullDecimal(d(max))}
}

// ── Period Tests ──

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		wantKey string
	}{
		{"2024-03-31", "2024-03-31"},
		{"2024Q1", "2024-01-01..2024-03-31"},
		{"2024q4", "2024-10-01..2024-12-31"},
		{"2023", "2023-01-01..2023-12-31"},
		{"2024-01-01..2024-03-31", "2024-01-01..2024-03-31"},
		{"2024-03-31..2024-01-01", "2024-01-01..2024-03-31"},
	}
	for _, tt := range tests {
		p, err := ParsePeriod(tt.in)
		if err != nil {
			t.Errorf("ParsePeriod(%q) error: %v", tt.in, err)
			continue
		}
		if p.Key() != tt.wantKey {
			t.Errorf("ParsePeriod(%q).Key() = %q, want %q", tt.in, p.Key(), tt.wantKey)
		}
	}

	for _, bad := range []string{"", "2024Q5", "yesterday", "2024-13-01"} {
		if _, err := ParsePeriod(bad); err == nil {
			t.Errorf("ParsePeriod(%q) expected error", bad)
		}
	}
}

func TestPeriodOrdering(t *testing.T) {
	q1 := Quarter(2024, 1)
	q2 := Quarter(2024, 2)
	if !q1.Before(q2) || q2.Before(q1) {
		t.Error("Q1 should order before Q2")
	}
	if q1.Before(q1) {
		t.Error("a period is not before itself")
	}
	if !QuarterOf(time.Date(2024, 5, 15, 13, 0, 0, 0, time.UTC)).Equal(q2) {
		t.Error("QuarterOf(May) should be Q2")
	}
	if !q2.Contains(time.Date(2024, 6, 30, 23, 59, 0, 0, time.UTC)) {
		t.Error("Q2 should contain its last day")
	}
	if q2.Contains(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("Q2 should not contain July 1")
	}
}

func TestPeriodJSON(t *testing.T) {
	p := Year(2023)
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("json.Marshal(Period) error: %v", err)
	}
	var decoded Period
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal(Period) error: %v", err)
	}
	if !decoded.Equal(p) {
		t.Errorf("decoded = %v, want %v", decoded, p)
	}
}

// ── ValueRange Tests ──

func TestValueRangeMidpoint(t *testing.T) {
	tests := []struct {
		name string
		r    ValueRange
		want string
	}{
		{"bounded", bounded("1001", "15000"), "8000.5"},
		{"exact", ExactRange(d("100")), "100"},
		{"open-ended uses min", ValueRange{Min: d("50000000")}, "50000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Midpoint(); !got.Equal(d(tt.want)) {
				t.Errorf("Midpoint() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValueRangeOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b ValueRange
		want bool
	}{
		{"same band", bounded("1001", "15000"), bounded("1001", "15000"), true},
		{"adjacent bands", bounded("1001", "15000"), bounded("15001", "50000"), false},
		{"nested", bounded("1001", "50000"), bounded("15001", "15001"), true},
		{"open-ended above", ValueRange{Min: d("50000001")}, bounded("1001", "15000"), false},
		{"open-ended reaches", ValueRange{Min: d("10000")}, bounded("1001", "15000"), true},
		{"both open", ValueRange{Min: d("1")}, ValueRange{Min: d("1000000")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps (reversed) = %v, want %v", got, tt.want)
			}
		})
	}
}

// ── Snapshot Tests ──

func TestSnapshotSummarize(t *testing.T) {
	r1 := bounded("1001", "15000")
	r2 := bounded("15001", "50000")
	s := &Snapshot{Items: []LineItem{{Value: &r1}, {Value: &r2}, {}}}
	s.Summarize()

	if s.Summary.Positions != 3 {
		t.Errorf("Positions = %d, want 3", s.Summary.Positions)
	}
	if !s.Summary.ValueMin.Equal(d("16002")) {
		t.Errorf("ValueMin = %s, want 16002", s.Summary.ValueMin)
	}
	if !s.Summary.ValueMax.Valid || !s.Summary.ValueMax.Decimal.Equal(d("65000")) {
		t.Errorf("ValueMax = %v, want 65000", s.Summary.ValueMax)
	}

	open := ValueRange{Min: d("50000001")}
	s.Items = append(s.Items, LineItem{Value: &open})
	s.Summarize()
	if s.Summary.ValueMax.Valid {
		t.Error("an open-ended item should make ValueMax open")
	}
}

func TestSnapshotPortfolioWeight(t *testing.T) {
	big, small := ExactRange(d("750")), ExactRange(d("250"))
	s := &Snapshot{
		SourceKind: SourceInstitutionalReport,
		Items:      []LineItem{{Key: "AAPL", Value: &big}, {Key: "KO", Value: &small}, {Key: "NOVAL"}},
	}
	s.Summarize()

	want := map[string]string{"AAPL": "0.75", "KO": "0.25"}
	for _, it := range s.Items {
		w, ok := want[it.Key]
		if !ok {
			if it.Weight.Valid {
				t.Errorf("%s weight = %s, want null", it.Key, it.Weight.Decimal)
			}
			continue
		}
		if !it.Weight.Valid || !it.Weight.Decimal.Equal(d(w)) {
			t.Errorf("%s weight = %v, want %s", it.Key, it.Weight, w)
		}
	}

	zero := ExactRange(decimal.Zero)
	s.Items = []LineItem{{Key: "ZERO", Value: &zero}}
	s.Summarize()
	if s.Items[0].Weight.Valid {
		t.Error("weights over a zero total should be null")
	}

	trades := &Snapshot{SourceKind: SourceLegislatorDisclosure, Items: []LineItem{{Key: "AAPL", Value: &big}}}
	trades.Summarize()
	if trades.Items[0].Weight.Valid {
		t.Error("disclosure items carry no portfolio weight")
	}
}

func TestDeltaRelativeChange(t *testing.T) {
	prior := bounded("1001", "15000")
	tests := []struct {
		name  string
		delta Delta
		want  string // empty for null
	}{
		{"quantity increase", Delta{Basis: BasisQuantity, Change: d("50"), PriorQuantity: decimal.NewNullDecimal(d("200"))}, "0.25"},
		{"closed", Delta{Basis: BasisQuantity, Change: d("-80"), PriorQuantity: decimal.NewNullDecimal(d("80"))}, "-1"},
		{"thirds", Delta{Basis: BasisQuantity, Change: d("1"), PriorQuantity: decimal.NewNullDecimal(d("3"))}, "0.333333"},
		{"value midpoint", Delta{Basis: BasisValue, Change: d("8000.5"), PriorValue: &prior}, "1"},
		{"zero prior", Delta{Basis: BasisQuantity, Change: d("10"), PriorQuantity: decimal.NewNullDecimal(decimal.Zero)}, ""},
		{"no prior", Delta{Basis: BasisQuantity, Change: d("10")}, ""},
		{"incomparable", Delta{Basis: BasisNone}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.delta.RelativeChange()
			if tt.want == "" {
				if got.Valid {
					t.Errorf("RelativeChange() = %s, want null", got.Decimal)
				}
				return
			}
			if !got.Valid || !got.Decimal.Equal(d(tt.want)) {
				t.Errorf("RelativeChange() = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestSummaryNetWorth(t *testing.T) {
	s := Summary{
		ValueMin:       d("100000"),
		ValueMax:       decimal.NewNullDecimal(d("500000")),
		LiabilitiesMin: d("15001"),
		LiabilitiesMax: decimal.NewNullDecimal(d("50000")),
	}
	nw := s.NetWorth()
	if !nw.Min.Equal(d("50000")) {
		t.Errorf("NetWorth.Min = %s, want 50000", nw.Min)
	}
	if !nw.Max.Valid || !nw.Max.Decimal.Equal(d("484999")) {
		t.Errorf("NetWorth.Max = %v, want 484999", nw.Max)
	}
}

// ── Job Tests ──

func TestTaskTypeSourceKind(t *testing.T) {
	for _, kind := range AllSourceKinds {
		task := TaskForSource(kind)
		got, err := task.SourceKind()
		if err != nil {
			t.Fatalf("SourceKind(%s) error: %v", task, err)
		}
		if got != kind {
			t.Errorf("round trip %s -> %s -> %s", kind, task, got)
		}
	}
	if _, err := TaskType("bogus").SourceKind(); err == nil {
		t.Error("expected error for unknown task type")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if JobQueued.Terminal() || JobRunning.Terminal() {
		t.Error("queued/running are not terminal")
	}
	for _, s := range []JobStatus{JobSucceeded, JobFailed, JobSkipped} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
