package securities

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePrecedence(t *testing.T) {
	r := NewResolver()
	tests := []struct {
		name      string
		in        Input
		canonical string
		method    string
		status    Status
	}{
		{"ticker column", Input{Name: "Some Fund", Ticker: "nvda"}, "NVDA", MethodTicker, Resolved},
		{"ticker column placeholder", Input{Name: "Apple Inc", Ticker: "--"}, "AAPL", MethodName, Resolved},
		{"paren ticker beats cusip", Input{Name: "NVIDIA Corp (NVDA)", CUSIP: "037833100"}, "NVDA", MethodTicker, Resolved},
		{"ticker label", Input{Text: "Asset: Berkshire Hathaway Ticker: BRK/B"}, "BRK.B", MethodTicker, Resolved},
		{"cusip prefix", Input{Name: "APPLE INC", CUSIP: "037833100"}, "AAPL", MethodCUSIPPrefix, Resolved},
		{"alphabet class a", Input{Name: "ALPHABET INC", CUSIP: "02079K107"}, "GOOGL", MethodCUSIPPrefix, Resolved},
		{"name", Input{Name: "Johnson & Johnson Common Stock"}, "JNJ", MethodName, Resolved},
		{"longest name wins", Input{Name: "Bank of America Corp"}, "BAC", MethodName, Resolved},
		{"name needs whole word", Input{Name: "Metaverse Holdings"}, "RAW:metaverse holdings", MethodRaw, Unresolved},
		{"valid cusip fallback", Input{Name: "OBSCURE HOLDINGS", CUSIP: "G0403H108"}, "CUSIP:G0403H108", MethodCUSIPRaw, Resolved},
		{"raw", Input{Name: "Vanguard Total Stock Mkt Idx Adm"}, "RAW:vanguard total stock mkt idx adm", MethodRaw, Unresolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.in)
			if got.Canonical != tt.canonical {
				t.Errorf("Canonical = %q, want %q", got.Canonical, tt.canonical)
			}
			if got.Method != tt.method {
				t.Errorf("Method = %q, want %q", got.Method, tt.method)
			}
			if got.Status != tt.status {
				t.Errorf("Status = %q, want %q", got.Status, tt.status)
			}
			if got.NeedsMapping != (tt.status == Unresolved) {
				t.Errorf("NeedsMapping = %v", got.NeedsMapping)
			}
		})
	}
}

func TestResolveInvalidCUSIPStaysRaw(t *testing.T) {
	got := NewResolver().Resolve(Input{Name: "Mystery Co", CUSIP: "G0403H109"})
	if got.Status != Unresolved || got.Canonical != "RAW:mystery co" {
		t.Errorf("got %+v", got)
	}
	got = NewResolver().Resolve(Input{CUSIP: "ZZZZZZ"})
	if got.Canonical != "RAW:zzzzzz" {
		t.Errorf("nameless item Canonical = %q", got.Canonical)
	}
}

func TestResolveNameFragmentNeedsCUSIPLessItem(t *testing.T) {
	r := NewResolver()
	tests := []struct {
		in        Input
		canonical string
		status    Status
	}{
		{Input{Name: "APPLE HOSPITALITY REIT INC", CUSIP: "03784Y200"}, "CUSIP:03784Y200", Resolved},
		{Input{Name: "BERKSHIRE HILLS BANCORP INC", CUSIP: "084680107"}, "CUSIP:084680107", Resolved},
		{Input{Name: "BERKSHIRE HATHAWAY INC DEL", CUSIP: "084670702"}, "BRK.B", Resolved},
		{Input{Name: "APPLE INC", CUSIP: "037833100"}, "AAPL", Resolved},
		// A mistyped CUSIP is not rescued by the issuer name.
		{Input{Name: "APPLE HOSPITALITY REIT INC", CUSIP: "03784Y201"}, "RAW:apple hospitality reit inc", Unresolved},
		{Input{Name: "Apple Inc. Common Stock"}, "AAPL", Resolved},
	}

	seen := make(map[string]string)
	for _, tt := range tests {
		got := r.Resolve(tt.in)
		if got.Canonical != tt.canonical || got.Status != tt.status {
			t.Errorf("Resolve(%s %s) = %s %s (%s), want %s %s",
				tt.in.Name, tt.in.CUSIP, got.Canonical, got.Status, got.Method, tt.canonical, tt.status)
		}
		if tt.in.CUSIP == "" {
			continue
		}
		if prev, ok := seen[got.Canonical]; ok && prev != tt.in.Name {
			t.Errorf("%q and %q collapse onto %s", prev, tt.in.Name, got.Canonical)
		}
		seen[got.Canonical] = tt.in.Name
	}
}

func TestValidCUSIP(t *testing.T) {
	valid := []string{"037833100", "594918104", "67066G104", "02079K305", "G0403H108"}
	for _, c := range valid {
		if !ValidCUSIP(c) {
			t.Errorf("ValidCUSIP(%q) = false, want true", c)
		}
	}
	invalid := []string{"037833101", "59491810", "", "0378331000", "03783$100"}
	for _, c := range invalid {
		if ValidCUSIP(c) {
			t.Errorf("ValidCUSIP(%q) = true, want false", c)
		}
	}
}

func TestMappingFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "securities.yaml")
	yml := `
cusips:
  G0403H108: aon
cusip_prefixes:
  "037833": AAPL.X
names:
  "Vanguard Total Stock": VTSAX
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMapping(path)
	if err != nil {
		t.Fatalf("LoadMapping: %v", err)
	}
	r := NewResolver(m)

	if got := r.Resolve(Input{CUSIP: "G0403H108"}); got.Canonical != "AON" || got.Method != MethodCUSIP {
		t.Errorf("exact cusip: %+v", got)
	}
	if got := r.Resolve(Input{CUSIP: "037833100"}); got.Canonical != "AAPL.X" {
		t.Errorf("prefix override: %+v", got)
	}
	if got := r.Resolve(Input{Name: "Vanguard Total Stock Mkt Idx Adm"}); got.Canonical != "VTSAX" || got.NeedsMapping {
		t.Errorf("name mapping: %+v", got)
	}
}

func TestLoadMappingErrors(t *testing.T) {
	if _, err := LoadMapping(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("cusips: [unclosed"), 0o644)
	if _, err := LoadMapping(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
