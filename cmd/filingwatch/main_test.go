package main

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/filingwatch/internal/config"
	"github.com/seenimoa/filingwatch/pkg/models"
)

func TestEntityFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.EntityConfig
		wantID  string
		wantErr bool
	}{
		{"pads cik", config.EntityConfig{Kind: "institutional", ExternalID: " 1067983 "}, "0001067983", false},
		{"legislator", config.EntityConfig{Kind: "legislator", ExternalID: "S000148", FirstName: "Charles", LastName: "Schumer"}, "S000148", false},
		{"legislator without names", config.EntityConfig{Kind: "legislator", ExternalID: "S000148"}, "", true},
		{"bad kind", config.EntityConfig{Kind: "fund", ExternalID: "1"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := entityFromConfig(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("entityFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if e.ExternalID != tt.wantID {
				t.Errorf("ExternalID = %q, want %q", e.ExternalID, tt.wantID)
			}
			if e.Kind == models.EntityLegislator && e.DisplayName != "Charles Schumer" {
				t.Errorf("DisplayName = %q", e.DisplayName)
			}
		})
	}
}

func TestParseKinds(t *testing.T) {
	all, err := parseKinds(nil)
	if err != nil || len(all) != len(models.AllSourceKinds) {
		t.Fatalf("parseKinds(nil) = %v, %v", all, err)
	}
	got, err := parseKinds([]string{"net-worth-report"})
	if err != nil || len(got) != 1 || got[0] != models.SourceNetWorthReport {
		t.Errorf("parseKinds(net-worth-report) = %v, %v", got, err)
	}
	if _, err := parseKinds([]string{"13f"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"run"}, {"run-all"}, {"discover"}, {"serve"}, {"migrate"}, {"status"},
		{"entity", "add"}, {"entity", "sync"}, {"remap", "add"},
		{"jobs", "status"}, {"jobs", "history"}, {"jobs", "reap"}, {"jobs", "prune"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd == rootCmd {
			t.Errorf("command %v not registered: %v", path, err)
		}
	}
}

func TestFormatChange(t *testing.T) {
	tests := []struct {
		d    models.Delta
		want string
	}{
		{models.Delta{Basis: models.BasisQuantity, Change: decimal.NewFromInt(-12500)}, "-12,500"},
		{models.Delta{Basis: models.BasisQuantity, Change: decimal.NewFromInt(500)}, "+500"},
		{models.Delta{Basis: models.BasisValue, Change: decimal.NewFromInt(15000)}, "+$15,000"},
		{models.Delta{Basis: models.BasisNone}, "-"},
	}
	for _, tt := range tests {
		if got := formatChange(tt.d); got != tt.want {
			t.Errorf("formatChange(%s %s) = %q, want %q", tt.d.Basis, tt.d.Change, got, tt.want)
		}
	}
}

func TestFormatPct(t *testing.T) {
	tests := []struct {
		v    decimal.NullDecimal
		want string
	}{
		{decimal.NewNullDecimal(decimal.RequireFromString("0.25")), "+25.0%"},
		{decimal.NewNullDecimal(decimal.RequireFromString("-1")), "-100.0%"},
		{decimal.NewNullDecimal(decimal.RequireFromString("0.004")), "+0.4%"},
		{decimal.NullDecimal{}, "-"},
	}
	for _, tt := range tests {
		if got := formatPct(tt.v); got != tt.want {
			t.Errorf("formatPct(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}
