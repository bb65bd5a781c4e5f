package providers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/pkg/models"
)

func TestRegisterAllToLive(t *testing.T) {
	reg := provider.NewRegistry()
	listers, err := RegisterAllTo(reg, Options{})
	if err != nil {
		t.Fatalf("RegisterAllTo: %v", err)
	}

	want := map[models.SourceKind]string{
		models.SourceInstitutionalReport:  "sec",
		models.SourceLegislatorDisclosure: "efd-ptr",
		models.SourceNetWorthReport:       "efd-annual",
	}
	for kind, name := range want {
		names := reg.ProvidersFor(kind)
		if len(names) != 1 || names[0] != name {
			t.Errorf("ProvidersFor(%s) = %v, want [%s]", kind, names, name)
		}
	}

	if _, ok := listers[models.SourceInstitutionalReport]; !ok {
		t.Error("no period lister for 13F reports")
	}
	if _, ok := listers[models.SourceLegislatorDisclosure]; !ok {
		t.Error("no period lister for PTRs")
	}
	if _, ok := listers[models.SourceNetWorthReport]; ok {
		t.Error("annual reports should fall back to calendar years")
	}
}

func TestRegisterAllToReplay(t *testing.T) {
	dir := t.TempDir()
	reg := provider.NewRegistry()
	listers, err := RegisterAllTo(reg, Options{ReplayDir: dir})
	if err != nil {
		t.Fatalf("RegisterAllTo: %v", err)
	}
	if len(listers) != len(models.AllSourceKinds) {
		t.Fatalf("got %d listers, want one per kind", len(listers))
	}
	if len(reg.List()) != len(models.AllSourceKinds) {
		t.Errorf("registered %d fetchers, want %d", len(reg.List()), len(models.AllSourceKinds))
	}

	// A document stored on disk is served back through the registry.
	entity := models.EntityRef{ExternalID: "0001067983", Kind: models.EntityInstitutional}
	period := models.Quarter(2024, 1)
	body := []byte("<SEC-DOCUMENT>test</SEC-DOCUMENT>")
	doc := provider.NewRawDocument(entity, period, models.SourceInstitutionalReport, "https://example.test/a.txt", "text/plain", body)
	f, err := reg.Get("file:" + string(models.SourceInstitutionalReport))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	type storer interface {
		Store(*provider.RawDocument, string) (string, error)
	}
	path, err := f.(storer).Store(doc, ".txt")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if filepath.Base(path) != period.Key()+".txt" {
		t.Errorf("stored as %q", filepath.Base(path))
	}

	got, err := reg.Fetch(context.Background(), models.SourceInstitutionalReport, entity, period)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Checksum != doc.Checksum {
		t.Errorf("checksum = %s, want %s", got.Checksum, doc.Checksum)
	}

	periods, err := listers[models.SourceInstitutionalReport](context.Background(), entity, models.Year(2024))
	if err != nil {
		t.Fatalf("lister: %v", err)
	}
	if len(periods) != 1 || !periods[0].Equal(period) {
		t.Errorf("periods = %v, want [%s]", periods, period.Key())
	}
}
