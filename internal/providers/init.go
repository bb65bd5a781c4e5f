// Package providers creates the concrete fetchers and registers them with a
// provider registry.
package providers

import (
	"context"

	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/internal/providers/efd"
	"github.com/seenimoa/filingwatch/internal/providers/file"
	"github.com/seenimoa/filingwatch/internal/providers/sec"
	"github.com/seenimoa/filingwatch/pkg/models"
)

// PeriodLister returns the periods a source has documents for within a
// window.
type PeriodLister = func(ctx context.Context, entity models.EntityRef, window models.Period) ([]models.Period, error)

// Options selects and configures the fetchers. A non-empty ReplayDir serves
// every kind from disk and ignores the network settings.
type Options struct {
	ReplayDir string
	SEC       sec.Options
	EFD       efd.Options
}

// RegisterAllTo registers one fetcher per source kind and returns the
// period listers of the sources that can enumerate their filings. Kinds
// without a lister fall back to calendar periods.
func RegisterAllTo(reg *provider.Registry, opts Options) (map[models.SourceKind]PeriodLister, error) {
	listers := make(map[models.SourceKind]PeriodLister)

	if opts.ReplayDir != "" {
		for _, kind := range models.AllSourceKinds {
			f := file.New(opts.ReplayDir, kind)
			if err := reg.Register(f); err != nil {
				return nil, err
			}
			listers[kind] = f.Periods
		}
		return listers, nil
	}

	// --- SEC EDGAR (13F-HR) ---
	secFetcher := sec.New(opts.SEC)
	if err := reg.Register(secFetcher); err != nil {
		return nil, err
	}
	listers[models.SourceInstitutionalReport] = func(ctx context.Context, entity models.EntityRef, _ models.Period) ([]models.Period, error) {
		return secFetcher.ReportPeriods(ctx, entity.ExternalID)
	}

	// --- Senate eFD (PTR + annual), one shared session ---
	session := efd.NewSession(opts.EFD)
	ptr := efd.NewPTRFetcher(session)
	if err := reg.Register(ptr); err != nil {
		return nil, err
	}
	if err := reg.Register(efd.NewAnnualFetcher(session)); err != nil {
		return nil, err
	}
	listers[models.SourceLegislatorDisclosure] = ptr.SubmissionDates

	return listers, nil
}
