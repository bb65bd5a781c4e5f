// Package sec implements the institutional-report fetcher over SEC EDGAR.
// It resolves a filer CIK and quarter end to the matching 13F-HR (or latest
// restatement) and downloads the complete submission text file, which
// carries both the SGML header and the information table XML. Later
// NEW HOLDINGS amendments are appended to that file.
//
// No API key required. Must include a User-Agent header per SEC policy.
// Docs: https://www.sec.gov/edgar/sec-api-documentation
// Rate limit: 10 requests/second per user-agent.
package sec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/infra"
	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

const (
	providerName = "sec"

	// SEC EDGAR endpoints.
	DefaultDataURL     = "https://data.sec.gov"
	DefaultArchivesURL = "https://www.sec.gov/Archives/edgar/data"

	// SEC requires a User-Agent with company name and contact email.
	DefaultUserAgent = "filingwatch/1.0 (ops@filingwatch.example)"
)

// Options configures the fetcher.
type Options struct {
	DataURL     string
	ArchivesURL string
	UserAgent   string
	RateLimit   float64 // requests per second
	CacheTTL    time.Duration
	Timeout     time.Duration
	Retry       provider.RetryPolicy
	Logger      *zap.Logger
	Observer    provider.AttemptObserver
}

// Fetcher implements provider.Fetcher for 13F-HR reports.
type Fetcher struct {
	provider.BaseFetcher
	dataURL     string
	archivesURL string
	headers     map[string]string
	filings     *infra.Cache[[]Filing]
}

// New creates a 13F fetcher.
func New(opts Options) *Fetcher {
	if opts.DataURL == "" {
		opts.DataURL = DefaultDataURL
	}
	if opts.ArchivesURL == "" {
		opts.ArchivesURL = DefaultArchivesURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 10
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	headers := map[string]string{"User-Agent": opts.UserAgent}
	return &Fetcher{
		BaseFetcher: provider.NewBaseFetcher(
			provider.ProviderInfo{
				Name:        providerName,
				Description: "SEC EDGAR - Form 13F-HR institutional holdings reports",
				Website:     "https://www.sec.gov/edgar",
				Kinds:       []models.SourceKind{models.SourceInstitutionalReport},
			},
			provider.BaseOptions{
				Client:    infra.NewClient(infra.ClientOptions{Timeout: opts.Timeout, Headers: headers}),
				RateLimit: opts.RateLimit,
				Retry:     opts.Retry,
				Logger:    opts.Logger,
				Observer:  opts.Observer,
			},
		),
		dataURL:     opts.DataURL,
		archivesURL: opts.ArchivesURL,
		headers:     headers,
		filings:     infra.NewCache[[]Filing](opts.CacheTTL),
	}
}

// Fetch implements provider.Fetcher. period.End must be the quarter end the
// report covers.
func (f *Fetcher) Fetch(ctx context.Context, entity models.EntityRef, period models.Period) (*provider.RawDocument, error) {
	if entity.ExternalID == "" {
		return nil, provider.NewPermanent(providerName, "", &provider.ErrMissingParam{Param: "cik"})
	}
	if !utils.IsQuarterEnd(period.End) {
		return nil, provider.NewPermanent(providerName, "", fmt.Errorf("13F period must end on a quarter end, got %s", period.Key()))
	}

	filings, err := f.FilingsFor(ctx, entity.ExternalID, period.End)
	if err != nil {
		return nil, err
	}

	// Walk newest first: NEW HOLDINGS amendments only add rows, so they are
	// kept and the walk continues to the original or latest restatement.
	var (
		base      *infra.Response
		baseURL   string
		used      []Filing
		additions [][]byte
	)
	for _, fl := range filings {
		u := f.SubmissionURL(fl)
		resp, err := f.Get(ctx, u, nil)
		if err != nil {
			return nil, err
		}
		used = append(used, fl)
		if fl.IsAmendment() && addsHoldings(resp.Body) {
			additions = append([][]byte{resp.Body}, additions...)
			continue
		}
		base, baseURL = resp, u
		break
	}
	if base == nil {
		return nil, provider.NoFiling(providerName,
			fmt.Sprintf("only new-holdings amendments for CIK %s report date %s", entity.ExternalID, period.End.Format(models.DateLayout)))
	}

	doc := provider.NewRawDocument(entity, period, models.SourceInstitutionalReport, baseURL, base.ContentType, combine(base.Body, additions))
	accessions := make([]string, len(used))
	for i, fl := range used {
		accessions[len(used)-1-i] = fl.AccessionNumber
	}
	doc.DocumentID = strings.Join(accessions, "+")
	f.Logger().Debug("fetched 13F submission",
		zap.String("cik", entity.ExternalID),
		zap.String("accession", used[len(used)-1].AccessionNumber),
		zap.String("form", used[len(used)-1].Form),
		zap.Int("new_holdings_amendments", len(additions)),
		zap.Int("bytes", len(doc.Body)))
	return doc, nil
}

// FilingsFor returns the 13F-HR and 13F-HR/A filings for a report date,
// most recently filed first. A cached listing that lacks the date is
// refreshed once.
func (f *Fetcher) FilingsFor(ctx context.Context, cik string, reportDate time.Time) ([]Filing, error) {
	padded := utils.PadCIK(cik)
	_, cached := f.filings.Get(padded)
	for {
		filings, err := f.Filings(ctx, padded)
		if err != nil {
			return nil, err
		}
		var out []Filing
		for _, fl := range filings {
			if fl.ReportDate.Equal(reportDate) {
				out = append(out, fl)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
		if !cached {
			break
		}
		f.filings.Invalidate(padded)
		cached = false
	}
	return nil, provider.NoFiling(providerName,
		fmt.Sprintf("no 13F-HR for CIK %s with report date %s", cik, reportDate.Format(models.DateLayout)))
}

// Filings lists the filer's 13F filings, newest first, including the paged
// history files. Results are cached per CIK.
func (f *Fetcher) Filings(ctx context.Context, cik string) ([]Filing, error) {
	padded := utils.PadCIK(cik)
	if cached, ok := f.filings.Get(padded); ok {
		return cached, nil
	}

	u := fmt.Sprintf("%s/submissions/CIK%s.json", f.dataURL, padded)
	var resp edgarSubmissionsResponse
	if err := f.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	filings := resp.Filings.Recent.filings13F(padded)
	for _, file := range resp.Filings.Files {
		pu := fmt.Sprintf("%s/submissions/%s", f.dataURL, file.Name)
		var page edgarFilingSet
		if err := f.getJSON(ctx, pu, &page); err != nil {
			return nil, err
		}
		filings = append(filings, page.filings13F(padded)...)
	}

	sort.SliceStable(filings, func(i, j int) bool {
		if !filings[i].FiledAt.Equal(filings[j].FiledAt) {
			return filings[i].FiledAt.After(filings[j].FiledAt)
		}
		if filings[i].AcceptedAt != filings[j].AcceptedAt {
			return filings[i].AcceptedAt > filings[j].AcceptedAt
		}
		return filings[i].AccessionNumber > filings[j].AccessionNumber
	})

	f.filings.Cleanup()
	f.filings.Set(padded, filings)
	return filings, nil
}

// ReportPeriods lists the distinct report dates the filer has 13Fs for,
// oldest first.
func (f *Fetcher) ReportPeriods(ctx context.Context, cik string) ([]models.Period, error) {
	filings, err := f.Filings(ctx, cik)
	if err != nil {
		return nil, err
	}
	seen := make(map[time.Time]bool)
	var out []models.Period
	for _, fl := range filings {
		if seen[fl.ReportDate] {
			continue
		}
		seen[fl.ReportDate] = true
		out = append(out, models.QuarterOf(fl.ReportDate))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// SubmissionURL is the complete submission text file for a filing.
func (f *Fetcher) SubmissionURL(fl Filing) string {
	return fmt.Sprintf("%s/%s/%s/%s.txt", f.archivesURL, utils.TrimCIK(fl.CIK), utils.AccessionPath(fl.AccessionNumber), fl.AccessionNumber)
}

func (f *Fetcher) getJSON(ctx context.Context, u string, dest any) error {
	resp, err := f.Get(ctx, u, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, dest); err != nil {
		return provider.NewPermanent(providerName, u, fmt.Errorf("malformed submissions listing: %w", err))
	}
	return nil
}
