// Package discovery finds newly filed 13F reports on the EDGAR "latest
// filings" Atom feed and queues ingestion units for the entities we track.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/infra"
	"github.com/seenimoa/filingwatch/internal/pipeline"
	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/internal/store"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

const (
	providerName = "sec-feed"

	DefaultFeedURL   = "https://www.sec.gov/cgi-bin/browse-edgar"
	DefaultUserAgent = "filingwatch/1.0 (ops@filingwatch.example)"
)

var (
	titlePattern     = regexp.MustCompile(`^\s*(\S+)\s+-\s+(.+?)\s+\((\d{1,10})\)`)
	accessionPattern = regexp.MustCompile(`\d{10}-\d{2}-\d{6}`)
	filedPattern     = regexp.MustCompile(`Filed:\s*(\d{4}-\d{2}-\d{2})`)
)

// Filing is one feed entry.
type Filing struct {
	CIK       string
	Name      string
	Form      string
	Accession string
	FiledAt   time.Time
	Period    models.Period // inferred report quarter
	URL       string
}

// Options configures a Discoverer.
type Options struct {
	FeedURL   string
	UserAgent string
	Count     int // entries per feed page, EDGAR allows up to 100
	RateLimit float64
	Timeout   time.Duration
	Retry     provider.RetryPolicy
	Logger    *zap.Logger
	Observer  provider.AttemptObserver
}

// EntityLookup resolves a filer CIK to a tracked entity.
type EntityLookup interface {
	EntityByExternalID(ctx context.Context, externalID string, kind models.EntityKind) (*models.Entity, error)
}

// Enqueuer queues a job; *jobs.Tracker satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType models.TaskType, scope string) (*models.JobRecord, error)
}

// Discoverer polls the feed.
type Discoverer struct {
	provider.BaseFetcher
	feedURL string
	count   int
	headers map[string]string
	parser  *gofeed.Parser
}

// New creates a discoverer.
func New(opts Options) *Discoverer {
	if opts.FeedURL == "" {
		opts.FeedURL = DefaultFeedURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Count <= 0 || opts.Count > 100 {
		opts.Count = 100
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 10
	}
	headers := map[string]string{"User-Agent": opts.UserAgent}
	return &Discoverer{
		BaseFetcher: provider.NewBaseFetcher(
			provider.ProviderInfo{
				Name:        providerName,
				Description: "SEC EDGAR latest filings feed",
				Website:     "https://www.sec.gov/cgi-bin/browse-edgar?action=getcurrent",
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
		feedURL: opts.FeedURL,
		count:   opts.Count,
		headers: headers,
		parser:  gofeed.NewParser(),
	}
}

func (d *Discoverer) pageURL(form string, start int) string {
	q := url.Values{}
	q.Set("action", "getcurrent")
	q.Set("type", form)
	q.Set("owner", "include")
	q.Set("start", strconv.Itoa(start))
	q.Set("count", strconv.Itoa(d.count))
	q.Set("output", "atom")
	return d.feedURL + "?" + q.Encode()
}

// Recent returns the 13F filings on the feed filed on or after since, newest
// first. Pages are read until an entry older than since or an empty page.
// A zero since reads a single page.
func (d *Discoverer) Recent(ctx context.Context, since time.Time) ([]Filing, error) {
	var out []Filing
	for start := 0; ; start += d.count {
		page, err := d.page(ctx, start)
		if err != nil {
			return nil, err
		}
		older := false
		for _, f := range page {
			if !since.IsZero() && f.FiledAt.Before(since) {
				older = true
				continue
			}
			out = append(out, f)
		}
		if since.IsZero() || older || len(page) < d.count {
			return out, nil
		}
	}
}

func (d *Discoverer) page(ctx context.Context, start int) ([]Filing, error) {
	u := d.pageURL("13F-HR", start)
	resp, err := d.Get(ctx, u, d.headers)
	if err != nil {
		return nil, err
	}
	feed, err := d.parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, provider.NewPermanent(providerName, u, fmt.Errorf("parse feed: %w", err))
	}

	var out []Filing
	for _, item := range feed.Items {
		f, err := filingFromItem(item)
		if err != nil {
			d.Logger().Debug("skipping feed entry", zap.String("title", item.Title), zap.Error(err))
			continue
		}
		if f.Form != "13F-HR" && f.Form != "13F-HR/A" {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func filingFromItem(item *gofeed.Item) (Filing, error) {
	m := titlePattern.FindStringSubmatch(item.Title)
	if m == nil {
		return Filing{}, errors.New("unrecognized title")
	}
	f := Filing{
		Form: m[1],
		Name: strings.TrimSpace(m[2]),
		CIK:  utils.PadCIK(m[3]),
		URL:  item.Link,
	}

	summary := textOf(item.Description)
	f.Accession = accessionPattern.FindString(item.GUID)
	if f.Accession == "" {
		f.Accession = accessionPattern.FindString(summary)
	}
	if f.Accession == "" {
		return Filing{}, errors.New("no accession number")
	}

	if fm := filedPattern.FindStringSubmatch(summary); fm != nil {
		t, err := utils.ParseDate(fm[1])
		if err != nil {
			return Filing{}, err
		}
		f.FiledAt = t
	} else if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.In(utils.ET)
		f.FiledAt = utils.Date(t.Year(), t.Month(), t.Day())
	} else {
		return Filing{}, errors.New("no filing date")
	}

	f.Period = models.QuarterOf(utils.QuarterEndBefore(f.FiledAt))
	return f, nil
}

// textOf flattens the HTML entry summary to text.
func textOf(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Queue turns filings into units for tracked institutions and enqueues each
// one. Filings by untracked filers are dropped. Duplicate (filer, period)
// pairs, e.g. a report and its same-day amendment, produce one unit.
func Queue(ctx context.Context, filings []Filing, entities EntityLookup, tracker Enqueuer) ([]pipeline.Unit, error) {
	var (
		units []pipeline.Unit
		seen  = make(map[string]bool)
	)
	for _, f := range filings {
		e, err := lookup(ctx, entities, f.CIK)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return units, err
		}
		u := pipeline.Unit{Entity: e.Ref(), Kind: models.SourceInstitutionalReport, Period: f.Period}
		if seen[u.Scope()] {
			continue
		}
		seen[u.Scope()] = true
		if _, err := tracker.Enqueue(ctx, u.TaskType(), u.Scope()); err != nil {
			return units, fmt.Errorf("enqueue %s: %w", u, err)
		}
		units = append(units, u)
	}
	return units, nil
}

// lookup tries the padded and the bare form of the CIK.
func lookup(ctx context.Context, entities EntityLookup, cik string) (*models.Entity, error) {
	e, err := entities.EntityByExternalID(ctx, utils.PadCIK(cik), models.EntityInstitutional)
	if errors.Is(err, store.ErrNotFound) {
		return entities.EntityByExternalID(ctx, utils.TrimCIK(cik), models.EntityInstitutional)
	}
	return e, err
}
