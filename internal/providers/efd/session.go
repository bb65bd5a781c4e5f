// Package efd implements the legislator fetchers over the Senate Electronic
// Financial Disclosure site (efdsearch.senate.gov). The site requires a
// session: the search home page issues a CSRF token, the usage agreement is
// accepted with a POST, and the session cookie is then sent with every
// report search and report page request.
package efd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/infra"
	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

const (
	providerName = "efd"

	DefaultBaseURL   = "https://efdsearch.senate.gov"
	DefaultUserAgent = "Mozilla/5.0 (compatible; filingwatch/1.0)"

	// eFD report type codes.
	ReportTypePTR    = 11
	ReportTypeAnnual = 7

	filerTypeSenator = 1

	sessionTTL = 30 * time.Minute
)

// Options configures the eFD session.
type Options struct {
	BaseURL   string
	UserAgent string
	RateLimit float64 // requests per second
	Timeout   time.Duration
	PageSize  int
	Retry     provider.RetryPolicy
	Logger    *zap.Logger
	Observer  provider.AttemptObserver
}

// Session holds the authenticated eFD session shared by the PTR and annual
// report fetchers.
type Session struct {
	provider.BaseFetcher
	baseURL  string
	pageSize int

	mu            sync.Mutex
	token         string
	establishedAt time.Time
}

// NewSession creates an unauthenticated session; it logs in lazily.
func NewSession(opts Options) *Session {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 2
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	client := infra.NewClient(infra.ClientOptions{
		Timeout: opts.Timeout,
		Headers: map[string]string{"User-Agent": opts.UserAgent},
		Cookies: true,
	})
	return &Session{
		BaseFetcher: provider.NewBaseFetcher(
			provider.ProviderInfo{
				Name:        providerName,
				Description: "Senate eFD - periodic transaction and annual financial disclosure reports",
				Website:     DefaultBaseURL,
			},
			provider.BaseOptions{
				Client:    client,
				RateLimit: opts.RateLimit,
				Retry:     opts.Retry,
				Logger:    opts.Logger,
				Observer:  opts.Observer,
			},
		),
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		pageSize: opts.PageSize,
	}
}

// ensure establishes the session if needed and returns the CSRF token.
func (s *Session) ensure(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Since(s.establishedAt) < sessionTTL {
		return s.token, nil
	}

	home := s.baseURL + "/search/home/"
	resp, err := s.Get(ctx, home, nil)
	if err != nil {
		return "", err
	}
	token, err := csrfToken(resp.Body)
	if err != nil {
		return "", provider.NewPermanent(providerName, home, err)
	}

	form := url.Values{
		"prohibition_agreement": {"1"},
		"csrfmiddlewaretoken":   {token},
	}
	if _, err := s.PostForm(ctx, home, form, map[string]string{"Referer": home}); err != nil {
		return "", err
	}

	// Django rotates the token on login; prefer the cookie value.
	if ck := s.Client().Cookie(s.baseURL, "csrftoken"); ck != "" {
		token = ck
	}
	s.token = token
	s.establishedAt = time.Now()
	s.Logger().Debug("eFD session established")
	return token, nil
}

// reset forces the next call to log in again.
func (s *Session) reset() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func csrfToken(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse eFD home page: %w", err)
	}
	token := strings.TrimSpace(doc.Find(`input[name="csrfmiddlewaretoken"]`).First().AttrOr("value", ""))
	if token == "" {
		return "", errors.New("eFD home page has no csrfmiddlewaretoken")
	}
	return token, nil
}

// Report is one search result row.
type Report struct {
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Office    string    `json:"office"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	ID        string    `json:"id"`
	Submitted time.Time `json:"submitted"`
	Paper     bool      `json:"paper"`
}

// Query filters a report search.
type Query struct {
	FirstName  string
	LastName   string
	ReportType int
	From, To   time.Time // submission window, inclusive
}

type searchResponse struct {
	Draw            int        `json:"draw"`
	RecordsTotal    int        `json:"recordsTotal"`
	RecordsFiltered int        `json:"recordsFiltered"`
	Data            [][]string `json:"data"`
	Result          string     `json:"result"`
}

// Search runs a report search, following pagination. An expired session is
// re-established once.
func (s *Session) Search(ctx context.Context, q Query) ([]Report, error) {
	reports, err := s.search(ctx, q)
	var fe *provider.FetchError
	if errors.As(err, &fe) && fe.StatusCode == http.StatusForbidden {
		s.Logger().Info("eFD session rejected, logging in again")
		s.reset()
		reports, err = s.search(ctx, q)
	}
	return reports, err
}

func (s *Session) search(ctx context.Context, q Query) ([]Report, error) {
	token, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := s.baseURL + "/search/report/data/"
	headers := map[string]string{
		"Referer":          s.baseURL + "/search/",
		"X-CSRFToken":      token,
		"X-Requested-With": "XMLHttpRequest",
	}

	var reports []Report
	for start := 0; ; start += s.pageSize {
		form := url.Values{
			"start":                {strconv.Itoa(start)},
			"length":               {strconv.Itoa(s.pageSize)},
			"report_types":         {fmt.Sprintf("[%d]", q.ReportType)},
			"filer_types":          {fmt.Sprintf("[%d]", filerTypeSenator)},
			"submitted_start_date": {utils.FormatEFDDate(q.From)},
			"submitted_end_date":   {utils.FormatEFDDate(q.To)},
			"candidate_state":      {""},
			"senator_state":        {""},
			"office_id":            {""},
			"first_name":           {q.FirstName},
			"last_name":            {q.LastName},
			"csrfmiddlewaretoken":  {token},
		}
		resp, err := s.PostForm(ctx, endpoint, form, headers)
		if err != nil {
			return nil, err
		}

		var page searchResponse
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			// An expired session answers with the agreement page instead of JSON.
			return nil, &provider.FetchError{Kind: provider.Permanent, Source: providerName, URL: endpoint, StatusCode: http.StatusForbidden, Err: fmt.Errorf("malformed search response: %w", err)}
		}

		for _, row := range page.Data {
			r, err := s.parseRow(row)
			if err != nil {
				s.Logger().Warn("skipping eFD search row", zap.Error(err))
				continue
			}
			reports = append(reports, r)
		}

		if len(page.Data) < s.pageSize || start+len(page.Data) >= page.RecordsFiltered {
			break
		}
	}
	return reports, nil
}

// parseRow decodes [first, last, office, "<a href=...>title</a>", "MM/DD/YYYY"].
func (s *Session) parseRow(row []string) (Report, error) {
	if len(row) < 5 {
		return Report{}, fmt.Errorf("search row has %d columns, want 5", len(row))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(row[3]))
	if err != nil {
		return Report{}, fmt.Errorf("parse report link: %w", err)
	}
	a := doc.Find("a").First()
	href, ok := a.Attr("href")
	if !ok {
		return Report{}, fmt.Errorf("report cell has no link: %q", row[3])
	}
	submitted, err := utils.ParseDate(row[4])
	if err != nil {
		return Report{}, err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return Report{}, fmt.Errorf("report link %q: %w", href, err)
	}
	base, _ := url.Parse(s.baseURL + "/")
	abs := base.ResolveReference(ref).String()

	return Report{
		FirstName: strings.TrimSpace(row[0]),
		LastName:  strings.TrimSpace(row[1]),
		Office:    strings.TrimSpace(row[2]),
		Title:     strings.TrimSpace(a.Text()),
		URL:       abs,
		ID:        reportID(ref.Path),
		Submitted: submitted,
		Paper:     strings.Contains(ref.Path, "/paper/"),
	}, nil
}

// reportID extracts the trailing path element ("/search/view/ptr/<id>/").
func reportID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Page downloads a report page.
func (s *Session) Page(ctx context.Context, r Report) (*infra.Response, error) {
	if _, err := s.ensure(ctx); err != nil {
		return nil, err
	}
	return s.Get(ctx, r.URL, map[string]string{"Referer": s.baseURL + "/search/"})
}

func requireName(entity models.EntityRef) error {
	if entity.LastName == "" {
		return provider.NewPermanent(providerName, "", &provider.ErrMissingParam{Param: "last_name"})
	}
	return nil
}

func sortReports(reports []Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].Submitted.Equal(reports[j].Submitted) {
			return reports[i].Submitted.Before(reports[j].Submitted)
		}
		return reports[i].URL < reports[j].URL
	})
}
