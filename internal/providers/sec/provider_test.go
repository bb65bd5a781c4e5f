package sec

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

const submissionsJSON = `{
  "cik": "1067983",
  "name": "BERKSHIRE HATHAWAY INC",
  "filings": {
    "recent": {
      "accessionNumber": ["0000950123-24-011111", "0000950123-24-005555", "0000950123-24-002518", "0000950123-24-001000"],
      "filingDate": ["2024-05-20", "2024-05-15", "2024-02-14", "2024-02-01"],
      "reportDate": ["2024-03-31", "2024-03-31", "2023-12-31", ""],
      "acceptanceDateTime": ["2024-05-20T16:00:00.000Z", "2024-05-15T16:00:00.000Z", "2024-02-14T16:00:00.000Z", "2024-02-01T10:00:00.000Z"],
      "form": ["13F-HR/A", "13F-HR", "13F-HR", "SC 13G"],
      "primaryDocument": ["xslForm13F_X02/primary_doc.xml", "xslForm13F_X02/primary_doc.xml", "xslForm13F_X02/primary_doc.xml", "doc.htm"]
    },
    "files": [{"name": "CIK0001067983-submissions-001.json", "filingCount": 1, "filingFrom": "2001-01-01", "filingTo": "2015-12-31"}]
  }
}`

const historyJSON = `{
  "accessionNumber": ["0001067983-15-000001"],
  "filingDate": ["2015-11-16"],
  "reportDate": ["2015-09-30"],
  "form": ["13F-HR"]
}`

type fakeEdgar struct {
	srv             *httptest.Server
	submissionsHits atomic.Int32
	archiveFail     atomic.Int32
	userAgent       atomic.Value
}

func newFakeEdgar(t *testing.T) *fakeEdgar {
	t.Helper()
	fe := &fakeEdgar{}
	fe.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fe.userAgent.Store(r.Header.Get("User-Agent"))
		switch {
		case r.URL.Path == "/submissions/CIK0001067983.json":
			fe.submissionsHits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, submissionsJSON)
		case r.URL.Path == "/submissions/CIK0001067983-submissions-001.json":
			fmt.Fprint(w, historyJSON)
		case r.URL.Path == "/submissions/CIK0000000042.json":
			fmt.Fprint(w, `{"filings": {"recent": {"accessionNumber": [], "form": []}}}`)
		case r.URL.Path == "/submissions/CIK0000000099.json":
			fmt.Fprint(w, `not json`)
		case strings.HasPrefix(r.URL.Path, "/Archives/1067983/"):
			if fe.archiveFail.Load() > 0 {
				fe.archiveFail.Add(-1)
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprintf(w, "<SEC-DOCUMENT>%s", r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fe.srv.Close)
	return fe
}

func (fe *fakeEdgar) fetcher() *Fetcher {
	return New(Options{
		DataURL:     fe.srv.URL,
		ArchivesURL: fe.srv.URL + "/Archives",
		UserAgent:   "filingwatch-test test@example.com",
		RateLimit:   1000,
		Retry:       provider.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	})
}

func q(year, quarter int) models.Period { return models.Quarter(year, quarter) }

func TestFetcherInfo(t *testing.T) {
	f := New(Options{})
	info := f.Info()
	if info.Name != "sec" {
		t.Errorf("expected name sec, got %s", info.Name)
	}
	if len(info.Kinds) != 1 || info.Kinds[0] != models.SourceInstitutionalReport {
		t.Errorf("Kinds = %v", info.Kinds)
	}
}

func TestFetchPicksLatestAmendment(t *testing.T) {
	fe := newFakeEdgar(t)
	f := fe.fetcher()
	ref := models.EntityRef{ExternalID: "1067983", Kind: models.EntityInstitutional}

	doc, err := f.Fetch(context.Background(), ref, q(2024, 1))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.DocumentID != "0000950123-24-011111" {
		t.Errorf("DocumentID = %s, want the 13F-HR/A", doc.DocumentID)
	}
	wantPath := "/Archives/1067983/000095012324011111/0000950123-24-011111.txt"
	if !strings.HasSuffix(doc.URL, wantPath) {
		t.Errorf("URL = %s, want suffix %s", doc.URL, wantPath)
	}
	if doc.Checksum == "" || len(doc.Body) == 0 {
		t.Error("expected body and checksum")
	}
	if ua, _ := fe.userAgent.Load().(string); ua != "filingwatch-test test@example.com" {
		t.Errorf("User-Agent = %q", ua)
	}

	doc, err = f.Fetch(context.Background(), ref, q(2023, 4))
	if err != nil {
		t.Fatalf("Fetch Q4: %v", err)
	}
	if doc.DocumentID != "0000950123-24-002518" {
		t.Errorf("DocumentID = %s", doc.DocumentID)
	}

	if hits := fe.submissionsHits.Load(); hits != 1 {
		t.Errorf("submissions fetched %d times, want 1 (cached)", hits)
	}
}

func TestFetchFromHistoryPage(t *testing.T) {
	fe := newFakeEdgar(t)
	doc, err := fe.fetcher().Fetch(context.Background(), models.EntityRef{ExternalID: "1067983"}, q(2015, 3))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.DocumentID != "0001067983-15-000001" {
		t.Errorf("DocumentID = %s", doc.DocumentID)
	}
}

func TestFetchNoFilingIsPermanent(t *testing.T) {
	fe := newFakeEdgar(t)
	_, err := fe.fetcher().Fetch(context.Background(), models.EntityRef{ExternalID: "42"}, q(2024, 1))
	if !provider.IsPermanent(err) || !errors.Is(err, provider.ErrNoFiling) {
		t.Fatalf("expected permanent no-filing error, got %v", err)
	}
}

func TestFetchUnknownCIKIsPermanent(t *testing.T) {
	fe := newFakeEdgar(t)
	_, err := fe.fetcher().Fetch(context.Background(), models.EntityRef{ExternalID: "7"}, q(2024, 1))
	var fErr *provider.FetchError
	if !errors.As(err, &fErr) || fErr.Kind != provider.Permanent || fErr.StatusCode != 404 {
		t.Fatalf("expected permanent 404, got %v", err)
	}
}

func TestFetchMalformedListingIsPermanent(t *testing.T) {
	fe := newFakeEdgar(t)
	_, err := fe.fetcher().Fetch(context.Background(), models.EntityRef{ExternalID: "99"}, q(2024, 1))
	if !provider.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestFetchRetriesRateLimit(t *testing.T) {
	fe := newFakeEdgar(t)
	fe.archiveFail.Store(2)
	_, err := fe.fetcher().Fetch(context.Background(), models.EntityRef{ExternalID: "1067983"}, q(2024, 1))
	if err != nil {
		t.Fatalf("Fetch after two 429s: %v", err)
	}

	fe.archiveFail.Store(10)
	_, err = fe.fetcher().Fetch(context.Background(), models.EntityRef{ExternalID: "1067983"}, q(2024, 1))
	if !provider.IsTransient(err) {
		t.Fatalf("expected transient error after exhausting retries, got %v", err)
	}
}

func TestReportPeriods(t *testing.T) {
	fe := newFakeEdgar(t)
	periods, err := fe.fetcher().ReportPeriods(context.Background(), "1067983")
	if err != nil {
		t.Fatalf("ReportPeriods: %v", err)
	}
	want := []string{q(2015, 3).Key(), q(2023, 4).Key(), q(2024, 1).Key()}
	if len(periods) != len(want) {
		t.Fatalf("got %d periods, want %d", len(periods), len(want))
	}
	for i, p := range periods {
		if p.Key() != want[i] {
			t.Errorf("periods[%d] = %s, want %s", i, p.Key(), want[i])
		}
	}
}

func TestMissingCIK(t *testing.T) {
	_, err := New(Options{}).Fetch(context.Background(), models.EntityRef{}, q(2024, 1))
	var mp *provider.ErrMissingParam
	if !errors.As(err, &mp) {
		t.Fatalf("expected ErrMissingParam, got %v", err)
	}
}

func TestFetchRejectsNonQuarterPeriod(t *testing.T) {
	_, err := New(Options{}).Fetch(context.Background(), models.EntityRef{ExternalID: "1067983"}, models.Day(utils.Date(2024, 3, 9)))
	if !provider.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestFetchRefreshesStaleListing(t *testing.T) {
	fe := newFakeEdgar(t)
	f := fe.fetcher()
	ref := models.EntityRef{ExternalID: "1067983", Kind: models.EntityInstitutional}

	if _, err := f.Fetch(context.Background(), ref, q(2024, 1)); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	_, err := f.Fetch(context.Background(), ref, q(2030, 1))
	if !errors.Is(err, provider.ErrNoFiling) {
		t.Fatalf("expected no-filing error, got %v", err)
	}
	if hits := fe.submissionsHits.Load(); hits != 2 {
		t.Errorf("submissions fetched %d times, want 2 (one refresh)", hits)
	}
}

// amendmentEdgar serves one filer whose Q1 2024 report has two NEW HOLDINGS
// amendments and whose Q4 2023 report was restated.
func amendmentEdgar(t *testing.T) *httptest.Server {
	t.Helper()
	listing := `{"filings": {"recent": {
	  "accessionNumber": ["0000000077-24-000003", "0000000077-24-000002", "0000000077-24-000001", "0000000077-24-000009", "0000000077-24-000008"],
	  "filingDate": ["2024-05-20", "2024-05-18", "2024-05-15", "2024-03-01", "2024-02-14"],
	  "reportDate": ["2024-03-31", "2024-03-31", "2024-03-31", "2023-12-31", "2023-12-31"],
	  "form": ["13F-HR/A", "13F-HR/A", "13F-HR", "13F-HR/A", "13F-HR"]
	}}}`
	amendment := map[string]string{
		"000000007724000003": "NEW HOLDINGS",
		"000000007724000002": "New  Holdings",
		"000000007724000009": "RESTATEMENT",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/submissions/CIK0000000077.json" {
			fmt.Fprint(w, listing)
			return
		}
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 4 || parts[2] != "77" {
			http.NotFound(w, r)
			return
		}
		folder := parts[3]
		fmt.Fprintf(w, "<SEC-DOCUMENT>%s\n", folder)
		if t, ok := amendment[folder]; ok {
			fmt.Fprintf(w, "<XML>\n<edgarSubmission><formData><coverPage><isAmendment>true</isAmendment>"+
				"<amendmentInfo><amendmentType>%s</amendmentType></amendmentInfo></coverPage></formData></edgarSubmission>\n</XML>\n", t)
		}
		fmt.Fprint(w, "</SEC-DOCUMENT>")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAmendmentType(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`<coverPage><amendmentInfo><amendmentType>RESTATEMENT</amendmentType></amendmentInfo></coverPage>`, AmendmentRestatement},
		{`<ns1:amendmentType> new holdings </ns1:amendmentType>`, AmendmentNewHoldings},
		{`<coverPage><isAmendment>false</isAmendment></coverPage>`, ""},
	}
	for _, tt := range tests {
		if got := AmendmentType([]byte(tt.body)); got != tt.want {
			t.Errorf("AmendmentType(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestFetchAppendsNewHoldingsAmendments(t *testing.T) {
	srv := amendmentEdgar(t)
	f := New(Options{DataURL: srv.URL, ArchivesURL: srv.URL + "/Archives", RateLimit: 1000})
	ref := models.EntityRef{ExternalID: "77", Kind: models.EntityInstitutional}

	doc, err := f.Fetch(context.Background(), ref, q(2024, 1))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if want := "0000000077-24-000001+0000000077-24-000002+0000000077-24-000003"; doc.DocumentID != want {
		t.Errorf("DocumentID = %s, want %s", doc.DocumentID, want)
	}
	if !strings.Contains(doc.URL, "000000007724000001") {
		t.Errorf("URL = %s, want the original report", doc.URL)
	}
	body := string(doc.Body)
	base := strings.Index(body, "000000007724000001")
	first := strings.Index(body, "000000007724000002")
	second := strings.Index(body, "000000007724000003")
	if base < 0 || first < base || second < first {
		t.Errorf("submissions not appended base first:\n%s", body)
	}
}

func TestFetchRestatementSupersedes(t *testing.T) {
	srv := amendmentEdgar(t)
	f := New(Options{DataURL: srv.URL, ArchivesURL: srv.URL + "/Archives", RateLimit: 1000})

	doc, err := f.Fetch(context.Background(), models.EntityRef{ExternalID: "77"}, q(2023, 4))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.DocumentID != "0000000077-24-000009" {
		t.Errorf("DocumentID = %s, want the restatement alone", doc.DocumentID)
	}
	if strings.Contains(string(doc.Body), "000000007724000008") {
		t.Error("restated original should not be included")
	}
}
