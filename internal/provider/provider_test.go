package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seenimoa/filingwatch/internal/infra"
	"github.com/seenimoa/filingwatch/pkg/models"
)

// mockFetcher implements the Fetcher interface for testing.
type mockFetcher struct {
	info    ProviderInfo
	fetchFn func(ctx context.Context, entity models.EntityRef, period models.Period) (*RawDocument, error)
}

func newMockFetcher(name string, kinds ...models.SourceKind) *mockFetcher {
	return &mockFetcher{info: ProviderInfo{Name: name, Description: "Mock " + name, Kinds: kinds}}
}

func (m *mockFetcher) Info() ProviderInfo { return m.info }

func (m *mockFetcher) Fetch(ctx context.Context, entity models.EntityRef, period models.Period) (*RawDocument, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, entity, period)
	}
	return NewRawDocument(entity, period, "", "mock://"+entity.ExternalID, "text/plain", []byte("mock-data")), nil
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
}

// --- Registry Tests ---

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(newMockFetcher("sec", models.SourceInstitutionalReport)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := reg.Get("sec")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Info().Name != "sec" {
		t.Errorf("expected name sec, got %s", got.Info().Name)
	}

	_, err = reg.Get("nonexistent")
	var nf *ErrProviderNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected ErrProviderNotFound, got %T", err)
	}

	if err := reg.Register(newMockFetcher("")); err == nil {
		t.Error("expected error for empty provider name")
	}
}

func TestRegistryDefaultsAndFetch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newMockFetcher("efd", models.SourceLegislatorDisclosure, models.SourceNetWorthReport))
	reg.Register(newMockFetcher("file", models.SourceLegislatorDisclosure, models.SourceInstitutionalReport))

	if got := reg.ProvidersFor(models.SourceLegislatorDisclosure); len(got) != 2 || got[0] != "efd" {
		t.Errorf("ProvidersFor = %v, want [efd file]", got)
	}

	ref := models.EntityRef{ExternalID: "W000817", Kind: models.EntityLegislator}
	doc, err := reg.Fetch(context.Background(), models.SourceLegislatorDisclosure, ref, models.Day(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Provider != "efd" || doc.SourceKind != models.SourceLegislatorDisclosure {
		t.Errorf("doc provider=%s kind=%s", doc.Provider, doc.SourceKind)
	}

	if err := reg.SetDefault(models.SourceLegislatorDisclosure, "file"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if got := reg.ProvidersFor(models.SourceLegislatorDisclosure); got[0] != "file" {
		t.Errorf("default after SetDefault = %s", got[0])
	}

	var ks *ErrKindNotSupported
	if err := reg.SetDefault(models.SourceNetWorthReport, "file"); !errors.As(err, &ks) {
		t.Errorf("expected ErrKindNotSupported, got %v", err)
	}

	reg.Unregister("efd")
	if _, err := reg.Fetch(context.Background(), models.SourceNetWorthReport, ref, models.Year(2023)); !errors.As(err, &ks) {
		t.Errorf("expected ErrKindNotSupported after unregister, got %v", err)
	}
	if len(reg.List()) != 1 {
		t.Errorf("List len = %d, want 1", len(reg.List()))
	}
}

// --- Error Tests ---

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"429", &infra.ErrHTTP{StatusCode: 429}, Transient},
		{"503", &infra.ErrHTTP{StatusCode: 503}, Transient},
		{"408", &infra.ErrHTTP{StatusCode: 408}, Transient},
		{"404", &infra.ErrHTTP{StatusCode: 404}, Permanent},
		{"403", &infra.ErrHTTP{StatusCode: 403}, Permanent},
		{"timeout", fmt.Errorf("get: %w", context.DeadlineExceeded), Transient},
		{"no filing", NoFiling("sec", "none"), Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("sec", "https://example.com", tt.err)
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FetchError, got %T", err)
			}
			if fe.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", fe.Kind, tt.want)
			}
		})
	}

	if err := Classify("sec", "", context.Canceled); !errors.Is(err, context.Canceled) || IsTransient(err) {
		t.Errorf("cancellation should pass through, got %v", err)
	}
	if !errors.Is(NoFiling("efd", "x"), ErrNoFiling) {
		t.Error("NoFiling should wrap ErrNoFiling")
	}
}

// --- Retry Tests ---

func TestRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastPolicy(4), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &FetchError{Kind: Transient, Source: "test"}
		}
		return "ok", nil
	}, nil)
	if err != nil || v != "ok" {
		t.Fatalf("Retry = %q, %v", v, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	notified := 0
	_, err := Retry(context.Background(), fastPolicy(3), func() (int, error) {
		calls++
		return 0, &FetchError{Kind: Transient, Source: "test"}
	}, func(int, error, time.Duration) { notified++ })

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != Transient {
		t.Fatalf("expected transient FetchError, got %v", err)
	}
	if calls != 3 || fe.Attempts != 3 {
		t.Errorf("calls = %d, attempts = %d, want 3", calls, fe.Attempts)
	}
	if notified != 2 {
		t.Errorf("notified = %d, want 2", notified)
	}
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), func() (int, error) {
		calls++
		return 0, NewPermanent("test", "", errors.New("gone"))
	}, nil)
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// --- BaseFetcher Tests ---

func TestBaseFetcherRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	obs := &countingObserver{}
	b := NewBaseFetcher(ProviderInfo{Name: "test"}, BaseOptions{Retry: fastPolicy(4), Observer: obs})
	resp, err := b.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "body" {
		t.Errorf("body = %q", resp.Body)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
	if obs.transient != 2 || obs.ok != 1 {
		t.Errorf("observer transient=%d ok=%d", obs.transient, obs.ok)
	}
}

func TestBaseFetcherNotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	b := NewBaseFetcher(ProviderInfo{Name: "test"}, BaseOptions{Retry: fastPolicy(4)})
	_, err := b.Get(context.Background(), srv.URL, nil)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != Permanent || fe.StatusCode != 404 {
		t.Fatalf("expected permanent 404, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

type countingObserver struct{ ok, transient, permanent int }

func (c *countingObserver) ObserveFetchAttempt(_, outcome string) {
	switch outcome {
	case "ok":
		c.ok++
	case "transient":
		c.transient++
	case "permanent":
		c.permanent++
	}
}

func TestChecksum(t *testing.T) {
	doc := NewRawDocument(models.EntityRef{}, models.Period{}, models.SourceInstitutionalReport, "", "", []byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if doc.Checksum != want {
		t.Errorf("Checksum = %s, want %s", doc.Checksum, want)
	}
}

func TestJoinSplitParts(t *testing.T) {
	parts := []Part{
		{URL: "https://example.test/ptr/a/", Body: []byte("<html>a</html>")},
		{URL: "https://example.test/ptr/b/", Body: []byte("<html>b</html>\n")},
	}
	got := SplitParts(JoinParts(parts))
	if len(got) != 2 {
		t.Fatalf("SplitParts returned %d parts, want 2", len(got))
	}
	for i, p := range got {
		if p.URL != parts[i].URL {
			t.Errorf("part %d URL = %q, want %q", i, p.URL, parts[i].URL)
		}
	}
	if string(got[0].Body) != "<html>a</html>\n" {
		t.Errorf("part 0 body = %q", got[0].Body)
	}

	single := SplitParts([]byte("<html>plain</html>"))
	if len(single) != 1 || single[0].URL != "" {
		t.Errorf("plain body split = %+v", single)
	}
}
