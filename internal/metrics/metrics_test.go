package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/seenimoa/filingwatch/pkg/models"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveFetchAttempt("sec", "transient")
	m.ObserveFetchAttempt("sec", "ok")
	m.RunStarted()
	m.RunFinished(models.TaskSEC13F, models.JobSucceeded)
	m.DeltasWritten([]models.Delta{
		{Classification: models.DeltaNew},
		{Classification: models.DeltaNew},
		{Classification: models.DeltaClosed},
	})
	m.ParseWarningsRecorded(models.SourceLegislatorDisclosure, 3)
	m.ParseWarningsRecorded(models.SourceLegislatorDisclosure, 0)
	m.PersistConflict()
	m.ObserveStage("fetch", 120*time.Millisecond)

	if got := testutil.ToFloat64(m.FetchAttempts.WithLabelValues("sec", "transient")); got != 1 {
		t.Errorf("fetch attempts (transient) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("sec_13f", "succeeded")); got != 1 {
		t.Errorf("runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveRuns); got != 0 {
		t.Errorf("active runs = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.Deltas.WithLabelValues("new")); got != 2 {
		t.Errorf("new deltas = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ParseWarnings.WithLabelValues("legislator-disclosure")); got != 3 {
		t.Errorf("parse warnings = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.PersistConflicts); got != 1 {
		t.Errorf("persist conflicts = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RunStarted()
	m.RunFinished(models.TaskNetWorth, models.JobFailed)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `filingwatch_runs_total{status="failed",task="net_worth"} 1`) {
		t.Errorf("exposition missing runs counter:\n%s", body)
	}
}
