// Package pipeline composes fetch, parse, reconcile and persist into a
// tracked ingestion run, and runs many units concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/jobs"
	"github.com/seenimoa/filingwatch/internal/parser"
	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/internal/reconcile"
	"github.com/seenimoa/filingwatch/internal/store"
	"github.com/seenimoa/filingwatch/pkg/models"
)

// Stage names used in logs and metrics.
const (
	StageFetch     = "fetch"
	StageParse     = "parse"
	StageReconcile = "reconcile"
	StagePersist   = "persist"
)

// Fetcher retrieves raw documents; *provider.Registry satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, kind models.SourceKind, entity models.EntityRef, period models.Period) (*provider.RawDocument, error)
}

// Archiver keeps a copy of every fetched document, e.g. for offline replay.
type Archiver interface {
	Archive(doc *provider.RawDocument) error
}

// Recorder receives run metrics; *metrics.Metrics satisfies it.
type Recorder interface {
	RunStarted()
	RunFinished(task models.TaskType, status models.JobStatus)
	ObserveStage(stage string, d time.Duration)
	DeltasWritten(deltas []models.Delta)
	ParseWarningsRecorded(kind models.SourceKind, n int)
	PersistConflict()
}

type nopRecorder struct{}

func (nopRecorder) RunStarted()                                   {}
func (nopRecorder) RunFinished(models.TaskType, models.JobStatus) {}
func (nopRecorder) ObserveStage(string, time.Duration)            {}
func (nopRecorder) DeltasWritten([]models.Delta)                  {}
func (nopRecorder) ParseWarningsRecorded(models.SourceKind, int)  {}
func (nopRecorder) PersistConflict()                              {}

// Options configures a Pipeline.
type Options struct {
	Thresholds        reconcile.Thresholds
	MaxPersistRetries int
	Archive           Archiver
	Metrics           Recorder
	Logger            *zap.Logger
}

// Pipeline runs one unit end to end.
type Pipeline struct {
	fetcher    Fetcher
	parser     *parser.Parser
	store      *store.Store
	tracker    *jobs.Tracker
	engine     *reconcile.Engine
	maxRetries int
	archive    Archiver
	metrics    Recorder
	logger     *zap.Logger
}

// New creates a pipeline.
func New(f Fetcher, p *parser.Parser, s *store.Store, t *jobs.Tracker, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.MaxPersistRetries <= 0 {
		opts.MaxPersistRetries = 3
	}
	if opts.Thresholds.Absolute.IsZero() && opts.Thresholds.Relative.IsZero() {
		opts.Thresholds = reconcile.DefaultThresholds()
	}
	return &Pipeline{
		fetcher:    f,
		parser:     p,
		store:      s,
		tracker:    t,
		engine:     reconcile.New(opts.Thresholds, nil),
		maxRetries: opts.MaxPersistRetries,
		archive:    opts.Archive,
		metrics:    opts.Metrics,
		logger:     opts.Logger.Named("pipeline"),
	}
}

// Outcome reports how a unit ended.
type Outcome struct {
	Unit     Unit
	Job      *models.JobRecord
	Status   models.JobStatus
	Result   store.PersistResult
	Warnings []models.Warning
	Err      error
}

// Run processes one unit: claim the job, fetch, parse, reconcile against
// the active neighbours and persist atomically. Cancellation is checked
// between stages and leaves the job failed and resumable. A unit already
// running elsewhere ends skipped without error. The returned error is the
// cause of a failed outcome.
func (p *Pipeline) Run(ctx context.Context, u Unit) (*Outcome, error) {
	out := &Outcome{Unit: u}
	log := p.logger.With(
		zap.String("task", string(u.TaskType())),
		zap.String("entity", u.Entity.ExternalID),
		zap.String("period", u.Period.Key()))

	job, err := p.tracker.Begin(ctx, u.TaskType(), u.Scope())
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		out.Job, out.Status = job, models.JobSkipped
		log.Info("unit already running, skipped", zap.String("run_id", job.RunID))
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("claim %s: %w", u, err)
	}
	out.Job = job
	p.metrics.RunStarted()
	log = log.With(zap.String("run_id", job.RunID), zap.Int("attempt", job.Attempts))

	status, checksum, err := p.process(ctx, u, job.RunID, out, log)
	out.Status, out.Err = status, err

	// The terminal state is recorded even when ctx was cancelled.
	fctx := context.WithoutCancel(ctx)
	finished, ferr := p.tracker.Finish(fctx, job.RunID, status, err, checksum)
	if ferr != nil {
		log.Error("record job outcome", zap.Error(ferr))
	} else {
		out.Job, out.Status = finished, finished.Status
	}
	p.metrics.RunFinished(u.TaskType(), out.Status)

	if err != nil {
		log.Warn("unit failed", zap.Error(err), zap.Bool("resumable", jobs.IsResumable(err)))
		return out, err
	}
	log.Info("unit finished",
		zap.String("status", string(out.Status)),
		zap.Int64("snapshot_id", out.Result.SnapshotID),
		zap.Int("revision", out.Result.Revision),
		zap.Int("deltas", out.Result.DeltasWritten),
		zap.Int("warnings", len(out.Warnings)))
	return out, nil
}

func (p *Pipeline) process(ctx context.Context, u Unit, runID string, out *Outcome, log *zap.Logger) (models.JobStatus, string, error) {
	checkpoint := func(stage string) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled before %s: %w", stage, err)
		}
		if err := p.tracker.Touch(ctx, runID); err != nil {
			return fmt.Errorf("heartbeat before %s: %w", stage, err)
		}
		return nil
	}

	if err := checkpoint(StageFetch); err != nil {
		return models.JobFailed, "", err
	}
	start := time.Now()
	raw, err := p.fetcher.Fetch(ctx, u.Kind, u.Entity, u.Period)
	p.metrics.ObserveStage(StageFetch, time.Since(start))
	if err != nil {
		if provider.IsTransient(err) {
			err = jobs.Resumable(err)
		}
		return models.JobFailed, "", err
	}
	if p.archive != nil {
		if err := p.archive.Archive(raw); err != nil {
			log.Warn("archive raw document", zap.Error(err))
		}
	}

	if err := checkpoint(StageParse); err != nil {
		return models.JobFailed, "", err
	}
	start = time.Now()
	ps, err := p.parser.Parse(raw, u.Kind)
	p.metrics.ObserveStage(StageParse, time.Since(start))
	if err != nil {
		return models.JobFailed, "", err
	}
	p.metrics.ParseWarningsRecorded(u.Kind, len(ps.Warnings))

	for attempt := 1; ; attempt++ {
		if err := checkpoint(StageReconcile); err != nil {
			return models.JobFailed, "", err
		}
		res, warnings, deltas, err := p.reconcileAndPersist(ctx, ps)
		out.Warnings = warnings
		if store.IsConflict(err) && attempt < p.maxRetries {
			p.metrics.PersistConflict()
			log.Info("persist conflict, reconciling again", zap.Int("try", attempt), zap.Error(err))
			continue
		}
		if err != nil {
			if store.IsConflict(err) {
				p.metrics.PersistConflict()
			}
			// A rolled-back write leaves the previous state intact, so the
			// unit can simply run again.
			var pe *store.PersistError
			if errors.As(err, &pe) {
				err = jobs.Resumable(err)
			}
			return models.JobFailed, "", err
		}

		out.Result = res
		if res.Unchanged {
			return models.JobSkipped, raw.Checksum, nil
		}
		p.metrics.DeltasWritten(deltas)
		return models.JobSucceeded, raw.Checksum, nil
	}
}

// reconcileAndPersist loads the neighbours, derives deltas and writes them.
// A conflict means the neighbours changed; the caller retries.
func (p *Pipeline) reconcileAndPersist(ctx context.Context, ps *parser.ParsedSnapshot) (store.PersistResult, []models.Warning, []models.Delta, error) {
	snap := ps.Snapshot()

	start := time.Now()
	rc, err := p.store.LoadReconcileContext(ctx, snap.Entity, snap.SourceKind, snap.Period)
	if err != nil {
		return store.PersistResult{}, nil, nil, err
	}
	snap.EntityID = rc.Entity.ID
	if rc.Existing != nil && rc.Existing.Checksum == snap.Checksum {
		res, err := p.store.Persist(ctx, store.Write{EntityID: rc.Entity.ID, ExpectedVersion: rc.Entity.Version, Snapshot: snap})
		return res, snap.Warnings, nil, err
	}

	engine := p.engine.WithRemaps(rc.Remaps)
	w := store.Write{
		EntityID:        rc.Entity.ID,
		ExpectedVersion: rc.Entity.Version,
		Snapshot:        snap,
	}
	deltas, warnings := engine.Reconcile(snap, rc.Prior)
	w.Deltas = deltas
	if rc.Prior != nil {
		w.PriorID = rc.Prior.ID
	}
	if rc.Next != nil {
		w.NextID = rc.Next.ID
		var nextWarnings []models.Warning
		w.NextDeltas, nextWarnings = engine.Reconcile(rc.Next, snap)
		warnings = append(warnings, nextWarnings...)
	}
	if len(warnings) > 0 {
		snap.Warnings = append(append([]models.Warning(nil), snap.Warnings...), warnings...)
		snap.ParseStatus = models.ParseWithWarnings
	}
	p.metrics.ObserveStage(StageReconcile, time.Since(start))

	start = time.Now()
	res, err := p.store.Persist(ctx, w)
	p.metrics.ObserveStage(StagePersist, time.Since(start))
	return res, snap.Warnings, append(w.Deltas, w.NextDeltas...), err
}
