// Package jobs tracks ingestion units through
// queued -> running -> {succeeded | failed | skipped}, one record per
// (task type, scope) with an append-only event history.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/store"
	"github.com/seenimoa/filingwatch/pkg/models"
)

var (
	// ErrAlreadyRunning is returned by Begin when another run owns the unit.
	ErrAlreadyRunning = errors.New("job already running")
	// ErrRunLost is returned by Finish and Touch when the run no longer owns
	// the record, e.g. after it was reaped as stale.
	ErrRunLost = errors.New("run no longer owns the job")
)

// resumableError marks a failure that should be retried by a later run.
type resumableError struct{ err error }

func (e *resumableError) Error() string { return e.err.Error() }
func (e *resumableError) Unwrap() error { return e.err }

// Resumable wraps err so that Finish records the failure as resumable.
func Resumable(err error) error {
	if err == nil {
		return nil
	}
	return &resumableError{err: err}
}

// IsResumable reports whether a failure can be picked up by a later run.
// Cancellation and deadline expiry always are.
func IsResumable(err error) bool {
	var re *resumableError
	return errors.As(err, &re) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Tracker persists job records in the store's database.
type Tracker struct {
	store      *store.Store
	staleAfter time.Duration
	logger     *zap.Logger
}

// New creates a tracker. A running record without a heartbeat for
// staleAfter may be claimed by another run.
func New(s *store.Store, staleAfter time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Tracker{store: s, staleAfter: staleAfter, logger: logger.Named("jobs")}
}

const jobColumns = `id, task_type, scope, status, attempts, last_error, resumable, checksum, run_id,
	queued_at, started_at, finished_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*models.JobRecord, error) {
	var (
		j                   models.JobRecord
		started, finishedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &j.TaskType, &j.Scope, &j.Status, &j.Attempts, &j.LastError, &j.Resumable,
		&j.Checksum, &j.RunID, &j.QueuedAt, &started, &finishedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

// Enqueue creates the record for a unit in the queued state. A unit that
// already finished is re-queued; a queued or running unit is left alone.
func (t *Tracker) Enqueue(ctx context.Context, taskType models.TaskType, scope string) (*models.JobRecord, error) {
	if _, err := taskType.SourceKind(); err != nil {
		return nil, err
	}
	if scope == "" {
		return nil, errors.New("enqueue: empty scope")
	}
	now := t.store.Now()

	err := t.store.InTx(ctx, func(tx *sql.Tx) error {
		// Concurrent first requests race on the unique (task_type, scope)
		// key; the loser inserts nothing and reads the winner's row.
		res, err := t.store.TxExec(ctx, tx, `INSERT INTO jobs (task_type, scope, status, queued_at, updated_at)
			VALUES (?, ?, ?, ?, ?) ON CONFLICT (task_type, scope) DO NOTHING`,
			taskType, scope, models.JobQueued, now, now)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		j, err := scanJob(t.store.TxQueryRow(ctx, tx, `SELECT `+jobColumns+` FROM jobs WHERE task_type = ? AND scope = ?`, taskType, scope))
		if err != nil {
			return err
		}
		if inserted > 0 {
			return t.event(ctx, tx, j.ID, "", models.JobQueued, 0, "", now)
		}
		if !j.Status.Terminal() {
			return nil
		}
		res, err = t.store.TxExec(ctx, tx, `UPDATE jobs SET status = ?, queued_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			models.JobQueued, now, now, j.ID, j.Status)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return t.event(ctx, tx, j.ID, "", models.JobQueued, j.Attempts, "re-queued after "+string(j.Status), now)
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", taskType, scope, err)
	}
	return t.Status(ctx, taskType, scope)
}

// Begin claims a unit for a new run. The claim is a single conditional
// update, so of two concurrent requests only one wins; the other gets
// ErrAlreadyRunning and a skipped entry in the history while the record
// keeps running. A running record whose heartbeat is older than the stale
// timeout may be taken over.
func (t *Tracker) Begin(ctx context.Context, taskType models.TaskType, scope string) (*models.JobRecord, error) {
	j, err := t.Enqueue(ctx, taskType, scope)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	now := t.store.Now()
	cutoff := now.Add(-t.staleAfter)
	claimed := false

	err = t.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := t.store.TxExec(ctx, tx, `UPDATE jobs SET status = ?, run_id = ?, attempts = attempts + 1,
			started_at = ?, finished_at = NULL, updated_at = ?
			WHERE id = ? AND (status <> ? OR updated_at < ?)`,
			models.JobRunning, runID, now, now, j.ID, models.JobRunning, cutoff)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return t.event(ctx, tx, j.ID, runID, models.JobSkipped, j.Attempts, "duplicate request: already running as "+j.RunID, now)
		}
		claimed = true
		return t.event(ctx, tx, j.ID, runID, models.JobRunning, j.Attempts+1, "", now)
	})
	if err != nil {
		return nil, fmt.Errorf("begin %s %s: %w", taskType, scope, err)
	}

	cur, err := t.Status(ctx, taskType, scope)
	if err != nil {
		return nil, err
	}
	if !claimed {
		t.logger.Info("job already running",
			zap.String("task", string(taskType)),
			zap.String("scope", scope),
			zap.String("run_id", cur.RunID))
		return cur, ErrAlreadyRunning
	}
	t.logger.Debug("job started",
		zap.String("task", string(taskType)),
		zap.String("scope", scope),
		zap.String("run_id", runID),
		zap.Int("attempt", cur.Attempts))
	return cur, nil
}

// Touch refreshes the heartbeat of a running job.
func (t *Tracker) Touch(ctx context.Context, runID string) error {
	res, err := t.store.Exec(ctx, `UPDATE jobs SET updated_at = ? WHERE run_id = ? AND status = ?`,
		t.store.Now(), runID, models.JobRunning)
	if err != nil {
		return fmt.Errorf("touch run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunLost
	}
	return nil
}

// Finish moves the run's record to a terminal status. A success that did
// not produce a new checksum is recorded as skipped. Failures keep cause
// as the last error and are resumable when IsResumable(cause).
func (t *Tracker) Finish(ctx context.Context, runID string, status models.JobStatus, cause error, checksum string) (*models.JobRecord, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finish run %s: %q is not a terminal status", runID, status)
	}
	j, err := scanJob(t.store.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("finish run %s: %w", runID, ErrRunLost)
	}
	if err != nil {
		return nil, err
	}

	if status == models.JobSucceeded && (checksum == "" || checksum == j.Checksum) {
		status = models.JobSkipped
	}
	if checksum == "" {
		checksum = j.Checksum
	}
	var (
		lastError string
		resumable bool
		message   string
	)
	if status == models.JobFailed {
		if cause == nil {
			cause = errors.New("failed without error")
		}
		lastError = cause.Error()
		resumable = IsResumable(cause)
		message = lastError
	}
	if status == models.JobSkipped && cause != nil {
		message = cause.Error()
	}

	now := t.store.Now()
	err = t.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := t.store.TxExec(ctx, tx, `UPDATE jobs SET status = ?, last_error = ?, resumable = ?, checksum = ?,
			finished_at = ?, updated_at = ? WHERE id = ? AND run_id = ? AND status = ?`,
			status, lastError, resumable, checksum, now, now, j.ID, runID, models.JobRunning)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRunLost
		}
		return t.event(ctx, tx, j.ID, runID, status, j.Attempts, message, now)
	})
	if err != nil {
		return nil, fmt.Errorf("finish run %s: %w", runID, err)
	}

	t.logger.Info("job finished",
		zap.String("task", string(j.TaskType)),
		zap.String("scope", j.Scope),
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("attempt", j.Attempts),
		zap.Bool("resumable", resumable))
	return t.Status(ctx, j.TaskType, j.Scope)
}

// Status returns the record for a unit.
func (t *Tracker) Status(ctx context.Context, taskType models.TaskType, scope string) (*models.JobRecord, error) {
	j, err := scanJob(t.store.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE task_type = ? AND scope = ?`, taskType, scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s %s: %w", taskType, scope, store.ErrNotFound)
	}
	return j, err
}

// Job returns a record by id.
func (t *Tracker) Job(ctx context.Context, id int64) (*models.JobRecord, error) {
	j, err := scanJob(t.store.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, store.ErrNotFound)
	}
	return j, err
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	TaskType      models.TaskType
	Status        models.JobStatus
	ResumableOnly bool
	Limit         int
}

// List returns records, most recently updated first.
func (t *Tracker) List(ctx context.Context, f Filter) ([]models.JobRecord, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	var args []any
	if f.TaskType != "" {
		q += ` AND task_type = ?`
		args = append(args, f.TaskType)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ResumableOnly {
		q += ` AND (status = ? OR (status = ? AND resumable = ?))`
		args = append(args, models.JobQueued, models.JobFailed, true)
	}
	q += ` ORDER BY updated_at DESC, id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := t.store.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// History returns a job's events oldest first.
func (t *Tracker) History(ctx context.Context, jobID int64) ([]models.JobEvent, error) {
	rows, err := t.store.Query(ctx, `SELECT id, job_id, run_id, status, attempt, message, at
		FROM job_events WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("job %d history: %w", jobID, err)
	}
	defer rows.Close()

	var out []models.JobEvent
	for rows.Next() {
		var e models.JobEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.RunID, &e.Status, &e.Attempt, &e.Message, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReapStale fails running records whose heartbeat is older than timeout and
// marks them resumable. It returns the reaped records.
func (t *Tracker) ReapStale(ctx context.Context, timeout time.Duration) ([]models.JobRecord, error) {
	if timeout <= 0 {
		timeout = t.staleAfter
	}
	now := t.store.Now()
	cutoff := now.Add(-timeout)

	stale, err := t.List(ctx, Filter{Status: models.JobRunning})
	if err != nil {
		return nil, err
	}
	var reaped []models.JobRecord
	for _, j := range stale {
		if !j.UpdatedAt.Before(cutoff) {
			continue
		}
		msg := fmt.Sprintf("stale: no heartbeat since %s", j.UpdatedAt.UTC().Format(time.RFC3339))
		done := false
		err := t.store.InTx(ctx, func(tx *sql.Tx) error {
			res, err := t.store.TxExec(ctx, tx, `UPDATE jobs SET status = ?, resumable = ?, last_error = ?,
				finished_at = ?, updated_at = ? WHERE id = ? AND status = ? AND updated_at < ?`,
				models.JobFailed, true, msg, now, now, j.ID, models.JobRunning, cutoff)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return nil
			}
			done = true
			return t.event(ctx, tx, j.ID, j.RunID, models.JobFailed, j.Attempts, msg, now)
		})
		if err != nil {
			return reaped, fmt.Errorf("reap job %d: %w", j.ID, err)
		}
		if !done {
			continue
		}
		j.Status, j.Resumable, j.LastError = models.JobFailed, true, msg
		reaped = append(reaped, j)
		t.logger.Warn("reaped stale job",
			zap.Int64("job_id", j.ID),
			zap.String("task", string(j.TaskType)),
			zap.String("scope", j.Scope),
			zap.String("run_id", j.RunID))
	}
	return reaped, nil
}

// Prune deletes finished records last updated more than olderThan ago,
// with their history. Queued, running and resumable records are kept so a
// later resume still finds them. It returns the number of jobs removed.
func (t *Tracker) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("prune jobs: retention must be positive, got %s", olderThan)
	}
	cutoff := t.store.Now().Add(-olderThan)
	const match = `updated_at < ? AND (status IN (?, ?) OR (status = ? AND resumable = ?))`
	args := []any{cutoff, models.JobSucceeded, models.JobSkipped, models.JobFailed, false}

	var removed int64
	err := t.store.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := t.store.TxExec(ctx, tx,
			`DELETE FROM job_events WHERE job_id IN (SELECT id FROM jobs WHERE `+match+`)`, args...); err != nil {
			return err
		}
		res, err := t.store.TxExec(ctx, tx, `DELETE FROM jobs WHERE `+match, args...)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	if removed > 0 {
		t.logger.Info("pruned jobs", zap.Int64("removed", removed), zap.Time("before", cutoff))
	}
	return removed, nil
}

func (t *Tracker) event(ctx context.Context, tx *sql.Tx, jobID int64, runID string, status models.JobStatus, attempt int, msg string, at time.Time) error {
	_, err := t.store.TxExec(ctx, tx, `INSERT INTO job_events (job_id, run_id, status, attempt, message, at)
		VALUES (?, ?, ?, ?, ?, ?)`, jobID, runID, status, attempt, msg, at)
	return err
}
