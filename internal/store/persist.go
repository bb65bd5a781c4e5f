package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/pkg/models"
)

// Write is one atomic unit of persistence: a parsed snapshot plus the deltas
// computed against its active neighbours.
type Write struct {
	EntityID int64
	// ExpectedVersion is the entity version observed when the neighbours were
	// loaded. A different version at write time is a Conflict.
	ExpectedVersion int64
	Snapshot        *models.Snapshot

	// PriorID is the active snapshot Deltas were computed against, 0 for a
	// first observation.
	PriorID int64
	Deltas  []models.Delta

	// NextID is the active snapshot after the new one, 0 when the new
	// snapshot is the latest. NextDeltas compare the new snapshot with it.
	NextID     int64
	NextDeltas []models.Delta
}

// PersistResult describes what a Persist changed.
type PersistResult struct {
	SnapshotID       int64
	Revision         int
	Unchanged        bool
	SupersededID     int64
	DeltasWritten    int
	DeltasSuperseded int64
	LatestAdvanced   bool
	EntityVersion    int64
}

type activeRef struct {
	id       int64
	revision int
	checksum string
}

// Persist writes w in a single transaction. A snapshot whose checksum matches
// the active revision for its period is a no-op reported as Unchanged. A
// changed checksum stores a new revision and supersedes the old one together
// with every delta derived from it.
func (s *Store) Persist(ctx context.Context, w Write) (PersistResult, error) {
	snap := w.Snapshot
	if snap == nil {
		return PersistResult{}, errors.New("persist: nil snapshot")
	}
	if snap.Checksum == "" || snap.Period.IsZero() || !snap.SourceKind.Valid() {
		return PersistResult{}, fmt.Errorf("persist: snapshot needs checksum, period and source kind")
	}

	fail := func(stage string, err error) error {
		kind := TransactionAbort
		var pe *PersistError
		switch {
		case errors.As(err, &pe):
			return pe
		case isUniqueViolation(err):
			kind = Conflict
		}
		return &PersistError{Kind: kind, EntityID: w.EntityID, Stage: stage, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PersistResult{}, fail("begin", err)
	}
	defer tx.Rollback()

	existing, err := s.activeRef(ctx, tx, w.EntityID, snap.SourceKind, snap.Period)
	if err != nil {
		return PersistResult{}, fail("lookup", err)
	}
	if existing != nil && existing.checksum == snap.Checksum {
		s.logger.Debug("snapshot unchanged",
			zap.Int64("entity_id", w.EntityID),
			zap.String("period", snap.Period.Key()),
			zap.Int64("snapshot_id", existing.id))
		return PersistResult{SnapshotID: existing.id, Revision: existing.revision, Unchanged: true, EntityVersion: w.ExpectedVersion}, nil
	}

	now := s.now()
	res, err := s.exec(ctx, tx, `UPDATE entities SET version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`, now, w.EntityID, w.ExpectedVersion)
	if err != nil {
		return PersistResult{}, fail("version", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return PersistResult{}, fail("version", err)
	} else if n == 0 {
		return PersistResult{}, &PersistError{
			Kind:     Conflict,
			EntityID: w.EntityID,
			Stage:    "version",
			Err:      fmt.Errorf("entity version %d is stale", w.ExpectedVersion),
		}
	}

	out := PersistResult{EntityVersion: w.ExpectedVersion + 1, Revision: 1}
	if existing != nil {
		out.Revision = existing.revision + 1
		out.SupersededID = existing.id
		if _, err := s.exec(ctx, tx, `UPDATE snapshots SET superseded_at = ? WHERE id = ?`, now, existing.id); err != nil {
			return PersistResult{}, fail("supersede", err)
		}
		n, err := s.supersedeDeltas(ctx, tx, now, `new_snapshot_id = ? OR prior_snapshot_id = ?`, existing.id, existing.id)
		if err != nil {
			return PersistResult{}, fail("supersede", err)
		}
		out.DeltasSuperseded += n
	} else {
		var maxRev int
		err := s.queryRow(ctx, tx, `SELECT COALESCE(MAX(revision), 0) FROM snapshots
			WHERE entity_id = ? AND source_kind = ? AND period_start = ? AND period_end = ?`,
			w.EntityID, snap.SourceKind, snap.Period.Start, snap.Period.End).Scan(&maxRev)
		if err != nil {
			return PersistResult{}, fail("revision", err)
		}
		out.Revision = maxRev + 1
	}
	if w.NextID != 0 {
		n, err := s.supersedeDeltas(ctx, tx, now, `new_snapshot_id = ?`, w.NextID)
		if err != nil {
			return PersistResult{}, fail("supersede", err)
		}
		out.DeltasSuperseded += n
	}

	warnings, err := json.Marshal(nonNilWarnings(snap.Warnings))
	if err != nil {
		return PersistResult{}, fail(StageSnapshot, err)
	}
	id, err := s.insertID(ctx, tx, `INSERT INTO snapshots
		(entity_id, source_kind, period_start, period_end, revision, source_url, checksum, retrieved_at,
		 document_id, filed_at, parse_status, warnings, positions, value_min, value_max,
		 liabilities_min, liabilities_max, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.EntityID, snap.SourceKind, snap.Period.Start, snap.Period.End, out.Revision, snap.SourceURL,
		snap.Checksum, snap.RetrievedAt.UTC(), snap.DocumentID, nullTime(snap.FiledAt), snap.ParseStatus,
		string(warnings), snap.Summary.Positions, snap.Summary.ValueMin, snap.Summary.ValueMax,
		snap.Summary.LiabilitiesMin, snap.Summary.LiabilitiesMax, now)
	if err != nil {
		return PersistResult{}, fail(StageSnapshot, err)
	}
	out.SnapshotID = id
	if existing != nil {
		if _, err := s.exec(ctx, tx, `UPDATE snapshots SET superseded_by = ? WHERE id = ?`, id, existing.id); err != nil {
			return PersistResult{}, fail(StageSnapshot, err)
		}
	}
	if err := s.runHook(StageSnapshot); err != nil {
		return PersistResult{}, fail(StageSnapshot, err)
	}

	for _, it := range snap.Items {
		if err := s.insertItem(ctx, tx, id, it); err != nil {
			return PersistResult{}, fail(StageItems, fmt.Errorf("item %s: %w", it.Key, err))
		}
	}
	if err := s.runHook(StageItems); err != nil {
		return PersistResult{}, fail(StageItems, err)
	}

	for _, d := range w.Deltas {
		d.EntityID, d.PriorSnapshotID, d.NewSnapshotID = w.EntityID, w.PriorID, id
		if err := s.insertDelta(ctx, tx, d, now); err != nil {
			return PersistResult{}, fail(StageDeltas, fmt.Errorf("delta %s: %w", d.SecurityID, err))
		}
	}
	if w.NextID != 0 {
		for _, d := range w.NextDeltas {
			d.EntityID, d.PriorSnapshotID, d.NewSnapshotID = w.EntityID, id, w.NextID
			if err := s.insertDelta(ctx, tx, d, now); err != nil {
				return PersistResult{}, fail(StageDeltas, fmt.Errorf("delta %s: %w", d.SecurityID, err))
			}
		}
		out.DeltasWritten += len(w.NextDeltas)
	}
	out.DeltasWritten += len(w.Deltas)
	if err := s.runHook(StageDeltas); err != nil {
		return PersistResult{}, fail(StageDeltas, err)
	}

	advanced, err := s.advanceLatest(ctx, tx, w.EntityID, id, snap.Period, existing)
	if err != nil {
		return PersistResult{}, fail(StagePointer, err)
	}
	out.LatestAdvanced = advanced
	if err := s.runHook(StagePointer); err != nil {
		return PersistResult{}, fail(StagePointer, err)
	}

	if err := tx.Commit(); err != nil {
		return PersistResult{}, fail("commit", err)
	}

	s.logger.Info("snapshot persisted",
		zap.Int64("entity_id", w.EntityID),
		zap.String("source_kind", string(snap.SourceKind)),
		zap.String("period", snap.Period.Key()),
		zap.Int64("snapshot_id", id),
		zap.Int("revision", out.Revision),
		zap.Int("items", len(snap.Items)),
		zap.Int("deltas", out.DeltasWritten),
		zap.Int64("deltas_superseded", out.DeltasSuperseded),
		zap.Bool("latest", advanced))
	return out, nil
}

func (s *Store) runHook(stage string) error {
	if s.hook == nil {
		return nil
	}
	return s.hook(stage)
}

func (s *Store) activeRef(ctx context.Context, q execer, entityID int64, kind models.SourceKind, p models.Period) (*activeRef, error) {
	var r activeRef
	err := s.queryRow(ctx, q, `SELECT id, revision, checksum FROM snapshots
		WHERE entity_id = ? AND source_kind = ? AND period_start = ? AND period_end = ? AND superseded_at IS NULL`,
		entityID, kind, p.Start, p.End).Scan(&r.id, &r.revision, &r.checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) supersedeDeltas(ctx context.Context, tx *sql.Tx, now time.Time, where string, args ...any) (int64, error) {
	res, err := s.exec(ctx, tx, `UPDATE deltas SET superseded_at = ? WHERE superseded_at IS NULL AND (`+where+`)`,
		append([]any{now}, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// advanceLatest moves the entity's latest pointer to id when the new
// snapshot is at least as recent as the current latest, or replaces it.
func (s *Store) advanceLatest(ctx context.Context, tx *sql.Tx, entityID, id int64, p models.Period, replaced *activeRef) (bool, error) {
	var (
		latest    sql.NullInt64
		latestEnd sql.NullTime
	)
	err := s.queryRow(ctx, tx, `SELECT e.latest_snapshot_id, s.period_end FROM entities e
		LEFT JOIN snapshots s ON s.id = e.latest_snapshot_id WHERE e.id = ?`, entityID).Scan(&latest, &latestEnd)
	if err != nil {
		return false, err
	}
	advance := !latest.Valid ||
		(replaced != nil && latest.Int64 == replaced.id) ||
		!latestEnd.Valid || !p.End.Before(latestEnd.Time)
	if !advance {
		return false, nil
	}
	_, err = s.exec(ctx, tx, `UPDATE entities SET latest_snapshot_id = ? WHERE id = ?`, id, entityID)
	return err == nil, err
}

func (s *Store) insertItem(ctx context.Context, tx *sql.Tx, snapshotID int64, it models.LineItem) error {
	vmin, vmax, vtext := rangeArgs(it.Value)
	_, err := s.exec(ctx, tx, `INSERT INTO line_items
		(snapshot_id, item_key, security_id, raw_identifier, name, class, resolution, needs_mapping,
		 quantity, value_min, value_max, value_text, transaction_type, transaction_date, owner, put_call, asset_type,
		 portfolio_weight)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshotID, it.Key, it.SecurityID, it.RawIdentifier, it.Name, it.Class, it.Resolution, it.NeedsMapping,
		it.Quantity, vmin, vmax, vtext, it.TransactionType, nullTime(it.TransactionDate), it.Owner, it.PutCall, it.AssetType,
		it.Weight)
	return err
}

func (s *Store) insertDelta(ctx context.Context, tx *sql.Tx, d models.Delta, now time.Time) error {
	pmin, pmax, _ := rangeArgs(d.PriorValue)
	nmin, nmax, _ := rangeArgs(d.NewValue)
	_, err := s.exec(ctx, tx, `INSERT INTO deltas
		(entity_id, security_id, prior_security_id, name, classification, transaction_type, basis, change, magnitude,
		 prior_quantity, new_quantity, prior_value_min, prior_value_max, new_value_min, new_value_max,
		 prior_snapshot_id, new_snapshot_id, flags, created_at, change_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.EntityID, d.SecurityID, d.PriorSecurityID, d.Name, d.Classification, d.TransactionType, d.Basis,
		d.Change, d.Magnitude, d.PriorQuantity, d.NewQuantity, pmin, pmax, nmin, nmax,
		nullID(d.PriorSnapshotID), d.NewSnapshotID, strings.Join(d.Flags, ","), now, d.ChangePct)
	return err
}

func rangeArgs(r *models.ValueRange) (min, max decimal.NullDecimal, text string) {
	if r == nil {
		return decimal.NullDecimal{}, decimal.NullDecimal{}, ""
	}
	return decimal.NewNullDecimal(r.Min), r.Max, r.Text
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nonNilWarnings(w []models.Warning) []models.Warning {
	if w == nil {
		return []models.Warning{}
	}
	return w
}
