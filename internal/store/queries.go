package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/filingwatch/pkg/models"
)

// ReconcileContext is the state a reconciliation reads: the entity with its
// version, the active snapshot for the same period if any, and the active
// neighbours on either side.
type ReconcileContext struct {
	Entity   *models.Entity
	Existing *models.Snapshot
	Prior    *models.Snapshot
	Next     *models.Snapshot
	Remaps   []models.IdentifierRemap
}

// LoadReconcileContext loads the neighbours of period for ref, creating the
// entity on first observation. The entity version is read first so that any
// write committed afterwards fails the Persist version check.
func (s *Store) LoadReconcileContext(ctx context.Context, ref models.EntityRef, kind models.SourceKind, period models.Period) (*ReconcileContext, error) {
	e, err := s.EnsureEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	rc := &ReconcileContext{Entity: e}

	if rc.Existing, err = s.ActiveSnapshot(ctx, e.ID, kind, period, false); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if rc.Prior, err = s.adjacent(ctx, e.ID, kind, period, true); err != nil {
		return nil, err
	}
	if rc.Next, err = s.adjacent(ctx, e.ID, kind, period, false); err != nil {
		return nil, err
	}
	if rc.Remaps, err = s.Remaps(ctx); err != nil {
		return nil, err
	}
	return rc, nil
}

const snapshotColumns = `id, entity_id, source_kind, period_start, period_end, revision, source_url, checksum,
	retrieved_at, document_id, filed_at, parse_status, warnings, positions, value_min, value_max,
	liabilities_min, liabilities_max, superseded_by, superseded_at, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*models.Snapshot, error) {
	var (
		snap         models.Snapshot
		filedAt      sql.NullTime
		warnings     string
		supersededBy sql.NullInt64
		supersededAt sql.NullTime
	)
	err := row.Scan(&snap.ID, &snap.EntityID, &snap.SourceKind, &snap.Period.Start, &snap.Period.End,
		&snap.Revision, &snap.SourceURL, &snap.Checksum, &snap.RetrievedAt, &snap.DocumentID, &filedAt,
		&snap.ParseStatus, &warnings, &snap.Summary.Positions, &snap.Summary.ValueMin, &snap.Summary.ValueMax,
		&snap.Summary.LiabilitiesMin, &snap.Summary.LiabilitiesMax, &supersededBy, &supersededAt, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	snap.Period = models.NewPeriod(snap.Period.Start, snap.Period.End)
	snap.FiledAt = filedAt.Time
	snap.SupersededBy = supersededBy.Int64
	if supersededAt.Valid {
		t := supersededAt.Time
		snap.SupersededAt = &t
	}
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &snap.Warnings); err != nil {
			return nil, fmt.Errorf("snapshot %d warnings: %w", snap.ID, err)
		}
	}
	return &snap, nil
}

// Snapshot loads a snapshot with its line items.
func (s *Store) Snapshot(ctx context.Context, id int64) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.queryRow(ctx, s.db, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.withItems(ctx, snap)
}

// ActiveSnapshot returns the non-superseded revision for a period.
func (s *Store) ActiveSnapshot(ctx context.Context, entityID int64, kind models.SourceKind, p models.Period, items bool) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.queryRow(ctx, s.db, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE entity_id = ? AND source_kind = ? AND period_start = ? AND period_end = ? AND superseded_at IS NULL`,
		entityID, kind, p.Start, p.End))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active snapshot %d %s %s: %w", entityID, kind, p, ErrNotFound)
	}
	if err != nil || !items {
		return snap, err
	}
	return s.withItems(ctx, snap)
}

// adjacent returns the closest active snapshot strictly before (or after)
// period, with items, or nil.
func (s *Store) adjacent(ctx context.Context, entityID int64, kind models.SourceKind, p models.Period, before bool) (*models.Snapshot, error) {
	q := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE entity_id = ? AND source_kind = ? AND superseded_at IS NULL AND `
	if before {
		q += `period_end < ? ORDER BY period_end DESC, period_start DESC`
	} else {
		q += `period_end > ? ORDER BY period_end ASC, period_start ASC`
	}
	snap, err := scanSnapshot(s.queryRow(ctx, s.db, q+` LIMIT 1`, entityID, kind, p.End))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("adjacent snapshot: %w", err)
	}
	return s.withItems(ctx, snap)
}

// SnapshotFilter narrows Snapshots. Zero fields match everything.
type SnapshotFilter struct {
	EntityID          int64
	SourceKind        models.SourceKind
	Period            models.Period
	IncludeSuperseded bool
	Limit             int
}

// Snapshots lists snapshots without line items ordered by entity, period
// and revision.
func (s *Store) Snapshots(ctx context.Context, f SnapshotFilter) ([]models.Snapshot, error) {
	var (
		where []string
		args  []any
	)
	if f.EntityID != 0 {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.SourceKind != "" {
		where = append(where, "source_kind = ?")
		args = append(args, f.SourceKind)
	}
	if !f.Period.IsZero() {
		where = append(where, "period_start = ? AND period_end = ?")
		args = append(args, f.Period.Start, f.Period.End)
	}
	if !f.IncludeSuperseded {
		where = append(where, "superseded_at IS NULL")
	}
	q := `SELECT ` + snapshotColumns + ` FROM snapshots`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY entity_id, period_end, period_start, revision`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func (s *Store) withItems(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	items, err := s.LineItems(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	snap.Items = items
	return snap, nil
}

const itemColumns = `li.id, li.item_key, li.security_id, li.raw_identifier, li.name, li.class, li.resolution,
	li.needs_mapping, li.quantity, li.value_min, li.value_max, li.value_text, li.transaction_type,
	li.transaction_date, li.owner, li.put_call, li.asset_type, li.portfolio_weight`

func scanItem(row interface{ Scan(...any) error }, extra ...any) (models.LineItem, error) {
	var (
		it         models.LineItem
		vmin, vmax decimal.NullDecimal
		vtext      string
		txnDate    sql.NullTime
	)
	dest := []any{&it.ID, &it.Key, &it.SecurityID, &it.RawIdentifier, &it.Name, &it.Class, &it.Resolution,
		&it.NeedsMapping, &it.Quantity, &vmin, &vmax, &vtext, &it.TransactionType,
		&txnDate, &it.Owner, &it.PutCall, &it.AssetType, &it.Weight}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return it, err
	}
	it.Value = rangeFrom(vmin, vmax, vtext)
	it.TransactionDate = txnDate.Time
	return it, nil
}

func rangeFrom(min, max decimal.NullDecimal, text string) *models.ValueRange {
	if !min.Valid {
		return nil
	}
	return &models.ValueRange{Min: min.Decimal, Max: max, Text: text}
}

// LineItems returns a snapshot's items ordered by key.
func (s *Store) LineItems(ctx context.Context, snapshotID int64) ([]models.LineItem, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+itemColumns+` FROM line_items li
		WHERE li.snapshot_id = ? ORDER BY li.item_key`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("line items of snapshot %d: %w", snapshotID, err)
	}
	defer rows.Close()

	var out []models.LineItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Holding is a line item located in its snapshot.
type Holding struct {
	EntityID   int64             `json:"entity_id"`
	SnapshotID int64             `json:"snapshot_id"`
	SourceKind models.SourceKind `json:"source_kind"`
	Period     models.Period     `json:"period"`
	Item       models.LineItem   `json:"item"`
}

// HoldingsBySecurity returns every active line item for a security id
// across entities, oldest period first.
func (s *Store) HoldingsBySecurity(ctx context.Context, securityID string) ([]Holding, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+itemColumns+`, s.entity_id, s.id, s.source_kind, s.period_start, s.period_end
		FROM line_items li JOIN snapshots s ON s.id = li.snapshot_id
		WHERE li.security_id = ? AND s.superseded_at IS NULL
		ORDER BY s.period_end, s.entity_id, li.item_key`, securityID)
	if err != nil {
		return nil, fmt.Errorf("holdings of %s: %w", securityID, err)
	}
	defer rows.Close()

	var out []Holding
	for rows.Next() {
		var h Holding
		it, err := scanItem(rows, &h.EntityID, &h.SnapshotID, &h.SourceKind, &h.Period.Start, &h.Period.End)
		if err != nil {
			return nil, err
		}
		h.Item = it
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeltaFilter narrows Deltas. Zero fields match everything.
type DeltaFilter struct {
	EntityID          int64
	SecurityID        string
	SnapshotID        int64 // new side of the pair
	IncludeSuperseded bool
}

const deltaColumns = `id, entity_id, security_id, prior_security_id, name, classification, transaction_type,
	basis, change, magnitude, prior_quantity, new_quantity, prior_value_min, prior_value_max,
	new_value_min, new_value_max, prior_snapshot_id, new_snapshot_id, flags, superseded_at, created_at, change_pct`

// Deltas lists deltas ordered by id.
func (s *Store) Deltas(ctx context.Context, f DeltaFilter) ([]models.Delta, error) {
	var (
		where []string
		args  []any
	)
	if f.EntityID != 0 {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.SecurityID != "" {
		where = append(where, "security_id = ?")
		args = append(args, f.SecurityID)
	}
	if f.SnapshotID != 0 {
		where = append(where, "new_snapshot_id = ?")
		args = append(args, f.SnapshotID)
	}
	if !f.IncludeSuperseded {
		where = append(where, "superseded_at IS NULL")
	}
	q := `SELECT ` + deltaColumns + ` FROM deltas`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}

	rows, err := s.query(ctx, s.db, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list deltas: %w", err)
	}
	defer rows.Close()

	var out []models.Delta
	for rows.Next() {
		var (
			d                      models.Delta
			pmin, pmax, nmin, nmax decimal.NullDecimal
			priorID                sql.NullInt64
			flags                  string
			supersededAt           sql.NullTime
		)
		err := rows.Scan(&d.ID, &d.EntityID, &d.SecurityID, &d.PriorSecurityID, &d.Name, &d.Classification,
			&d.TransactionType, &d.Basis, &d.Change, &d.Magnitude, &d.PriorQuantity, &d.NewQuantity,
			&pmin, &pmax, &nmin, &nmax, &priorID, &d.NewSnapshotID, &flags, &supersededAt, &d.CreatedAt, &d.ChangePct)
		if err != nil {
			return nil, err
		}
		d.PriorValue = rangeFrom(pmin, pmax, "")
		d.NewValue = rangeFrom(nmin, nmax, "")
		d.PriorSnapshotID = priorID.Int64
		if flags != "" {
			d.Flags = strings.Split(flags, ",")
		}
		if supersededAt.Valid {
			t := supersededAt.Time
			d.SupersededAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddRemap records that oldID continues as newID. Re-adding an old id
// replaces its target.
func (s *Store) AddRemap(ctx context.Context, r models.IdentifierRemap) error {
	r.OldID, r.NewID = strings.TrimSpace(r.OldID), strings.TrimSpace(r.NewID)
	if r.OldID == "" || r.NewID == "" || r.OldID == r.NewID {
		return fmt.Errorf("invalid remap %q -> %q", r.OldID, r.NewID)
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO identifier_remaps (old_id, new_id, reason, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (old_id) DO UPDATE SET new_id = excluded.new_id, reason = excluded.reason`,
		r.OldID, r.NewID, r.Reason, s.now())
	if err != nil {
		return fmt.Errorf("add remap %s: %w", r.OldID, err)
	}
	return nil
}

// Remaps returns the identifier remap table ordered by old id.
func (s *Store) Remaps(ctx context.Context) ([]models.IdentifierRemap, error) {
	rows, err := s.query(ctx, s.db, `SELECT old_id, new_id, reason, created_at FROM identifier_remaps ORDER BY old_id`)
	if err != nil {
		return nil, fmt.Errorf("list remaps: %w", err)
	}
	defer rows.Close()

	var out []models.IdentifierRemap
	for rows.Next() {
		var r models.IdentifierRemap
		if err := rows.Scan(&r.OldID, &r.NewID, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
