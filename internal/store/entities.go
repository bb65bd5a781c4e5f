package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/seenimoa/filingwatch/pkg/models"
)

const entityColumns = `id, external_id, kind, display_name, first_name, last_name, firm, party,
	chamber, state, latest_snapshot_id, version, created_at, updated_at`

func scanEntity(row interface{ Scan(...any) error }) (*models.Entity, error) {
	var (
		e      models.Entity
		latest sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.ExternalID, &e.Kind, &e.DisplayName, &e.FirstName, &e.LastName,
		&e.Firm, &e.Party, &e.Chamber, &e.State, &latest, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.LatestSnapshotID = latest.Int64
	return &e, nil
}

// RegisterEntity creates the entity or updates its mutable metadata. The
// external id and kind identify the entity and never change.
func (s *Store) RegisterEntity(ctx context.Context, e models.Entity) (*models.Entity, error) {
	e.ExternalID = strings.TrimSpace(e.ExternalID)
	if e.ExternalID == "" {
		return nil, errors.New("register entity: external id is required")
	}
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("register entity %s: unknown kind %q", e.ExternalID, e.Kind)
	}

	existing, err := s.EntityByExternalID(ctx, e.ExternalID, e.Kind)
	switch {
	case errors.Is(err, ErrNotFound):
		now := s.now()
		_, err := s.insertID(ctx, s.db, `INSERT INTO entities
			(external_id, kind, display_name, first_name, last_name, firm, party, chamber, state, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			e.ExternalID, e.Kind, e.DisplayName, e.FirstName, e.LastName, e.Firm, e.Party, e.Chamber, e.State, now, now)
		if err != nil && !isUniqueViolation(err) {
			return nil, fmt.Errorf("register entity %s: %w", e.ExternalID, err)
		}
		return s.EntityByExternalID(ctx, e.ExternalID, e.Kind)
	case err != nil:
		return nil, err
	}

	merge := func(cur *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*cur = v
		}
	}
	merge(&existing.DisplayName, e.DisplayName)
	merge(&existing.FirstName, e.FirstName)
	merge(&existing.LastName, e.LastName)
	merge(&existing.Firm, e.Firm)
	merge(&existing.Party, e.Party)
	merge(&existing.Chamber, e.Chamber)
	merge(&existing.State, e.State)

	_, err = s.exec(ctx, s.db, `UPDATE entities SET display_name = ?, first_name = ?, last_name = ?,
		firm = ?, party = ?, chamber = ?, state = ?, updated_at = ? WHERE id = ?`,
		existing.DisplayName, existing.FirstName, existing.LastName, existing.Firm,
		existing.Party, existing.Chamber, existing.State, s.now(), existing.ID)
	if err != nil {
		return nil, fmt.Errorf("update entity %s: %w", e.ExternalID, err)
	}
	return s.Entity(ctx, existing.ID)
}

// EnsureEntity returns the entity for ref, creating it on first observation.
// Metadata of an existing entity is left alone.
func (s *Store) EnsureEntity(ctx context.Context, ref models.EntityRef) (*models.Entity, error) {
	e, err := s.EntityByExternalID(ctx, ref.ExternalID, ref.Kind)
	if !errors.Is(err, ErrNotFound) {
		return e, err
	}
	return s.RegisterEntity(ctx, models.Entity{
		ExternalID:  ref.ExternalID,
		Kind:        ref.Kind,
		DisplayName: ref.Name,
		FirstName:   ref.FirstName,
		LastName:    ref.LastName,
	})
}

// Entity loads an entity by id.
func (s *Store) Entity(ctx context.Context, id int64) (*models.Entity, error) {
	e, err := scanEntity(s.queryRow(ctx, s.db, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %d: %w", id, ErrNotFound)
	}
	return e, err
}

// EntityByExternalID loads an entity by its CIK or bioguide id.
func (s *Store) EntityByExternalID(ctx context.Context, externalID string, kind models.EntityKind) (*models.Entity, error) {
	e, err := scanEntity(s.queryRow(ctx, s.db, `SELECT `+entityColumns+` FROM entities
		WHERE external_id = ? AND kind = ?`, externalID, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s %s: %w", kind, externalID, ErrNotFound)
	}
	return e, err
}

// ListEntities returns registered entities ordered by id. An empty kind
// lists both kinds.
func (s *Store) ListEntities(ctx context.Context, kind models.EntityKind) ([]models.Entity, error) {
	q := `SELECT ` + entityColumns + ` FROM entities`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	rows, err := s.query(ctx, s.db, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
