// Package models holds the normalized domain types shared by the ingestion
// pipeline: tracked entities, snapshots and their line items, computed deltas
// and job records.
package models

import (
	"fmt"
	"time"
)

// EntityKind distinguishes the two disclosure streams.
type EntityKind string

const (
	EntityInstitutional EntityKind = "institutional"
	EntityLegislator    EntityKind = "legislator"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == EntityInstitutional || k == EntityLegislator
}

// EntityRef identifies an entity to the fetchers. ExternalID is the filer
// CIK for institutions and the bioguide id for legislators; the name parts are
// needed by sources that search by filer name (Senate eFD).
type EntityRef struct {
	ExternalID string     `json:"external_id"`
	Kind       EntityKind `json:"kind"`
	Name       string     `json:"name,omitempty"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
}

func (r EntityRef) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s %s (%s)", r.Kind, r.ExternalID, r.Name)
	}
	return fmt.Sprintf("%s %s", r.Kind, r.ExternalID)
}

// Entity is a tracked investor or legislator.
type Entity struct {
	ID               int64      `json:"id"`
	ExternalID       string     `json:"external_id"`
	Kind             EntityKind `json:"kind"`
	DisplayName      string     `json:"display_name"`
	FirstName        string     `json:"first_name,omitempty"`
	LastName         string     `json:"last_name,omitempty"`
	Firm             string     `json:"firm,omitempty"`
	Party            string     `json:"party,omitempty"`   // D, R, I
	Chamber          string     `json:"chamber,omitempty"` // House, Senate
	State            string     `json:"state,omitempty"`
	LatestSnapshotID int64      `json:"latest_snapshot_id,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Ref returns the fetcher-facing reference for the entity.
func (e Entity) Ref() EntityRef {
	return EntityRef{
		ExternalID: e.ExternalID,
		Kind:       e.Kind,
		Name:       e.DisplayName,
		FirstName:  e.FirstName,
		LastName:   e.LastName,
	}
}
