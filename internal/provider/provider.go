// Package provider defines the source-fetcher abstraction: a Fetcher turns an
// entity reference and reporting period into a raw regulatory document, and a
// Registry routes requests to the fetcher registered for a source kind.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/seenimoa/filingwatch/pkg/models"
)

// ProviderInfo holds metadata about a registered fetcher.
type ProviderInfo struct {
	Name        string              `json:"name"`        // e.g., "sec", "efd", "file"
	Description string              `json:"description"` // human-readable description
	Website     string              `json:"website"`
	Kinds       []models.SourceKind `json:"kinds"` // source kinds this fetcher serves
}

// RawDocument is an unparsed source document plus its provenance.
type RawDocument struct {
	Entity      models.EntityRef  `json:"entity"`
	Period      models.Period     `json:"period"`
	SourceKind  models.SourceKind `json:"source_kind"`
	URL         string            `json:"url"`
	ContentType string            `json:"content_type"`
	Body        []byte            `json:"-"`
	Checksum    string            `json:"checksum"` // hex SHA-256 of Body
	RetrievedAt time.Time         `json:"retrieved_at"`
	DocumentID  string            `json:"document_id,omitempty"`
	Provider    string            `json:"provider,omitempty"`
}

// NewRawDocument builds a document and computes its checksum.
func NewRawDocument(entity models.EntityRef, period models.Period, kind models.SourceKind, url, contentType string, body []byte) *RawDocument {
	return &RawDocument{
		Entity:      entity,
		Period:      period,
		SourceKind:  kind,
		URL:         url,
		ContentType: contentType,
		Body:        body,
		Checksum:    Checksum(body),
		RetrievedAt: time.Now().UTC(),
	}
}

// Checksum returns the hex SHA-256 of b.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Fetcher retrieves the raw document for one entity and period. It never
// persists anything. Implementations report failures as *FetchError.
type Fetcher interface {
	// Info returns metadata about this fetcher.
	Info() ProviderInfo

	// Fetch retrieves the document for the entity covering period.
	Fetch(ctx context.Context, entity models.EntityRef, period models.Period) (*RawDocument, error)
}

// ErrProviderNotFound is returned when a requested provider is not registered.
type ErrProviderNotFound struct {
	Name string
}

func (e *ErrProviderNotFound) Error() string {
	return fmt.Sprintf("provider %q not found", e.Name)
}

// ErrKindNotSupported is returned when no provider serves a source kind.
type ErrKindNotSupported struct {
	Provider string
	Kind     models.SourceKind
}

func (e *ErrKindNotSupported) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("no provider for source kind %q", e.Kind)
	}
	return fmt.Sprintf("provider %q does not support source kind %q", e.Provider, e.Kind)
}

// ErrMissingParam is returned when the entity reference lacks a field the
// source needs (CIK, filer last name).
type ErrMissingParam struct {
	Param string
}

func (e *ErrMissingParam) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Param)
}
