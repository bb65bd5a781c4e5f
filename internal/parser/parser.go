// Package parser converts raw regulatory documents into normalized
// snapshots. Each source kind has its own variant; all of them converge on
// the same header plus line-item schema.
package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/internal/securities"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// Warning is a non-fatal, line-item level parse problem. It is persisted on
// the snapshot.
type Warning = models.Warning

// Warning codes.
const (
	WarnMalformedRow   = "malformed_row"
	WarnMalformedXML   = "malformed_xml"
	WarnHeaderMismatch = "header_mismatch"
	WarnNoLineItems    = "no_line_items"
	// WarnPartialAmendment marks a 13F holding only the rows a NEW HOLDINGS
	// amendment added.
	WarnPartialAmendment = "partial_amendment"
)

// ErrUnsupportedKind is returned for a source kind with no parser variant.
var ErrUnsupportedKind = errors.New("unsupported source kind")

// ParseError is a fatal, header-level failure: the document's entity or
// period could not be determined.
type ParseError struct {
	Kind   models.SourceKind
	URL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s", e.Kind)
	if e.URL != "" {
		msg += " " + e.URL
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Header identifies the entity and period a document reports on.
type Header struct {
	Entity     models.EntityRef
	Period     models.Period
	FiledAt    time.Time
	DocumentID string
}

// ParsedSnapshot is the normalized output of one document.
type ParsedSnapshot struct {
	Header      Header
	SourceKind  models.SourceKind
	SourceURL   string
	Checksum    string
	RetrievedAt time.Time
	Items       []models.LineItem
	Warnings    []Warning

	// Liabilities is the summed liability range (net-worth reports only).
	Liabilities *models.ValueRange
}

func (ps *ParsedSnapshot) warn(code string, line int, format string, args ...any) {
	ps.Warnings = append(ps.Warnings, Warning{Code: code, Line: line, Message: fmt.Sprintf(format, args...)})
}

// Snapshot builds the unsaved snapshot record with computed summary totals.
func (ps *ParsedSnapshot) Snapshot() *models.Snapshot {
	s := &models.Snapshot{
		Entity:      ps.Header.Entity,
		Period:      ps.Header.Period,
		SourceKind:  ps.SourceKind,
		SourceURL:   ps.SourceURL,
		Checksum:    ps.Checksum,
		RetrievedAt: ps.RetrievedAt,
		DocumentID:  ps.Header.DocumentID,
		FiledAt:     ps.Header.FiledAt,
		ParseStatus: models.ParseOK,
		Warnings:    ps.Warnings,
		Items:       ps.Items,
	}
	if len(ps.Warnings) > 0 {
		s.ParseStatus = models.ParseWithWarnings
	}
	if ps.Liabilities != nil {
		s.Summary.LiabilitiesMin = ps.Liabilities.Min
		s.Summary.LiabilitiesMax = ps.Liabilities.Max
	}
	s.Summarize()
	return s
}

// Parser dispatches raw documents to the variant for their source kind.
type Parser struct {
	resolver *securities.Resolver
	logger   *zap.Logger
}

// New creates a parser. A nil resolver uses the built-in tables.
func New(resolver *securities.Resolver, logger *zap.Logger) *Parser {
	if resolver == nil {
		resolver = securities.NewResolver()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{resolver: resolver, logger: logger.Named("parser")}
}

// Parse converts raw into a normalized snapshot. Header failures return
// *ParseError; malformed line items are skipped and recorded as warnings.
func (p *Parser) Parse(raw *provider.RawDocument, kind models.SourceKind) (*ParsedSnapshot, error) {
	if raw == nil || len(raw.Body) == 0 {
		return nil, &ParseError{Kind: kind, Reason: "empty document"}
	}

	ps := &ParsedSnapshot{
		SourceKind:  kind,
		SourceURL:   raw.URL,
		Checksum:    raw.Checksum,
		RetrievedAt: raw.RetrievedAt,
	}
	if ps.Checksum == "" {
		ps.Checksum = provider.Checksum(raw.Body)
	}

	var err error
	switch kind {
	case models.SourceInstitutionalReport:
		err = p.parse13F(raw.Body, ps)
	case models.SourceLegislatorDisclosure:
		err = p.parsePTR(raw.Body, ps)
	case models.SourceNetWorthReport:
		err = p.parseAnnual(raw.Body, ps)
	default:
		err = ErrUnsupportedKind
	}
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Kind, pe.URL = kind, raw.URL
			return nil, pe
		}
		return nil, &ParseError{Kind: kind, URL: raw.URL, Reason: "dispatch", Err: err}
	}

	if ps.Header.Period.IsZero() {
		return nil, &ParseError{Kind: kind, URL: raw.URL, Reason: "reporting period not found"}
	}
	if !raw.Period.IsZero() && !raw.Period.Equal(ps.Header.Period) {
		return nil, &ParseError{
			Kind:   kind,
			URL:    raw.URL,
			Reason: fmt.Sprintf("document period %s does not match requested %s", ps.Header.Period, raw.Period),
		}
	}
	entity, err := mergeEntity(raw.Entity, ps, kind)
	if err != nil {
		return nil, &ParseError{Kind: kind, URL: raw.URL, Reason: "entity", Err: err}
	}
	ps.Header.Entity = entity
	if ps.Header.DocumentID == "" {
		ps.Header.DocumentID = raw.DocumentID
	}
	if len(ps.Items) == 0 {
		ps.warn(WarnNoLineItems, 0, "document has no line items")
	}

	p.logger.Debug("parsed document",
		zap.String("kind", string(kind)),
		zap.String("entity", entity.String()),
		zap.String("period", ps.Header.Period.Key()),
		zap.Int("items", len(ps.Items)),
		zap.Int("warnings", len(ps.Warnings)),
	)
	return ps, nil
}

// mergeEntity combines the caller's entity reference with what the document
// header says. The caller's external id wins; a conflicting CIK is fatal.
func mergeEntity(requested models.EntityRef, ps *ParsedSnapshot, kind models.SourceKind) (models.EntityRef, error) {
	parsed := ps.Header.Entity
	out := requested
	if out.Kind == "" {
		out.Kind = kind.EntityKind()
	}

	switch kind {
	case models.SourceInstitutionalReport:
		if parsed.ExternalID == "" {
			return out, errors.New("filer CIK not found")
		}
		if out.ExternalID == "" {
			out.ExternalID = parsed.ExternalID
		} else if utils.TrimCIK(out.ExternalID) != utils.TrimCIK(parsed.ExternalID) {
			return out, fmt.Errorf("document CIK %s does not match %s", parsed.ExternalID, out.ExternalID)
		}
	default:
		if parsed.Name == "" {
			return out, errors.New("filer name not found")
		}
		if out.ExternalID == "" {
			return out, errors.New("legislator reports need an external id from the caller")
		}
		if out.LastName != "" {
			last := utils.NormalizeName(out.LastName)
			if !strings.Contains(" "+utils.NormalizeName(parsed.Name)+" ", " "+last+" ") {
				ps.warn(WarnHeaderMismatch, 0, "filer %q does not mention last name %q", parsed.Name, out.LastName)
			}
		}
	}
	if out.Name == "" {
		out.Name = parsed.Name
	}
	return out, nil
}

// resolve fills the identity fields of item through the resolver chain.
func (p *Parser) resolve(item *models.LineItem, in securities.Input, putCall string) {
	res := p.resolver.Resolve(in)
	item.SecurityID = res.Canonical
	if putCall != "" {
		item.SecurityID += ":" + putCall
	}
	item.Resolution = res.Method
	item.NeedsMapping = res.NeedsMapping
	item.PutCall = putCall
}
