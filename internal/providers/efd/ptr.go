package efd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/pkg/models"
)

// PTRFetcher fetches Periodic Transaction Reports. The period is the
// submission window; every electronic PTR submitted on the window's last
// day is joined into one document in URL order.
type PTRFetcher struct {
	session *Session
}

// NewPTRFetcher creates a PTR fetcher on a shared session.
func NewPTRFetcher(s *Session) *PTRFetcher {
	return &PTRFetcher{session: s}
}

func (f *PTRFetcher) Info() provider.ProviderInfo {
	info := f.session.Info()
	info.Name = providerName + "-ptr"
	info.Kinds = []models.SourceKind{models.SourceLegislatorDisclosure}
	return info
}

// Fetch implements provider.Fetcher.
func (f *PTRFetcher) Fetch(ctx context.Context, entity models.EntityRef, period models.Period) (*provider.RawDocument, error) {
	if err := requireName(entity); err != nil {
		return nil, err
	}

	reports, err := f.session.Search(ctx, Query{
		FirstName:  entity.FirstName,
		LastName:   entity.LastName,
		ReportType: ReportTypePTR,
		From:       period.Start,
		To:         period.End,
	})
	if err != nil {
		return nil, err
	}

	var matched []Report
	for _, r := range reports {
		if !r.Submitted.Equal(period.End) {
			continue
		}
		if r.Paper {
			f.session.Logger().Warn("skipping paper PTR", zap.String("url", r.URL), zap.String("entity", entity.ExternalID))
			continue
		}
		matched = append(matched, r)
	}
	if len(matched) == 0 {
		return nil, provider.NoFiling(providerName,
			fmt.Sprintf("no electronic PTR for %s %s submitted %s", entity.FirstName, entity.LastName, period.End.Format(models.DateLayout)))
	}
	sortReports(matched)

	parts := make([]provider.Part, 0, len(matched))
	ids := make([]string, 0, len(matched))
	contentType := ""
	for _, r := range matched {
		resp, err := f.session.Page(ctx, r)
		if err != nil {
			return nil, err
		}
		contentType = resp.ContentType
		parts = append(parts, provider.Part{URL: r.URL, Body: resp.Body})
		ids = append(ids, r.ID)
	}

	doc := provider.NewRawDocument(entity, period, models.SourceLegislatorDisclosure, matched[0].URL, contentType, provider.JoinParts(parts))
	doc.DocumentID = strings.Join(ids, ",")
	return doc, nil
}

// SubmissionDates lists the distinct days the filer submitted electronic
// PTRs within [from, to], oldest first. Each day is one ingestion unit.
func (f *PTRFetcher) SubmissionDates(ctx context.Context, entity models.EntityRef, window models.Period) ([]models.Period, error) {
	if err := requireName(entity); err != nil {
		return nil, err
	}
	reports, err := f.session.Search(ctx, Query{
		FirstName:  entity.FirstName,
		LastName:   entity.LastName,
		ReportType: ReportTypePTR,
		From:       window.Start,
		To:         window.End,
	})
	if err != nil {
		return nil, err
	}
	sortReports(reports)
	var out []models.Period
	for _, r := range reports {
		if r.Paper {
			continue
		}
		day := models.Day(r.Submitted)
		if len(out) > 0 && out[len(out)-1].Equal(day) {
			continue
		}
		out = append(out, day)
	}
	return out, nil
}
