package efd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// AnnualFetcher fetches Annual Financial Disclosure reports. The period is
// the calendar year covered; the report is filed the following year. When
// amendments exist the newest electronic submission wins.
type AnnualFetcher struct {
	session *Session
}

// NewAnnualFetcher creates an annual report fetcher on a shared session.
func NewAnnualFetcher(s *Session) *AnnualFetcher {
	return &AnnualFetcher{session: s}
}

func (f *AnnualFetcher) Info() provider.ProviderInfo {
	info := f.session.Info()
	info.Name = providerName + "-annual"
	info.Kinds = []models.SourceKind{models.SourceNetWorthReport}
	return info
}

// Fetch implements provider.Fetcher.
func (f *AnnualFetcher) Fetch(ctx context.Context, entity models.EntityRef, period models.Period) (*provider.RawDocument, error) {
	if err := requireName(entity); err != nil {
		return nil, err
	}
	year := period.End.Year()

	// Filed by May 15 of the next year; extensions and amendments can land
	// in the year after that.
	reports, err := f.session.Search(ctx, Query{
		FirstName:  entity.FirstName,
		LastName:   entity.LastName,
		ReportType: ReportTypeAnnual,
		From:       utils.Date(year+1, 1, 1),
		To:         utils.Date(year+2, 12, 31),
	})
	if err != nil {
		return nil, err
	}

	var best *Report
	for i := range reports {
		r := reports[i]
		if r.Paper || !coversYear(r, year) {
			continue
		}
		if best == nil || r.Submitted.After(best.Submitted) ||
			(r.Submitted.Equal(best.Submitted) && r.URL > best.URL) {
			best = &reports[i]
		}
	}
	if best == nil {
		return nil, provider.NoFiling(providerName,
			fmt.Sprintf("no electronic annual report for %s %s covering %d", entity.FirstName, entity.LastName, year))
	}

	resp, err := f.session.Page(ctx, *best)
	if err != nil {
		return nil, err
	}
	doc := provider.NewRawDocument(entity, models.Year(year), models.SourceNetWorthReport, best.URL, resp.ContentType, resp.Body)
	doc.DocumentID = best.ID
	return doc, nil
}

// coversYear matches "Annual Report for CY 2023" and its amendments. Titles
// without a year fall back to the filing year convention.
func coversYear(r Report, year int) bool {
	title := strings.ToUpper(r.Title)
	if i := strings.Index(title, "CY "); i >= 0 {
		rest := strings.TrimSpace(title[i+3:])
		if len(rest) >= 4 {
			if y, err := strconv.Atoi(rest[:4]); err == nil {
				return y == year
			}
		}
	}
	return r.Submitted.Year() == year+1
}
