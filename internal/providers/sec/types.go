package sec

import (
	"time"

	"github.com/seenimoa/filingwatch/pkg/utils"
)

// --- EDGAR Submissions (data.sec.gov/submissions) ---

// edgarSubmissionsResponse is the response from the company submissions endpoint.
type edgarSubmissionsResponse struct {
	CIK        string       `json:"cik"`
	EntityType string       `json:"entityType"`
	Name       string       `json:"name"`
	Filings    edgarFilings `json:"filings"`
}

type edgarFilings struct {
	Recent edgarFilingSet `json:"recent"`
	Files  []edgarFile    `json:"files"`
}

// edgarFilingSet holds parallel arrays, one element per filing. The paged
// history files (CIK##########-submissions-001.json) use the same shape at
// the top level.
type edgarFilingSet struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	ReportDate      []string `json:"reportDate"`
	AcceptanceTime  []string `json:"acceptanceDateTime"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

type edgarFile struct {
	Name        string `json:"name"`
	FilingCount int    `json:"filingCount"`
	FilingFrom  string `json:"filingFrom"`
	FilingTo    string `json:"filingTo"`
}

// Filing is one 13F-HR or 13F-HR/A submission.
type Filing struct {
	CIK             string    `json:"cik"`
	AccessionNumber string    `json:"accession_number"`
	Form            string    `json:"form"`
	FiledAt         time.Time `json:"filed_at"`
	ReportDate      time.Time `json:"report_date"`
	AcceptedAt      string    `json:"accepted_at,omitempty"`
	PrimaryDocument string    `json:"primary_document,omitempty"`
}

// IsAmendment reports whether the filing is a 13F-HR/A.
func (f Filing) IsAmendment() bool { return f.Form == form13FHRA }

const (
	form13FHR  = "13F-HR"
	form13FHRA = "13F-HR/A"
)

func is13F(form string) bool { return form == form13FHR || form == form13FHRA }

// filings13F extracts the 13F filings from a filing set. Rows with a
// malformed date are skipped.
func (s edgarFilingSet) filings13F(cik string) []Filing {
	var out []Filing
	for i, form := range s.Form {
		if !is13F(form) || i >= len(s.AccessionNumber) || i >= len(s.FilingDate) {
			continue
		}
		filed, err := utils.ParseDate(s.FilingDate[i])
		if err != nil {
			continue
		}
		f := Filing{
			CIK:             cik,
			AccessionNumber: s.AccessionNumber[i],
			Form:            form,
			FiledAt:         filed,
		}
		if i < len(s.ReportDate) && s.ReportDate[i] != "" {
			if rd, err := utils.ParseDate(s.ReportDate[i]); err == nil {
				f.ReportDate = rd
			}
		}
		if f.ReportDate.IsZero() {
			f.ReportDate = utils.QuarterEndBefore(filed)
		}
		if i < len(s.AcceptanceTime) {
			f.AcceptedAt = s.AcceptanceTime[i]
		}
		if i < len(s.PrimaryDocument) {
			f.PrimaryDocument = s.PrimaryDocument[i]
		}
		out = append(out, f)
	}
	return out
}
