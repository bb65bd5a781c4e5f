package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/filingwatch/internal/securities"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

// Information tables for periods ending before this date report values in
// thousands of dollars; later ones report whole dollars.
var dollarValuesFrom = utils.Date(2022, 12, 31)

var (
	sgmlPeriod    = regexp.MustCompile(`(?m)^\s*CONFORMED PERIOD OF REPORT:\s*(\d{8})`)
	sgmlFiled     = regexp.MustCompile(`(?m)^\s*FILED AS OF DATE:\s*(\d{8})`)
	sgmlCIK       = regexp.MustCompile(`(?m)^\s*CENTRAL INDEX KEY:\s*(\d+)`)
	sgmlName      = regexp.MustCompile(`(?m)^\s*COMPANY CONFORMED NAME:\s*(.+?)\s*$`)
	sgmlAccession = regexp.MustCompile(`(?m)^\s*ACCESSION NUMBER:\s*([0-9-]+)`)
	sgmlForm      = regexp.MustCompile(`(?m)^\s*CONFORMED SUBMISSION TYPE:\s*(\S+)`)
	xmlBlock      = regexp.MustCompile(`(?s)<XML>(.*?)</XML>`)
)

// primaryDoc is the subset of primary_doc.xml used when the SGML header is
// missing fields.
type primaryDoc struct {
	Header struct {
		SubmissionType string `xml:"submissionType"`
		FilerInfo      struct {
			PeriodOfReport string `xml:"periodOfReport"`
			Filer          struct {
				Credentials struct {
					CIK string `xml:"cik"`
				} `xml:"credentials"`
			} `xml:"filer"`
		} `xml:"filerInfo"`
	} `xml:"headerData"`
	Form struct {
		CoverPage struct {
			ReportCalendarOrQuarter string `xml:"reportCalendarOrQuarter"`
			IsAmendment             string `xml:"isAmendment"`
			AmendmentInfo           struct {
				AmendmentType string `xml:"amendmentType"`
			} `xml:"amendmentInfo"`
			FilingManager struct {
				Name string `xml:"name"`
			} `xml:"filingManager"`
		} `xml:"coverPage"`
	} `xml:"formData"`
}

func (d *primaryDoc) addsHoldings() bool {
	t := strings.Join(strings.Fields(strings.ToUpper(d.Form.CoverPage.AmendmentInfo.AmendmentType)), " ")
	return t == "NEW HOLDINGS"
}

// infoTableRow is one <infoTable> entry. Tags carry no namespace so they
// match whatever namespace or prefix the filer used.
type infoTableRow struct {
	NameOfIssuer string `xml:"nameOfIssuer"`
	TitleOfClass string `xml:"titleOfClass"`
	CUSIP        string `xml:"cusip"`
	Value        string `xml:"value"`
	Shares       struct {
		Amount string `xml:"sshPrnamt"`
		Type   string `xml:"sshPrnamtType"`
	} `xml:"shrsOrPrnAmt"`
	PutCall string `xml:"putCall"`
}

type xmlPart struct {
	root string
	body []byte
	line int // line of the block start within the submission
}

// parse13F handles a full EDGAR submission text file, or a bare
// information-table / primary_doc XML document.
func (p *Parser) parse13F(body []byte, ps *ParsedSnapshot) error {
	parts := splitXML(body)

	// A NEW HOLDINGS amendment arrives appended to its base submission; the
	// first cover page is the base.
	var (
		primary   *primaryDoc
		hasBase   bool
		additions int
	)
	for _, part := range parts {
		if part.root != "edgarSubmission" {
			continue
		}
		var doc primaryDoc
		if err := xml.Unmarshal(part.body, &doc); err != nil {
			continue
		}
		if primary == nil {
			primary = &doc
		}
		if doc.addsHoldings() {
			additions++
		} else {
			hasBase = true
		}
	}
	if additions > 0 && !hasBase {
		ps.warn(WarnPartialAmendment, 0, "new-holdings amendment without its base report: holdings are incomplete")
	}

	text := string(body)
	cik := firstMatch(sgmlCIK, text)
	name := firstMatch(sgmlName, text)
	periodText := firstMatch(sgmlPeriod, text)
	form := firstMatch(sgmlForm, text)
	if primary != nil {
		if cik == "" {
			cik = strings.TrimSpace(primary.Header.FilerInfo.Filer.Credentials.CIK)
		}
		if name == "" {
			name = cleanText(primary.Form.CoverPage.FilingManager.Name)
		}
		if periodText == "" {
			periodText = strings.TrimSpace(primary.Header.FilerInfo.PeriodOfReport)
		}
		if periodText == "" {
			periodText = strings.TrimSpace(primary.Form.CoverPage.ReportCalendarOrQuarter)
		}
		if form == "" {
			form = strings.TrimSpace(primary.Header.SubmissionType)
		}
	}

	if periodText == "" {
		return &ParseError{Reason: "period of report not found"}
	}
	periodEnd, err := utils.ParseDate(periodText)
	if err != nil {
		return &ParseError{Reason: "period of report", Err: err}
	}
	if cik == "" {
		return &ParseError{Reason: "filer CIK not found"}
	}

	ps.Header.Period = models.QuarterOf(periodEnd)
	ps.Header.Entity = models.EntityRef{
		ExternalID: utils.PadCIK(cik),
		Kind:       models.EntityInstitutional,
		Name:       name,
	}
	ps.Header.DocumentID = strings.Join(allMatches(sgmlAccession, text), "+")
	if filed := firstMatch(sgmlFiled, text); filed != "" {
		if t, err := utils.ParseDate(filed); err == nil {
			ps.Header.FiledAt = t
		}
	}

	scale := decimal.NewFromInt(1)
	if periodEnd.Before(dollarValuesFrom) {
		scale = decimal.NewFromInt(1000)
	}

	found := false
	index := make(map[string]int)
	for _, part := range parts {
		if part.root != "informationTable" {
			continue
		}
		found = true
		p.parseInfoTable(part, scale, index, ps)
	}
	if !found && strings.HasPrefix(strings.ToUpper(form), "13F-NT") {
		ps.warn(WarnNoLineItems, 0, "notice filing %s carries no information table", form)
	}
	return nil
}

// parseInfoTable appends the table's rows to ps.Items. index maps item keys
// to positions and is shared by every table of one submission.
func (p *Parser) parseInfoTable(part xmlPart, scale decimal.Decimal, index map[string]int, ps *ParsedSnapshot) {
	dec := xml.NewDecoder(bytes.NewReader(part.body))

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			line, _ := dec.InputPos()
			ps.warn(WarnMalformedXML, part.line+line-1, "information table: %v", err)
			return
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "infoTable" {
			continue
		}
		line, _ := dec.InputPos()
		line += part.line - 1

		var row infoTableRow
		if err := dec.DecodeElement(&row, &se); err != nil {
			ps.warn(WarnMalformedXML, line, "infoTable entry: %v", err)
			return
		}
		item, err := p.holdingItem(row, scale)
		if err != nil {
			ps.warn(WarnMalformedRow, line, "%v", err)
			continue
		}

		if i, ok := index[item.Key]; ok {
			mergeHolding(&ps.Items[i], item)
			continue
		}
		index[item.Key] = len(ps.Items)
		ps.Items = append(ps.Items, item)
	}
}

func (p *Parser) holdingItem(row infoTableRow, scale decimal.Decimal) (models.LineItem, error) {
	var item models.LineItem
	name := cleanText(row.NameOfIssuer)
	cusip := strings.ToUpper(strings.TrimSpace(row.CUSIP))
	if name == "" && cusip == "" {
		return item, errors.New("infoTable entry has neither issuer name nor CUSIP")
	}

	if v := strings.TrimSpace(row.Value); v != "" {
		d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
		if err != nil {
			return item, fmt.Errorf("%s: value %q is not a number", name, v)
		}
		r := models.ExactRange(d.Mul(scale))
		item.Value = &r
	}
	if q := strings.TrimSpace(row.Shares.Amount); q != "" {
		d, err := decimal.NewFromString(strings.ReplaceAll(q, ",", ""))
		if err != nil {
			return item, fmt.Errorf("%s: sshPrnamt %q is not a number", name, q)
		}
		item.Quantity = decimal.NewNullDecimal(d)
	}

	item.Name = name
	item.Class = cleanText(row.TitleOfClass)
	item.RawIdentifier = cusip
	item.AssetType = strings.ToUpper(strings.TrimSpace(row.Shares.Type))
	item.TransactionType = models.TxnHold
	p.resolve(&item, securities.Input{Name: name, CUSIP: cusip}, strings.ToUpper(strings.TrimSpace(row.PutCall)))
	item.Key = item.SecurityID
	return item, nil
}

// mergeHolding folds a repeated security (split across managers or
// discretion types) into the existing line item.
func mergeHolding(dst *models.LineItem, src models.LineItem) {
	switch {
	case dst.Quantity.Valid && src.Quantity.Valid:
		dst.Quantity.Decimal = dst.Quantity.Decimal.Add(src.Quantity.Decimal)
	case src.Quantity.Valid:
		dst.Quantity = src.Quantity
	}
	dst.Value = addRanges(dst.Value, src.Value)
}

// splitXML returns the XML documents embedded in a submission, tagged with
// their root element name.
func splitXML(body []byte) []xmlPart {
	var parts []xmlPart
	for _, loc := range xmlBlock.FindAllSubmatchIndex(body, -1) {
		block := body[loc[2]:loc[3]]
		line := bytes.Count(body[:loc[2]], []byte("\n")) + 1
		trimmed := bytes.TrimLeft(block, "\r\n")
		line += bytes.Count(block[:len(block)-len(trimmed)], []byte("\n"))
		parts = append(parts, xmlPart{root: rootElement(trimmed), body: trimmed, line: line})
	}
	if len(parts) == 0 {
		parts = append(parts, xmlPart{root: rootElement(body), body: body, line: 1})
	}
	return parts
}

func rootElement(b []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(b))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local
		}
	}
}

// allMatches returns the distinct first-group matches in order.
func allMatches(re *regexp.Regexp, s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		v := strings.TrimSpace(m[1])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func firstMatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
