package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/internal/securities"
	"github.com/seenimoa/filingwatch/pkg/models"
	"github.com/seenimoa/filingwatch/pkg/utils"
)

var (
	ptrTitle     = regexp.MustCompile(`(?i)periodic transaction report for\s+(\d{1,2}/\d{1,2}/\d{4})`)
	annualTitle  = regexp.MustCompile(`(?i)annual report for\s+(?:CY\s*)?(\d{4})`)
	honorific    = regexp.MustCompile(`(?i)^the honorable\s+`)
	trailerParen = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	optionType   = regexp.MustCompile(`(?i)option type:\s*(call|put)`)
)

// table is an HTML table with its header cells indexed by normalized label.
type table struct {
	sel  *goquery.Selection
	cols map[string]int
}

func (t table) has(labels ...string) bool {
	for _, l := range labels {
		if _, ok := t.cols[l]; !ok {
			return false
		}
	}
	return true
}

// cell returns the cleaned text of the labelled column, "" when absent.
func (t table) cell(cells *goquery.Selection, label string) string {
	i, ok := t.cols[label]
	if !ok || i >= cells.Length() {
		return ""
	}
	return cleanText(cells.Eq(i).Text())
}

func (t table) width() int {
	w := 0
	for _, i := range t.cols {
		if i+1 > w {
			w = i + 1
		}
	}
	return w
}

func tables(doc *goquery.Document) []table {
	var out []table
	doc.Find("table").Each(func(_ int, sel *goquery.Selection) {
		cols := make(map[string]int)
		sel.Find("tr").First().Find("th").Each(func(i int, th *goquery.Selection) {
			cols[strings.ToLower(cleanText(th.Text()))] = i
		})
		if len(cols) > 0 {
			out = append(out, table{sel: sel, cols: cols})
		}
	})
	return out
}

// dataRows yields body rows, skipping header rows.
func (t table) dataRows(fn func(n int, cells *goquery.Selection)) {
	n := 0
	t.sel.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		n++
		fn(n, cells)
	})
}

// reportHeader extracts the report date text and filer name from one page.
func reportHeader(doc *goquery.Document, title *regexp.Regexp) (date, filer string) {
	doc.Find("h1, h2, h3, title").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if m := title.FindStringSubmatch(cleanText(sel.Text())); m != nil {
			date = m[1]
			return false
		}
		return true
	})
	if date == "" {
		if m := title.FindStringSubmatch(cleanText(doc.Text())); m != nil {
			date = m[1]
		}
	}

	name := doc.Find("h2.filedReport").First()
	if name.Length() == 0 {
		name = doc.Find("h2").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return honorific.MatchString(cleanText(s.Text()))
		}).First()
	}
	filer = cleanText(name.Text())
	filer = honorific.ReplaceAllString(filer, "")
	filer = trailerParen.ReplaceAllString(filer, "")
	return date, filer
}

// parsePTR handles one or more Periodic Transaction Report pages joined by
// the fetcher.
func (p *Parser) parsePTR(body []byte, ps *ParsedSnapshot) error {
	var reportDate time.Time
	for pi, part := range provider.SplitParts(body) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(part.Body))
		if err != nil {
			return &ParseError{Reason: "read PTR HTML", Err: err}
		}

		dateText, filer := reportHeader(doc, ptrTitle)
		if dateText != "" {
			d, err := utils.ParseDate(dateText)
			if err != nil {
				return &ParseError{Reason: "report date", Err: err}
			}
			switch {
			case reportDate.IsZero():
				reportDate = d
			case !d.Equal(reportDate):
				ps.warn(WarnHeaderMismatch, 0, "part %d dated %s, expected %s", pi+1, d.Format(models.DateLayout), reportDate.Format(models.DateLayout))
			}
		}
		if ps.Header.Entity.Name == "" {
			ps.Header.Entity.Name = filer
		} else if filer != "" && filer != ps.Header.Entity.Name {
			ps.warn(WarnHeaderMismatch, 0, "part %d filed by %q, expected %q", pi+1, filer, ps.Header.Entity.Name)
		}

		for _, t := range tables(doc) {
			if !t.has("asset name", "type", "amount") {
				continue
			}
			t.dataRows(func(n int, cells *goquery.Selection) {
				key := fmt.Sprintf("%d-%d", pi+1, n)
				item, err := p.tradeItem(t, cells)
				if err != nil {
					ps.warn(WarnMalformedRow, n, "part %d row %d: %v", pi+1, n, err)
					return
				}
				item.Key = key
				ps.Items = append(ps.Items, item)
			})
		}
	}

	if reportDate.IsZero() {
		return &ParseError{Reason: "report date not found"}
	}
	ps.Header.Period = models.Day(reportDate)
	ps.Header.FiledAt = reportDate
	ps.Header.Entity.Kind = models.EntityLegislator
	return nil
}

func (p *Parser) tradeItem(t table, cells *goquery.Selection) (models.LineItem, error) {
	var item models.LineItem
	if cells.Length() < t.width() {
		return item, fmt.Errorf("expected %d columns, got %d", t.width(), cells.Length())
	}

	name := t.cell(cells, "asset name")
	if name == "" || name == "--" {
		return item, fmt.Errorf("missing asset name")
	}
	typ, ok := NormalizeTransactionType(t.cell(cells, "type"))
	if !ok {
		return item, fmt.Errorf("%s: unknown transaction type %q", name, t.cell(cells, "type"))
	}
	amount, err := ParseAmount(t.cell(cells, "amount"))
	if err != nil {
		return item, err
	}
	if d := t.cell(cells, "transaction date"); d != "" && d != "--" {
		td, err := utils.ParseDate(d)
		if err != nil {
			return item, fmt.Errorf("%s: %w", name, err)
		}
		item.TransactionDate = td
	}

	ticker := t.cell(cells, "ticker")
	if ticker == "--" {
		ticker = ""
	}
	putCall := ""
	if m := optionType.FindStringSubmatch(name); m != nil {
		putCall = strings.ToUpper(m[1])
	}

	item.Name = name
	item.RawIdentifier = ticker
	item.Value = amount
	item.TransactionType = typ
	item.Owner = t.cell(cells, "owner")
	item.AssetType = t.cell(cells, "asset type")
	p.resolve(&item, securities.Input{Name: name, Ticker: ticker, Text: name}, putCall)
	return item, nil
}

// parseAnnual handles an Annual Report page: assets become hold line items,
// liabilities are summed into the snapshot summary.
func (p *Parser) parseAnnual(body []byte, ps *ParsedSnapshot) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return &ParseError{Reason: "read annual report HTML", Err: err}
	}

	yearText, filer := reportHeader(doc, annualTitle)
	if yearText == "" {
		return &ParseError{Reason: "calendar year not found"}
	}
	var year int
	if _, err := fmt.Sscanf(yearText, "%d", &year); err != nil {
		return &ParseError{Reason: "calendar year", Err: err}
	}
	ps.Header.Period = models.Year(year)
	ps.Header.Entity = models.EntityRef{Kind: models.EntityLegislator, Name: filer}

	index := make(map[string]int)
	for _, t := range tables(doc) {
		switch {
		case t.has("asset", "value"):
			t.dataRows(func(n int, cells *goquery.Selection) {
				item, err := p.assetItem(t, cells)
				if err != nil {
					ps.warn(WarnMalformedRow, n, "asset row %d: %v", n, err)
					return
				}
				if i, ok := index[item.Key]; ok {
					ps.Items[i].Value = addRanges(ps.Items[i].Value, item.Value)
					return
				}
				index[item.Key] = len(ps.Items)
				ps.Items = append(ps.Items, item)
			})
		case t.has("amount") && (t.has("creditor") || t.has("debtor")):
			t.dataRows(func(n int, cells *goquery.Selection) {
				amount, err := ParseAmount(t.cell(cells, "amount"))
				if err != nil {
					ps.warn(WarnMalformedRow, n, "liability row %d: %v", n, err)
					return
				}
				if amount == nil {
					return
				}
				ps.Liabilities = addRanges(ps.Liabilities, amount)
			})
		}
	}
	return nil
}

func (p *Parser) assetItem(t table, cells *goquery.Selection) (models.LineItem, error) {
	var item models.LineItem
	if cells.Length() < t.width() {
		return item, fmt.Errorf("expected %d columns, got %d", t.width(), cells.Length())
	}

	cell := cells.Eq(t.cols["asset"])
	name := cleanText(cell.Find("strong").First().Text())
	if name == "" {
		name = cleanText(cell.Text())
	}
	if name == "" {
		return item, fmt.Errorf("missing asset name")
	}
	value, err := ParseAmount(t.cell(cells, "value"))
	if err != nil {
		return item, fmt.Errorf("%s: %w", name, err)
	}

	item.Name = name
	item.Value = value
	item.TransactionType = models.TxnHold
	item.Owner = t.cell(cells, "owner")
	item.AssetType = CategorizeAsset(t.cell(cells, "asset type"), name)
	p.resolve(&item, securities.Input{Name: name, Text: cleanText(cell.Text())}, "")
	item.Key = item.SecurityID
	if item.Owner != "" {
		item.Key += "|" + strings.ToLower(item.Owner)
	}
	return item, nil
}
