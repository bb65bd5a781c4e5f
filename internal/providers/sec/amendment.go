package sec

import (
	"bytes"
	"regexp"
	"strings"
)

// 13F-HR/A amendment types from the cover page.
const (
	AmendmentRestatement = "RESTATEMENT"
	AmendmentNewHoldings = "NEW HOLDINGS"
)

var amendmentTypeTag = regexp.MustCompile(`(?is)<(?:[a-z0-9]+:)?amendmentType>\s*([^<]*?)\s*</`)

// AmendmentType returns the normalized amendment type declared in a
// submission's primary document, or "" when it declares none.
func AmendmentType(body []byte) string {
	m := amendmentTypeTag.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.Join(strings.Fields(strings.ToUpper(string(m[1]))), " ")
}

// addsHoldings reports whether a submission only adds rows to an earlier
// report for the same quarter.
func addsHoldings(body []byte) bool {
	return AmendmentType(body) == AmendmentNewHoldings
}

// combine appends new-holdings amendments to their base submission. The
// result is one text file holding every information table, base first.
func combine(base []byte, additions [][]byte) []byte {
	if len(additions) == 0 {
		return base
	}
	var b bytes.Buffer
	b.Write(base)
	for _, a := range additions {
		if b.Len() > 0 && !bytes.HasSuffix(b.Bytes(), []byte("\n")) {
			b.WriteByte('\n')
		}
		b.Write(a)
	}
	return b.Bytes()
}
