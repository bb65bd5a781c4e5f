package provider

import (
	"bytes"
	"fmt"
	"strings"
)

// Some sources publish one logical report as several pages (PTRs submitted
// on the same day). The fetcher joins them into one body; each part starts
// with a boundary comment carrying the page URL.
const partPrefix = "<!-- filingwatch-part: "

// Part is one page of a multi-part document.
type Part struct {
	URL  string
	Body []byte
}

// JoinParts concatenates parts in the given order.
func JoinParts(parts []Part) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		fmt.Fprintf(&buf, "%s%s -->\n", partPrefix, p.URL)
		buf.Write(p.Body)
		if len(p.Body) > 0 && p.Body[len(p.Body)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// SplitParts reverses JoinParts. A body without boundaries is returned as a
// single part with an empty URL.
func SplitParts(body []byte) []Part {
	if !bytes.HasPrefix(body, []byte(partPrefix)) {
		return []Part{{Body: body}}
	}
	var parts []Part
	for _, chunk := range bytes.Split(body, []byte(partPrefix))[1:] {
		header, rest, _ := bytes.Cut(chunk, []byte("\n"))
		url := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(string(header)), "-->"))
		parts = append(parts, Part{URL: url, Body: rest})
	}
	return parts
}
