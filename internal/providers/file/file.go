// Package file serves raw documents from a local directory tree laid out as
// <root>/<source-kind>/<external-id>/<period-key>.<ext>. It is used to replay
// captured filings and for offline runs.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/seenimoa/filingwatch/internal/provider"
	"github.com/seenimoa/filingwatch/pkg/models"
)

// Fetcher reads documents of one source kind from disk.
type Fetcher struct {
	root string
	kind models.SourceKind
}

// New creates a fetcher rooted at dir serving kind.
func New(dir string, kind models.SourceKind) *Fetcher {
	return &Fetcher{root: dir, kind: kind}
}

func (f *Fetcher) Info() provider.ProviderInfo {
	return provider.ProviderInfo{
		Name:        "file:" + string(f.kind),
		Description: "Raw documents replayed from " + f.root,
		Kinds:       []models.SourceKind{f.kind},
	}
}

// Dir returns the directory searched for an entity's documents.
func (f *Fetcher) Dir(entity models.EntityRef) string {
	return filepath.Join(f.root, string(f.kind), entity.ExternalID)
}

// Fetch implements provider.Fetcher. When several files match the period
// key the lexically first one is used.
func (f *Fetcher) Fetch(ctx context.Context, entity models.EntityRef, period models.Period) (*provider.RawDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if entity.ExternalID == "" {
		return nil, provider.NewPermanent("file", "", &provider.ErrMissingParam{Param: "external_id"})
	}

	dir := f.Dir(entity)
	matches, err := filepath.Glob(filepath.Join(dir, globEscape(period.Key())+".*"))
	if err != nil {
		return nil, provider.NewPermanent("file", dir, err)
	}
	if len(matches) == 0 {
		return nil, provider.NoFiling("file", fmt.Sprintf("%s %s in %s", entity.ExternalID, period.Key(), dir))
	}
	sort.Strings(matches)
	path := matches[0]

	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, provider.NoFiling("file", path)
		}
		return nil, provider.NewPermanent("file", path, err)
	}

	doc := provider.NewRawDocument(entity, period, f.kind, "file://"+filepath.ToSlash(path), contentType(path), body)
	doc.DocumentID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return doc, nil
}

// Store writes a document into the tree so a later Fetch replays it.
func (f *Fetcher) Store(doc *provider.RawDocument, ext string) (string, error) {
	dir := f.Dir(doc.Entity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, doc.Period.Key()+"."+strings.TrimPrefix(ext, "."))
	if err := os.WriteFile(path, doc.Body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Periods lists the periods with a stored document for entity whose end
// falls inside window, oldest first. Files whose name is not a period key
// are ignored.
func (f *Fetcher) Periods(ctx context.Context, entity models.EntityRef, window models.Period) ([]models.Period, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.Dir(entity))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []models.Period
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		p, err := models.ParsePeriod(key)
		if err != nil || seen[p.Key()] || !window.Contains(p.End) {
			continue
		}
		seen[p.Key()] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// ExtensionFor picks a file extension from a content type.
func ExtensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "html"):
		return "html"
	case strings.Contains(contentType, "xml"):
		return "xml"
	case strings.Contains(contentType, "json"):
		return "json"
	default:
		return "txt"
	}
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return "text/html"
	case ".xml":
		return "application/xml"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}

func globEscape(s string) string {
	r := strings.NewReplacer("*", `\*`, "?", `\?`, "[", `\[`)
	return r.Replace(s)
}
