package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/seenimoa/filingwatch/pkg/models"
)

// Registry is a thread-safe registry of fetchers.
// It maps provider names to Fetcher instances and maintains an index
// of which providers serve which source kinds.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Fetcher             // name → fetcher
	kindIdx   map[models.SourceKind][]string // kind → provider names (priority order)
	defaults  map[models.SourceKind]string   // kind → default provider name
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Fetcher),
		kindIdx:   make(map[models.SourceKind][]string),
		defaults:  make(map[models.SourceKind]string),
	}
}

// Register adds a fetcher. The first fetcher registered for a kind becomes
// its default. Duplicate registrations overwrite the previous entry.
func (r *Registry) Register(f Fetcher) error {
	info := f.Info()
	if info.Name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[info.Name] = f

	for _, kind := range info.Kinds {
		existing := r.kindIdx[kind]
		found := false
		for _, name := range existing {
			if name == info.Name {
				found = true
				break
			}
		}
		if !found {
			r.kindIdx[kind] = append(existing, info.Name)
		}
		if _, ok := r.defaults[kind]; !ok {
			r.defaults[kind] = info.Name
		}
	}
	return nil
}

// Unregister removes a provider.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.providers, name)

	for kind, names := range r.kindIdx {
		filtered := names[:0]
		for _, n := range names {
			if n != name {
				filtered = append(filtered, n)
			}
		}
		if len(filtered) == 0 {
			delete(r.kindIdx, kind)
			delete(r.defaults, kind)
		} else {
			r.kindIdx[kind] = filtered
			if r.defaults[kind] == name {
				r.defaults[kind] = filtered[0]
			}
		}
	}
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.providers[name]
	if !ok {
		return nil, &ErrProviderNotFound{Name: name}
	}
	return f, nil
}

// List returns info about all registered providers, sorted by name.
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(r.providers))
	for _, f := range r.providers {
		infos = append(infos, f.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// ProvidersFor returns the providers serving kind, default first.
func (r *Registry) ProvidersFor(kind models.SourceKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.kindIdx[kind]
	out := make([]string, 0, len(names))
	if def, ok := r.defaults[kind]; ok {
		out = append(out, def)
	}
	for _, n := range names {
		if n != r.defaults[kind] {
			out = append(out, n)
		}
	}
	return out
}

// SetDefault sets the default provider for a source kind.
func (r *Registry) SetDefault(kind models.SourceKind, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.providers[name]
	if !ok {
		return &ErrProviderNotFound{Name: name}
	}
	for _, k := range f.Info().Kinds {
		if k == kind {
			r.defaults[kind] = name
			return nil
		}
	}
	return &ErrKindNotSupported{Provider: name, Kind: kind}
}

// Fetch retrieves a document for kind using the default provider.
func (r *Registry) Fetch(ctx context.Context, kind models.SourceKind, entity models.EntityRef, period models.Period) (*RawDocument, error) {
	r.mu.RLock()
	name, ok := r.defaults[kind]
	f := r.providers[name]
	r.mu.RUnlock()

	if !ok || f == nil {
		return nil, &ErrKindNotSupported{Kind: kind}
	}

	doc, err := f.Fetch(ctx, entity, period)
	if err != nil {
		return nil, fmt.Errorf("provider %q fetch %s: %w", name, kind, err)
	}
	if doc.SourceKind == "" {
		doc.SourceKind = kind
	}
	doc.Provider = name
	return doc, nil
}
