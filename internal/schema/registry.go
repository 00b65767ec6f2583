package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// Registry holds layouts keyed by importer and report kind.
type Registry struct {
	mu      sync.RWMutex
	layouts map[string]Layout
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{layouts: make(map[string]Layout)}
}

// Default holds the built-in layouts.
var Default = NewRegistry()

// Register adds a layout to the default registry.
func Register(l Layout) { Default.Register(l) }

// Lookup finds a layout in the default registry.
func Lookup(importer timing.Importer, kind timing.ReportKind) (Layout, error) {
	return Default.Lookup(importer, kind)
}

// Register adds a layout. Panics if the key is already taken.
func (r *Registry) Register(l Layout) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := l.Key()
	if _, exists := r.layouts[key]; exists {
		panic(fmt.Sprintf("layout already registered: %s", key))
	}
	r.layouts[key] = l
}

// Lookup returns the layout for importer and kind, or ErrInvalidArgument
// when none is registered.
func (r *Registry) Lookup(importer timing.Importer, kind timing.ReportKind) (Layout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.layouts[layoutKey(importer, kind)]
	if !ok {
		return Layout{}, fmt.Errorf("%w: no %s layout for importer %q", timing.ErrInvalidArgument, kind, importer)
	}
	return l, nil
}

// All returns every layout sorted by importer then kind.
func (r *Registry) All() []Layout {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Layout, 0, len(r.layouts))
	for _, l := range r.layouts {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importer != out[j].Importer {
			return out[i].Importer < out[j].Importer
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Len returns the number of registered layouts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layouts)
}
