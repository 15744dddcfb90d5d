package work

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps work kind names to implementations.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Work
}

// NewRegistry creates an empty work registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Work),
	}
}

// Register adds w under name, replacing any previous registration.
func (r *Registry) Register(name string, w Work) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[name] = w
}

// Resolve returns the work registered under name.
func (r *Registry) Resolve(name string) (Work, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return w, nil
}

// List returns information about all registered kinds, sorted by name
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.kinds))
	for _, w := range r.kinds {
		infos = append(infos, w.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
