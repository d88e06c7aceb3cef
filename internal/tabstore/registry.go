package tabstore

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide tab table. All tab lookups go through it
// so background builds can detect closed tabs between units of work.
type Registry struct {
	mu         sync.RWMutex
	tabs       map[string]*Tab
	order      []string
	scratchDir string
}

// NewRegistry creates a registry whose tab stores live under scratchDir.
func NewRegistry(scratchDir string) *Registry {
	return &Registry{
		tabs:       make(map[string]*Tab),
		scratchDir: scratchDir,
	}
}

// Create allocates a new tab with a fresh id and registers it.
func (r *Registry) Create(name, sourcePath string, headers []string) (*Tab, error) {
	id := uuid.New().String()
	tab, err := Create(r.scratchDir, id, name, sourcePath, headers)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.tabs[id] = tab
	r.order = append(r.order, id)
	r.mu.Unlock()
	return tab, nil
}

// Get returns the tab for an id.
func (r *Registry) Get(id string) (*Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.tabs[id]
	if !ok {
		return nil, ErrTabNotFound
	}
	return tab, nil
}

// List returns all open tabs in creation order.
func (r *Registry) List() []*Tab {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tab, 0, len(r.tabs))
	for _, id := range r.order {
		if tab, ok := r.tabs[id]; ok {
			out = append(out, tab)
		}
	}
	return out
}

// Close destroys a tab and removes it from the registry.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	tab, ok := r.tabs[id]
	if ok {
		delete(r.tabs, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return ErrTabNotFound
	}
	tab.Close()
	return nil
}

// CloseAll destroys every open tab. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	tabs := make([]*Tab, 0, len(r.tabs))
	for _, tab := range r.tabs {
		tabs = append(tabs, tab)
	}
	r.tabs = make(map[string]*Tab)
	r.order = nil
	r.mu.Unlock()

	for _, tab := range tabs {
		tab.Close()
	}
}
