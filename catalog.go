package cells

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Catalog stores cells keyed by name so expressions and manifests can refer
// to them.
type Catalog struct {
	mu    sync.RWMutex
	cells map[string]*Cell
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		cells: make(map[string]*Cell),
	}
}

// Register stores c under name guarding against duplicates.
func (r *Catalog) Register(name string, c *Cell) error {
	if c == nil {
		return fmt.Errorf("cells: cell %q is nil", name)
	}
	if name == "" {
		return fmt.Errorf("cells: cell name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cells == nil {
		r.cells = make(map[string]*Cell)
	}
	key := strings.ToLower(name)
	if _, exists := r.cells[key]; exists {
		return fmt.Errorf("cells: cell %q already registered", name)
	}
	r.cells[key] = c
	return nil
}

// MustRegister is Register for static setup code.
func (r *Catalog) MustRegister(name string, c *Cell) *Cell {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the cell registered for name.
func (r *Catalog) Lookup(name string) (*Cell, error) {
	if r == nil {
		return nil, fmt.Errorf("cells: catalog is nil")
	}
	r.mu.RLock()
	c := r.cells[strings.ToLower(name)]
	r.mu.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("cells: cell %q not registered", name)
	}
	return c, nil
}

// NameOf returns the name c was registered under.
func (r *Catalog) NameOf(c *Cell) (string, bool) {
	if r == nil || c == nil {
		return "", false
	}
	c = c.Root()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, candidate := range r.cells {
		if candidate == c {
			return name, true
		}
	}
	return "", false
}

// Clone returns a shallow copy of the catalog.
func (r *Catalog) Clone() *Catalog {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &Catalog{
		cells: make(map[string]*Cell, len(r.cells)),
	}
	for name, c := range r.cells {
		clone.cells[name] = c
	}
	return clone
}

// Names returns registered names sorted alphabetically.
func (r *Catalog) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cells))
	for name := range r.cells {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
