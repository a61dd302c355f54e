package scope

import (
	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/internal/ordered"
)

// Classification describes how a scope treats a cell.
type Classification int

const (
	// Unscoped cells share the root store's state.
	Unscoped Classification = iota
	// Explicit cells were declared by the scope's creator.
	Explicit
	// Implicit cells were reached while evaluating explicit or implicit cells.
	Implicit
	// Inherited cells are scoped by an ancestor and observed through it.
	Inherited
	// DependentScoped cells currently read state owned by the scope.
	DependentScoped
	// DependentUnscoped cells may read scoped state but currently do not.
	DependentUnscoped
)

func (c Classification) String() string {
	switch c {
	case Explicit:
		return "explicit"
	case Implicit:
		return "implicit"
	case Inherited:
		return "inherited"
	case DependentScoped:
		return "dependent-scoped"
	case DependentUnscoped:
		return "dependent-unscoped"
	default:
		return "unscoped"
	}
}

// routeKey memoizes delegated resolutions per calling context.
type routeKey struct {
	cell *cells.Cell
	ctx  *Store
}

// registry holds the classification sets owned by one scope.
type registry struct {
	explicit  *ordered.Set[*cells.Cell]
	implicit  *ordered.Set[*cells.Cell]
	clones    map[*cells.Cell]*cells.Cell
	kinds     map[*cells.Cell]Classification
	inherited map[routeKey]*cells.Cell
	values    map[*cells.Cell]any
}

func newRegistry(explicit []*cells.Cell) *registry {
	return &registry{
		explicit:  ordered.NewSet(explicit...),
		implicit:  ordered.NewSet[*cells.Cell](),
		clones:    map[*cells.Cell]*cells.Cell{},
		kinds:     map[*cells.Cell]Classification{},
		inherited: map[routeKey]*cells.Cell{},
		values:    map[*cells.Cell]any{},
	}
}

func (r *registry) isExplicit(c *cells.Cell) bool {
	return r.explicit.Has(c)
}

func (r *registry) markImplicit(c *cells.Cell) {
	if !r.explicit.Has(c) {
		r.implicit.Add(c)
	}
}

func (r *registry) isImplicit(c *cells.Cell) bool {
	return r.implicit.Has(c)
}

// static reports whether clone is an explicit or implicit clone of this
// registry.
func (r *registry) static(clone *cells.Cell) bool {
	kind, ok := r.kinds[clone]
	return ok && (kind == Explicit || kind == Implicit)
}

func (r *registry) forget(c *cells.Cell) {
	for key := range r.inherited {
		if key.cell == c {
			delete(r.inherited, key)
		}
	}
}

func (r *registry) reset() {
	r.implicit.Clear()
	r.clones = map[*cells.Cell]*cells.Cell{}
	r.kinds = map[*cells.Cell]Classification{}
	r.inherited = map[routeKey]*cells.Cell{}
}
