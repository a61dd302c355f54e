package state

import (
	"context"
	"fmt"
	"sort"

	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/pkg/scope"
)

// Capture reads the explicit value-holding cells of scoped that are
// registered in catalog.
func Capture(scoped *scope.Store, catalog *cells.Catalog) (Snapshot, error) {
	if scoped == nil {
		return nil, fmt.Errorf("state: scope is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("state: catalog is required")
	}
	out := Snapshot{}
	for _, c := range scoped.Explicit() {
		if !c.IsValueHolding() {
			continue
		}
		name, ok := catalog.NameOf(c)
		if !ok {
			continue
		}
		value, err := scoped.Get(c)
		if err != nil {
			return nil, fmt.Errorf("state: capture %q: %w", name, err)
		}
		out[name] = value
	}
	return out, nil
}

// SeedOptions turns snapshot into scope.WithValue options, in name order.
func SeedOptions(snapshot Snapshot, catalog *cells.Catalog) ([]scope.Option, error) {
	if catalog == nil {
		return nil, fmt.Errorf("state: catalog is required")
	}
	seeded, err := seedCells(snapshot, catalog)
	if err != nil {
		return nil, err
	}
	out := make([]scope.Option, 0, len(seeded))
	for _, c := range seeded {
		out = append(out, scope.WithValue(c.Cell, snapshot[c.name]))
	}
	return out, nil
}

type namedCell struct {
	*cells.Cell
	name string
}

func seedCells(snapshot Snapshot, catalog *cells.Catalog) ([]namedCell, error) {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]namedCell, 0, len(names))
	for _, name := range names {
		c, err := catalog.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("state: seed: %w", err)
		}
		if !c.IsValueHolding() {
			return nil, fmt.Errorf("state: seed %q: %w", name, scope.ErrInitialValue)
		}
		out = append(out, namedCell{Cell: c, name: name})
	}
	return out, nil
}

// Persist captures scoped and saves it under ref. meta.ETag, when set, must
// match the stored record.
func Persist(ctx context.Context, store Store[Snapshot], ref Ref, scoped *scope.Store, catalog *cells.Catalog, meta Meta) (Meta, error) {
	if store == nil {
		return Meta{}, fmt.Errorf("state: store is required")
	}
	snapshot, err := Capture(scoped, catalog)
	if err != nil {
		return Meta{}, err
	}
	saved, err := store.Save(ctx, ref, snapshot, meta)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %q for scope %q: %w", ref.Domain, ref.Scope, err)
	}
	return saved, nil
}

// Resolver reopens persisted scopes.
type Resolver struct {
	Store   Store[Snapshot]
	Catalog *cells.Catalog
}

// Open loads the snapshot for ref and creates a scope over parent in which
// every snapshot cell is explicit and starts from its persisted value. Cells
// in explicit are declared as well. A missing snapshot yields a scope with
// only explicit. The scope is named after ref.Scope unless opts rename it.
func (r Resolver) Open(ctx context.Context, parent cells.Accessor, ref Ref, explicit []*cells.Cell, opts ...scope.Option) (*scope.Store, Meta, error) {
	if r.Store == nil {
		return nil, Meta{}, fmt.Errorf("state: store is required")
	}
	if r.Catalog == nil {
		return nil, Meta{}, fmt.Errorf("state: catalog is required")
	}
	snapshot, meta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("state: load %q for scope %q: %w", ref.Domain, ref.Scope, err)
	}
	if !ok {
		snapshot, meta = nil, Meta{}
	}
	seeded, err := seedCells(snapshot, r.Catalog)
	if err != nil {
		return nil, Meta{}, err
	}

	declared := append([]*cells.Cell(nil), explicit...)
	options := []scope.Option{scope.WithName(ref.Scope)}
	for _, c := range seeded {
		declared = append(declared, c.Cell)
		options = append(options, scope.WithValue(c.Cell, snapshot[c.name]))
	}
	options = append(options, opts...)

	scoped, err := scope.New(parent, declared, options...)
	if err != nil {
		return nil, Meta{}, err
	}
	return scoped, meta, nil
}
