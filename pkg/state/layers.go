package state

import (
	"context"
	"fmt"

	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/internal/clone"
	"github.com/goliatone/go-cells/pkg/scope"
)

// Merge composes snapshots ordered from strongest to weakest. A name set in a
// stronger snapshot wins; when both sides hold map[string]any values the maps
// are merged key by key with the same rule. Values are deep copied.
func Merge(layers ...Snapshot) Snapshot {
	out := Snapshot{}
	for i := len(layers) - 1; i >= 0; i-- {
		for name, value := range layers[i] {
			out[name] = mergeValue(value, out[name])
		}
	}
	return out
}

func mergeValue(strong, weak any) any {
	sm, ok := strong.(map[string]any)
	if !ok || sm == nil {
		return clone.Value(strong)
	}
	wm, ok := weak.(map[string]any)
	if !ok {
		return clone.Value(strong)
	}
	merged := make(map[string]any, len(sm)+len(wm))
	for key, value := range wm {
		merged[key] = clone.Value(value)
	}
	for key, value := range sm {
		merged[key] = mergeValue(value, wm[key])
	}
	return merged
}

// OpenLayered loads every ref, merges the snapshots with refs[0] strongest and
// opens one scope seeded from the result. The scope is named after
// refs[0].Scope. Metas are returned in ref order; missing snapshots yield a
// zero Meta.
func (r Resolver) OpenLayered(ctx context.Context, parent cells.Accessor, refs []Ref, explicit []*cells.Cell, opts ...scope.Option) (*scope.Store, []Meta, error) {
	if r.Store == nil {
		return nil, nil, fmt.Errorf("state: store is required")
	}
	if r.Catalog == nil {
		return nil, nil, fmt.Errorf("state: catalog is required")
	}
	if len(refs) == 0 {
		return nil, nil, fmt.Errorf("state: at least one ref is required")
	}
	layers := make([]Snapshot, 0, len(refs))
	metas := make([]Meta, len(refs))
	for i, ref := range refs {
		snapshot, meta, ok, err := r.Store.Load(ctx, ref)
		if err != nil {
			return nil, nil, fmt.Errorf("state: load %q for scope %q: %w", ref.Domain, ref.Scope, err)
		}
		if ok {
			layers = append(layers, snapshot)
			metas[i] = meta
		}
	}
	merged := Merge(layers...)
	seeded, err := seedCells(merged, r.Catalog)
	if err != nil {
		return nil, nil, err
	}

	declared := append([]*cells.Cell(nil), explicit...)
	options := []scope.Option{scope.WithName(refs[0].Scope)}
	for _, c := range seeded {
		declared = append(declared, c.Cell)
		options = append(options, scope.WithValue(c.Cell, merged[c.name]))
	}
	options = append(options, opts...)

	scoped, err := scope.New(parent, declared, options...)
	if err != nil {
		return nil, nil, err
	}
	return scoped, metas, nil
}
