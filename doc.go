// Package cells is a small reactive state engine.
//
// Cells describe state and how to derive it; a Store holds one CellState per
// cell, tracks the dependencies each read function touches and notifies
// subscribers after every write. Stores can be derived with replacement
// internals, which is how package scope overlays isolated state on a shared
// graph.
//
//	count := cells.NewPrimitive(0)
//	double := cells.NewComputed(func(get cells.Getter) (any, error) {
//		v, err := get(count)
//		if err != nil {
//			return nil, err
//		}
//		return v.(int) * 2, nil
//	})
//	store := cells.New()
//	unsub := store.Sub(double, func() { fmt.Println(store.Get(double)) })
//	defer unsub()
//	store.Set(count, 2)
package cells
