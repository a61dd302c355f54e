package cells

import "github.com/goliatone/go-cells/internal/ordered"

type hookKind int

const (
	hookRead hookKind = iota
	hookChange
	hookMount
	hookUnmount
	hookKinds
)

// hookSet holds per-cell store hooks plus flush hooks. Hooks fire in
// registration order.
type hookSet struct {
	seq   int
	cells [hookKinds]map[*Cell]*ordered.Map[int, func()]
	flush *ordered.Map[int, func()]
}

func newHookSet() *hookSet {
	h := &hookSet{flush: ordered.NewMap[int, func()]()}
	for i := range h.cells {
		h.cells[i] = map[*Cell]*ordered.Map[int, func()]{}
	}
	return h
}

func (h *hookSet) add(kind hookKind, c *Cell, fn func()) func() {
	if fn == nil {
		return func() {}
	}
	h.seq++
	id := h.seq
	byCell := h.cells[kind]
	fns, ok := byCell[c]
	if !ok {
		fns = ordered.NewMap[int, func()]()
		byCell[c] = fns
	}
	fns.Set(id, fn)
	return func() {
		if fns, ok := byCell[c]; ok {
			fns.Delete(id)
			if fns.Len() == 0 {
				delete(byCell, c)
			}
		}
	}
}

func (h *hookSet) addFlush(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	h.seq++
	id := h.seq
	h.flush.Set(id, fn)
	return func() {
		h.flush.Delete(id)
	}
}

func (h *hookSet) fire(kind hookKind, c *Cell) {
	fns, ok := h.cells[kind][c]
	if !ok {
		return
	}
	for _, id := range fns.Keys() {
		if fn, ok := fns.Get(id); ok {
			fn()
		}
	}
}

func (h *hookSet) fireFlush() {
	for _, id := range h.flush.Keys() {
		if fn, ok := h.flush.Get(id); ok {
			fn()
		}
	}
}

// OnRead registers fn to run after every evaluation of c's read function.
func (s *Store) OnRead(c *Cell, fn func()) func() {
	return s.eng.hooks.add(hookRead, s.in.Resolve(c), fn)
}

// OnChange registers fn to run whenever c's epoch moves.
func (s *Store) OnChange(c *Cell, fn func()) func() {
	return s.eng.hooks.add(hookChange, s.in.Resolve(c), fn)
}

// OnMount registers fn to run when c is mounted.
func (s *Store) OnMount(c *Cell, fn func()) func() {
	return s.eng.hooks.add(hookMount, s.in.Resolve(c), fn)
}

// OnUnmount registers fn to run when c is unmounted.
func (s *Store) OnUnmount(c *Cell, fn func()) func() {
	return s.eng.hooks.add(hookUnmount, s.in.Resolve(c), fn)
}

// OnFlush registers fn to run once per flush iteration, after invalidated
// cells are recomputed and before listeners are collected.
func (s *Store) OnFlush(fn func()) func() {
	return s.eng.hooks.addFlush(fn)
}
