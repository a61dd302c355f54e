package scope

import "github.com/goliatone/go-cells"

// overlay builds the internals of the derived store. Entry points resolve
// through the scope; state, read and write traps stay those of the parent
// except for cells the scope owns, which the engine dispatches here whichever
// store started the evaluation. Every write, nested ones included, passes
// through the write coordinator first.
func (s *Store) overlay(base cells.Internals) cells.Internals {
	return cells.Internals{
		Resolve: func(c *cells.Cell) *cells.Cell {
			return s.resolve(c, nil)
		},
		State: func(c *cells.Cell) *cells.CellState {
			if c.Owner() == s {
				s.owned.Add(c)
			}
			return base.State(c)
		},
		Read: func(c *cells.Cell, get cells.Getter) (any, error) {
			if d, ok := s.byClone[c]; ok {
				d.begin()
				defer d.end()
			}
			return base.Read(c, get)
		},
		Write: func(c *cells.Cell, get cells.Getter, set cells.Setter, args ...any) (any, error) {
			restore := s.coordinate(c)
			defer restore()
			if write, ok := s.overrides[c]; ok {
				return write(get, set, args...)
			}
			return base.Write(c, get, set, args...)
		},
	}
}
