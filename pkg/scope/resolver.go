package scope

import (
	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/internal/clone"
)

// resolve maps c to the cell that backs it in this scope. ctx is the scope
// whose explicit or implicit cell is being evaluated, nil at entry points.
func (s *Store) resolve(c *cells.Cell, ctx *Store) *cells.Cell {
	r, d := s.route(c, ctx)
	if d != nil {
		return d.current()
	}
	return r
}

// route resolves c, handing back the dependent record instead of its
// representative when c is classified at run time.
func (s *Store) route(c *cells.Cell, ctx *Store) (*cells.Cell, *dependent) {
	if c == nil || c.Origin() != nil {
		return c, nil
	}
	if s.reg.isExplicit(c) {
		return s.cloneFor(c, Explicit), nil
	}
	if ctx == s {
		s.reg.markImplicit(c)
		return s.cloneFor(c, Implicit), nil
	}

	key := routeKey{cell: c, ctx: ctx}
	if r, ok := s.reg.inherited[key]; ok {
		return r, nil
	}
	if !c.IsComputed() {
		r := c
		if s.parent != nil {
			r = s.parent.resolve(c, ctx)
		}
		s.reg.inherited[key] = r
		return r, nil
	}
	if base := s.inheritedRep(c, ctx); isStaticClone(base) {
		s.reg.inherited[key] = base
		return base, nil
	}
	return nil, s.dependentFor(c)
}

// peek is resolve without side effects. It returns nil for routes that were
// never taken.
func (s *Store) peek(c *cells.Cell, ctx *Store) *cells.Cell {
	if c == nil || c.Origin() != nil {
		return c
	}
	if s.reg.isExplicit(c) || ctx == s {
		return s.reg.clones[c]
	}
	if r, ok := s.reg.inherited[routeKey{cell: c, ctx: ctx}]; ok {
		return r
	}
	if c.IsComputed() {
		if d := s.dependents[c]; d != nil {
			return d.representative()
		}
	}
	if s.parent != nil {
		return s.parent.peek(c, ctx)
	}
	return c
}

func (s *Store) inheritedRep(c *cells.Cell, ctx *Store) *cells.Cell {
	if s.parent == nil {
		return c
	}
	return s.parent.resolve(c, ctx)
}

func (s *Store) peekInherited(c *cells.Cell) *cells.Cell {
	if s.parent == nil {
		return c
	}
	if r := s.parent.peek(c, nil); r != nil {
		return r
	}
	return c
}

// cloneFor returns the explicit or implicit clone of c, creating it on first
// use. Clones read and write through this scope's resolver with the scope as
// calling context, which is how dependencies of scoped cells become implicit.
// Custom writes of value-holding clones are bound per write by coordinate.
func (s *Store) cloneFor(c *cells.Cell, kind Classification) *cells.Cell {
	if existing, ok := s.reg.clones[c]; ok {
		if kind == Explicit {
			s.reg.kinds[existing] = Explicit
		}
		return existing
	}

	var self *cells.Cell
	opts := []cells.CloneOption{cells.CloneOwner(s)}
	if c.IsValueHolding() {
		init := clone.Value(c.Init())
		if v, ok := s.reg.values[c]; ok {
			init = v
		}
		opts = append(opts, cells.CloneInit(init))
	}
	if c.IsComputed() {
		opts = append(opts, cells.CloneRead(s.scopedRead(c.ReadFunc(), s)))
	}
	if c.HasCustomWrite() && !c.IsValueHolding() {
		opts = append(opts, cells.CloneWrite(s.routedWrite(c.WriteFunc(), c, func() *cells.Cell { return self }, s)))
	}
	self = c.Clone(opts...)
	s.reg.clones[c] = self
	s.reg.kinds[self] = kind

	s.logger.Debug("scope clone created",
		"scope", s.label(),
		"cell", c.Label(),
		"kind", kind.String(),
	)
	s.metrics.CloneCreated(s.label(), kind.String())
	return self
}

func (s *Store) scopedRead(read cells.ReadFunc, ctx *Store) cells.ReadFunc {
	return func(get cells.Getter) (any, error) {
		return read(func(dep *cells.Cell) (any, error) {
			return get(s.resolve(dep, ctx))
		})
	}
}

// routedWrite wraps write so every cell it reads or writes is resolved in s.
// Writes to orig land on self.
func (s *Store) routedWrite(write cells.WriteFunc, orig *cells.Cell, self func() *cells.Cell, ctx *Store) cells.WriteFunc {
	target := func(c *cells.Cell) *cells.Cell {
		if c == orig {
			return self()
		}
		return s.resolve(c, ctx)
	}
	return func(get cells.Getter, set cells.Setter, args ...any) (any, error) {
		return write(
			func(dep *cells.Cell) (any, error) {
				return get(target(dep))
			},
			func(dep *cells.Cell, values ...any) (any, error) {
				return set(target(dep), values...)
			},
			args...,
		)
	}
}

func ownerScope(c *cells.Cell) *Store {
	if c == nil {
		return nil
	}
	s, _ := c.Owner().(*Store)
	return s
}

// isStaticClone reports whether c is an explicit or implicit clone of some
// scope.
func isStaticClone(c *cells.Cell) bool {
	owner := ownerScope(c)
	return owner != nil && owner.reg.static(c)
}

// governs reports whether c is owned by s or one of its descendants.
func (s *Store) governs(c *cells.Cell) bool {
	for owner := ownerScope(c); owner != nil; owner = owner.parent {
		if owner == s {
			return true
		}
	}
	return false
}

// inspect walks the recorded dependencies of an unscoped representative and
// reports whether any of them is explicit here. Static clones of ancestors are
// leaves.
func (s *Store) inspect(rep *cells.Cell) bool {
	seen := map[*cells.Cell]bool{rep: true}
	stack := []*cells.Cell{rep}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range s.root.Dependencies(c) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if s.reg.isExplicit(dep.Root()) {
				return true
			}
			if isStaticClone(dep) || !dep.IsComputed() {
				continue
			}
			stack = append(stack, dep)
		}
	}
	return false
}
