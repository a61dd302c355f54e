package scope

import "github.com/goliatone/go-cells"

// coordinate binds the custom write of the value-holding clone r to the scope
// that produced it for one write evaluated in s. Such clones carry the
// unbound write of their original, so an uncoordinated write would read and
// update the original cell instead of r. The returned func restores the
// previous binding and must always run.
func (s *Store) coordinate(r *cells.Cell) func() {
	owner := ownerScope(r)
	if owner == nil || r.Origin() == nil {
		return func() {}
	}
	orig := r.Root()
	if !orig.IsValueHolding() || !orig.HasCustomWrite() {
		return func() {}
	}

	// Static clones resolve their dependencies with the owner as calling
	// context, dependent clones as entry points.
	var ctx *Store
	if owner.reg.static(r) {
		ctx = owner
	}
	prev, hadPrev := s.overrides[r]
	s.overrides[r] = owner.routedWrite(orig.WriteFunc(), orig, func() *cells.Cell { return r }, ctx)

	if owner != s {
		s.logger.Debug("scope write override installed",
			"scope", s.label(),
			"cell", orig.Label(),
			"owner", ownerLabel(owner),
		)
		s.metrics.WriteOverride(s.label())
	}

	return func() {
		if hadPrev {
			s.overrides[r] = prev
			return
		}
		delete(s.overrides, r)
	}
}

func ownerLabel(owner *Store) string {
	if owner == nil {
		return "root"
	}
	return owner.label()
}
