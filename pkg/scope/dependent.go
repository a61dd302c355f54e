package scope

import (
	"sync"

	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/internal/ordered"
	"github.com/goliatone/go-cells/pkg/activity"
)

type mode int

const (
	modeUnscoped mode = iota
	modeScoped
)

func (m mode) classification() Classification {
	if m == modeScoped {
		return DependentScoped
	}
	return DependentUnscoped
}

// dependent tracks a computed cell whose classification is discovered while
// it evaluates. Unscoped it is represented by the inherited cell, scoped by a
// clone owned by the scope. Subscribers attach to a relay listener that moves
// between the two.
type dependent struct {
	s    *Store
	orig *cells.Cell
	mode mode

	clone   *cells.Cell
	last    *cells.Cell
	settled *cells.Cell

	relay     *cells.Listener
	rep       *cells.Cell
	listeners *ordered.Map[int, func()]
	seq       int
	unhook    func()

	gen        uint64
	evaluating bool
	touched    bool
	routes     map[*cells.Cell]*cells.Cell
	err        error
}

func (s *Store) dependentFor(c *cells.Cell) *dependent {
	if d, ok := s.dependents[c]; ok {
		return d
	}
	d := &dependent{
		s:         s,
		orig:      c,
		listeners: ordered.NewMap[int, func()](),
		routes:    map[*cells.Cell]*cells.Cell{},
	}
	s.dependents[c] = d
	return d
}

// current classifies the cell and returns its representative. Each loop pass
// evaluates the side currently active and flips when that evaluation
// disagrees with the mode.
func (d *dependent) current() *cells.Cell {
	var rep *cells.Cell
	for pass := 0; rep == nil && pass < 2; pass++ {
		switch d.mode {
		case modeScoped:
			clone := d.ensureClone()
			_, _ = d.s.root.Peek(clone)
			if d.touched {
				rep = clone
			} else {
				d.flip(modeUnscoped)
			}
		default:
			base := d.s.inheritedRep(d.orig, nil)
			_, _ = d.s.root.Peek(base)
			if !d.s.inspect(base) {
				rep = base
			} else {
				d.flip(modeScoped)
			}
		}
	}
	if rep == nil {
		rep = d.representative()
	}
	if d.settled == nil {
		d.settled = rep
	}
	if rep != d.last {
		if d.last != nil {
			d.s.propagate(d.orig)
		}
		d.last = rep
	}
	return rep
}

// representative returns the active side without evaluating anything.
func (d *dependent) representative() *cells.Cell {
	if d.mode == modeScoped && d.clone != nil {
		return d.clone
	}
	return d.s.peekInherited(d.orig)
}

func (d *dependent) ensureClone() *cells.Cell {
	if d.clone != nil {
		return d.clone
	}
	opts := []cells.CloneOption{
		cells.CloneOwner(d.s),
		cells.CloneRead(d.read),
		cells.CloneRevalidate(d.stale),
	}
	if d.orig.HasCustomWrite() && !d.orig.IsValueHolding() {
		self := func() *cells.Cell { return d.clone }
		opts = append(opts, cells.CloneWrite(d.s.routedWrite(d.orig.WriteFunc(), d.orig, self, nil)))
	}
	d.clone = d.orig.Clone(opts...)
	d.s.byClone[d.clone] = d

	d.s.logger.Debug("scope clone created",
		"scope", d.s.label(),
		"cell", d.orig.Label(),
		"kind", "dependent",
	)
	d.s.metrics.CloneCreated(d.s.label(), "dependent")
	return d.clone
}

func (d *dependent) begin() {
	d.gen++
	d.evaluating = true
	d.touched = false
	d.routes = map[*cells.Cell]*cells.Cell{}
}

func (d *dependent) end() {
	d.evaluating = false
}

func (d *dependent) read(get cells.Getter) (any, error) {
	gen := d.gen
	return d.orig.ReadFunc()(func(dep *cells.Cell) (any, error) {
		return d.track(gen, get, dep)
	})
}

// track resolves one dependency read of the clone. Reads during the
// evaluation record the route; late reads only answer, and fail when they
// would have made the cell scoped.
func (d *dependent) track(gen uint64, get cells.Getter, dep *cells.Cell) (any, error) {
	if dep == nil {
		return get(dep)
	}
	if dep == d.orig || dep == d.clone {
		return get(d.clone)
	}
	target := d.s.resolve(dep, nil)
	if !d.evaluating || gen != d.gen {
		if target.Owner() == d.s && !d.touched {
			err := &ReclassificationError{Cell: d.orig, Dep: dep, Scope: d.s.label()}
			d.err = err
			d.s.logger.Warn("late read would reclassify cell",
				"scope", d.s.label(),
				"cell", d.orig.Label(),
				"dep", dep.Label(),
			)
			return nil, err
		}
		return get(target)
	}
	d.routes[dep] = target
	if target.Owner() == d.s {
		d.touched = true
	}
	return get(target)
}

// stale reports whether any dependency recorded at the last evaluation now
// resolves elsewhere.
func (d *dependent) stale() bool {
	for dep, target := range d.routes {
		if d.s.peek(dep, nil) != target {
			return true
		}
	}
	return false
}

func (d *dependent) flip(to mode) {
	from := d.mode.classification()
	d.mode = to
	d.s.pending.Add(d)

	s := d.s
	s.logger.Info("cell reclassified",
		"scope", s.label(),
		"cell", d.orig.Label(),
		"from", from.String(),
		"to", to.classification().String(),
	)
	s.metrics.Reclassified(s.label(), to.classification().String())
	s.emit(activity.BuildCellReclassifiedEvent(activity.ReclassificationInput{
		ScopeEventInput: activity.ScopeEventInput{Scope: s.context()},
		Cell:            d.orig.Label(),
		From:            from.String(),
		To:              to.classification().String(),
	}))
}

// settle runs during flush. It moves the relay to the current representative
// and queues a single notification for the move.
func (d *dependent) settle() {
	root := d.s.root
	rep := d.current()
	old := d.settled
	d.settled = rep

	var stale []*cells.Cell
	if old != nil && old != rep {
		for _, c := range root.Dependents(old) {
			if c.Origin() != nil && d.s.governs(c) {
				stale = append(stale, c)
			}
		}
	}

	if d.relay != nil && rep != d.rep {
		prev := d.rep
		root.Attach(rep, d.relay)
		root.Detach(prev, d.relay)
		d.rep = rep
		d.rehook(rep)
		root.Notify(d.relay)
		d.s.logger.Debug("scope listeners migrated",
			"scope", d.s.label(),
			"cell", d.orig.Label(),
			"listeners", d.listeners.Len(),
		)
	}
	for _, c := range stale {
		root.Invalidate(c)
	}
}

func (d *dependent) subscribe(fn func()) func() {
	d.seq++
	id := d.seq
	d.listeners.Set(id, fn)
	if d.relay == nil {
		d.relay = cells.NewListener(d.fanout)
		rep := d.current()
		d.s.root.Attach(rep, d.relay)
		d.rep = rep
		d.rehook(rep)
	}
	d.s.root.Flush()

	var once sync.Once
	return func() {
		once.Do(func() {
			if d.s.disposed {
				return
			}
			d.listeners.Delete(id)
			if d.listeners.Len() == 0 {
				d.detach()
			}
			d.s.root.Flush()
		})
	}
}

func (d *dependent) fanout() {
	fns := make([]func(), 0, d.listeners.Len())
	d.listeners.Each(func(_ int, fn func()) bool {
		fns = append(fns, fn)
		return true
	})
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

func (d *dependent) rehook(rep *cells.Cell) {
	if d.unhook != nil {
		d.unhook()
	}
	d.unhook = d.s.root.OnRead(rep, func() {
		d.s.pending.Add(d)
	})
}

func (d *dependent) detach() {
	if d.unhook != nil {
		d.unhook()
		d.unhook = nil
	}
	if d.relay == nil {
		return
	}
	d.s.root.Detach(d.rep, d.relay)
	d.relay, d.rep = nil, nil
}

func (d *dependent) release() {
	d.detach()
	d.listeners.Clear()
}

// settle migrates every dependent queued since the last flush iteration.
func (s *Store) settle() {
	for pass := 0; pass < maxSettlePasses && s.pending.Len() > 0; pass++ {
		batch := s.pending.Values()
		s.pending.Clear()
		for _, d := range batch {
			d.settle()
		}
	}
}

const maxSettlePasses = 4

// propagate queues the children's records for c after its representative
// here changed.
func (s *Store) propagate(c *cells.Cell) {
	for _, child := range s.children.Values() {
		if d := child.dependents[c]; d != nil {
			child.pending.Add(d)
		}
	}
}
