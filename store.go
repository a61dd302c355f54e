package cells

import (
	"sync"

	"github.com/goliatone/go-cells/internal/ordered"
)

// Accessor is the read/write/subscribe surface shared by stores and scopes.
type Accessor interface {
	Get(c *Cell) (any, error)
	Set(c *Cell, args ...any) (any, error)
	Sub(c *Cell, fn func()) func()
}

// Internals is the bundle a derived store may replace. Every internal
// operation of a store goes through it.
type Internals struct {
	// Resolve maps a cell handed to a public entry point to the cell whose
	// state backs it.
	Resolve func(c *Cell) *Cell
	// State returns the state record of an already resolved cell.
	State func(c *Cell) *CellState
	// Read evaluates c's read function.
	Read func(c *Cell, get Getter) (any, error)
	// Write evaluates c's write function.
	Write func(c *Cell, get Getter, set Setter, args ...any) (any, error)
}

type engine struct {
	states       map[*Cell]*CellState
	invalidated  map[*Cell]int
	forced       *ordered.Set[*Cell]
	changed      *ordered.Set[*Cell]
	notify       *ordered.Set[*Listener]
	mountQueue   []func()
	unmountQueue []func()
	hooks        *hookSet
	owners       map[any]*Store
	flushing     bool
}

// Store holds cell states and evaluates reads and writes. Derived stores share
// the state tables of the store they were derived from. A Store is not safe
// for concurrent use.
type Store struct {
	eng    *engine
	in     Internals
	parent *Store
	owner  any
}

var _ Accessor = (*Store)(nil)

// New constructs an empty root store.
func New() *Store {
	eng := &engine{
		states:      map[*Cell]*CellState{},
		invalidated: map[*Cell]int{},
		forced:      ordered.NewSet[*Cell](),
		changed:     ordered.NewSet[*Cell](),
		notify:      ordered.NewSet[*Listener](),
		hooks:       newHookSet(),
		owners:      map[any]*Store{},
	}
	s := &Store{eng: eng}
	s.in = Internals{
		Resolve: func(c *Cell) *Cell { return c },
		State:   eng.ensure,
		Read:    defaultRead,
		Write:   defaultWrite,
	}
	return s
}

func (e *engine) ensure(c *Cell) *CellState {
	st, ok := e.states[c]
	if !ok {
		st = newCellState()
		e.states[c] = st
	}
	return st
}

func defaultRead(c *Cell, get Getter) (any, error) {
	if c.read != nil {
		return c.read(get)
	}
	return get(c)
}

func defaultWrite(c *Cell, get Getter, set Setter, args ...any) (any, error) {
	if c.write != nil {
		return c.write(get, set, args...)
	}
	if !c.holding {
		return nil, cellError("write", c, ErrNotWritable)
	}
	return set(c, args...)
}

// DeriveOption configures Derive.
type DeriveOption func(*deriveConfig)

type deriveConfig struct {
	owner any
}

// OwnedBy makes the derived internals authoritative for every cell whose
// owner is owner, whichever store triggers the evaluation.
func OwnedBy(owner any) DeriveOption {
	return func(cfg *deriveConfig) {
		cfg.owner = owner
	}
}

// Derive returns a store sharing s's state tables whose internals are
// fn(s.Internals()). Nil fields in the returned bundle fall back to s's.
func (s *Store) Derive(fn func(Internals) Internals, opts ...DeriveOption) *Store {
	cfg := deriveConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	in := s.in
	if fn != nil {
		in = fn(s.in)
	}
	if in.Resolve == nil {
		in.Resolve = s.in.Resolve
	}
	if in.State == nil {
		in.State = s.in.State
	}
	if in.Read == nil {
		in.Read = s.in.Read
	}
	if in.Write == nil {
		in.Write = s.in.Write
	}
	d := &Store{eng: s.eng, in: in, parent: s, owner: cfg.owner}
	if cfg.owner != nil {
		s.eng.owners[cfg.owner] = d
	}
	return d
}

// Internals returns the store's internals bundle.
func (s *Store) Internals() Internals {
	return s.in
}

// Parent returns the store s was derived from, nil for a root store.
func (s *Store) Parent() *Store {
	return s.parent
}

// Root returns the root store of the derivation chain.
func (s *Store) Root() *Store {
	for s.parent != nil {
		s = s.parent
	}
	return s
}

// Dispose detaches a derived store from its owner registration.
func (s *Store) Dispose() {
	if s.owner == nil {
		return
	}
	if current, ok := s.eng.owners[s.owner]; ok && current == s {
		delete(s.eng.owners, s.owner)
	}
}

func (s *Store) traps(c *Cell) Internals {
	if c.owner != nil {
		if owned, ok := s.eng.owners[c.owner]; ok {
			return owned.in
		}
	}
	return s.in
}

func (s *Store) state(c *Cell) *CellState {
	return s.traps(c).State(c)
}

func (s *Store) lookup(c *Cell) *CellState {
	return s.eng.states[c]
}

// Get returns the current value of c.
func (s *Store) Get(c *Cell) (any, error) {
	if c == nil {
		return nil, ErrNilCell
	}
	c = s.in.Resolve(c)
	st := s.readState(c)
	value, err := st.value, st.err
	s.flush()
	return value, err
}

// Peek returns the current value of c without flushing pending notifications.
func (s *Store) Peek(c *Cell) (any, error) {
	if c == nil {
		return nil, ErrNilCell
	}
	st := s.readState(s.in.Resolve(c))
	return st.value, st.err
}

// State returns the state record backing c after bringing it up to date.
func (s *Store) State(c *Cell) *CellState {
	return s.readState(s.in.Resolve(c))
}

// Set runs c's write function with args.
func (s *Store) Set(c *Cell, args ...any) (any, error) {
	if c == nil {
		return nil, ErrNilCell
	}
	c = s.in.Resolve(c)
	defer s.flush()
	return s.writeState(c, args...)
}

// Sub subscribes fn to changes of c and returns the unsubscribe func.
func (s *Store) Sub(c *Cell, fn func()) func() {
	if c == nil {
		return func() {}
	}
	c = s.in.Resolve(c)
	l := NewListener(fn)
	s.attach(c, l)
	s.flush()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.detach(c, l)
			s.flush()
		})
	}
}

// Attach mounts c and adds l to its listeners without flushing.
func (s *Store) Attach(c *Cell, l *Listener) {
	if c == nil || l == nil {
		return
	}
	s.attach(s.in.Resolve(c), l)
}

// Detach removes l from c and unmounts c when nothing else holds it. It does
// not flush.
func (s *Store) Detach(c *Cell, l *Listener) {
	if c == nil || l == nil {
		return
	}
	s.detach(s.in.Resolve(c), l)
}

func (s *Store) attach(c *Cell, l *Listener) {
	m := s.mount(c)
	m.listeners.Add(l)
}

func (s *Store) detach(c *Cell, l *Listener) {
	st := s.lookup(c)
	if st == nil || st.mounted == nil {
		return
	}
	st.mounted.listeners.Delete(l)
	s.unmount(c)
}

// Notify queues l for the next flush. A listener queued here and also
// reached through a changed cell is still called once.
func (s *Store) Notify(l *Listener) {
	if l != nil {
		s.eng.notify.Add(l)
	}
}

// Flush recomputes invalidated cells and delivers pending notifications.
func (s *Store) Flush() {
	s.flush()
}

// Invalidate forces c to re-evaluate on its next read even when none of its
// dependencies moved. Mounted cells are recomputed on the next flush.
func (s *Store) Invalidate(c *Cell) {
	if c == nil {
		return
	}
	c = s.in.Resolve(c)
	s.eng.forced.Add(c)
	st := s.lookup(c)
	if st == nil || st.mounted == nil {
		return
	}
	s.eng.invalidated[c] = st.epoch
	s.invalidateDependents(c)
}

// Mounted reports whether c currently has listeners or mounted dependents.
func (s *Store) Mounted(c *Cell) bool {
	st := s.lookup(s.in.Resolve(c))
	return st != nil && st.mounted != nil
}

// Dependencies lists the cells c read during its last evaluation.
func (s *Store) Dependencies(c *Cell) []*Cell {
	st := s.lookup(s.in.Resolve(c))
	if st == nil {
		return nil
	}
	return st.deps.Keys()
}

// Dependents lists the mounted cells that depend on c.
func (s *Store) Dependents(c *Cell) []*Cell {
	st := s.lookup(s.in.Resolve(c))
	if st == nil || st.mounted == nil {
		return nil
	}
	return st.mounted.dependents.Values()
}

// Release drops the state of an unmounted cell, reporting whether it did.
func (s *Store) Release(c *Cell) bool {
	c = s.in.Resolve(c)
	st := s.lookup(c)
	if st == nil || st.mounted != nil {
		return false
	}
	delete(s.eng.states, c)
	delete(s.eng.invalidated, c)
	s.eng.forced.Delete(c)
	return true
}

func (s *Store) readState(c *Cell) *CellState {
	st := s.state(c)
	if st.initialized && !s.eng.forced.Has(c) && (c.revalidate == nil || !c.revalidate()) {
		if st.mounted != nil {
			if epoch, ok := s.eng.invalidated[c]; !ok || epoch != st.epoch {
				return st
			}
		}
		fresh := true
		for _, dep := range st.deps.Keys() {
			observed, _ := st.deps.Get(dep)
			if s.readState(dep).epoch != observed {
				fresh = false
				break
			}
		}
		if fresh {
			return st
		}
	}
	s.eng.forced.Delete(c)
	s.evaluate(c, st)
	return st
}

func (s *Store) evaluate(c *Cell, st *CellState) {
	prevEpoch := st.epoch
	st.deps.Clear()
	done := false
	get := func(dep *Cell) (any, error) {
		if dep == nil {
			return nil, ErrNilCell
		}
		if dep == c {
			if !st.initialized {
				if !c.holding {
					return nil, cellError("read", c, ErrNoInitialValue)
				}
				st.setValue(c, c.init)
			}
			return st.value, st.err
		}
		ds := s.readState(dep)
		if !done {
			st.deps.Set(dep, ds.epoch)
		}
		return ds.value, ds.err
	}
	value, err := s.traps(c).Read(c, get)
	done = true
	if err != nil {
		st.setError(err)
	} else {
		st.setValue(c, value)
	}
	s.eng.hooks.fire(hookRead, c)
	if prevEpoch != st.epoch {
		if epoch, ok := s.eng.invalidated[c]; ok && epoch == prevEpoch {
			s.eng.invalidated[c] = st.epoch
			if s.eng.changed.Add(c) {
				s.eng.hooks.fire(hookChange, c)
			}
		}
	}
	if st.mounted != nil {
		s.mountDependencies(c, st)
	}
}

func (s *Store) writeState(c *Cell, args ...any) (any, error) {
	get := func(dep *Cell) (any, error) {
		if dep == nil {
			return nil, ErrNilCell
		}
		st := s.readState(dep)
		return st.value, st.err
	}
	set := func(target *Cell, targs ...any) (any, error) {
		if target == nil {
			return nil, ErrNilCell
		}
		if target == c {
			if !c.holding {
				return nil, cellError("write", c, ErrNotWritable)
			}
			return nil, s.setSelf(c, targs...)
		}
		return s.writeState(target, targs...)
	}
	return s.in.Write(c, get, set, args...)
}

func (s *Store) setSelf(c *Cell, args ...any) error {
	var value any
	if len(args) > 0 {
		value = args[0]
	}
	st := s.state(c)
	if update, ok := value.(func(any) any); ok {
		current := s.readState(c)
		if current.err != nil {
			return current.err
		}
		value = update(current.value)
	}
	prevEpoch := st.epoch
	st.setValue(c, value)
	s.invalidateDependents(c)
	if prevEpoch != st.epoch && s.eng.changed.Add(c) {
		s.eng.hooks.fire(hookChange, c)
	}
	return nil
}

func (s *Store) invalidateDependents(c *Cell) {
	stack := []*Cell{c}
	for len(stack) > 0 {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		st := s.lookup(a)
		if st == nil || st.mounted == nil {
			continue
		}
		for _, d := range st.mounted.dependents.Values() {
			ds := s.state(d)
			if epoch, ok := s.eng.invalidated[d]; ok && epoch == ds.epoch {
				continue
			}
			s.eng.invalidated[d] = ds.epoch
			stack = append(stack, d)
		}
	}
}

type pendingRecompute struct {
	cell  *Cell
	state *CellState
	epoch int
}

func (s *Store) recompute() {
	if s.eng.changed.Len() == 0 && s.eng.forced.Len() == 0 {
		return
	}
	var sorted []pendingRecompute
	visiting := map[*Cell]bool{}
	visited := map[*Cell]bool{}
	stack := s.eng.changed.Values()
	for _, c := range s.eng.forced.Values() {
		if st := s.lookup(c); st != nil && st.mounted != nil {
			stack = append(stack, c)
		}
	}
	for len(stack) > 0 {
		a := stack[len(stack)-1]
		st := s.state(a)
		if visited[a] {
			stack = stack[:len(stack)-1]
			continue
		}
		if visiting[a] {
			if epoch, ok := s.eng.invalidated[a]; ok && epoch == st.epoch {
				sorted = append(sorted, pendingRecompute{cell: a, state: st, epoch: st.epoch})
			}
			visited[a] = true
			stack = stack[:len(stack)-1]
			continue
		}
		visiting[a] = true
		if st.mounted != nil {
			for _, d := range st.mounted.dependents.Values() {
				if !visiting[d] {
					stack = append(stack, d)
				}
			}
		}
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		entry := sorted[i]
		changedDeps := s.eng.forced.Has(entry.cell)
		if !changedDeps {
			for _, dep := range entry.state.deps.Keys() {
				if dep != entry.cell && s.eng.changed.Has(dep) {
					changedDeps = true
					break
				}
			}
		}
		if changedDeps {
			s.readState(entry.cell)
			s.mountDependencies(entry.cell, entry.state)
			if entry.epoch != entry.state.epoch && s.eng.changed.Add(entry.cell) {
				s.eng.hooks.fire(hookChange, entry.cell)
			}
		}
		delete(s.eng.invalidated, entry.cell)
	}
}

func (s *Store) mount(c *Cell) *mountRecord {
	st := s.state(c)
	if st.mounted != nil {
		return st.mounted
	}
	s.readState(c)
	for _, dep := range st.deps.Keys() {
		dm := s.mount(dep)
		dm.dependents.Add(c)
	}
	m := &mountRecord{
		listeners:  ordered.NewSet[*Listener](),
		deps:       ordered.NewSet(st.deps.Keys()...),
		dependents: ordered.NewSet[*Cell](),
	}
	st.mounted = m
	s.eng.hooks.fire(hookMount, c)
	if c.IsWritable() && c.onMount != nil {
		s.eng.mountQueue = append(s.eng.mountQueue, func() {
			unmount := c.onMount(func(args ...any) (any, error) {
				return s.writeState(c, args...)
			})
			if unmount != nil {
				m.unmount = unmount
			}
		})
	}
	return m
}

func (s *Store) unmount(c *Cell) *mountRecord {
	st := s.lookup(c)
	if st == nil || st.mounted == nil {
		return nil
	}
	m := st.mounted
	if m.listeners.Len() > 0 {
		return m
	}
	for _, d := range m.dependents.Values() {
		if ds := s.lookup(d); ds != nil && ds.mounted != nil && ds.mounted.deps.Has(c) {
			return m
		}
	}
	if m.unmount != nil {
		s.eng.unmountQueue = append(s.eng.unmountQueue, m.unmount)
	}
	st.mounted = nil
	s.eng.hooks.fire(hookUnmount, c)
	for _, dep := range m.deps.Values() {
		if dm := s.unmount(dep); dm != nil {
			dm.dependents.Delete(c)
		}
	}
	return nil
}

func (s *Store) mountDependencies(c *Cell, st *CellState) {
	m := st.mounted
	if m == nil {
		return
	}
	for _, dep := range st.deps.Keys() {
		if m.deps.Has(dep) {
			continue
		}
		dm := s.mount(dep)
		dm.dependents.Add(c)
		m.deps.Add(dep)
		observed, _ := st.deps.Get(dep)
		if s.state(dep).epoch != observed {
			s.eng.changed.Add(dep)
			s.invalidateDependents(dep)
		}
	}
	for _, dep := range m.deps.Values() {
		if _, ok := st.deps.Get(dep); ok {
			continue
		}
		m.deps.Delete(dep)
		if dm := s.unmount(dep); dm != nil {
			dm.dependents.Delete(c)
		}
	}
}

func (s *Store) flush() {
	if s.eng.flushing {
		return
	}
	s.eng.flushing = true
	defer func() {
		s.eng.flushing = false
	}()
	for {
		s.recompute()
		s.eng.hooks.fireFlush()
		s.recompute()

		listeners := ordered.NewSet[*Listener]()
		for _, c := range s.eng.changed.Values() {
			if st := s.lookup(c); st != nil && st.mounted != nil {
				for _, l := range st.mounted.listeners.Values() {
					listeners.Add(l)
				}
			}
		}
		for _, l := range s.eng.notify.Values() {
			listeners.Add(l)
		}
		s.eng.changed.Clear()
		s.eng.notify.Clear()
		unmounts, mounts := s.eng.unmountQueue, s.eng.mountQueue
		s.eng.unmountQueue, s.eng.mountQueue = nil, nil

		if listeners.Len() == 0 && len(unmounts) == 0 && len(mounts) == 0 {
			return
		}
		for _, fn := range unmounts {
			fn()
		}
		for _, fn := range mounts {
			fn()
		}
		for _, l := range listeners.Values() {
			l.call()
		}
	}
}
