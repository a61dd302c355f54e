package scope

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/internal/ordered"
	"github.com/goliatone/go-cells/pkg/activity"
	"github.com/google/uuid"
)

// Store is the overlay store of one scope. It exposes the same Get, Set and
// Sub surface as cells.Store.
type Store struct {
	id     string
	name   string
	parent *Store
	root   *cells.Store
	store  *cells.Store
	reg    *registry

	dependents map[*cells.Cell]*dependent
	byClone    map[*cells.Cell]*dependent
	pending    *ordered.Set[*dependent]
	overrides  map[*cells.Cell]cells.WriteFunc
	owned      *ordered.Set[*cells.Cell]
	subs       *ordered.Map[int, subscription]
	subSeq     int
	children   *ordered.Set[*Store]
	unsubs     []func()
	disposed   bool

	logger   *slog.Logger
	metrics  Metrics
	activity *activity.Emitter
}

type subscription struct {
	cell     *cells.Cell
	listener *cells.Listener
}

var _ cells.Accessor = (*Store)(nil)

// New creates a scope over parent declaring explicit as scoped. parent must be
// a *cells.Store or another *Store.
func New(parent cells.Accessor, explicit []*cells.Cell, opts ...Option) (*Store, error) {
	cfg := applyOptions(opts)

	var (
		base        *cells.Store
		parentScope *Store
	)
	switch p := parent.(type) {
	case *cells.Store:
		if p == nil {
			return nil, ErrUnsupportedParent
		}
		base = p
	case *Store:
		if p == nil {
			return nil, ErrUnsupportedParent
		}
		if p.disposed {
			return nil, p.fail("new", nil, ErrScopeDisposed)
		}
		base, parentScope = p.store, p
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedParent, parent)
	}

	for i, c := range explicit {
		if c == nil {
			return nil, fmt.Errorf("scope: explicit cell %d: %w", i, cells.ErrNilCell)
		}
	}

	s := &Store{
		id:         uuid.NewString(),
		name:       cfg.name,
		parent:     parentScope,
		root:       base.Root(),
		reg:        newRegistry(explicit),
		dependents: map[*cells.Cell]*dependent{},
		byClone:    map[*cells.Cell]*dependent{},
		pending:    ordered.NewSet[*dependent](),
		overrides:  map[*cells.Cell]cells.WriteFunc{},
		owned:      ordered.NewSet[*cells.Cell](),
		subs:       ordered.NewMap[int, subscription](),
		children:   ordered.NewSet[*Store](),
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		activity:   cfg.activity,
	}
	for _, feed := range cfg.families {
		for _, member := range feed.Members() {
			s.reg.explicit.Add(member)
		}
	}
	for _, c := range cfg.order {
		if c == nil || !s.reg.isExplicit(c) || !c.IsValueHolding() {
			return nil, s.fail("new", c, ErrInitialValue)
		}
		s.reg.values[c] = cfg.values[c]
	}
	for _, feed := range cfg.families {
		s.unsubs = append(s.unsubs, feed.Listen(s.onFamily))
	}

	s.store = base.Derive(s.overlay, cells.OwnedBy(s))
	s.unsubs = append(s.unsubs, s.root.OnFlush(s.settle))
	if parentScope != nil {
		parentScope.children.Add(s)
	}

	s.logger.Info("scope created",
		"scope", s.label(),
		"id", s.id,
		"explicit", s.reg.explicit.Len(),
	)
	s.metrics.ScopeCreated(s.label())
	s.emit(activity.BuildScopeCreatedEvent(activity.ScopeEventInput{
		Scope:    s.context(),
		Explicit: labels(s.reg.explicit.Values()),
	}))
	return s, nil
}

// ID returns the scope's unique identifier.
func (s *Store) ID() string { return s.id }

// Name returns the name given with WithName.
func (s *Store) Name() string { return s.name }

// Parent returns the enclosing scope, nil when the scope sits directly on a
// cells.Store.
func (s *Store) Parent() *Store { return s.parent }

// Root returns the root cells store of the chain.
func (s *Store) Root() *cells.Store { return s.root }

// Disposed reports whether Cleanup ran.
func (s *Store) Disposed() bool { return s.disposed }

// Explicit lists the explicit cells, family members included.
func (s *Store) Explicit() []*cells.Cell {
	return s.reg.explicit.Values()
}

// Get returns the value of c as seen from the scope.
func (s *Store) Get(c *cells.Cell) (any, error) {
	if err := s.guard("get", c); err != nil {
		return nil, err
	}
	value, err := s.store.Get(c)
	if d := s.dependents[c]; d != nil && d.err != nil {
		value, err = nil, d.err
		d.err = nil
	}
	if err != nil {
		return value, s.fail("get", c, err)
	}
	return value, nil
}

// Set writes c inside the scope.
func (s *Store) Set(c *cells.Cell, args ...any) (any, error) {
	if err := s.guard("set", c); err != nil {
		return nil, err
	}
	target, d := s.route(c, nil)
	if d != nil {
		target = d.ensureClone()
	}
	value, err := s.store.Set(target, args...)
	if err != nil {
		return value, s.fail("set", c, err)
	}
	return value, nil
}

// Sub subscribes fn to changes of c as seen from the scope. Subscribing to a
// disposed scope is a no-op.
func (s *Store) Sub(c *cells.Cell, fn func()) func() {
	if s.guard("sub", c) != nil {
		return func() {}
	}
	target, d := s.route(c, nil)
	if d != nil {
		return d.subscribe(fn)
	}

	l := cells.NewListener(fn)
	s.subSeq++
	id := s.subSeq
	s.subs.Set(id, subscription{cell: target, listener: l})
	s.store.Attach(target, l)
	s.store.Flush()

	var once sync.Once
	return func() {
		once.Do(func() {
			if s.disposed {
				return
			}
			s.subs.Delete(id)
			s.store.Detach(target, l)
			s.store.Flush()
		})
	}
}

// Resolve returns the cell that backs c in this scope: a clone for scoped
// cells, the inherited or original cell otherwise.
func (s *Store) Resolve(c *cells.Cell) *cells.Cell {
	if c == nil || s.disposed {
		return c
	}
	return s.resolve(c, nil)
}

// State returns the state record backing c in this scope.
func (s *Store) State(c *cells.Cell) *cells.CellState {
	if c == nil || s.disposed {
		return nil
	}
	return s.store.State(c)
}

// Dependencies lists the cells the scoped representative of c read during
// its last evaluation.
func (s *Store) Dependencies(c *cells.Cell) []*cells.Cell {
	if c == nil || s.disposed {
		return nil
	}
	return s.root.Dependencies(s.resolve(c, nil))
}

// Classify reports how the scope treats c. Computed cells are resolved first,
// which may evaluate them.
func (s *Store) Classify(c *cells.Cell) Classification {
	if c == nil || s.disposed {
		return Unscoped
	}
	if s.reg.isExplicit(c) {
		return Explicit
	}
	if s.reg.isImplicit(c) {
		return Implicit
	}
	if c.IsComputed() && c.Origin() == nil {
		s.resolve(c, nil)
	}
	if d := s.dependents[c]; d != nil {
		if d.mode == modeScoped {
			return DependentScoped
		}
		if s.parent != nil && s.parent.IsScoped(c) {
			return Inherited
		}
		return DependentUnscoped
	}
	if s.parent != nil && s.parent.IsScoped(c) {
		return Inherited
	}
	return Unscoped
}

// IsScoped reports whether c is explicit, implicit or dependent-scoped here
// or in an ancestor.
func (s *Store) IsScoped(c *cells.Cell) bool {
	if c == nil || s.disposed {
		return false
	}
	if s.reg.isExplicit(c) || s.reg.isImplicit(c) {
		return true
	}
	if d := s.dependents[c]; d != nil && d.mode == modeScoped {
		return true
	}
	return s.parent != nil && s.parent.IsScoped(c)
}

// Cleanup tears the scope down: child scopes first, then family listeners,
// store hooks, subscriptions and clone states. It is idempotent.
func (s *Store) Cleanup() {
	if s.disposed {
		return
	}
	for _, child := range s.children.Values() {
		child.Cleanup()
	}
	for _, off := range s.unsubs {
		off()
	}
	s.unsubs = nil

	for _, d := range s.dependents {
		d.release()
	}
	s.subs.Each(func(_ int, sub subscription) bool {
		s.root.Detach(sub.cell, sub.listener)
		return true
	})
	s.subs.Clear()
	s.pending.Clear()
	s.root.Flush()

	for _, c := range s.owned.Values() {
		s.root.Release(c)
	}
	s.owned.Clear()
	s.store.Dispose()
	s.reg.reset()
	s.dependents = map[*cells.Cell]*dependent{}
	s.byClone = map[*cells.Cell]*dependent{}
	if s.parent != nil {
		s.parent.children.Delete(s)
	}
	s.disposed = true

	s.logger.Info("scope disposed", "scope", s.label(), "id", s.id)
	s.metrics.ScopeDisposed(s.label())
	s.emit(activity.BuildScopeDisposedEvent(activity.ScopeEventInput{Scope: s.context()}))
}

func (s *Store) onFamily(event cells.FamilyEvent) {
	if s.disposed || event.Cell == nil {
		return
	}
	switch event.Type {
	case cells.FamilyCreated:
		s.reg.explicit.Add(event.Cell)
	case cells.FamilyRemoved:
		s.reg.explicit.Delete(event.Cell)
	}
	s.forget(event.Cell)
	s.logger.Debug("scope family membership changed",
		"scope", s.label(),
		"cell", event.Cell.Label(),
		"event", string(event.Type),
	)
}

// forget drops memoized routes for c here and in every descendant.
func (s *Store) forget(c *cells.Cell) {
	s.reg.forget(c)
	for _, child := range s.children.Values() {
		child.forget(c)
	}
}

func (s *Store) guard(op string, c *cells.Cell) error {
	if s.disposed {
		return s.fail(op, c, ErrScopeDisposed)
	}
	if c == nil {
		return s.fail(op, c, cells.ErrNilCell)
	}
	return nil
}

func (s *Store) fail(op string, c *cells.Cell, err error) error {
	return &Error{Op: op, Cell: c, Scope: s.label(), Err: err}
}

func (s *Store) label() string {
	if s.name != "" {
		return s.name
	}
	return s.id
}

func (s *Store) context() activity.ScopeContext {
	ctx := activity.ScopeContext{ID: s.id, Name: s.name}
	if s.parent != nil {
		ctx.ParentID = s.parent.id
	}
	return ctx
}

func (s *Store) emit(event activity.Event) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Emit(context.Background(), event); err != nil {
		s.logger.Warn("scope activity emit failed", "scope", s.label(), "verb", event.Verb, "error", err)
	}
}

func labels(list []*cells.Cell) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.Label())
	}
	return out
}
