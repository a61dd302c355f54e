package cells

import (
	"sync"

	"github.com/goliatone/go-cells/internal/ordered"
)

// FamilyEventType identifies a family membership change.
type FamilyEventType string

const (
	FamilyCreated FamilyEventType = "created"
	FamilyRemoved FamilyEventType = "removed"
)

// FamilyEvent reports a member created or removed by a family.
type FamilyEvent struct {
	Type FamilyEventType
	Cell *Cell
}

// FamilyFeed is the membership view a scope consumes when a whole family is
// declared explicit.
type FamilyFeed interface {
	Members() []*Cell
	Listen(fn func(FamilyEvent)) func()
}

// Family creates one cell per key on demand.
type Family[K comparable] struct {
	mu        sync.Mutex
	create    func(K) *Cell
	members   *ordered.Map[K, *Cell]
	seq       int
	listeners *ordered.Map[int, func(FamilyEvent)]
}

var _ FamilyFeed = (*Family[string])(nil)

// NewFamily builds a family whose members are produced by create.
func NewFamily[K comparable](create func(K) *Cell) *Family[K] {
	return &Family[K]{
		create:    create,
		members:   ordered.NewMap[K, *Cell](),
		listeners: ordered.NewMap[int, func(FamilyEvent)](),
	}
}

// Get returns the member for key, creating it on first use.
func (f *Family[K]) Get(key K) *Cell {
	f.mu.Lock()
	if c, ok := f.members.Get(key); ok {
		f.mu.Unlock()
		return c
	}
	c := f.create(key)
	f.members.Set(key, c)
	listeners := f.snapshotListeners()
	f.mu.Unlock()

	emit(listeners, FamilyEvent{Type: FamilyCreated, Cell: c})
	return c
}

// Remove drops the member for key. Existing references keep working but the
// family will build a new cell on the next Get.
func (f *Family[K]) Remove(key K) {
	f.mu.Lock()
	c, ok := f.members.Get(key)
	if !ok {
		f.mu.Unlock()
		return
	}
	f.members.Delete(key)
	listeners := f.snapshotListeners()
	f.mu.Unlock()

	emit(listeners, FamilyEvent{Type: FamilyRemoved, Cell: c})
}

// Members returns the current members in creation order.
func (f *Family[K]) Members() []*Cell {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Cell, 0, f.members.Len())
	f.members.Each(func(_ K, c *Cell) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Listen streams membership changes to fn until the returned func is called.
func (f *Family[K]) Listen(fn func(FamilyEvent)) func() {
	if fn == nil {
		return func() {}
	}
	f.mu.Lock()
	f.seq++
	id := f.seq
	f.listeners.Set(id, fn)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listeners.Delete(id)
		f.mu.Unlock()
	}
}

func (f *Family[K]) snapshotListeners() []func(FamilyEvent) {
	out := make([]func(FamilyEvent), 0, f.listeners.Len())
	f.listeners.Each(func(_ int, fn func(FamilyEvent)) bool {
		out = append(out, fn)
		return true
	})
	return out
}

func emit(listeners []func(FamilyEvent), event FamilyEvent) {
	for _, fn := range listeners {
		fn(event)
	}
}
