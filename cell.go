package cells

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Getter reads the current value of a cell. Inside a read function every call
// records a dependency on the cell that was read.
type Getter func(c *Cell) (any, error)

// Setter writes to a cell. Writing the cell whose write function is running
// stores the value directly; any other target runs that cell's write function.
type Setter func(c *Cell, args ...any) (any, error)

// ReadFunc derives a cell value.
type ReadFunc func(get Getter) (any, error)

// WriteFunc handles writes to a cell.
type WriteFunc func(get Getter, set Setter, args ...any) (any, error)

// SetSelf writes the cell it was handed out for.
type SetSelf func(args ...any) (any, error)

// MountFunc runs when a cell gains its first subscriber. The returned func, if
// any, runs when the cell is unmounted.
type MountFunc func(set SetSelf) func()

// EqualFunc reports whether two values are equal for change detection.
type EqualFunc func(a, b any) bool

var cellSeq atomic.Uint64

// Cell is a reactive unit of state. Cells carry no state themselves; a Store
// keeps one CellState per cell.
type Cell struct {
	id         uint64
	label      string
	init       any
	holding    bool
	read       ReadFunc
	write      WriteFunc
	onMount    MountFunc
	equal      EqualFunc
	origin     *Cell
	owner      any
	revalidate func() bool
}

// CellOption configures a cell at construction time.
type CellOption func(*Cell)

// WithLabel names the cell for diagnostics.
func WithLabel(label string) CellOption {
	return func(c *Cell) {
		c.label = label
	}
}

// WithEqual overrides the equality used to decide whether a new value bumps
// the cell's epoch.
func WithEqual(fn EqualFunc) CellOption {
	return func(c *Cell) {
		c.equal = fn
	}
}

// WithOnMount registers a callback that runs when the cell is first mounted.
// Only writable cells honor it.
func WithOnMount(fn MountFunc) CellOption {
	return func(c *Cell) {
		c.onMount = fn
	}
}

// WithWrite replaces the default write of a primitive cell, producing a
// value-holding cell with a custom write function.
func WithWrite(fn WriteFunc) CellOption {
	return func(c *Cell) {
		c.write = fn
	}
}

// NewPrimitive constructs a value-holding cell starting at init.
func NewPrimitive(init any, opts ...CellOption) *Cell {
	c := newCell(opts)
	c.init = init
	c.holding = true
	return c
}

// NewComputed constructs a read-only derived cell.
func NewComputed(read ReadFunc, opts ...CellOption) *Cell {
	c := newCell(opts)
	c.read = read
	return c
}

// NewWritable constructs a derived cell with a custom write function.
func NewWritable(read ReadFunc, write WriteFunc, opts ...CellOption) *Cell {
	c := newCell(opts)
	c.read = read
	c.write = write
	return c
}

func newCell(opts []CellOption) *Cell {
	c := &Cell{id: cellSeq.Add(1)}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ID returns the process-unique cell identifier.
func (c *Cell) ID() uint64 {
	return c.id
}

// Label returns the diagnostic name, falling back to the id.
func (c *Cell) Label() string {
	if c == nil {
		return "<nil>"
	}
	if c.label != "" {
		return c.label
	}
	return fmt.Sprintf("cell#%d", c.id)
}

func (c *Cell) String() string {
	return c.Label()
}

// Init returns the initial value of a value-holding cell.
func (c *Cell) Init() any {
	return c.init
}

// IsValueHolding reports whether the cell stores a value of its own.
func (c *Cell) IsValueHolding() bool {
	return c.holding
}

// IsComputed reports whether the cell derives its value with custom code.
func (c *Cell) IsComputed() bool {
	return c.read != nil
}

// IsWritable reports whether the cell accepts writes.
func (c *Cell) IsWritable() bool {
	return c.holding || c.write != nil
}

// HasCustomWrite reports whether the cell defines its own write function.
func (c *Cell) HasCustomWrite() bool {
	return c.write != nil
}

// ReadFunc returns the cell's read function, nil for the default read.
func (c *Cell) ReadFunc() ReadFunc {
	return c.read
}

// WriteFunc returns the cell's write function, nil for the default write.
func (c *Cell) WriteFunc() WriteFunc {
	return c.write
}

// Origin returns the cell a clone was derived from, nil for originals.
func (c *Cell) Origin() *Cell {
	return c.origin
}

// Root follows origins back to the original cell.
func (c *Cell) Root() *Cell {
	for c != nil && c.origin != nil {
		c = c.origin
	}
	return c
}

// Owner returns the opaque owner attached by Clone.
func (c *Cell) Owner() any {
	return c.owner
}

// CloneOption configures a clone.
type CloneOption func(*Cell)

// CloneOwner tags the clone with its owner.
func CloneOwner(owner any) CloneOption {
	return func(c *Cell) {
		c.owner = owner
	}
}

// CloneRead replaces the clone's read function.
func CloneRead(fn ReadFunc) CloneOption {
	return func(c *Cell) {
		c.read = fn
	}
}

// CloneWrite replaces the clone's write function.
func CloneWrite(fn WriteFunc) CloneOption {
	return func(c *Cell) {
		c.write = fn
	}
}

// CloneInit replaces the clone's initial value.
func CloneInit(v any) CloneOption {
	return func(c *Cell) {
		c.init = v
	}
}

// CloneRevalidate installs a predicate consulted before a cached value is
// reused. Returning true forces the clone to re-evaluate.
func CloneRevalidate(fn func() bool) CloneOption {
	return func(c *Cell) {
		c.revalidate = fn
	}
}

// Clone returns a new cell with the same capabilities and label whose origin
// is c. State is never shared between a cell and its clones.
func (c *Cell) Clone(opts ...CloneOption) *Cell {
	clone := &Cell{
		id:      cellSeq.Add(1),
		label:   c.label,
		init:    c.init,
		holding: c.holding,
		read:    c.read,
		write:   c.write,
		onMount: c.onMount,
		equal:   c.equal,
		origin:  c,
	}
	if clone.label == "" {
		clone.label = c.Label()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(clone)
		}
	}
	return clone
}

func (c *Cell) same(a, b any) bool {
	if c.equal != nil {
		return c.equal(a, b)
	}
	return sameValue(a, b)
}

// sameValue compares comparable values with == and everything else by
// reference.
func sameValue(a, b any) (eq bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Type().Comparable() {
		defer func() {
			if recover() != nil {
				eq = false
			}
		}()
		return a == b
	}
	switch va.Kind() {
	case reflect.Map, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	default:
		return false
	}
}
