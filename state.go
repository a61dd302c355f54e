package cells

import "github.com/goliatone/go-cells/internal/ordered"

// CellState is the bookkeeping record for one cell in one store: the latest
// value or error, a monotonic epoch, the dependencies observed at the last
// evaluation and, while subscribed, the mount record.
type CellState struct {
	value       any
	err         error
	epoch       int
	initialized bool
	deps        *ordered.Map[*Cell, int]
	mounted     *mountRecord
}

type mountRecord struct {
	listeners  *ordered.Set[*Listener]
	deps       *ordered.Set[*Cell]
	dependents *ordered.Set[*Cell]
	unmount    func()
}

func newCellState() *CellState {
	return &CellState{deps: ordered.NewMap[*Cell, int]()}
}

// Value returns the last computed value.
func (st *CellState) Value() any {
	return st.value
}

// Err returns the error produced by the last evaluation.
func (st *CellState) Err() error {
	return st.err
}

// Epoch returns the state version. It increases whenever the value changes.
func (st *CellState) Epoch() int {
	return st.epoch
}

// Initialized reports whether the cell has been evaluated at least once.
func (st *CellState) Initialized() bool {
	return st.initialized
}

// Mounted reports whether the cell has listeners or mounted dependents.
func (st *CellState) Mounted() bool {
	return st.mounted != nil
}

// Dependencies lists the cells observed during the last evaluation.
func (st *CellState) Dependencies() []*Cell {
	return st.deps.Keys()
}

// Listeners returns the number of listeners attached directly to the cell.
func (st *CellState) Listeners() int {
	if st.mounted == nil {
		return 0
	}
	return st.mounted.listeners.Len()
}

func (st *CellState) setValue(c *Cell, v any) {
	prev, hadPrev, hadErr := st.value, st.initialized, st.err != nil
	st.value = v
	st.err = nil
	st.initialized = true
	if !hadPrev || hadErr || !c.same(prev, v) {
		st.epoch++
	}
}

func (st *CellState) setError(err error) {
	st.err = err
	st.initialized = true
	st.epoch++
}

// Listener is a subscriber addressed by identity. The same Listener attached
// to several cells is still invoked once per flush.
type Listener struct {
	fn func()
}

// NewListener wraps fn.
func NewListener(fn func()) *Listener {
	return &Listener{fn: fn}
}

func (l *Listener) call() {
	if l != nil && l.fn != nil {
		l.fn()
	}
}
