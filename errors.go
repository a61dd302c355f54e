package cells

import (
	"errors"
	"fmt"
)

var (
	// ErrNotWritable is returned when writing a cell without a write function.
	ErrNotWritable = errors.New("cells: cell is not writable")
	// ErrNoInitialValue is returned when a cell reads itself without holding a value.
	ErrNoInitialValue = errors.New("cells: cell has no initial value")
	// ErrNilCell is returned when a nil cell reaches a store operation.
	ErrNilCell = errors.New("cells: cell must not be nil")
)

// CellError ties an engine error to the cell that produced it.
type CellError struct {
	Op   string
	Cell *Cell
	Err  error
}

func (e *CellError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("cells: %s %s: %v", e.Op, e.Cell.Label(), e.Err)
}

func (e *CellError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func cellError(op string, c *Cell, err error) error {
	return &CellError{Op: op, Cell: c, Err: err}
}
