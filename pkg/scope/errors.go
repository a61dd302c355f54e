package scope

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-cells"
)

var (
	// ErrUnsupportedParent is returned when New receives a parent that is
	// neither a cells.Store nor a scope Store.
	ErrUnsupportedParent = errors.New("scope: unsupported parent store")
	// ErrInitialValue is returned when WithValue targets a cell that is not an
	// explicit value-holding cell of the scope.
	ErrInitialValue = errors.New("scope: initial value requires an explicit value-holding cell")
	// ErrScopeDisposed is returned by every operation after Cleanup.
	ErrScopeDisposed = errors.New("scope: scope disposed")
	// ErrAsyncReclassification is reported when a getter handed to a read
	// function is used after that read returned and the access would move the
	// cell into the scope.
	ErrAsyncReclassification = errors.New("scope: cell classification changed outside its evaluation")
)

// Error ties a failure to the cell and scope it happened in.
type Error struct {
	Op    string
	Cell  *cells.Cell
	Scope string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("scope: %s %s in scope %q: %v", e.Op, e.Cell.Label(), e.Scope, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ReclassificationError reports a late getter call that would have flipped
// Cell to scoped after its evaluation finished.
type ReclassificationError struct {
	Cell  *cells.Cell
	Dep   *cells.Cell
	Scope string
}

func (e *ReclassificationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("scope: %s read %s in scope %q after its evaluation: %v",
		e.Cell.Label(), e.Dep.Label(), e.Scope, ErrAsyncReclassification)
}

func (e *ReclassificationError) Unwrap() error {
	return ErrAsyncReclassification
}
