package rules

import (
	"fmt"
	"strings"
)

// EvaluationError reports a failed evaluation of an expression cell.
type EvaluationError struct {
	Engine string
	Expr   string
	// Cell is the label of the expression cell being evaluated.
	Cell string
	// Dependency names the catalog entry whose read failed. It is empty when
	// the expression itself did not compile or run.
	Dependency string
	Err        error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "rules: %s cell %s", e.Engine, e.Cell)
	if e.Dependency != "" {
		fmt.Fprintf(&b, " reading %s", e.Dependency)
	}
	fmt.Fprintf(&b, " in %q: %v", e.Expr, e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// complete fills the fields a lower layer left empty.
func (e *EvaluationError) complete(engine, expr, cell string) {
	if e.Engine == "" {
		e.Engine = engine
	}
	if e.Expr == "" {
		e.Expr = expr
	}
	if e.Cell == "" {
		e.Cell = cell
	}
}

// failure reports err as an evaluation failure of expr for ctx.Cell. An
// EvaluationError at the top of err is completed instead of wrapped again.
func (ctx EvalContext) failure(engine, expr string, err error) error {
	if err == nil {
		return nil
	}
	if evalErr, ok := err.(*EvaluationError); ok {
		evalErr.complete(engine, expr, ctx.Cell)
		return evalErr
	}
	return &EvaluationError{Engine: engine, Expr: expr, Cell: ctx.Cell, Err: err}
}

// engineError prefixes configuration errors that do not already come from
// this package.
func engineError(engine string, err error) error {
	if err == nil || strings.HasPrefix(err.Error(), "rules:") {
		return err
	}
	return fmt.Errorf("rules: %s evaluator: %w", engine, err)
}
