package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cells "github.com/goliatone/go-cells"
)

var (
	// ErrNoEvaluator is returned when NewCell receives a nil evaluator.
	ErrNoEvaluator = errors.New("rules: evaluator not configured")
	// ErrEmptyExpression is returned for blank expressions.
	ErrEmptyExpression = errors.New("rules: expression must not be empty")
	// ErrNoCatalog is returned when NewCell receives a nil catalog.
	ErrNoCatalog = errors.New("rules: catalog not configured")
	// ErrReservedFunction is returned when a registry function shadows a
	// name the engine already defines.
	ErrReservedFunction = errors.New("rules: function name reserved by engine")
	// ErrTimeout is returned when an evaluation exceeds its time limit.
	ErrTimeout = errors.New("rules: evaluation timed out")
)

// EvalContext carries inputs needed when evaluating an expression.
type EvalContext struct {
	// Lookup returns the value of the cell registered under name. Calls made
	// while the expression runs are recorded as dependencies.
	Lookup   func(name string) (any, error)
	Names    []string
	Args     map[string]any
	Metadata map[string]any
	Cell     string
	Now      *time.Time
}

func (ctx EvalContext) withDefaults() EvalContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	if ctx.Lookup == nil {
		ctx.Lookup = func(name string) (any, error) {
			return nil, fmt.Errorf("rules: cell %q not available", name)
		}
	}
	return ctx
}

func (ctx EvalContext) timestamp() time.Time {
	return *ctx.withDefaults().Now
}

// bindable lists the names an engine may expose as bare identifiers.
func (ctx EvalContext) bindable() []string {
	out := make([]string, 0, len(ctx.Names))
	for _, name := range ctx.Names {
		if isIdentifier(name) && !reserved[name] {
			out = append(out, name)
		}
	}
	return out
}

// cellNames returns the bindable names that do not collide with registry
// functions.
func cellNames(ctx EvalContext, registry *FunctionRegistry) []string {
	names := ctx.bindable()
	if registry == nil {
		return names
	}
	taken := map[string]bool{}
	for _, name := range registry.Names() {
		taken[name] = true
	}
	out := names[:0]
	for _, name := range names {
		if !taken[name] {
			out = append(out, name)
		}
	}
	return out
}

var reserved = map[string]bool{
	"now":      true,
	"args":     true,
	"metadata": true,
	"get":      true,
	"call":     true,
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Evaluator runs an expression against an EvalContext.
type Evaluator interface {
	Evaluate(ctx EvalContext, expr string) (any, error)
}

// Engine names the evaluator for logs and errors.
func Engine(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	if named, ok := e.(interface{ Engine() string }); ok {
		return named.Engine()
	}
	return "custom"
}

// CellOption configures an expression cell.
type CellOption func(*cellConfig)

type cellConfig struct {
	label    string
	args     map[string]any
	metadata map[string]any
	logger   EvaluatorLogger
	now      func() time.Time
	options  []cells.CellOption
}

// WithLabel names the cell.
func WithLabel(label string) CellOption {
	return func(cfg *cellConfig) {
		cfg.label = label
	}
}

// WithArgs exposes args to the expression as `args`.
func WithArgs(args map[string]any) CellOption {
	return func(cfg *cellConfig) {
		cfg.args = args
	}
}

// WithMetadata exposes metadata to the expression as `metadata`.
func WithMetadata(metadata map[string]any) CellOption {
	return func(cfg *cellConfig) {
		cfg.metadata = metadata
	}
}

// WithEvaluatorLogger records every evaluation of the cell.
func WithEvaluatorLogger(logger EvaluatorLogger) CellOption {
	return func(cfg *cellConfig) {
		if logger == nil {
			cfg.logger = noopEvaluatorLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithClock replaces time.Now for the `now` binding.
func WithClock(now func() time.Time) CellOption {
	return func(cfg *cellConfig) {
		cfg.now = now
	}
}

// WithCellOptions forwards options to the underlying cell.
func WithCellOptions(opts ...cells.CellOption) CellOption {
	return func(cfg *cellConfig) {
		cfg.options = append(cfg.options, opts...)
	}
}

func applyCellOptions(opts []CellOption) cellConfig {
	cfg := cellConfig{
		logger: noopEvaluatorLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// NewCell returns a computed cell that evaluates expression with evaluator.
// Cell names are resolved through catalog at evaluation time.
func NewCell(evaluator Evaluator, expression string, catalog *cells.Catalog, opts ...CellOption) (*cells.Cell, error) {
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	if strings.TrimSpace(expression) == "" {
		return nil, ErrEmptyExpression
	}
	if catalog == nil {
		return nil, ErrNoCatalog
	}
	engine := Engine(evaluator)
	if checked, ok := evaluator.(interface{ configErr() error }); ok {
		if err := checked.configErr(); err != nil {
			return nil, engineError(engine, err)
		}
	}
	cfg := applyCellOptions(opts)

	var cell *cells.Cell
	read := func(get cells.Getter) (any, error) {
		var (
			failed    string
			lookupErr error
		)
		now := cfg.now()
		ctx := EvalContext{
			Lookup: func(name string) (any, error) {
				target, err := catalog.Lookup(name)
				if err == nil {
					var value any
					if value, err = get(target); err == nil {
						return value, nil
					}
				}
				if lookupErr == nil {
					failed, lookupErr = name, err
				}
				return nil, err
			},
			Names:    catalog.Names(),
			Args:     cfg.args,
			Metadata: cfg.metadata,
			Cell:     cell.Label(),
			Now:      &now,
		}
		start := time.Now()
		value, err := evaluator.Evaluate(ctx, expression)
		if err != nil && lookupErr != nil {
			err = &EvaluationError{
				Engine:     engine,
				Expr:       expression,
				Cell:       ctx.Cell,
				Dependency: failed,
				Err:        lookupErr,
			}
		}
		err = ctx.failure(engine, expression, err)
		cfg.logger.LogEvaluation(EvaluatorLogEvent{
			Engine:   engine,
			Expr:     expression,
			Cell:     ctx.Cell,
			Duration: time.Since(start),
			Err:      err,
		})
		if err != nil {
			return nil, err
		}
		return value, nil
	}

	options := cfg.options
	if cfg.label != "" {
		options = append(options, cells.WithLabel(cfg.label))
	}
	cell = cells.NewComputed(read, options...)
	return cell, nil
}
