package rules

import (
	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprEvaluatorOption configures an expr evaluator instance.
type ExprEvaluatorOption func(*exprEvaluator)

// ExprWithProgramCache wires a ProgramCache into the expr evaluator.
func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.cache = cache
	}
}

// ExprWithFunctionRegistry wires a FunctionRegistry into the expr evaluator.
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.setRegistry(registry)
	}
}

// exprEvaluator executes expressions using github.com/expr-lang/expr. Bare
// identifiers naming catalog cells are rewritten into get("name") calls so
// they are looked up only when the branch holding them runs.
type exprEvaluator struct {
	engineConfig
}

// NewExprEvaluator constructs an Evaluator backed by expr-lang/expr.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *exprEvaluator) Engine() string { return "expr" }

func (e *exprEvaluator) Evaluate(ctx EvalContext, expression string) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	ctx = ctx.withDefaults()
	program, err := e.loadOrCompile(expression, cellNames(ctx, e.registry))
	if err != nil {
		return nil, ctx.failure("expr", expression, err)
	}
	result, err := exprlang.Run(program, e.environment(ctx))
	if err != nil {
		return nil, ctx.failure("expr", expression, err)
	}
	return result, nil
}

func (e *exprEvaluator) loadOrCompile(expression string, names []string) (*exprvm.Program, error) {
	return compiled(e.cache, cacheKey("expr", expression, names), func() (*exprvm.Program, error) {
		options := []exprlang.Option{
			exprlang.Env(e.declarations()),
			exprlang.AllowUndefinedVariables(),
			exprlang.Patch(newCellRefs(names)),
		}
		for _, name := range e.registry.Names() {
			options = append(options, exprlang.Function(name, e.registry.bound(name)))
		}
		return exprlang.Compile(expression, options...)
	})
}

type (
	lookupFunc func(name string) (any, error)
	callFunc   func(name string, arguments ...any) (any, error)
)

// declarations types the bindings environment supplies at run time. Declared
// names win over expr builtins, so get("x") resolves to the cell lookup and
// not to the two-argument builtin.
func (e *exprEvaluator) declarations() map[string]any {
	decl := map[string]any{
		"get": lookupFunc(nil),
	}
	if e.registry != nil {
		decl["call"] = callFunc(nil)
	}
	return decl
}

func (e *exprEvaluator) environment(ctx EvalContext) map[string]any {
	env := map[string]any{
		"now":      ctx.timestamp(),
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
		"get":      lookupFunc(ctx.Lookup),
	}
	if e.registry != nil {
		env["call"] = callFunc(e.registry.Call)
	}
	return env
}

// cellRefs patches identifiers that name cells. Callees keep their
// identifier so builtins and registry functions sharing a cell name still
// resolve as functions.
type cellRefs struct {
	names   map[string]bool
	patched map[ast.Node]string
}

func newCellRefs(names []string) *cellRefs {
	refs := &cellRefs{
		names:   make(map[string]bool, len(names)),
		patched: map[ast.Node]string{},
	}
	for _, name := range names {
		refs.names[name] = true
	}
	return refs
}

func (r *cellRefs) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if !r.names[n.Value] {
			return
		}
		lookup := &ast.CallNode{
			Callee:    &ast.IdentifierNode{Value: "get"},
			Arguments: []ast.Node{&ast.StringNode{Value: n.Value}},
		}
		r.patched[lookup] = n.Value
		ast.Patch(node, lookup)
	case *ast.CallNode:
		if name, ok := r.patched[n.Callee]; ok {
			n.Callee = &ast.IdentifierNode{Value: name}
		}
	}
}
