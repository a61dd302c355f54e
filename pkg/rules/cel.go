package rules

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache wires a ProgramCache into the CEL evaluator.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL evaluator.
// Registry names that CEL already declares, such as double or has, leave the
// evaluator unusable: NewCell and Evaluate report
// ErrReservedFunction instead of silently running the built-in.
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.setRegistry(registry)
		e.err = celCollisions(e.registry)
	}
}

type celProgram struct {
	env     *celgo.Env
	program celgo.Program
}

// celEvaluator declares every catalog cell as a dyn variable. The activation
// binds them lazily so only the cells an evaluation reaches are read.
type celEvaluator struct {
	engineConfig
	err error
}

// NewCELEvaluator constructs an Evaluator backed by cel-go.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) Engine() string { return "cel" }

func (e *celEvaluator) configErr() error { return e.err }

func (e *celEvaluator) Evaluate(ctx EvalContext, expression string) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	if e.err != nil {
		return nil, ctx.failure("cel", expression, e.err)
	}
	ctx = ctx.withDefaults()
	names := cellNames(ctx, e.registry)
	program, err := e.loadOrCompile(expression, names)
	if err != nil {
		return nil, ctx.failure("cel", expression, err)
	}
	out, _, err := program.program.Eval(e.activation(ctx, names))
	if err != nil {
		return nil, ctx.failure("cel", expression, err)
	}
	if out == types.NullValue {
		return nil, nil
	}
	return out.Value(), nil
}

func (e *celEvaluator) loadOrCompile(expression string, names []string) (*celProgram, error) {
	return compiled(e.cache, cacheKey("cel", expression, names), func() (*celProgram, error) {
		env, err := e.buildEnv(names)
		if err != nil {
			return nil, err
		}
		checked, issues := env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, issues.Err()
		}
		prg, err := env.Program(checked)
		if err != nil {
			return nil, err
		}
		return &celProgram{env: env, program: prg}, nil
	})
}

func (e *celEvaluator) buildEnv(names []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("metadata", celgo.DynType),
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call", overloads("call", []*celgo.Type{celgo.StringType}, e.callBinding())...))
		for _, name := range e.registry.Names() {
			opts = append(opts, celgo.Function(name, overloads(name, nil, e.functionBinding(name))...))
		}
	}
	for _, name := range names {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

func (e *celEvaluator) activation(ctx EvalContext, names []string) map[string]any {
	activation := map[string]any{
		"now":      ctx.timestamp(),
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
	}
	for _, name := range names {
		activation[name] = e.lazyCell(ctx, name)
	}
	return activation
}

func (e *celEvaluator) lazyCell(ctx EvalContext, name string) func() ref.Val {
	return func() ref.Val {
		value, err := ctx.Lookup(name)
		if err != nil {
			return types.NewErr("rules: %v", err)
		}
		return toCELValue(value)
	}
}

func (e *celEvaluator) callBinding() func(...ref.Val) ref.Val {
	return func(values ...ref.Val) ref.Val {
		if e.registry == nil {
			return types.NewErr("rules: function registry not configured")
		}
		if len(values) == 0 {
			return types.NewErr("rules: call requires function name")
		}
		name, ok := values[0].Value().(string)
		if !ok {
			return types.NewErr("rules: call name must be string")
		}
		args := make([]any, 0, len(values)-1)
		for _, val := range values[1:] {
			args = append(args, val.Value())
		}
		result, err := e.registry.Call(name, args...)
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		return toCELValue(result)
	}
}

func (e *celEvaluator) functionBinding(name string) func(...ref.Val) ref.Val {
	return func(values ...ref.Val) ref.Val {
		args := make([]any, 0, len(values))
		for _, val := range values {
			args = append(args, val.Value())
		}
		result, err := e.registry.Call(name, args...)
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		return toCELValue(result)
	}
}

// celMacros are expanded by the parser before any function lookup, so a
// registry entry under one of these names would never be called.
var celMacros = map[string]bool{
	"has":        true,
	"all":        true,
	"exists":     true,
	"exists_one": true,
	"map":        true,
	"filter":     true,
	"in":         true,
	"null":       true,
	"true":       true,
	"false":      true,
}

// celCollisions reports the first registry name the standard CEL
// environment already claims.
func celCollisions(registry *FunctionRegistry) error {
	if registry == nil {
		return nil
	}
	base, err := celgo.NewEnv()
	if err != nil {
		return err
	}
	for _, name := range registry.Names() {
		if celMacros[name] || base.HasFunction(name) {
			return fmt.Errorf("%w: %q is a cel built-in", ErrReservedFunction, name)
		}
	}
	return nil
}

// maxCallArity bounds the dyn overloads declared per function since CEL has
// no variadic declarations.
const maxCallArity = 4

func overloads(name string, leading []*celgo.Type, binding func(...ref.Val) ref.Val) []celgo.FunctionOpt {
	out := make([]celgo.FunctionOpt, 0, maxCallArity+1)
	for arity := 0; arity <= maxCallArity; arity++ {
		params := append([]*celgo.Type(nil), leading...)
		for i := 0; i < arity; i++ {
			params = append(params, celgo.DynType)
		}
		out = append(out, celgo.Overload(
			fmt.Sprintf("%s_dyn_%d", name, arity),
			params,
			celgo.DynType,
			celgo.FunctionBinding(binding),
		))
	}
	return out
}

func toCELValue(value any) ref.Val {
	if value == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(value)
}
