//go:build js_eval

package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// jsEvaluator runs expressions in a fresh goja runtime per evaluation. Cells
// are exposed as global accessors so reading one is a lookup.
type jsEvaluator struct {
	jsConfig
}

// NewJSEvaluator constructs an Evaluator backed by goja.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	return &jsEvaluator{jsConfig: newJSConfig(opts)}
}

// JSAvailable reports whether the binary was built with the js_eval tag.
func JSAvailable() bool {
	return true
}

func (e *jsEvaluator) Engine() string { return "js" }

func (e *jsEvaluator) Evaluate(ctx EvalContext, expression string) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	ctx = ctx.withDefaults()
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, ctx.failure("js", expression, err)
	}
	value, err := e.run(ctx, program)
	if err != nil {
		return nil, ctx.failure("js", expression, err)
	}
	return value, nil
}

func (e *jsEvaluator) loadOrCompile(expression string) (*goja.Program, error) {
	return compiled(e.cache, cacheKey("js", expression, nil), func() (*goja.Program, error) {
		return goja.Compile("", wrapExpression(expression), false)
	})
}

func (e *jsEvaluator) run(ctx EvalContext, program *goja.Program) (any, error) {
	vm := goja.New()
	if err := e.injectContext(vm, ctx); err != nil {
		return nil, err
	}
	if e.timeout > 0 {
		timer := time.AfterFunc(e.timeout, func() {
			vm.Interrupt(ErrTimeout)
		})
		defer timer.Stop()
	}
	value, err := vm.RunProgram(program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
		}
		return nil, err
	}
	if goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

func (e *jsEvaluator) injectContext(vm *goja.Runtime, ctx EvalContext) error {
	if err := vm.Set("now", ctx.timestamp()); err != nil {
		return err
	}
	if err := vm.Set("args", ctx.Args); err != nil {
		return err
	}
	if err := vm.Set("metadata", ctx.Metadata); err != nil {
		return err
	}
	if err := vm.Set("get", ctx.Lookup); err != nil {
		return err
	}
	global := vm.GlobalObject()
	for _, name := range cellNames(ctx, e.registry) {
		getter := vm.ToValue(cellAccessor(vm, ctx, name))
		if err := global.DefineAccessorProperty(name, getter, nil, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
			return err
		}
	}
	if e.registry != nil {
		if err := vm.Set("call", func(name string, arguments ...any) (any, error) {
			return e.registry.Call(name, arguments...)
		}); err != nil {
			return err
		}
		for _, name := range e.registry.Names() {
			if err := vm.Set(name, e.registry.bound(name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func cellAccessor(vm *goja.Runtime, ctx EvalContext, name string) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		value, err := ctx.Lookup(name)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(value)
	}
}

func wrapExpression(expression string) string {
	return fmt.Sprintf("(function(){ return (%s); })()", expression)
}
