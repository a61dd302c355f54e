package rules_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/pkg/rules"
	"github.com/goliatone/go-cells/pkg/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	catalog *cells.Catalog
	a       *cells.Cell
	b       *cells.Cell
	flag    *cells.Cell
}

func newFixture() fixture {
	catalog := cells.NewCatalog()
	return fixture{
		catalog: catalog,
		a:       catalog.MustRegister("a", cells.NewPrimitive(2, cells.WithLabel("a"))),
		b:       catalog.MustRegister("b", cells.NewPrimitive(3, cells.WithLabel("b"))),
		flag:    catalog.MustRegister("flag", cells.NewPrimitive(true, cells.WithLabel("flag"))),
	}
}

func twicer() *rules.FunctionRegistry {
	return rules.NewFunctionRegistry().MustRegister("twice", func(args ...any) (any, error) {
		switch v := args[0].(type) {
		case int:
			return v * 2, nil
		case int64:
			return v * 2, nil
		}
		return nil, errors.New("twice: not a number")
	})
}

func TestNewCellValidatesInputs(t *testing.T) {
	catalog := cells.NewCatalog()

	_, err := rules.NewCell(nil, "a", catalog)
	assert.ErrorIs(t, err, rules.ErrNoEvaluator)

	_, err = rules.NewCell(rules.NewExprEvaluator(), "  ", catalog)
	assert.ErrorIs(t, err, rules.ErrEmptyExpression)

	_, err = rules.NewCell(rules.NewExprEvaluator(), "a", nil)
	assert.ErrorIs(t, err, rules.ErrNoCatalog)
}

func TestExprCellReadsNamedCells(t *testing.T) {
	fx := newFixture()
	sum, err := rules.NewCell(rules.NewExprEvaluator(), "a + b", fx.catalog, rules.WithLabel("sum"))
	require.NoError(t, err)

	store := cells.New()
	value, err := store.Get(sum)
	require.NoError(t, err)
	assert.Equal(t, 5, value)
	assert.ElementsMatch(t, []*cells.Cell{fx.a, fx.b}, store.Dependencies(sum))

	_, err = store.Set(fx.a, 10)
	require.NoError(t, err)
	value, err = store.Get(sum)
	require.NoError(t, err)
	assert.Equal(t, 13, value)
}

func TestExprCellTracksOnlyTakenBranch(t *testing.T) {
	fx := newFixture()
	pick, err := rules.NewCell(rules.NewExprEvaluator(), "flag ? a : b", fx.catalog)
	require.NoError(t, err)

	store := cells.New()
	value, err := store.Get(pick)
	require.NoError(t, err)
	assert.Equal(t, 2, value)
	assert.ElementsMatch(t, []*cells.Cell{fx.flag, fx.a}, store.Dependencies(pick))

	_, err = store.Set(fx.flag, false)
	require.NoError(t, err)
	value, err = store.Get(pick)
	require.NoError(t, err)
	assert.Equal(t, 3, value)
	assert.ElementsMatch(t, []*cells.Cell{fx.flag, fx.b}, store.Dependencies(pick))
}

func TestExprCellSupportsGetAndFunctions(t *testing.T) {
	fx := newFixture()
	evaluator := rules.NewExprEvaluator(rules.ExprWithFunctionRegistry(twicer()))

	cases := map[string]any{
		`get("a") * 2`:     4,
		`twice(b)`:         6,
		`call("twice", a)`: 4,
		`args.bonus + a`:   12,
		`metadata.tier`:    "gold",
		`flag && b > a`:    true,
	}
	store := cells.New()
	for expression, want := range cases {
		c, err := rules.NewCell(evaluator, expression, fx.catalog,
			rules.WithArgs(map[string]any{"bonus": 10}),
			rules.WithMetadata(map[string]any{"tier": "gold"}),
		)
		require.NoError(t, err, expression)
		value, err := store.Get(c)
		require.NoError(t, err, expression)
		assert.Equal(t, want, value, expression)
	}
}

func TestCELCellReadsNamedCells(t *testing.T) {
	fx := newFixture()
	evaluator := rules.NewCELEvaluator(rules.CELWithFunctionRegistry(twicer()))

	pick, err := rules.NewCell(evaluator, "flag ? a + 1 : twice(b)", fx.catalog)
	require.NoError(t, err)

	store := cells.New()
	value, err := store.Get(pick)
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)
	assert.ElementsMatch(t, []*cells.Cell{fx.flag, fx.a}, store.Dependencies(pick))

	_, err = store.Set(fx.flag, false)
	require.NoError(t, err)
	value, err = store.Get(pick)
	require.NoError(t, err)
	assert.Equal(t, int64(6), value)
	assert.ElementsMatch(t, []*cells.Cell{fx.flag, fx.b}, store.Dependencies(pick))
}

func TestExprExplicitGetTracksDependencies(t *testing.T) {
	fx := newFixture()
	sum, err := rules.NewCell(rules.NewExprEvaluator(), `get("a") + get("b")`, fx.catalog)
	require.NoError(t, err)

	store := cells.New()
	value, err := store.Get(sum)
	require.NoError(t, err)
	assert.Equal(t, 5, value)
	assert.ElementsMatch(t, []*cells.Cell{fx.a, fx.b}, store.Dependencies(sum))

	_, err = store.Set(fx.b, 7)
	require.NoError(t, err)
	value, err = store.Get(sum)
	require.NoError(t, err)
	assert.Equal(t, 9, value)
}

func TestCELRejectsBuiltinFunctionNames(t *testing.T) {
	fx := newFixture()
	noop := func(...any) (any, error) { return 0, nil }

	for _, name := range []string{"double", "int", "size", "has"} {
		registry := rules.NewFunctionRegistry().MustRegister(name, noop)
		evaluator := rules.NewCELEvaluator(rules.CELWithFunctionRegistry(registry))

		_, err := rules.NewCell(evaluator, "a + 1", fx.catalog)
		require.ErrorIs(t, err, rules.ErrReservedFunction, name)
		assert.ErrorContains(t, err, name)

		_, err = evaluator.Evaluate(rules.EvalContext{}, "1 + 1")
		require.ErrorIs(t, err, rules.ErrReservedFunction, name)
	}

	registry := rules.NewFunctionRegistry().MustRegister("twice", noop)
	_, err := rules.NewCell(rules.NewCELEvaluator(rules.CELWithFunctionRegistry(registry)), "twice(a)", fx.catalog)
	require.NoError(t, err)
}

func TestCELCallFunction(t *testing.T) {
	fx := newFixture()
	evaluator := rules.NewCELEvaluator(rules.CELWithFunctionRegistry(twicer()))

	c, err := rules.NewCell(evaluator, `call("twice", b)`, fx.catalog)
	require.NoError(t, err)
	value, err := cells.New().Get(c)
	require.NoError(t, err)
	assert.Equal(t, int64(6), value)
}

func TestProgramCacheReusesCompiledPrograms(t *testing.T) {
	fx := newFixture()
	cache := rules.NewMemoryCache()
	evaluator := rules.NewExprEvaluator(rules.ExprWithProgramCache(cache))

	sum, err := rules.NewCell(evaluator, "a + b", fx.catalog)
	require.NoError(t, err)

	store := cells.New()
	_, err = store.Get(sum)
	require.NoError(t, err)
	_, err = store.Set(fx.a, 4)
	require.NoError(t, err)
	value, err := store.Get(sum)
	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.Equal(t, 1, cache.Len())
}

func TestEvaluationErrorsNameTheCell(t *testing.T) {
	fx := newFixture()
	c, err := rules.NewCell(rules.NewExprEvaluator(), `get("missing")`, fx.catalog, rules.WithLabel("broken"))
	require.NoError(t, err)

	_, err = cells.New().Get(c)
	require.Error(t, err)

	var evalErr *rules.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "expr", evalErr.Engine)
	assert.Equal(t, "broken", evalErr.Cell)
	assert.Equal(t, "missing", evalErr.Dependency)
	assert.Contains(t, err.Error(), `cell broken reading missing in "get(\"missing\")"`)
	assert.Contains(t, err.Error(), "not registered")
}

func TestNestedExpressionErrorsNameEachLayer(t *testing.T) {
	catalog := cells.NewCatalog()
	catalog.MustRegister("zero", cells.NewPrimitive(0))
	inner, err := rules.NewCell(rules.NewExprEvaluator(), `get("gone") + zero`, catalog, rules.WithLabel("inner"))
	require.NoError(t, err)
	catalog.MustRegister("inner", inner)
	outer, err := rules.NewCell(rules.NewCELEvaluator(), "inner + 1", catalog, rules.WithLabel("outer"))
	require.NoError(t, err)

	_, err = cells.New().Get(outer)
	require.Error(t, err)

	var evalErr *rules.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "cel", evalErr.Engine)
	assert.Equal(t, "outer", evalErr.Cell)
	assert.Equal(t, "inner", evalErr.Dependency)

	var innerErr *rules.EvaluationError
	require.ErrorAs(t, evalErr.Err, &innerErr)
	assert.Equal(t, "inner", innerErr.Cell)
	assert.Equal(t, "gone", innerErr.Dependency)
}

func TestDependencyErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	for _, evaluator := range []rules.Evaluator{rules.NewExprEvaluator(), rules.NewCELEvaluator()} {
		catalog := cells.NewCatalog()
		catalog.MustRegister("bad", cells.NewComputed(func(cells.Getter) (any, error) {
			return nil, boom
		}))
		c, err := rules.NewCell(evaluator, "bad + 1", catalog)
		require.NoError(t, err)

		_, err = cells.New().Get(c)
		require.ErrorIs(t, err, boom, rules.Engine(evaluator))
	}
}

func TestEvaluatorLoggerReceivesEvents(t *testing.T) {
	fx := newFixture()
	var events []rules.EvaluatorLogEvent
	logger := rules.EvaluatorLoggerFunc(func(event rules.EvaluatorLogEvent) {
		events = append(events, event)
	})
	c, err := rules.NewCell(rules.NewCELEvaluator(), "a * b", fx.catalog,
		rules.WithLabel("product"),
		rules.WithEvaluatorLogger(logger),
	)
	require.NoError(t, err)

	_, err = cells.New().Get(c)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "cel", events[0].Engine)
	assert.Equal(t, "a * b", events[0].Expr)
	assert.Equal(t, "product", events[0].Cell)
	assert.NoError(t, events[0].Err)
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := rules.SlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.LogEvaluation(rules.EvaluatorLogEvent{Engine: "expr", Expr: "a", Cell: "x"})
	logger.LogEvaluation(rules.EvaluatorLogEvent{Engine: "expr", Expr: "b", Cell: "y", Err: errors.New("nope")})

	out := buf.String()
	assert.Contains(t, out, "rules: evaluated")
	assert.Contains(t, out, "rules: evaluation failed")
	assert.Contains(t, out, "error=nope")

	rules.SlogLogger(nil).LogEvaluation(rules.EvaluatorLogEvent{})
}

func TestExpressionCellsFollowScopes(t *testing.T) {
	fx := newFixture()
	sum, err := rules.NewCell(rules.NewExprEvaluator(), "a + b", fx.catalog)
	require.NoError(t, err)

	root := cells.New()
	s, err := scope.New(root, []*cells.Cell{fx.a}, scope.WithName("trial"))
	require.NoError(t, err)

	_, err = s.Set(fx.a, 40)
	require.NoError(t, err)

	scoped, err := s.Get(sum)
	require.NoError(t, err)
	assert.Equal(t, 43, scoped)

	unscoped, err := root.Get(sum)
	require.NoError(t, err)
	assert.Equal(t, 5, unscoped)
}

func TestEngineNames(t *testing.T) {
	assert.Equal(t, "expr", rules.Engine(rules.NewExprEvaluator()))
	assert.Equal(t, "cel", rules.Engine(rules.NewCELEvaluator()))
	assert.Equal(t, "unknown", rules.Engine(nil))
}

func TestFunctionRegistryRejectsBadNames(t *testing.T) {
	registry := rules.NewFunctionRegistry()
	noop := func(...any) (any, error) { return nil, nil }

	require.NoError(t, registry.Register("Score", noop))
	assert.Error(t, registry.Register("score", noop))
	assert.Error(t, registry.Register("get", noop))
	assert.Error(t, registry.Register("not-valid", noop))
	assert.Error(t, registry.Register("nil", nil))
	assert.Equal(t, []string{"score"}, registry.Names())

	_, err := registry.Call("missing")
	assert.ErrorContains(t, err, "not registered")
}
