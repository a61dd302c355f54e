//go:build js_eval

package rules_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSCellReadsNamedCells(t *testing.T) {
	fx := newFixture()
	evaluator := rules.NewJSEvaluator(rules.JSWithFunctionRegistry(twicer()))
	require.True(t, rules.JSAvailable())

	pick, err := rules.NewCell(evaluator, "flag ? a + 1 : twice(b)", fx.catalog)
	require.NoError(t, err)

	store := cells.New()
	value, err := store.Get(pick)
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)
	assert.ElementsMatch(t, []*cells.Cell{fx.flag, fx.a}, store.Dependencies(pick))
	assert.Equal(t, "js", rules.Engine(evaluator))
}

func TestJSTimeoutInterruptsLongEvaluations(t *testing.T) {
	fx := newFixture()
	evaluator := rules.NewJSEvaluator(rules.JSWithTimeout(20 * time.Millisecond))

	spin, err := rules.NewCell(evaluator, "(function(){ while (true) {} })()", fx.catalog, rules.WithLabel("spin"))
	require.NoError(t, err)

	_, err = cells.New().Get(spin)
	require.ErrorIs(t, err, rules.ErrTimeout)

	var evalErr *rules.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "spin", evalErr.Cell)
}
