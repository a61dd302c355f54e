package scope

import (
	"errors"
	"testing"

	"github.com/goliatone/go-cells"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	created      int
	disposed     int
	overrides    int
	clones       map[string]int
	reclassified map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{clones: map[string]int{}, reclassified: map[string]int{}}
}

func (m *countingMetrics) ScopeCreated(string) { m.created++ }
func (m *countingMetrics) ScopeDisposed(string) { m.disposed++ }
func (m *countingMetrics) CloneCreated(_ string, kind string) { m.clones[kind]++ }
func (m *countingMetrics) Reclassified(_ string, to string) { m.reclassified[to]++ }
func (m *countingMetrics) WriteOverride(string) { m.overrides++ }

func TestWriteOverrideIsRestoredOnError(t *testing.T) {
	root := cells.New()
	boom := errors.New("boom")
	w := cells.NewPrimitive(0, cells.WithWrite(func(get cells.Getter, set cells.Setter, args ...any) (any, error) {
		return nil, boom
	}))
	metrics := newCountingMetrics()

	s1, err := New(root, []*cells.Cell{w})
	require.NoError(t, err)
	s2, err := New(s1, nil, WithMetrics(metrics))
	require.NoError(t, err)

	_, err = s2.Set(w, 1)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s2.overrides)
	assert.Equal(t, 1, metrics.overrides)
}

func TestOwnCloneWritesAreNotCountedAsOverrides(t *testing.T) {
	root := cells.New()
	var w *cells.Cell
	w = cells.NewPrimitive(0, cells.WithWrite(func(get cells.Getter, set cells.Setter, args ...any) (any, error) {
		return set(w, args...)
	}))
	metrics := newCountingMetrics()

	s, err := New(root, []*cells.Cell{w}, WithMetrics(metrics))
	require.NoError(t, err)
	_, err = s.Set(w, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, metrics.overrides)
	assert.Equal(t, 1, metrics.clones["explicit"])
	assert.Empty(t, s.overrides)

	v, err := s.Get(w)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	v, err = root.Get(w)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestInheritedWriteReadsThroughOwningScope(t *testing.T) {
	root := cells.New()
	step := cells.NewPrimitive(1, cells.WithLabel("step"))
	var w *cells.Cell
	w = cells.NewPrimitive(0, cells.WithLabel("w"), cells.WithWrite(
		func(get cells.Getter, set cells.Setter, args ...any) (any, error) {
			cur, err := get(w)
			if err != nil {
				return nil, err
			}
			inc, err := get(step)
			if err != nil {
				return nil, err
			}
			return set(w, cur.(int)+inc.(int)*args[0].(int))
		}))

	s1, err := New(root, []*cells.Cell{w})
	require.NoError(t, err)
	s2, err := New(s1, []*cells.Cell{step}, WithValue(step, 100))
	require.NoError(t, err)

	_, err = s2.Set(w, 2)
	require.NoError(t, err)

	for name, accessor := range map[string]cells.Accessor{"s1": s1, "s2": s2} {
		v, err := accessor.Get(w)
		require.NoError(t, err, name)
		assert.Equal(t, 2, v, name)
	}
	v, err := root.Get(w)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	v, err = s2.Get(step)
	require.NoError(t, err)
	assert.Equal(t, 100, v)
}

func TestNestedWriteIsCoordinated(t *testing.T) {
	root := cells.New()
	var w *cells.Cell
	w = cells.NewPrimitive(0, cells.WithLabel("w"), cells.WithWrite(
		func(get cells.Getter, set cells.Setter, args ...any) (any, error) {
			cur, err := get(w)
			if err != nil {
				return nil, err
			}
			return set(w, cur.(int)+args[0].(int))
		}))
	bump := cells.NewWritable(
		func(get cells.Getter) (any, error) { return get(w) },
		func(get cells.Getter, set cells.Setter, args ...any) (any, error) {
			return set(w, args...)
		},
		cells.WithLabel("bump"),
	)

	s, err := New(root, []*cells.Cell{w})
	require.NoError(t, err)

	_, err = s.Set(bump, 5)
	require.NoError(t, err)
	_, err = s.Set(bump, 1)
	require.NoError(t, err)

	v, err := s.Get(w)
	require.NoError(t, err)
	assert.Equal(t, 6, v)
	v, err = root.Get(w)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	assert.Empty(t, s.overrides)
}

func TestCleanupReleasesOwnedStates(t *testing.T) {
	root := cells.New()
	x := cells.NewPrimitive(0)
	a := cells.NewPrimitive(1)
	c := cells.NewComputed(func(get cells.Getter) (any, error) {
		xv, _ := get(x)
		av, _ := get(a)
		return xv.(int) + av.(int), nil
	})
	metrics := newCountingMetrics()

	s, err := New(root, []*cells.Cell{x}, WithMetrics(metrics))
	require.NoError(t, err)
	unsub := s.Sub(c, func() {})
	defer unsub()

	clone := s.reg.clones[x]
	require.NotNil(t, clone)
	require.True(t, root.Mounted(clone))
	assert.Equal(t, 1, metrics.clones["dependent"])
	assert.Equal(t, 1, metrics.reclassified["dependent-scoped"])

	s.Cleanup()
	assert.False(t, root.Mounted(clone))
	assert.Zero(t, s.owned.Len())
	assert.Equal(t, 1, metrics.created)
	assert.Equal(t, 1, metrics.disposed)
}

func TestPeekHasNoSideEffects(t *testing.T) {
	root := cells.New()
	x := cells.NewPrimitive(0)
	s, err := New(root, []*cells.Cell{x})
	require.NoError(t, err)

	assert.Nil(t, s.peek(x, nil))
	assert.Empty(t, s.reg.clones)

	clone := s.resolve(x, nil)
	assert.Same(t, clone, s.peek(x, nil))
	assert.Equal(t, Explicit, s.reg.kinds[clone])
}
