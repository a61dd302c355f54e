package cells_test

import (
	"testing"

	"github.com/goliatone/go-cells"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRegisterAndLookup(t *testing.T) {
	catalog := cells.NewCatalog()
	count := cells.NewPrimitive(0)

	require.NoError(t, catalog.Register("Count", count))
	require.Error(t, catalog.Register("count", cells.NewPrimitive(1)))
	require.Error(t, catalog.Register("", count))
	require.Error(t, catalog.Register("nil", nil))

	got, err := catalog.Lookup("COUNT")
	require.NoError(t, err)
	assert.Same(t, count, got)

	_, err = catalog.Lookup("missing")
	require.Error(t, err)

	name, ok := catalog.NameOf(count.Clone())
	require.True(t, ok)
	assert.Equal(t, "count", name)
}

func TestCatalogCloneAndNames(t *testing.T) {
	catalog := cells.NewCatalog()
	catalog.MustRegister("b", cells.NewPrimitive(0))
	catalog.MustRegister("a", cells.NewPrimitive(0))

	clone := catalog.Clone()
	clone.MustRegister("c", cells.NewPrimitive(0))

	assert.Equal(t, []string{"a", "b"}, catalog.Names())
	assert.Equal(t, []string{"a", "b", "c"}, clone.Names())
	assert.Panics(t, func() { catalog.MustRegister("a", cells.NewPrimitive(1)) })
}
