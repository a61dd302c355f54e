package cells_test

import (
	"testing"

	"github.com/goliatone/go-cells"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyCreatesMembersOnce(t *testing.T) {
	created := 0
	family := cells.NewFamily(func(id int) *cells.Cell {
		created++
		return cells.NewPrimitive(id * 10)
	})

	first := family.Get(1)
	assert.Same(t, first, family.Get(1))
	assert.Equal(t, 1, created)

	second := family.Get(2)
	assert.Equal(t, []*cells.Cell{first, second}, family.Members())

	v, err := cells.New().Get(second)
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}

func TestFamilyListenStreamsMembership(t *testing.T) {
	family := cells.NewFamily(func(key string) *cells.Cell {
		return cells.NewPrimitive(key, cells.WithLabel(key))
	})

	var events []cells.FamilyEvent
	stop := family.Listen(func(event cells.FamilyEvent) {
		events = append(events, event)
	})

	a := family.Get("a")
	family.Get("a")
	family.Remove("a")
	family.Remove("missing")
	stop()
	family.Get("b")

	require.Len(t, events, 2)
	assert.Equal(t, cells.FamilyEvent{Type: cells.FamilyCreated, Cell: a}, events[0])
	assert.Equal(t, cells.FamilyEvent{Type: cells.FamilyRemoved, Cell: a}, events[1])
	assert.NotSame(t, a, family.Get("a"))
}
