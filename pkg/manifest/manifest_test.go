package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-cells/pkg/manifest"
	"github.com/goliatone/go-cells/pkg/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pricing = `
cells:
  - name: price
    value: 10
  - name: seats
    value: 1
  - name: discount
    value: null
  - name: total
    expr: price * seats
    label: Total
  - name: summary
    engine: cel
    expr: 'total > 20 ? "large" : "small"'
scopes:
  - name: trial
    explicit: [price]
    values:
      price: 0
  - name: team
    explicit: [seats]
    values:
      seats: 5
    scopes:
      - name: team-plus
        explicit: [price]
        values:
          price: 12
`

func TestParseDecodesCellsAndScopes(t *testing.T) {
	m, err := manifest.Parse([]byte(pricing))
	require.NoError(t, err)

	require.Len(t, m.Cells, 5)
	assert.True(t, m.Cells[0].HasValue)
	assert.Equal(t, 10, m.Cells[0].Value)
	assert.True(t, m.Cells[2].HasValue, "explicit null is still a value")
	assert.Nil(t, m.Cells[2].Value)
	assert.False(t, m.Cells[3].HasValue)
	assert.Equal(t, "cel", m.Cells[4].Engine)

	require.Len(t, m.Scopes, 2)
	require.Len(t, m.Scopes[1].Scopes, 1)
	assert.Equal(t, "team-plus", m.Scopes[1].Scopes[0].Name)
	require.NoError(t, m.Validate())
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := manifest.Parse([]byte("cells:\n  - name: a\n    valeu: 1\n"))
	require.ErrorIs(t, err, manifest.ErrInvalidManifest)
	assert.Contains(t, err.Error(), "valeu")

	_, err = manifest.Parse([]byte(""))
	require.ErrorIs(t, err, manifest.ErrInvalidManifest)

	_, err = manifest.Parse([]byte("cells: [\n"))
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	m, err := manifest.Parse([]byte(`
cells:
  - name: a
    value: 1
  - name: A
    value: 2
  - name: both
    value: 1
    expr: a
  - name: neither
  - name: odd
    engine: lua
    expr: a
  - name: derived
    expr: a + 1
scopes:
  - name: s
    explicit: [a, ghost]
    values:
      derived: 3
      neither: 1
  - name: s
  - name: t
    explicit: [derived]
    values:
      derived: 1
`))
	require.NoError(t, err)

	err = m.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, manifest.ErrInvalidManifest))
	for _, want := range []string{
		`cell "A" declared twice`,
		`cell "both" sets both value and expr`,
		`cell "neither" needs a value or an expr`,
		`cell "odd": unknown engine "lua"`,
		`explicit "ghost" is not a cell`,
		`value for "derived" which is not explicit in this scope`,
		`scope "s" declared twice`,
		`value for expression cell "derived"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestBuildCreatesLiveGraph(t *testing.T) {
	m, err := manifest.Parse([]byte(pricing))
	require.NoError(t, err)
	g, err := manifest.Build(m)
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, []string{"trial", "team", "team-plus"}, g.Scopes())
	total, err := g.Cell("total")
	require.NoError(t, err)
	assert.Equal(t, "Total", total.Label())
	summary, err := g.Cell("summary")
	require.NoError(t, err)

	cases := []struct {
		scope   string
		total   any
		summary any
	}{
		{scope: manifest.RootScope, total: 10, summary: "small"},
		{scope: "trial", total: 0, summary: "small"},
		{scope: "team", total: 50, summary: "large"},
		{scope: "team-plus", total: 60, summary: "large"},
	}
	for _, tc := range cases {
		accessor, err := g.Accessor(tc.scope)
		require.NoError(t, err, tc.scope)
		got, err := accessor.Get(total)
		require.NoError(t, err, tc.scope)
		assert.Equal(t, tc.total, got, tc.scope)
		got, err = accessor.Get(summary)
		require.NoError(t, err, tc.scope)
		assert.Equal(t, tc.summary, got, tc.scope)
	}

	teamPlus, ok := g.Scope("team-plus")
	require.True(t, ok)
	seats, err := g.Cell("seats")
	require.NoError(t, err)
	assert.Equal(t, scope.Inherited, teamPlus.Classify(seats))

	_, err = g.Accessor("missing")
	assert.ErrorIs(t, err, manifest.ErrUnknownScope)
	_, err = g.Cell("missing")
	assert.ErrorIs(t, err, manifest.ErrUnknownCell)
}

func TestCloseCleansScopesUp(t *testing.T) {
	m, err := manifest.Parse([]byte(pricing))
	require.NoError(t, err)
	g, err := manifest.Build(m)
	require.NoError(t, err)

	g.Close()
	for _, name := range g.Scopes() {
		s, ok := g.Scope(name)
		require.True(t, ok)
		assert.True(t, s.Disposed(), name)
	}
	price, err := g.Cell("price")
	require.NoError(t, err)
	trial, _ := g.Scope("trial")
	_, err = trial.Get(price)
	assert.ErrorIs(t, err, scope.ErrScopeDisposed)
}

func TestBuildRejectsInvalidManifest(t *testing.T) {
	_, err := manifest.Build(&manifest.Manifest{Cells: []manifest.CellSpec{{Name: "x"}}})
	assert.ErrorIs(t, err, manifest.ErrInvalidManifest)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pricing), 0o600))

	m, err := manifest.Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Cells, 5)

	_, err = manifest.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
