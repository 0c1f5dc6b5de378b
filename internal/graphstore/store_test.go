package graphstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

func pipelineGraph(t *testing.T) *workgraph.Graph {
	t.Helper()
	g, err := workgraph.New([]workgraph.Unit{
		{ID: "fetch", Description: "fetch the page", RequiredCapabilities: []string{"fetch"}, Weight: 2},
		{ID: "parse", Description: "parse it", RequiredCapabilities: []string{"echo"}, DependsOn: []workgraph.UnitID{"fetch"}},
		{ID: "compute", Description: "compute 2+2", Payload: "2+2", RequiredCapabilities: []string{"compute"},
			Constraints: workgraph.Constraints{Deadline: 3 * time.Second, MaxRetries: workgraph.Retries(1)}},
		{ID: "report", Description: "format as text", RequiredCapabilities: []string{"format", "echo"},
			DependsOn: []workgraph.UnitID{"parse", "compute"}},
	})
	require.NoError(t, err)
	return g
}

// runStoreContract exercises behaviour every Store must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Init(ctx))

	g := pipelineGraph(t)
	require.NoError(t, s.Save(ctx, "req-b", g))
	require.NoError(t, s.Save(ctx, "req-a", g))
	assert.ErrorIs(t, s.Save(ctx, "req-a", g), ErrExists)

	t.Run("load round trip", func(t *testing.T) {
		got, err := s.Load(ctx, "req-a")
		require.NoError(t, err)
		assert.Equal(t, g.Units(), got.Units())
		assert.Equal(t, g.Edges(), got.Edges())
		assert.Equal(t, g.ExecutionLevels(), got.ExecutionLevels())
	})

	t.Run("dependents", func(t *testing.T) {
		deps, err := s.Dependents(ctx, "req-a", "fetch", 0)
		require.NoError(t, err)
		assert.Equal(t, []workgraph.UnitID{"parse", "report"}, deps)

		deps, err = s.Dependents(ctx, "req-a", "fetch", 1)
		require.NoError(t, err)
		assert.Equal(t, []workgraph.UnitID{"parse"}, deps)

		deps, err = s.Dependents(ctx, "req-a", "report", 0)
		require.NoError(t, err)
		assert.Empty(t, deps)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Dependents(ctx, "req-a", "missing", 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("requests sorted", func(t *testing.T) {
		ids, err := s.Requests(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"req-a", "req-b"}, ids)
	})
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}
