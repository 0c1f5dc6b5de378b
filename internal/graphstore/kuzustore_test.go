//go:build cgo

package graphstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKuzuStore(t *testing.T) {
	s, err := NewKuzuStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}

func TestKuzuFileStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphs", "kuzu")
	ctx := context.Background()

	s, err := NewKuzuFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Save(ctx, "req-1", pipelineGraph(t)))
	require.NoError(t, s.Close())

	s, err = NewKuzuFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(ctx))

	g, err := s.Load(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())
}
