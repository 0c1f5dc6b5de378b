// Package graphstore archives the work graphs built for requests so they can
// be inspected and queried after execution.
package graphstore

import (
	"context"
	"errors"
	"io"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

var (
	// ErrNotFound means no graph is archived for the request.
	ErrNotFound = errors.New("graphstore: graph not found")

	// ErrExists means a graph is already archived for the request.
	ErrExists = errors.New("graphstore: graph already archived")
)

// DefaultMaxDepth bounds dependent traversal when the caller passes 0.
const DefaultMaxDepth = 10

// Store is the archive backend. Implementations: KuzuStore (cgo builds),
// MemStore.
type Store interface {
	io.Closer

	// Init prepares the backend. It is idempotent.
	Init(ctx context.Context) error

	// Save archives g under requestID. Archived graphs are immutable.
	Save(ctx context.Context, requestID string, g *workgraph.Graph) error

	// Load rebuilds the archived graph.
	Load(ctx context.Context, requestID string) (*workgraph.Graph, error)

	// Dependents returns the units that transitively depend on unit, at most
	// maxDepth edges away, in canonical order.
	Dependents(ctx context.Context, requestID string, unit workgraph.UnitID, maxDepth int) ([]workgraph.UnitID, error)

	// Requests lists archived request ids in ascending order.
	Requests(ctx context.Context) ([]string, error)
}
