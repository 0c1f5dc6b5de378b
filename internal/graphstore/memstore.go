package graphstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

var _ Store = (*MemStore)(nil)

// MemStore keeps graphs in a map. Graphs are immutable, so they are shared
// rather than copied.
type MemStore struct {
	mu     sync.RWMutex
	graphs map[string]*workgraph.Graph
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{graphs: make(map[string]*workgraph.Graph)}
}

func (m *MemStore) Init(_ context.Context) error { return nil }

func (m *MemStore) Close() error { return nil }

func (m *MemStore) Save(_ context.Context, requestID string, g *workgraph.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.graphs[requestID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, requestID)
	}
	m.graphs[requestID] = g
	return nil
}

func (m *MemStore) Load(_ context.Context, requestID string) (*workgraph.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return g, nil
}

func (m *MemStore) Dependents(ctx context.Context, requestID string, unit workgraph.UnitID, maxDepth int) ([]workgraph.UnitID, error) {
	g, err := m.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if _, ok := g.Unit(unit); !ok {
		return nil, fmt.Errorf("%w: unit %s in %s", ErrNotFound, unit, requestID)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	seen := map[workgraph.UnitID]bool{unit: true}
	frontier := []workgraph.UnitID{unit}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []workgraph.UnitID
		for _, id := range frontier {
			for _, d := range g.Dependents(id) {
				if !seen[d] {
					seen[d] = true
					next = append(next, d)
				}
			}
		}
		frontier = next
	}
	delete(seen, unit)
	return canonical(g, seen), nil
}

func (m *MemStore) Requests(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.graphs))
	for id := range m.graphs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// canonical filters g's units to those in set, keeping graph order.
func canonical(g *workgraph.Graph, set map[workgraph.UnitID]bool) []workgraph.UnitID {
	var out []workgraph.UnitID
	for _, u := range g.Units() {
		if set[u.ID] {
			out = append(out, u.ID)
		}
	}
	return out
}
