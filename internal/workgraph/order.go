package workgraph

import (
	"container/heap"
	"time"
)

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoIndices is Kahn's algorithm with a min-heap ready queue so that, among
// ready nodes, the lowest canonical index always goes first.
func (g *Graph) topoIndices() []int {
	indeg := make([]int, len(g.units))
	for i, deps := range g.incoming {
		indeg[i] = len(deps)
	}

	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(g.units))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// TopologicalOrder returns one valid serial order. The error branch is
// unreachable for graphs built by New and exists as a correctness check.
func (g *Graph) TopologicalOrder() ([]UnitID, error) {
	order := g.topoIndices()
	if len(order) != len(g.units) {
		return nil, cycleError(g.findCycle())
	}
	return g.ids(order), nil
}

// ExecutionLevels groups units by the earliest level at which all of their
// dependencies are satisfied. Units in one level may run concurrently; level
// k+1 only contains units with at least one dependency in level k.
func (g *Graph) ExecutionLevels() [][]UnitID {
	level := make([]int, len(g.units))
	depth := 0
	for _, n := range g.topoIndices() {
		for _, d := range g.incoming[n] {
			if level[d]+1 > level[n] {
				level[n] = level[d] + 1
			}
		}
		if level[n]+1 > depth {
			depth = level[n] + 1
		}
	}

	levels := make([][]UnitID, depth)
	for i, l := range level {
		levels[l] = append(levels[l], g.units[i].ID)
	}
	return levels
}

// Depth returns the number of execution levels.
func (g *Graph) Depth() int {
	return len(g.ExecutionLevels())
}

// CriticalPath returns the longest weighted dependency chain and its total
// weight: longest[v] = weight(v) + max(longest[u]) over predecessors u. It is
// used for completion-time estimates, never for scheduling.
func (g *Graph) CriticalPath() ([]UnitID, float64) {
	longest := make([]float64, len(g.units))
	prev := make([]int, len(g.units))

	best := -1
	for _, v := range g.topoIndices() {
		prev[v] = -1
		base := 0.0
		for _, u := range g.incoming[v] {
			if prev[v] == -1 || longest[u] > base {
				base = longest[u]
				prev[v] = u
			}
		}
		longest[v] = g.units[v].weight() + base
		if best == -1 || longest[v] > longest[best] {
			best = v
		}
	}
	if best == -1 {
		return nil, 0
	}

	var rev []int
	for n := best; n != -1; n = prev[n] {
		rev = append(rev, n)
	}
	path := make([]UnitID, len(rev))
	for i := range rev {
		path[i] = g.units[rev[len(rev)-1-i]].ID
	}
	return path, longest[best]
}

// EstimateCompletion scales the critical path weight by the expected duration
// of a unit of weight 1.
func (g *Graph) EstimateCompletion(perUnit time.Duration) time.Duration {
	_, w := g.CriticalPath()
	return time.Duration(w * float64(perUnit))
}
