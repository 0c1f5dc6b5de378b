package workgraph

// Node colors for the depth-first cycle search.
const (
	white = iota // unvisited
	gray         // on the DFS stack
	black        // finished
)

// findCycle runs a three-color DFS over canonical indices. Reaching a gray
// node closes a cycle; the returned witness lists the cycle in edge direction
// with its first node repeated at the end. Nil means the graph is acyclic.
func (g *Graph) findCycle() []UnitID {
	color := make([]int, len(g.units))
	parent := make([]int, len(g.units))
	for i := range parent {
		parent[i] = -1
	}

	var back []int
	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if visit(v) {
					return true
				}
			case gray:
				// Back edge u -> v: walk parents from u up to v.
				back = append(back, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					back = append(back, cur)
				}
				back = append(back, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.units {
		if color[i] == white && visit(i) {
			break
		}
	}
	if back == nil {
		return nil
	}

	// back is [v, u, parent(u), ..., v]; reversing yields edge order.
	out := make([]UnitID, len(back))
	for i := range back {
		out[i] = g.units[back[len(back)-1-i]].ID
	}
	return out
}

// FindCycle reports a cycle among units, or nil if their dependencies are
// acyclic. Units with structural defects (duplicate or unknown ids) yield nil;
// New reports those separately.
func FindCycle(units []Unit) []UnitID {
	g, err := build(units)
	if err != nil {
		return nil
	}
	return g.findCycle()
}

// HasCycle reports whether the dependency relation among units is cyclic.
func HasCycle(units []Unit) bool {
	return FindCycle(units) != nil
}
