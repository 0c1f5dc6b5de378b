package workgraph

import "sort"

// Graph is an immutable, validated DAG of units. Canonical node order is the
// order in which units were supplied to New; every traversal that has a choice
// breaks ties by that order, so results are deterministic.
type Graph struct {
	units    []Unit
	index    map[UnitID]int
	outgoing [][]int // dependency -> dependents, ascending canonical index
	incoming [][]int // dependent -> dependencies, ascending canonical index
}

// New validates units and builds a Graph. It rejects empty input, empty or
// duplicate ids, and unknown dependencies with ErrInvalidGraph, and any cycle
// with ErrCycleDetected. Construction never yields a partially ordered graph.
func New(units []Unit) (*Graph, error) {
	g, err := build(units)
	if err != nil {
		return nil, err
	}
	if cycle := g.findCycle(); cycle != nil {
		return nil, cycleError(cycle)
	}
	return g, nil
}

// build performs every structural check except acyclicity.
func build(units []Unit) (*Graph, error) {
	if len(units) == 0 {
		return nil, invalidf("no units")
	}

	g := &Graph{
		units:    make([]Unit, len(units)),
		index:    make(map[UnitID]int, len(units)),
		outgoing: make([][]int, len(units)),
		incoming: make([][]int, len(units)),
	}

	for i, u := range units {
		if u.ID == "" {
			return nil, invalidf("unit at position %d has empty id", i)
		}
		if _, dup := g.index[u.ID]; dup {
			return nil, invalidf("duplicate unit id %q", u.ID)
		}
		g.index[u.ID] = i
		g.units[i] = cloneUnit(u)
	}

	for i, u := range g.units {
		seen := make(map[int]bool, len(u.DependsOn))
		for _, dep := range u.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				return nil, invalidf("unit %q depends on unknown unit %q", u.ID, dep)
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.outgoing[j] = append(g.outgoing[j], i)
			g.incoming[i] = append(g.incoming[i], j)
		}
	}
	for i := range g.units {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}
	return g, nil
}

// Len returns the number of units.
func (g *Graph) Len() int { return len(g.units) }

// Unit returns the unit with the given id.
func (g *Graph) Unit(id UnitID) (Unit, bool) {
	i, ok := g.index[id]
	if !ok {
		return Unit{}, false
	}
	return cloneUnit(g.units[i]), true
}

// Units returns all units in canonical order.
func (g *Graph) Units() []Unit {
	out := make([]Unit, len(g.units))
	for i, u := range g.units {
		out[i] = cloneUnit(u)
	}
	return out
}

// Edges returns every dependency edge, ordered by dependent then dependency.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for to, deps := range g.incoming {
		for _, from := range deps {
			out = append(out, Edge{From: g.units[from].ID, To: g.units[to].ID})
		}
	}
	return out
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id UnitID) []UnitID {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.incoming[i])
}

// Dependents returns the units that directly depend on id.
func (g *Graph) Dependents(id UnitID) []UnitID {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.outgoing[i])
}

// Descendants returns every unit that transitively depends on id, in
// canonical order.
func (g *Graph) Descendants(id UnitID) []UnitID {
	start, ok := g.index[id]
	if !ok {
		return nil
	}
	visited := make([]bool, len(g.units))
	stack := append([]int(nil), g.outgoing[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, g.outgoing[n]...)
	}
	var out []UnitID
	for i, v := range visited {
		if v {
			out = append(out, g.units[i].ID)
		}
	}
	return out
}

// Sinks returns units nobody depends on, in canonical order. Their outputs are
// the request's final results.
func (g *Graph) Sinks() []UnitID {
	var out []UnitID
	for i, deps := range g.outgoing {
		if len(deps) == 0 {
			out = append(out, g.units[i].ID)
		}
	}
	return out
}

func (g *Graph) ids(idx []int) []UnitID {
	if len(idx) == 0 {
		return nil
	}
	out := make([]UnitID, len(idx))
	for k, i := range idx {
		out[k] = g.units[i].ID
	}
	return out
}

func cloneUnit(u Unit) Unit {
	out := u
	if u.RequiredCapabilities != nil {
		out.RequiredCapabilities = append([]string(nil), u.RequiredCapabilities...)
	}
	if u.DependsOn != nil {
		out.DependsOn = append([]UnitID(nil), u.DependsOn...)
	}
	if u.Constraints.MaxRetries != nil {
		out.Constraints.MaxRetries = Retries(*u.Constraints.MaxRetries)
	}
	return out
}
