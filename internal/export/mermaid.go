// Package export renders work graphs and outcome logs for external tools:
// Mermaid diagrams, JSON graph documents and JSON Lines outcome streams.
package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// statusClasses fixes the order and colour of status classes.
var statusClasses = []struct {
	name  string
	style string
}{
	{"succeeded", "fill:#d4f7d4"},
	{"failed", "fill:#f7d4d4"},
	{"skipped", "fill:#eeeeee"},
	{"cancelled", "fill:#eeeeee,stroke-dasharray:4"},
	{"running", "fill:#fff3c4"},
	{"pending", "fill:#ffffff"},
}

// Mermaid renders g as a Mermaid "graph TD" diagram. Units are grouped in
// one subgraph per execution level, edges point from dependency to
// dependent, and the critical path is drawn with a heavier stroke. When
// statuses is non-nil units are coloured by their status.
func Mermaid(g *workgraph.Graph, statuses map[workgraph.UnitID]string) string {
	index := make(map[workgraph.UnitID]int, g.Len())
	for i, u := range g.Units() {
		index[u.ID] = i
	}
	node := func(id workgraph.UnitID) string { return fmt.Sprintf("N%d", index[id]) }

	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for lvl, ids := range g.ExecutionLevels() {
		fmt.Fprintf(&sb, "  subgraph L%d[\"level %d\"]\n", lvl, lvl)
		for _, id := range ids {
			u, _ := g.Unit(id)
			fmt.Fprintf(&sb, "    %s[\"%s<br/>%s\"]\n", node(id), label(string(id)), label(u.Capability()))
		}
		sb.WriteString("  end\n")
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(&sb, "  %s --> %s\n", node(e.From), node(e.To))
	}

	path, _ := g.CriticalPath()
	if len(path) > 0 {
		nodes := make([]string, len(path))
		for i, id := range path {
			nodes[i] = node(id)
		}
		sb.WriteString("  classDef critical stroke-width:3px\n")
		fmt.Fprintf(&sb, "  class %s critical\n", strings.Join(nodes, ","))
	}

	if statuses != nil {
		groups := make(map[string][]string)
		for _, u := range g.Units() {
			if s, ok := statuses[u.ID]; ok {
				groups[s] = append(groups[s], node(u.ID))
			}
		}
		for _, c := range statusClasses {
			if len(groups[c.name]) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "  classDef %s %s\n", c.name, c.style)
			fmt.Fprintf(&sb, "  class %s %s\n", strings.Join(groups[c.name], ","), c.name)
		}
	}
	return sb.String()
}

func label(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
