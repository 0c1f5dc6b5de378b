package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestra/internal/outcome"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

func pipeline(t *testing.T) *workgraph.Graph {
	t.Helper()
	g, err := workgraph.New([]workgraph.Unit{
		{ID: "fetch", RequiredCapabilities: []string{"echo"}, Weight: 2},
		{ID: "parse", RequiredCapabilities: []string{"echo"}, DependsOn: []workgraph.UnitID{"fetch"}},
		{ID: "compute", RequiredCapabilities: []string{"compute"}},
		{ID: "report", RequiredCapabilities: []string{"format"}, DependsOn: []workgraph.UnitID{"parse", "compute"}},
	})
	require.NoError(t, err)
	return g
}

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestMermaid_Golden(t *testing.T) {
	g := newGolden(t)
	g.Assert(t, "pipeline", []byte(Mermaid(pipeline(t), nil)))
}

func TestMermaid_StatusClasses(t *testing.T) {
	statuses := map[workgraph.UnitID]string{
		"fetch":   "succeeded",
		"compute": "succeeded",
		"parse":   "failed",
		"report":  "skipped",
	}
	g := newGolden(t)
	g.Assert(t, "pipeline_status", []byte(Mermaid(pipeline(t), statuses)))
}

func TestMermaid_EscapesQuotes(t *testing.T) {
	wg, err := workgraph.New([]workgraph.Unit{{ID: `say "hi"`, RequiredCapabilities: []string{"echo"}}})
	require.NoError(t, err)

	out := Mermaid(wg, nil)
	assert.Contains(t, out, `N0["say #quot;hi#quot;<br/>echo"]`)
	assert.NotContains(t, out, "-->")
}

func TestExportGraph(t *testing.T) {
	doc := ExportGraph("req-1", pipeline(t))

	assert.Equal(t, "req-1", doc.RequestID)
	assert.Len(t, doc.Units, 4)
	assert.Len(t, doc.Edges, 3)
	assert.Equal(t, [][]workgraph.UnitID{{"fetch", "compute"}, {"parse"}, {"report"}}, doc.Levels)
	assert.Equal(t, []workgraph.UnitID{"fetch", "parse", "report"}, doc.CriticalPath)
	assert.InDelta(t, 4.0, doc.PathWeight, 1e-9)

	_, err := time.Parse(time.RFC3339, doc.ExportedAt)
	assert.NoError(t, err)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"criticalPath":["fetch","parse","report"]`)
}

func TestExportGraph_SingleUnitHasEmptyEdges(t *testing.T) {
	wg, err := workgraph.New([]workgraph.Unit{{ID: "only"}})
	require.NoError(t, err)

	raw, err := json.Marshal(ExportGraph("r", wg))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"edges":[]`)
}

func TestStreamOutcomes(t *testing.T) {
	ctx := context.Background()
	log := outcome.NewMemLog()
	for _, unit := range []string{"a", "b", "c"} {
		_, err := log.Append(ctx, outcome.Outcome{RequestID: "r", UnitID: unit, Attempt: 1, Success: true})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	seq, err := StreamOutcomes(ctx, log, 1, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	var units []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var o outcome.Outcome
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		units = append(units, o.UnitID)
	}
	assert.Equal(t, []string{"b", "c"}, units)

	buf.Reset()
	seq, err = StreamOutcomes(ctx, log, seq, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
	assert.Zero(t, buf.Len())
}
