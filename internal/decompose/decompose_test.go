package decompose

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

func ids(ss ...string) []workgraph.UnitID {
	out := make([]workgraph.UnitID, len(ss))
	for i, s := range ss {
		out[i] = workgraph.UnitID(s)
	}
	return out
}

// scripted answers the decompose capability from a table keyed by the
// normalised request text.
func scripted(t *testing.T, answers map[string]string) capability.Provider {
	t.Helper()
	return capability.ProviderFunc(func(ctx context.Context, c, payload string, opts capability.Options) (string, error) {
		assert.Equal(t, DecomposeCapability, c)
		out, ok := answers[payload]
		if !ok {
			return "", capability.PermanentError(c, errors.New("no script for "+payload))
		}
		return out, nil
	})
}

func TestBuild_ComputeThenFormat(t *testing.T) {
	g, err := NewBuilder().Build(context.Background(), "compute 2+2 then format as text", workgraph.Constraints{})
	require.NoError(t, err)

	require.Equal(t, 2, g.Len())
	compute, ok := g.Unit("compute")
	require.True(t, ok)
	assert.Equal(t, "compute 2+2", compute.Payload)
	assert.Equal(t, []string{"compute"}, compute.RequiredCapabilities)

	format, ok := g.Unit("format")
	require.True(t, ok)
	assert.Equal(t, ids("compute"), format.DependsOn)
	assert.Equal(t, [][]workgraph.UnitID{ids("compute"), ids("format")}, g.ExecutionLevels())
}

func TestBuild_SimpleRequestIsOneUnit(t *testing.T) {
	g, err := NewBuilder().Build(context.Background(), "  compute   2+2 ", workgraph.Constraints{})
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
	u, ok := g.Unit("compute")
	require.True(t, ok)
	assert.Equal(t, "compute 2+2", u.Payload)
}

func TestBuild_FixedRuleShapes(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		levels [][]workgraph.UnitID
	}{
		{
			name:   "parallel clauses joined by and",
			text:   "fetch prices and fetch rates, then summarize",
			levels: [][]workgraph.UnitID{ids("fetch", "fetch-2"), ids("summarize")},
		},
		{
			name:   "and inside a clause is not a split",
			text:   "format tables and charts then translate",
			levels: [][]workgraph.UnitID{ids("format"), ids("translate")},
		},
		{
			name:   "numbered steps",
			text:   "1. fetch data\n2. compute 1+1\n3. format the result",
			levels: [][]workgraph.UnitID{ids("fetch"), ids("compute"), ids("format")},
		},
		{
			name:   "semicolons and after that",
			text:   "search docs; summarize findings. After that, translate",
			levels: [][]workgraph.UnitID{ids("search"), ids("summarize"), ids("translate")},
		},
		{
			name:   "unknown verb falls back to echo",
			text:   "ponder life then format it",
			levels: [][]workgraph.UnitID{ids("echo"), ids("format")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewBuilder().Build(context.Background(), tt.text, workgraph.Constraints{})
			require.NoError(t, err)
			assert.Equal(t, tt.levels, g.ExecutionLevels())
		})
	}
}

func TestBuild_AppliesConstraints(t *testing.T) {
	c := workgraph.Constraints{Deadline: 5 * time.Second, MaxRetries: workgraph.Retries(1)}
	g, err := NewBuilder().Build(context.Background(), "compute 1+1 then format", c)
	require.NoError(t, err)
	for _, u := range g.Units() {
		assert.Equal(t, 5*time.Second, u.Constraints.Deadline)
		assert.Equal(t, 1, u.Constraints.RetriesOr(3))
	}
}

func TestBuild_Unsplittable(t *testing.T) {
	// The delegate hands back the request whole, so nothing gets simpler.
	p := scripted(t, map[string]string{
		"draft; review": `{"units":[{"id":"all","payload":"draft; review"}]}`,
	})
	b := NewBuilder(WithDelegate(NewDelegated(p, ""), ModeDelegated))
	_, err := b.Build(context.Background(), "draft; review", workgraph.Constraints{})
	require.Error(t, err)
	assert.ErrorIs(t, err, workgraph.ErrUnsplittable)

	var de *workgraph.DecompositionError
	require.True(t, errors.As(err, &de))
}

func TestBuild_LongSingleClauseIsLeaf(t *testing.T) {
	long := "ponder " + strings.Repeat("deeply ", 70)
	b := NewBuilder()
	require.Greater(t, b.Complexity(long), 1)

	g, err := b.Build(context.Background(), long, workgraph.Constraints{})
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
	u := g.Units()[0]
	assert.Equal(t, Normalize(long), u.Payload)
}

func TestBuild_LongTrailingClauseIsLeaf(t *testing.T) {
	text := "compute 2+2 then format " + strings.Repeat("nicely ", 70)
	g, err := NewBuilder().Build(context.Background(), text, workgraph.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, [][]workgraph.UnitID{ids("compute"), ids("format")}, g.ExecutionLevels())
}

func TestBuild_EmptyRequest(t *testing.T) {
	_, err := NewBuilder().Build(context.Background(), "   ", workgraph.Constraints{})
	assert.ErrorIs(t, err, workgraph.ErrInvalidGraph)
}

func TestBuild_Delegated(t *testing.T) {
	p := scripted(t, map[string]string{
		"gather sources; write report": "```json\n" + `{"units":[
			{"id":"gather","description":"gather sources","capabilities":["search"]},
			{"id":"write","payload":"write report","capabilities":["summarize"],"dependsOn":["gather"]}
		]}` + "\n```",
	})
	b := NewBuilder(WithDelegate(NewDelegated(p, ""), ModeDelegated))

	g, err := b.Build(context.Background(), "gather sources; write report", workgraph.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, [][]workgraph.UnitID{ids("gather"), ids("write")}, g.ExecutionLevels())
	u, _ := g.Unit("gather")
	assert.Equal(t, "gather sources", u.Payload)
	assert.Equal(t, []string{"search"}, u.RequiredCapabilities)
}

func TestBuild_DelegatedCycleRejected(t *testing.T) {
	p := scripted(t, map[string]string{
		"a; b; c": `{"units":[
			{"id":"A","payload":"a","dependsOn":["C"]},
			{"id":"B","payload":"b","dependsOn":["A"]},
			{"id":"C","payload":"c","dependsOn":["B"]}
		]}`,
	})
	b := NewBuilder(WithDelegate(NewDelegated(p, ""), ModeDelegated))

	g, err := b.Build(context.Background(), "a; b; c", workgraph.Constraints{})
	assert.Nil(t, g)
	require.ErrorIs(t, err, workgraph.ErrCycleDetected)

	var de *workgraph.DecompositionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ids("A", "B", "C", "A"), de.Cycle)
}

func TestBuild_HybridScoring(t *testing.T) {
	const text = "fetch a then fetch b then summarize"

	t.Run("fewer edges wins", func(t *testing.T) {
		p := scripted(t, map[string]string{text: `{"units":[
			{"id":"fa","payload":"fetch a"},
			{"id":"fb","payload":"fetch b"},
			{"id":"sum","payload":"summarize","dependsOn":["fb"]}
		]}`})
		b := NewBuilder(WithDelegate(NewDelegated(p, ""), ModeHybrid))
		g, err := b.Build(context.Background(), text, workgraph.Constraints{})
		require.NoError(t, err)
		assert.Equal(t, [][]workgraph.UnitID{ids("fa", "fb"), ids("sum")}, g.ExecutionLevels())
	})

	t.Run("equal edges then smaller depth wins", func(t *testing.T) {
		p := scripted(t, map[string]string{text: `{"units":[
			{"id":"fa","payload":"fetch a"},
			{"id":"fb","payload":"fetch b"},
			{"id":"sum","payload":"summarize","dependsOn":["fa","fb"]}
		]}`})
		b := NewBuilder(WithDelegate(NewDelegated(p, ""), ModeHybrid))
		g, err := b.Build(context.Background(), text, workgraph.Constraints{})
		require.NoError(t, err)
		assert.Equal(t, [][]workgraph.UnitID{ids("fa", "fb"), ids("sum")}, g.ExecutionLevels())
	})

	t.Run("tie goes to fixed rules", func(t *testing.T) {
		p := scripted(t, map[string]string{text: `{"units":[
			{"id":"x","payload":"fetch a"},
			{"id":"y","payload":"fetch b","dependsOn":["x"]},
			{"id":"z","payload":"summarize","dependsOn":["y"]}
		]}`})
		b := NewBuilder(WithDelegate(NewDelegated(p, ""), ModeHybrid))
		g, err := b.Build(context.Background(), text, workgraph.Constraints{})
		require.NoError(t, err)
		_, ok := g.Unit("fetch-2")
		assert.True(t, ok)
	})

	t.Run("invalid delegated proposal is dropped", func(t *testing.T) {
		p := scripted(t, map[string]string{text: `{"units":[{"id":"x","payload":"fetch a","dependsOn":["ghost"]}]}`})
		b := NewBuilder(WithDelegate(NewDelegated(p, ""), ModeHybrid))
		g, err := b.Build(context.Background(), text, workgraph.Constraints{})
		require.NoError(t, err)
		assert.Equal(t, 3, g.Len())
	})

	t.Run("provider failure falls back to fixed rules", func(t *testing.T) {
		b := NewBuilder(WithDelegate(NewDelegated(scripted(t, nil), ""), ModeHybrid))
		g, err := b.Build(context.Background(), text, workgraph.Constraints{})
		require.NoError(t, err)
		assert.Equal(t, 3, g.Depth())
	})
}

func TestBuild_RecursiveSplitRewiresDependencies(t *testing.T) {
	p := scripted(t, map[string]string{
		"plan trip; publish": `{"units":[
			{"id":"prep","payload":"fetch flights then compute 1+1"},
			{"id":"report","payload":"format","capabilities":["format"],"dependsOn":["prep"]}
		]}`,
		"fetch flights then compute 1+1": `{"units":[
			{"id":"fetch","payload":"fetch flights","capabilities":["fetch"]},
			{"id":"compute","payload":"compute 1+1","capabilities":["compute"],"dependsOn":["fetch"]}
		]}`,
	})
	b := NewBuilder(WithDelegate(NewDelegated(p, ""), ModeDelegated))

	g, err := b.Build(context.Background(), "plan trip; publish", workgraph.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, [][]workgraph.UnitID{ids("prep/fetch"), ids("prep/compute"), ids("report")}, g.ExecutionLevels())
	assert.Equal(t, ids("prep/compute"), g.Dependencies("report"))
}

func TestBuild_MaxDepth(t *testing.T) {
	// The provider always proposes a split whose first child is as complex
	// as the parent, so recursion must stop at the depth bound.
	p := capability.ProviderFunc(func(ctx context.Context, c, payload string, opts capability.Options) (string, error) {
		return `{"units":[{"id":"again","payload":"a; b"},{"id":"leaf","payload":"echo"}]}`, nil
	})
	b := NewBuilder(WithDelegate(NewDelegated(p, ""), ModeDelegated), WithMaxDepth(2))
	_, err := b.Build(context.Background(), "a; b", workgraph.Constraints{})
	assert.ErrorIs(t, err, workgraph.ErrUnsplittable)
}

func TestNormalize(t *testing.T) {
	decomposed := "cafe\u0301  au\tlait\n  next   line "
	assert.Equal(t, "caf\u00e9 au lait\nnext line", Normalize(decomposed))
}

func TestComplexity(t *testing.T) {
	b := NewBuilder()
	assert.Equal(t, 1, b.Complexity("compute 2+2"))
	assert.Equal(t, 2, b.Complexity("compute 2+2 then format as text"))
	assert.Equal(t, 2, b.Complexity("ponder "+strings.Repeat("x ", 63)))
}
