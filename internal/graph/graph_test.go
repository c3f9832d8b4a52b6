package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/model"
)

func TestGraph_AddEdgeKeepsMaxWeight(t *testing.T) {
	g := NewGraph()
	g.AddEdge("alice", "bob", 1.0)
	g.AddEdge("alice", "bob", 3.0)
	g.AddEdge("alice", "bob", 2.0)

	assert.Equal(t, 3.0, g.Weight("alice", "bob"), "weight is MAX across interaction types, not the sum")
	assert.Equal(t, 1, g.EdgeCount())
}

func TestGraph_IgnoresSelfEdges(t *testing.T) {
	g := NewGraph()
	g.AddEdge("alice", "alice", 2.0)
	assert.Equal(t, 0, g.EdgeCount())
}

func TestGraph_NormalizesCase(t *testing.T) {
	g := NewGraph()
	g.AddEdge("Alice", "BOB", 1.0)
	assert.Equal(t, 1.0, g.Weight("alice", "bob"))
	assert.Equal(t, []string{"alice", "bob"}, g.Nodes())
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(DefaultWeights(), nil)

	content := map[string][]model.ContentItem{
		"alice": {
			{ID: "1", Author: "alice", Text: "gm @bob", Mentions: []string{"bob"}},
			{ID: "2", Author: "alice", Retweet: true, RetweetedID: "90", RetweetedUser: "carol"},
			{ID: "3", Author: "alice", Quote: true, QuotedID: "91", QuotedUser: "bob"},
			{ID: "4", Author: "alice", Reply: true, Mentions: []string{"dave"}},
		},
		"bob": {
			{ID: "5", Author: "bob", Retweet: true, RetweetedID: "1", RetweetedUser: "alice"},
		},
	}

	g := b.Build(content)

	t.Run("mention_edge", func(t *testing.T) {
		// Quote weight (3.0) beats the earlier mention weight (2.0) on alice->bob.
		assert.Equal(t, 3.0, g.Weight("alice", "bob"))
	})
	t.Run("retweet_edge", func(t *testing.T) {
		assert.Equal(t, 1.0, g.Weight("alice", "carol"))
		assert.Equal(t, 1.0, g.Weight("bob", "alice"))
	})
	t.Run("reply_yields_no_edges", func(t *testing.T) {
		assert.Zero(t, g.Weight("alice", "dave"))
	})
}

func TestBuilder_RelevanceFilterDropsEdges(t *testing.T) {
	relevant := RelevanceFunc(func(username string) bool { return username != "spammer" })
	b := NewBuilder(DefaultWeights(), relevant)

	content := map[string][]model.ContentItem{
		"alice":   {{ID: "1", Author: "alice", Mentions: []string{"bob", "spammer"}}},
		"spammer": {{ID: "2", Author: "spammer", Mentions: []string{"alice"}}},
	}

	g := b.Build(content)
	assert.Equal(t, 2.0, g.Weight("alice", "bob"))
	assert.Zero(t, g.Weight("alice", "spammer"), "irrelevant target drops the edge")
	assert.Zero(t, g.Weight("spammer", "alice"), "irrelevant source drops the edge")
}

func TestGraph_InteractionWeights(t *testing.T) {
	g := NewGraph()
	g.AddEdge("alice", "bob", 3.0)
	g.AddEdge("carol", "bob", 1.0)
	g.AddEdge("bob", "alice", 2.0)

	weights := g.InteractionWeights()
	assert.Equal(t, 5.0, weights["alice"], "out 3 + in 2")
	assert.Equal(t, 6.0, weights["bob"], "out 2 + in 4")
	assert.Equal(t, 1.0, weights["carol"])
}

func TestGraph_Adjacency(t *testing.T) {
	g := NewGraph()
	g.AddEdge("bravo", "alpha", 2.0)
	g.AddEdge("alpha", "charlie", 1.0)

	nodes, matrix := g.Adjacency()
	require.Equal(t, []string{"alpha", "bravo", "charlie"}, nodes)
	assert.Equal(t, 2.0, matrix[1][0])
	assert.Equal(t, 1.0, matrix[0][2])
	assert.Zero(t, matrix[2][1])
}

func TestPageRank_RanksInLinkedNodesHigher(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "hub", 1.0)
	g.AddEdge("b", "hub", 1.0)
	g.AddEdge("c", "hub", 1.0)
	g.AddEdge("hub", "a", 1.0)

	scores, err := PageRank(g, DefaultPageRankParams())
	require.NoError(t, err)

	assert.Greater(t, scores["hub"], scores["b"])
	assert.Greater(t, scores["hub"], scores["c"])

	var sum float64
	for _, s := range scores {
		sum += s
	}
	assert.InDelta(t, 1.0, sum, 1e-6, "raw pagerank mass stays normalized")
}

func TestPageRank_WeightsMatter(t *testing.T) {
	g := NewGraph()
	// Same topology toward both targets, but quoting carries more weight.
	g.AddEdge("a", "quoted", 3.0)
	g.AddEdge("a", "retweeted", 1.0)

	scores, err := PageRank(g, DefaultPageRankParams())
	require.NoError(t, err)
	assert.Greater(t, scores["quoted"], scores["retweeted"])
}

func TestPageRank_EmptyGraphFails(t *testing.T) {
	_, err := PageRank(NewGraph(), DefaultPageRankParams())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindComputation))
	assert.Contains(t, err.Error(), "no interactions found in network")
}

func TestPageRank_NonConvergenceIsExplicit(t *testing.T) {
	g := NewGraph()
	for i := 0; i < 50; i++ {
		g.AddEdge(fmt.Sprintf("u%d", i), fmt.Sprintf("u%d", (i+1)%50), 1.0)
	}

	params := DefaultPageRankParams()
	params.MaxIterations = 1
	params.Tolerance = 1e-12

	_, err := PageRank(g, params)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindComputation))
	assert.Contains(t, err.Error(), "converge")
}

func TestNormalize_SumsToOneExactly(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
	}{
		{
			name:   "thirds_with_drift",
			scores: map[string]float64{"a": 1, "b": 1, "c": 1},
		},
		{
			name:   "skewed",
			scores: map[string]float64{"a": 0.7, "b": 0.2, "c": 0.05, "d": 0.05},
		},
		{
			name:   "sevenths",
			scores: map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1, "f": 1, "g": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(tt.scores)
			var sum float64
			for _, v := range out {
				sum += v
				assert.GreaterOrEqual(t, v, 0.0)
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
		})
	}
}

func TestNormalize_DriftGoesToTopEntry(t *testing.T) {
	out := Normalize(map[string]float64{"top": 2, "mid": 1, "low": 1})

	// 2/4 and 1/4 are exact; the top entry holds at least its exact share.
	assert.GreaterOrEqual(t, out["top"], 0.5)
	assert.Equal(t, 0.25, out["mid"])
	assert.Equal(t, 0.25, out["low"])
}

func TestNormalize_Empty(t *testing.T) {
	assert.Empty(t, Normalize(nil))
	assert.Empty(t, Normalize(map[string]float64{}))
}

func TestTopN(t *testing.T) {
	scores := map[string]float64{"a": 0.1, "b": 0.5, "c": 0.3, "d": 0.1}

	assert.Equal(t, []string{"b", "c"}, TopN(scores, 2))
	assert.Equal(t, []string{"b", "c", "a", "d"}, TopN(scores, 10), "ties broken by name")
}
