package reward

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulserank/pulserank/internal/artifact"
	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/discovery"
	"github.com/pulserank/pulserank/internal/identity"
	"github.com/pulserank/pulserank/internal/model"
	"github.com/pulserank/pulserank/internal/snapshot"
)

// testSocialMap builds a map with the given influence scores, all members
// active and no relationship edges.
func testSocialMap(scores map[string]float64) *discovery.SocialMap {
	nodes := make([]string, 0, len(scores))
	for name := range scores {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)

	adjacency := make([][]float64, len(nodes))
	for i := range adjacency {
		adjacency[i] = make([]float64, len(nodes))
	}

	accounts := make(map[string]model.Account, len(scores))
	for name, score := range scores {
		accounts[name] = model.Account{Username: name, Score: score, Status: model.StatusIn}
	}

	return &discovery.SocialMap{
		Pool:      "creators",
		RunID:     "run-1",
		CreatedAt: time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC),
		Accounts:  accounts,
		Nodes:     nodes,
		Adjacency: adjacency,
	}
}

func rewardBrief() *model.Brief {
	return &model.Brief{
		ID:        "brief-1",
		Pool:      "creators",
		BudgetUSD: 700,
		StartDate: model.NewBriefDate(2025, time.January, 1),
		EndDate:   model.NewBriefDate(2025, time.January, 10),
	}
}

func post(id, author string, day int) model.ContentItem {
	return model.ContentItem{
		ID:        id,
		Author:    author,
		Text:      "launch day thoughts",
		CreatedAt: time.Date(2025, 1, day, 15, 0, 0, 0, time.UTC),
	}
}

func testBriefEvaluator(t *testing.T, cfg config.ScoringConfig) *BriefEvaluator {
	t.Helper()
	store, err := artifact.Open(t.TempDir())
	require.NoError(t, err)

	registry := NewEvaluatorRegistry()
	require.NoError(t, registry.Register(ScanEvaluator{}))
	return NewBriefEvaluator(registry, snapshot.NewStore(store), cfg, 7)
}

func TestEvaluateReward_SharesFollowSmoothedScores(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{SmoothingExponent: 0.65})

	// Baseline scores come out as 0.5 and 0.3; smoothing with gamma 0.65
	// compresses the gap before the daily budget of $100 is split.
	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   testSocialMap(map[string]float64{"alice": 0.25, "bob": 0.15, "carol": 0.05}),
		MemberContent: map[string][]model.ContentItem{
			"alice": {post("i1", "alice", 5)},
			"bob":   {post("i2", "bob", 6)},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7, "bob": 9}, 114, false)

	res, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	assert.False(t, res.FromSnapshot)
	assert.InDelta(t, 700.0, res.TotalUSD, 1e-6)
	assert.InDelta(t, 58.23, res.DailyUSD[7], 0.01)
	assert.InDelta(t, 41.77, res.DailyUSD[9], 0.01)
	assert.InDelta(t, 100.0, res.DailyUSD[7]+res.DailyUSD[9], 1e-6)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "i1", res.Items[0].ContentID, "higher score first")
	assert.InDelta(t, 0.5, res.Items[0].Score, 1e-9)
	assert.InDelta(t, 0.3, res.Items[1].Score, 1e-9)
}

func TestEvaluateReward_AlternateSharesPinned(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{SmoothingExponent: 0.65})

	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   testSocialMap(map[string]float64{"alice": 0.3, "bob": 0.2, "carol": 0.05}),
		MemberContent: map[string][]model.ContentItem{
			"alice": {post("i1", "alice", 5)},
			"bob":   {post("i2", "bob", 6)},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7, "bob": 9}, 114, false)

	res, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	assert.InDelta(t, 56.55, res.DailyUSD[7], 0.01)
	assert.InDelta(t, 43.45, res.DailyUSD[9], 0.01)
}

func TestEvaluateReward_SecondCallReplaysSnapshot(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{SmoothingExponent: 0.65})
	frozen := 0
	e.OnFreeze(func() { frozen++ })

	socialMap := testSocialMap(map[string]float64{"alice": 0.25, "bob": 0.15})
	resolver := identity.NewResolver(map[string]int{"alice": 7, "bob": 9}, 114, false)
	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   socialMap,
		MemberContent: map[string][]model.ContentItem{
			"alice": {post("i1", "alice", 5)},
			"bob":   {post("i2", "bob", 6)},
		},
	}

	first, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)
	require.False(t, first.FromSnapshot)
	assert.Equal(t, 1, frozen)

	// New engagement arriving after the freeze must not change the payout.
	ec.MemberContent["carol"] = []model.ContentItem{post("i9", "carol", 7)}

	second, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	assert.True(t, second.FromSnapshot)
	assert.Equal(t, 1, frozen, "replay must not freeze again")
	require.Len(t, second.DailyUSD, len(first.DailyUSD))
	for id, usd := range first.DailyUSD {
		assert.InDelta(t, usd, second.DailyUSD[id], 1e-9)
	}
}

func TestEvaluateReward_QuoteEngagementRaisesScore(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{})

	// carol engages but contributes no content of her own, so she is not a
	// participant and her quote counts.
	target := post("i1", "alice", 5)
	target.QuotedBy = []string{"carol"}

	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   testSocialMap(map[string]float64{"alice": 0.25, "carol": 0.15}),
		MemberContent: map[string][]model.ContentItem{
			"alice": {target},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7}, 114, false)

	res, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	assert.InDelta(t, 0.95, res.Items[0].Score, 1e-9, "base 0.5 plus carol's quote 0.15*3")
}

func TestEvaluateReward_ScannedQuoteCountsAsEngagement(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{})

	// carol's quote lands after the brief window closes, so it is not a
	// candidate itself, but the engagement still pays the quoted author.
	target := post("i1", "alice", 5)
	quote := post("i2", "carol", 12)
	quote.Quote = true
	quote.QuotedID = "i1"
	quote.QuotedUser = "alice"

	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   testSocialMap(map[string]float64{"alice": 0.25, "carol": 0.15}),
		MemberContent: map[string][]model.ContentItem{
			"alice": {target},
			"carol": {quote},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7, "carol": 11}, 114, false)

	res, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	assert.Equal(t, "i1", res.Items[0].ContentID)
	assert.InDelta(t, 0.95, res.Items[0].Score, 1e-9)
}

func TestEvaluateReward_ParticipantEngagementExcluded(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{})

	// bob quotes alice but also competes on the same brief, so his quote
	// must not boost her.
	target := post("i1", "alice", 5)
	quote := post("i2", "bob", 6)
	quote.Quote = true
	quote.QuotedID = "i1"
	quote.QuotedUser = "alice"

	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   testSocialMap(map[string]float64{"alice": 0.25, "bob": 0.15}),
		MemberContent: map[string][]model.ContentItem{
			"alice": {target},
			"bob":   {quote},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7, "bob": 9}, 114, false)

	res, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "i1", res.Items[0].ContentID)
	assert.InDelta(t, 0.5, res.Items[0].Score, 1e-9, "mutual boost blocked")
	assert.InDelta(t, 0.3, res.Items[1].Score, 1e-9, "the quote still scores as content")
}

func TestEvaluateReward_CabalEngagementIsDampened(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{})

	socialMap := testSocialMap(map[string]float64{"alice": 0.25, "carol": 0.15})
	// Heavy mutual interaction history between alice and carol.
	ia := sort.SearchStrings(socialMap.Nodes, "alice")
	ic := sort.SearchStrings(socialMap.Nodes, "carol")
	socialMap.Adjacency[ia][ic] = 9

	target := post("i1", "alice", 5)
	target.QuotedBy = []string{"carol"}

	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   socialMap,
		MemberContent: map[string][]model.ContentItem{
			"alice": {target},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7}, 114, false)

	res, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	assert.InDelta(t, 0.59, res.Items[0].Score, 1e-9, "quote contribution dampened to a fifth")
}

func TestEvaluateReward_UnmappedAuthorsAreSkipped(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{})

	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   testSocialMap(map[string]float64{"alice": 0.25, "bob": 0.15}),
		MemberContent: map[string][]model.ContentItem{
			"alice": {post("i1", "alice", 5)},
			"bob":   {post("i2", "bob", 6)},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7}, 114, false)

	res, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Unmapped)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "alice", res.Items[0].Author)
	assert.InDelta(t, 100.0, res.DailyUSD[7], 1e-6, "sole mapped author takes the full budget")
}

func TestEvaluateReward_SimulatedMappingsRedirectToNoCode(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{})

	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   testSocialMap(map[string]float64{"alice": 0.25, "bob": 0.15}),
		MemberContent: map[string][]model.ContentItem{
			"alice": {post("i1", "alice", 5)},
			"bob":   {post("i2", "bob", 6)},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7}, 114, true)

	res, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	assert.Zero(t, res.Unmapped)
	assert.Positive(t, res.DailyUSD[114], "unmapped author pays out to the nocode identity")
}

func TestEvaluateReward_NoCandidatesFreezesEmptySnapshot(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{})

	ec := &EvalContext{
		Brief:         rewardBrief(),
		Pool:          config.Pool{Name: "creators"},
		Map:           testSocialMap(map[string]float64{"alice": 0.25}),
		MemberContent: map[string][]model.ContentItem{},
	}
	resolver := identity.NewResolver(nil, 114, false)

	first, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)
	assert.Zero(t, first.TotalUSD)
	assert.Empty(t, first.DailyUSD)

	second, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)
	assert.True(t, second.FromSnapshot, "even an empty outcome is frozen")
}

func TestEvaluateMonitoring_PaysNothing(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{})

	ec := &EvalContext{
		Brief: rewardBrief(),
		Pool:  config.Pool{Name: "creators"},
		Map:   testSocialMap(map[string]float64{"alice": 0.25, "bob": 0.15}),
		MemberContent: map[string][]model.ContentItem{
			"alice": {post("i1", "alice", 5)},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7}, 114, false)

	res, err := e.EvaluateMonitoring(context.Background(), ec, resolver)
	require.NoError(t, err)

	assert.Empty(t, res.DailyUSD)
	assert.Zero(t, res.TotalUSD)
	require.Len(t, res.Items, 1, "items are still scored for visibility")
	assert.False(t, res.FromSnapshot)
}

func TestEvaluateReward_MaxItemsTruncates(t *testing.T) {
	e := testBriefEvaluator(t, config.ScoringConfig{})

	brief := rewardBrief()
	brief.MaxItems = 1

	ec := &EvalContext{
		Brief: brief,
		Pool:  config.Pool{Name: "creators"},
		Map:   testSocialMap(map[string]float64{"alice": 0.25, "bob": 0.15}),
		MemberContent: map[string][]model.ContentItem{
			"alice": {post("i1", "alice", 5)},
			"bob":   {post("i2", "bob", 6)},
		},
	}
	resolver := identity.NewResolver(map[string]int{"alice": 7, "bob": 9}, 114, false)

	res, err := e.EvaluateReward(context.Background(), ec, resolver)
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	assert.Equal(t, "alice", res.Items[0].Author, "top scorer survives the cut")
	assert.NotContains(t, res.DailyUSD, 9)
}
