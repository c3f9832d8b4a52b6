package discovery

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/artifact"
	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/graph"
	"github.com/pulserank/pulserank/internal/model"
	"github.com/pulserank/pulserank/internal/provider"
)

// Engine runs social-graph discovery for one pool: fetch content for the
// roster, build the interaction graph, rank it, and persist the resulting
// social map as an immutable artifact.
type Engine struct {
	fetchPool *provider.Pool
	store     *artifact.Store
	weights   graph.Weights
	params    graph.PageRankParams
	lookback  time.Duration
	now       func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the engine's clock, for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires a discovery engine from the shared config.
func NewEngine(fetchPool *provider.Pool, store *artifact.Store, cfg config.DiscoveryConfig, lookback time.Duration, opts ...EngineOption) *Engine {
	e := &Engine{
		fetchPool: fetchPool,
		store:     store,
		weights: graph.Weights{
			Mention: cfg.MentionWeight,
			Retweet: cfg.RetweetWeight,
			Quote:   cfg.QuoteWeight,
		},
		params: graph.PageRankParams{
			Damping:       cfg.Damping,
			MaxIterations: cfg.MaxIterations,
			Tolerance:     cfg.Tolerance,
		},
		lookback: lookback,
		now:      time.Now,
	}
	if e.lookback <= 0 {
		e.lookback = 30 * 24 * time.Hour
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one discovery pass for the pool and stores the social map.
// The roster fetched is the pool's seed list unioned with every account the
// previous map tracked, so members keep feeding the graph even when a seed
// list changes underneath them.
func (e *Engine) Run(ctx context.Context, pool config.Pool) (*SocialMap, error) {
	started := e.now()
	runID := uuid.NewString()
	logger := log.With().Str("pool", pool.Name).Str("run_id", runID).Logger()

	previous, err := e.Previous(pool.Name)
	if err != nil {
		return nil, err
	}
	var prevStatuses map[string]model.MemberStatus
	if previous != nil {
		prevStatuses = previous.Statuses()
	}

	roster := e.roster(pool, previous)
	logger.Info().Int("roster", len(roster)).Msg("discovery run starting")

	since := started.Add(-e.lookback)
	content := e.fetchPool.FetchAll(ctx, roster, since)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fetched, failed := 0, 0
	for _, items := range content {
		if items == nil {
			failed++
			continue
		}
		fetched++
	}

	builder := graph.NewBuilder(e.weights, relevanceFor(pool, content))
	g := builder.Build(content)

	scores, err := graph.PageRank(g, e.params)
	if err != nil {
		logger.Error().Err(err).Msg("influence computation failed")
		return nil, err
	}
	scores = graph.Normalize(scores)
	interactionWeights := g.InteractionWeights()

	accounts := AssignMembership(scores, interactionWeights, prevStatuses, MembershipParams{
		MaxMembers:           pool.MaxMembers,
		MinInteractionWeight: pool.MinInteractionWeight,
	})
	nodes, adjacency := g.Adjacency()

	m := &SocialMap{
		Pool:      pool.Name,
		RunID:     runID,
		CreatedAt: started,
		Accounts:  accounts,
		Nodes:     nodes,
		Adjacency: adjacency,
		Meta: SocialMapMeta{
			AccountsFetched: fetched,
			FetchFailures:   failed,
			EdgeCount:       g.EdgeCount(),
			ActiveMembers:   countActive(accounts),
			Duration:        e.now().Sub(started),
		},
	}

	if _, err := e.store.PutJSON(artifact.FamilyDiscovery, pool.Name, runID, m); err != nil {
		return nil, err
	}

	logger.Info().
		Int("nodes", len(nodes)).
		Int("edges", g.EdgeCount()).
		Int("active", m.Meta.ActiveMembers).
		Dur("took", m.Meta.Duration).
		Msg("discovery run complete")
	return m, nil
}

// Previous loads the most recent social map for the pool, or nil when none
// has been written yet.
func (e *Engine) Previous(pool string) (*SocialMap, error) {
	entry, err := e.store.Latest(artifact.FamilyDiscovery, pool, "")
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m SocialMap
	if err := e.store.ReadJSON(entry, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// MapsForPeriod reports whether a newer social map supersedes maps created
// inside the given window. Reward evaluation uses this to decide whether a
// relegated member was still active at any point of a brief's period.
func (e *Engine) MapsForPeriod(pool string, from, to time.Time) bool {
	return e.store.CreatedBetween(artifact.FamilyDiscovery, pool, from, to)
}

// EligibleForPeriod returns the usernames eligible for scoring across a brief
// period: everyone active in the latest map, plus members relegated by a map
// created inside the window. Relegation mid-period never strips a member of
// rewards already underway.
func (e *Engine) EligibleForPeriod(pool string, from, to time.Time) ([]string, error) {
	latest, err := e.Previous(pool)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	eligible := make(map[string]struct{})
	for _, name := range latest.ActiveMembers() {
		eligible[name] = struct{}{}
	}
	if e.MapsForPeriod(pool, from, to) {
		for _, name := range latest.RelegatedMembers() {
			eligible[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(eligible))
	for name := range eligible {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (e *Engine) roster(pool config.Pool, previous *SocialMap) []string {
	seen := make(map[string]struct{}, len(pool.Seeds))
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, s := range pool.Seeds {
		add(s)
	}
	if previous != nil {
		for name, acct := range previous.Accounts {
			if acct.Status.Active() {
				add(name)
			}
		}
	}
	sort.Strings(out)
	return out
}

func countActive(accounts map[string]model.Account) int {
	n := 0
	for _, acct := range accounts {
		if acct.Status.Active() {
			n++
		}
	}
	return n
}
