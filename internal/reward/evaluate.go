package reward

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/identity"
	"github.com/pulserank/pulserank/internal/model"
	"github.com/pulserank/pulserank/internal/scoring"
	"github.com/pulserank/pulserank/internal/snapshot"
)

// BriefEvaluator scores one brief's candidate content and, in the reward
// phase, freezes and replays its snapshot.
type BriefEvaluator struct {
	registry     *Registry
	snapshots    *snapshot.Store
	cfg          config.ScoringConfig
	emissionDays int
	onFreeze     func()
}

// NewBriefEvaluator wires the evaluator pipeline for briefs. Zero scoring
// weights fall back to the production defaults.
func NewBriefEvaluator(registry *Registry, snapshots *snapshot.Store, cfg config.ScoringConfig, emissionDays int) *BriefEvaluator {
	def := scoring.DefaultParams()
	if cfg.BaselineFactor <= 0 {
		cfg.BaselineFactor = def.BaselineFactor
	}
	if cfg.RetweetWeight <= 0 {
		cfg.RetweetWeight = def.RetweetWeight
	}
	if cfg.QuoteWeight <= 0 {
		cfg.QuoteWeight = def.QuoteWeight
	}
	if emissionDays <= 0 {
		emissionDays = 7
	}
	return &BriefEvaluator{
		registry:     registry,
		snapshots:    snapshots,
		cfg:          cfg,
		emissionDays: emissionDays,
	}
}

// OnFreeze registers a hook invoked each time a new snapshot is captured.
func (e *BriefEvaluator) OnFreeze(fn func()) { e.onFreeze = fn }

// BriefResult is one brief's evaluation outcome for a cycle.
type BriefResult struct {
	Brief        *model.Brief
	Items        []model.ScoredItem
	DailyUSD     map[int]float64
	TotalUSD     float64
	FromSnapshot bool
	Unmapped     int
}

// EvaluateReward returns the brief's daily payout per identity. The first
// reward-phase call computes and freezes a snapshot; every later call replays
// the frozen one.
func (e *BriefEvaluator) EvaluateReward(ctx context.Context, ec *EvalContext, resolver *identity.Resolver) (*BriefResult, error) {
	snap, err := e.snapshots.Load(ec.Brief.ID, ec.Brief.Pool)
	if err == nil {
		return e.replay(ec.Brief, snap), nil
	}
	if !errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil, err
	}

	items, unmapped, err := e.scoreCandidates(ctx, ec, resolver)
	if err != nil {
		return nil, err
	}
	items = e.allocate(items, ec.Brief)

	records := make([]model.SnapshotRecord, len(items))
	total := 0.0
	for i, item := range items {
		records[i] = model.SnapshotRecord{
			ContentID: item.ContentID,
			Author:    item.Author,
			Identity:  item.Identity,
			Score:     item.Score,
			TotalUSD:  item.TotalUSD,
		}
		total += item.TotalUSD
	}
	saved, err := e.snapshots.Save(&model.RewardSnapshot{
		BriefID:  ec.Brief.ID,
		Pool:     ec.Brief.Pool,
		Records:  records,
		TotalUSD: total,
	})
	if err != nil {
		return nil, err
	}
	if e.onFreeze != nil {
		e.onFreeze()
	}

	result := e.replay(ec.Brief, saved)
	result.Items = items
	result.FromSnapshot = false
	result.Unmapped = unmapped
	return result, nil
}

// EvaluateMonitoring scores a monitoring-phase brief for visibility. No money
// moves and nothing is frozen.
func (e *BriefEvaluator) EvaluateMonitoring(ctx context.Context, ec *EvalContext, resolver *identity.Resolver) (*BriefResult, error) {
	items, unmapped, err := e.scoreCandidates(ctx, ec, resolver)
	if err != nil {
		return nil, err
	}
	return &BriefResult{
		Brief:    ec.Brief,
		Items:    items,
		DailyUSD: map[int]float64{},
		Unmapped: unmapped,
	}, nil
}

// replay converts a frozen snapshot into the constant daily payout.
func (e *BriefEvaluator) replay(brief *model.Brief, snap *model.RewardSnapshot) *BriefResult {
	daily := make(map[int]float64, len(snap.Records))
	for _, rec := range snap.Records {
		daily[rec.Identity] += rec.TotalUSD / float64(e.emissionDays)
	}
	return &BriefResult{
		Brief:        brief,
		DailyUSD:     daily,
		TotalUSD:     snap.TotalUSD,
		FromSnapshot: true,
	}
}

// scoreCandidates gathers, filters, scores, and identity-resolves a brief's
// candidates. Authors engaged on the same brief are excluded from each
// other's engagement counts.
func (e *BriefEvaluator) scoreCandidates(ctx context.Context, ec *EvalContext, resolver *identity.Resolver) ([]model.ScoredItem, int, error) {
	evaluator, err := e.registry.Get(KindForPool(ec.Pool))
	if err != nil {
		return nil, 0, err
	}
	candidates, err := evaluator.Candidates(ctx, ec)
	if err != nil {
		return nil, 0, err
	}
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	consideredCount := ec.Pool.ConsideredCount
	if consideredCount <= 0 {
		consideredCount = e.cfg.ConsideredCount
	}
	scorer := scoring.NewScorer(ec.Map.Considered(consideredCount), ec.Map, scoring.Params{
		BaselineFactor: e.cfg.BaselineFactor,
		RetweetWeight:  e.cfg.RetweetWeight,
		QuoteWeight:    e.cfg.QuoteWeight,
	})

	participants := make(map[string]struct{}, len(candidates))
	for _, item := range candidates {
		participants[strings.ToLower(item.Author)] = struct{}{}
	}

	boost := ec.Brief.EffectiveBoost()
	var items []model.ScoredItem
	unmapped := 0
	for _, item := range candidates {
		author := strings.ToLower(item.Author)

		exclude := make(map[string]struct{}, len(participants))
		for p := range participants {
			if p != author {
				exclude[p] = struct{}{}
			}
		}

		engagements := scoring.EngagementsFromItem(item)
		for account, kind := range scorer.CollectEngagements(item, ec.MemberContent) {
			if kind == scoring.EngageQuote || engagements[account] != scoring.EngageQuote {
				engagements[account] = kind
			}
		}

		score := scorer.Score(item, engagements, exclude, boost)
		if score <= 0 {
			continue
		}

		id, ok := resolver.Resolve(author)
		if !ok {
			unmapped++
			continue
		}
		items = append(items, model.ScoredItem{
			ContentID: item.ID,
			Author:    author,
			Identity:  id,
			Score:     score,
		})
	}

	sortItems(items)
	if max := ec.Brief.MaxItems; max > 0 && len(items) > max {
		items = items[:max]
	}
	if unmapped > 0 {
		log.Info().Str("brief", ec.Brief.ID).Int("unmapped", unmapped).
			Msg("authors without identity mapping excluded")
	}
	return items, unmapped, nil
}

// allocate splits the brief's daily budget across items with a power-law
// smoothing of their scores, then extends it over the emission period.
func (e *BriefEvaluator) allocate(items []model.ScoredItem, brief *model.Brief) []model.ScoredItem {
	if len(items) == 0 {
		return items
	}
	gamma := e.cfg.SmoothingExponent
	if gamma <= 0 {
		gamma = 1
	}

	denom := 0.0
	smoothed := make([]float64, len(items))
	for i, item := range items {
		smoothed[i] = math.Pow(item.Score, gamma)
		denom += smoothed[i]
	}
	if denom <= 0 {
		return items
	}

	dailyBudget := brief.DailyBudget(e.emissionDays)
	for i := range items {
		items[i].DailyUSD = dailyBudget * smoothed[i] / denom
		items[i].TotalUSD = items[i].DailyUSD * float64(e.emissionDays)
	}
	return items
}

func sortItems(items []model.ScoredItem) {
	// Score descending, content id ascending on ties.
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ContentID < items[j].ContentID
	})
}
