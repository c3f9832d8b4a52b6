package reward

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/briefs"
	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/discovery"
	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/identity"
	"github.com/pulserank/pulserank/internal/metrics"
	"github.com/pulserank/pulserank/internal/model"
)

// BriefSource yields the current brief feed.
type BriefSource interface {
	Fetch(ctx context.Context) ([]*model.Brief, error)
}

// MapSource serves persisted social maps per pool.
type MapSource interface {
	Previous(pool string) (*discovery.SocialMap, error)
	EligibleForPeriod(pool string, from, to time.Time) ([]string, error)
}

// ContentFetcher pulls recent content for a set of accounts.
type ContentFetcher interface {
	FetchAll(ctx context.Context, accounts []string, since time.Time) map[string][]model.ContentItem
}

// CycleDeps bundles the orchestrator's collaborators.
type CycleDeps struct {
	Pools       map[string]config.Pool
	Briefs      BriefSource
	Maps        MapSource
	Identities  identity.Store
	Content     ContentFetcher
	Evaluator   *BriefEvaluator
	Calculator  *Calculator
	Distributor *Distributor
	Roster      RosterSource
	Publisher   Publisher
	Metrics     *metrics.Registry
}

// Orchestrator runs the full reward cycle: briefs in, reward vector out.
// It never returns an error; any failure that would block a valid vector
// degrades to the fallback vector instead.
type Orchestrator struct {
	cfg       *config.Config
	deps      CycleDeps
	lifecycle briefs.Lifecycle
	now       func() time.Time

	frozen atomic.Int64
}

// OrchestratorOption adjusts orchestrator construction.
type OrchestratorOption func(*Orchestrator)

// WithCycleClock overrides the cycle clock, for tests.
func WithCycleClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the cycle pipeline. Nil Roster, Publisher, and
// Metrics get working defaults; everything else is required.
func NewOrchestrator(cfg *config.Config, deps CycleDeps, opts ...OrchestratorOption) *Orchestrator {
	if deps.Roster == nil {
		deps.Roster = NewStaticRoster(cfg.Rewards.RosterSize)
	}
	if deps.Publisher == nil {
		deps.Publisher = LogPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		lifecycle: briefs.NewLifecycle(cfg.Rewards.RewardDelayDays, cfg.Rewards.EmissionPeriodDays),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if deps.Evaluator != nil {
		deps.Evaluator.OnFreeze(func() {
			o.frozen.Add(1)
			o.deps.Metrics.SnapshotsFrozen.Inc()
		})
	}
	return o
}

// CycleResult summarizes one orchestrated cycle.
type CycleResult struct {
	RunID      string
	StartedAt  time.Time
	Duration   time.Duration
	Roster     []int
	Vector     model.RewardVector
	Fallback   bool
	Monitoring int
	Reward     int
	Frozen     int
	Skipped    int
	Results    map[string]*BriefResult
}

// RunCycle executes one full cycle. It always produces a vector: when the
// pipeline cannot compute one, the fallback vector is emitted in its place.
func (o *Orchestrator) RunCycle(ctx context.Context) *CycleResult {
	started := o.now()
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()

	o.deps.Metrics.ActiveCycles.Inc()
	o.deps.Metrics.CyclesTotal.Inc()
	timer := o.deps.Metrics.StartStage("cycle")
	o.frozen.Store(0)

	res := &CycleResult{
		RunID:     runID,
		StartedAt: started,
		Results:   make(map[string]*BriefResult),
	}
	defer func() {
		res.Duration = o.now().Sub(started)
		res.Frozen = int(o.frozen.Load())
		o.deps.Metrics.ActiveCycles.Dec()
		if res.Fallback {
			timer.Stop("fallback")
		} else {
			timer.Stop("success")
		}
	}()

	res.Roster = o.loadRoster(ctx, logger)

	feed, err := o.fetchBriefs(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("brief feed unavailable, emitting fallback vector")
		o.fallBack(ctx, res, "briefs", err)
		return res
	}

	monitoring, rewardPhase := o.lifecycle.Split(feed, o.now())
	res.Monitoring = len(monitoring)
	res.Reward = len(rewardPhase)
	o.deps.Metrics.RecordBriefStates(len(monitoring), len(rewardPhase))

	results := make(map[string]map[int]float64)
	caps := make(map[string]float64)
	briefIDs := make([]string, 0, len(rewardPhase))
	for _, b := range rewardPhase {
		briefIDs = append(briefIDs, b.ID)
		caps[b.ID] = b.EffectiveCap()
	}

	batches, dropped := o.groupByPool(append(monitoring, rewardPhase...))
	res.Skipped += dropped
	for _, batch := range batches {
		o.evaluatePool(ctx, logger, batch, results, res)
	}

	distTimer := o.deps.Metrics.StartStage("distribute")
	matrix := Aggregate(res.Roster, briefIDs, results)
	weights := o.deps.Calculator.Convert(ctx, matrix)
	vector, err := o.deps.Distributor.Distribute(weights, caps)
	if err != nil {
		distTimer.Stop("error")
		logger.Error().Err(err).Msg("distribution failed, emitting fallback vector")
		o.fallBack(ctx, res, "distribute", err)
		return res
	}
	distTimer.Stop("success")

	res.Vector = vector
	o.deps.Metrics.VectorSum.Set(vector.Sum())
	o.publish(ctx, logger, res)

	logger.Info().
		Int("monitoring", res.Monitoring).
		Int("reward", res.Reward).
		Int("frozen", res.Frozen).
		Int("skipped", res.Skipped).
		Float64("vector_sum", vector.Sum()).
		Msg("cycle complete")
	return res
}

// loadRoster returns the authoritative identity roster, synthesizing the
// configured range when the live source fails.
func (o *Orchestrator) loadRoster(ctx context.Context, logger zerolog.Logger) []int {
	roster, err := o.deps.Roster.Roster(ctx)
	if err == nil && len(roster) > 0 {
		return roster
	}
	if err != nil {
		logger.Warn().Err(err).Msg("roster source failed, synthesizing identity range")
		o.deps.Metrics.RecordStageError("roster", kindLabel(err))
	}
	roster, err = NewStaticRoster(o.cfg.Rewards.RosterSize).Roster(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("cannot synthesize roster")
		return nil
	}
	return roster
}

func (o *Orchestrator) fetchBriefs(ctx context.Context) ([]*model.Brief, error) {
	timer := o.deps.Metrics.StartStage("briefs")
	feed, err := o.deps.Briefs.Fetch(ctx)
	if err != nil {
		timer.Stop("error")
		o.deps.Metrics.RecordStageError("briefs", kindLabel(err))
		return nil, err
	}
	timer.Stop("success")
	return feed, nil
}

// poolBatch is one pool's share of the current feed, in feed order.
type poolBatch struct {
	pool   config.Pool
	briefs []*model.Brief
}

// groupByPool buckets briefs by pool, dropping briefs whose pool is not
// configured. Bucket order follows first appearance in the feed; the second
// return counts dropped briefs.
func (o *Orchestrator) groupByPool(feed []*model.Brief) ([]*poolBatch, int) {
	var order []*poolBatch
	dropped := 0
	byName := make(map[string]*poolBatch)
	for _, b := range feed {
		batch, ok := byName[b.Pool]
		if !ok {
			pool, found := o.deps.Pools[b.Pool]
			if !found {
				log.Warn().Str("brief", b.ID).Str("pool", b.Pool).Msg("brief references unknown pool, skipping")
				o.deps.Metrics.RecordStageError("evaluate", faults.KindConfiguration.String())
				dropped++
				continue
			}
			batch = &poolBatch{pool: pool}
			byName[b.Pool] = batch
			order = append(order, batch)
		}
		batch.briefs = append(batch.briefs, b)
	}
	return order, dropped
}

// evaluatePool scores every brief in the batch against the pool's social
// map. Per-brief failures are isolated: the brief is skipped and the cycle
// continues.
func (o *Orchestrator) evaluatePool(ctx context.Context, logger zerolog.Logger, batch *poolBatch, results map[string]map[int]float64, res *CycleResult) {
	pool := batch.pool
	timer := o.deps.Metrics.StartStage("evaluate")

	socialMap, err := o.deps.Maps.Previous(pool.Name)
	if err != nil {
		timer.Stop("error")
		logger.Error().Err(err).Str("pool", pool.Name).Msg("cannot load social map, skipping pool briefs")
		o.deps.Metrics.RecordStageError("evaluate", kindLabel(err))
		res.Skipped += len(batch.briefs)
		return
	}
	if socialMap == nil {
		timer.Stop("skipped")
		logger.Warn().Str("pool", pool.Name).Msg("no social map yet for pool, skipping pool briefs")
		res.Skipped += len(batch.briefs)
		return
	}

	resolver := o.resolverFor(ctx, logger, pool.Name)
	content := o.memberContent(ctx, logger, pool.Name, socialMap, batch.briefs)

	for _, b := range batch.briefs {
		ec := &EvalContext{Brief: b, Pool: pool, Map: socialMap, MemberContent: content}
		var (
			br  *BriefResult
			err error
		)
		if b.State == model.StateReward {
			br, err = o.deps.Evaluator.EvaluateReward(ctx, ec, resolver)
		} else {
			br, err = o.deps.Evaluator.EvaluateMonitoring(ctx, ec, resolver)
		}
		if err != nil {
			logger.Error().Err(err).Str("brief", b.ID).Msg("brief evaluation failed, skipping brief")
			o.deps.Metrics.RecordStageError("evaluate", kindLabel(err))
			res.Skipped++
			continue
		}
		res.Results[b.ID] = br
		if b.State == model.StateReward {
			results[b.ID] = br.DailyUSD
		}
	}
	timer.Stop("success")
}

// resolverFor builds the pool's account-to-identity resolver. A mapping
// store outage degrades to an empty mapping set rather than failing briefs.
func (o *Orchestrator) resolverFor(ctx context.Context, logger zerolog.Logger, pool string) *identity.Resolver {
	mappings := map[string]int{}
	if o.deps.Identities != nil {
		m, err := o.deps.Identities.Mappings(ctx, pool)
		if err != nil {
			logger.Warn().Err(err).Str("pool", pool).Msg("identity mappings unavailable, rewards for pool will be unmapped")
			o.deps.Metrics.RecordStageError("identity", kindLabel(err))
		} else {
			mappings = m
		}
	}
	return identity.NewResolver(mappings, o.cfg.Rewards.NoCodeIdentity, o.cfg.Rewards.SimulateMappings)
}

// memberContent fetches eligible members' content covering the earliest
// brief window in the batch.
func (o *Orchestrator) memberContent(ctx context.Context, logger zerolog.Logger, pool string, socialMap *discovery.SocialMap, batch []*model.Brief) map[string][]model.ContentItem {
	if o.deps.Content == nil {
		return nil
	}
	since := time.Time{}
	accountSet := make(map[string]struct{})
	for _, b := range batch {
		if since.IsZero() || b.StartDate.Time.Before(since) {
			since = b.StartDate.Time
		}
		eligible, err := o.deps.Maps.EligibleForPeriod(pool, b.StartDate.Time, b.EndDate.Time)
		if err != nil {
			logger.Warn().Err(err).Str("brief", b.ID).Msg("eligibility lookup failed, using active members")
			eligible = socialMap.ActiveMembers()
		}
		for _, a := range eligible {
			accountSet[a] = struct{}{}
		}
	}
	accounts := make([]string, 0, len(accountSet))
	for a := range accountSet {
		accounts = append(accounts, a)
	}
	return o.deps.Content.FetchAll(ctx, accounts, since)
}

// fallBack installs the guaranteed fallback vector on res and publishes it.
func (o *Orchestrator) fallBack(ctx context.Context, res *CycleResult, stage string, err error) {
	o.deps.Metrics.RecordStageError(stage, kindLabel(err))
	o.deps.Metrics.FallbackVectors.Inc()
	res.Fallback = true
	res.Vector = o.deps.Distributor.Fallback(res.Roster)
	o.deps.Metrics.VectorSum.Set(res.Vector.Sum())
	o.publish(ctx, log.With().Str("run_id", res.RunID).Logger(), res)
}

// publish submits the vector best-effort; a sink failure never fails the
// cycle.
func (o *Orchestrator) publish(ctx context.Context, logger zerolog.Logger, res *CycleResult) {
	if err := o.deps.Publisher.Publish(ctx, res.RunID, res.Roster, res.Vector); err != nil {
		logger.Error().Err(err).Msg("vector publish failed")
		o.deps.Metrics.RecordStageError("publish", kindLabel(err))
	}
}

// kindLabel renders an error's fault classification for metrics labels.
func kindLabel(err error) string {
	if kind, ok := faults.KindOf(err); ok {
		return kind.String()
	}
	return "unclassified"
}
