// Package scheduler drives the engine's two cadences: the reward cycle that
// runs every interval, and the slower discovery refresh that regenerates
// each pool's social map.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/cache"
	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/discovery"
	"github.com/pulserank/pulserank/internal/httpapi"
	"github.com/pulserank/pulserank/internal/metrics"
	"github.com/pulserank/pulserank/internal/reward"
)

// ErrCycleRunning is returned when a cycle is requested while the previous
// one is still in flight. Ticks that land mid-cycle are skipped, not queued.
var ErrCycleRunning = errors.New("cycle already in progress")

// CycleRunner executes one full reward cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) *reward.CycleResult
}

// DiscoveryRunner regenerates and serves pool social maps.
type DiscoveryRunner interface {
	Run(ctx context.Context, pool config.Pool) (*discovery.SocialMap, error)
	Previous(pool string) (*discovery.SocialMap, error)
}

// EventSink receives engine lifecycle events, typically the HTTP event hub.
type EventSink interface {
	Publish(event httpapi.Event)
}

// Scheduler owns the run loop. One cycle at a time; discovery refreshes
// piggyback on the cycle tick when a pool's map has gone stale.
type Scheduler struct {
	cfg       config.SchedulerConfig
	pools     map[string]config.Pool
	cycles    CycleRunner
	discovery DiscoveryRunner
	metrics   *metrics.Registry
	events    EventSink
	caches    map[string]cache.Cache
	now       func() time.Time

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	lastRun   *reward.CycleResult
	cyclesRun uint64
	nextAt    time.Time
}

// Option adjusts scheduler construction.
type Option func(*Scheduler)

// WithEvents wires an event sink for cycle notifications.
func WithEvents(sink EventSink) Option {
	return func(s *Scheduler) { s.events = sink }
}

// WithCaches registers caches whose hit/miss counters are scraped into
// metrics after every cycle.
func WithCaches(caches map[string]cache.Cache) Option {
	return func(s *Scheduler) { s.caches = caches }
}

// WithClock overrides the scheduler clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a scheduler over the cycle and discovery runners.
func New(cfg config.SchedulerConfig, pools map[string]config.Pool, cycles CycleRunner, disc DiscoveryRunner, reg *metrics.Registry, opts ...Option) *Scheduler {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Hour
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = 14 * 24 * time.Hour
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	s := &Scheduler{
		cfg:       cfg,
		pools:     pools,
		cycles:    cycles,
		discovery: disc,
		metrics:   reg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the loop until ctx is cancelled. The first cycle fires
// immediately rather than waiting out a full interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	log.Info().
		Dur("cycle_interval", s.cfg.CycleInterval).
		Dur("discovery_interval", s.cfg.DiscoveryInterval).
		Int("pools", len(s.pools)).
		Msg("scheduler starting")

	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrCycleRunning) {
		log.Error().Err(err).Msg("initial cycle failed")
	}

	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()
	s.setNext(s.now().Add(s.cfg.CycleInterval))

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrCycleRunning) {
					log.Warn().Msg("previous cycle still running, tick skipped")
				} else {
					log.Error().Err(err).Msg("cycle failed")
				}
			}
			s.setNext(s.now().Add(s.cfg.CycleInterval))
		}
	}
}

// RunOnce refreshes stale discovery maps, runs one reward cycle, and
// records the result. Concurrent calls beyond the first get ErrCycleRunning.
func (s *Scheduler) RunOnce(ctx context.Context) (*reward.CycleResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrCycleRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.refreshDiscovery(ctx)

	s.publish(httpapi.Event{Type: httpapi.EventCycleStarted})
	res := s.cycles.RunCycle(ctx)

	s.mu.Lock()
	s.lastRun = res
	s.cyclesRun++
	s.mu.Unlock()

	s.observeCaches()
	s.publish(httpapi.Event{Type: httpapi.EventCycleFinished, Data: cycleEvent(res)})
	if res.Fallback {
		s.publish(httpapi.Event{Type: httpapi.EventFallback, Data: map[string]string{"run_id": res.RunID}})
	}
	if res.Frozen > 0 {
		s.publish(httpapi.Event{Type: httpapi.EventSnapshot, Data: map[string]int{"count": res.Frozen}})
	}
	return res, nil
}

// RefreshDiscovery forces a discovery run for every pool regardless of map
// age, for the CLI.
func (s *Scheduler) RefreshDiscovery(ctx context.Context) {
	for _, pool := range s.pools {
		s.runDiscovery(ctx, pool)
	}
}

// refreshDiscovery regenerates maps older than the discovery interval.
func (s *Scheduler) refreshDiscovery(ctx context.Context) {
	if s.discovery == nil {
		return
	}
	for _, pool := range s.pools {
		previous, err := s.discovery.Previous(pool.Name)
		if err != nil {
			log.Error().Err(err).Str("pool", pool.Name).Msg("cannot read previous social map")
			continue
		}
		if previous != nil && s.now().Sub(previous.CreatedAt) < s.cfg.DiscoveryInterval {
			continue
		}
		s.runDiscovery(ctx, pool)
	}
}

func (s *Scheduler) runDiscovery(ctx context.Context, pool config.Pool) {
	if s.discovery == nil {
		return
	}
	timer := s.metrics.StartStage("discovery")
	m, err := s.discovery.Run(ctx, pool)
	if err != nil {
		timer.Stop("error")
		// The cycle keeps using the last good map.
		log.Error().Err(err).Str("pool", pool.Name).Msg("discovery run failed")
		return
	}
	timer.Stop("success")
	s.metrics.DiscoveryMembers.WithLabelValues(pool.Name).Set(float64(m.Meta.ActiveMembers))
	s.publish(httpapi.Event{Type: httpapi.EventDiscoveryRun, Data: map[string]interface{}{
		"pool":    pool.Name,
		"run_id":  m.RunID,
		"members": m.Meta.ActiveMembers,
	}})
}

func (s *Scheduler) observeCaches() {
	for name, c := range s.caches {
		s.metrics.ObserveCache(name, c.Stats())
	}
}

func (s *Scheduler) publish(event httpapi.Event) {
	if s.events == nil {
		return
	}
	event.At = s.now().UTC()
	s.events.Publish(event)
}

func (s *Scheduler) setNext(at time.Time) {
	s.mu.Lock()
	s.nextAt = at
	s.mu.Unlock()
}

func cycleEvent(res *reward.CycleResult) map[string]interface{} {
	return map[string]interface{}{
		"run_id":     res.RunID,
		"fallback":   res.Fallback,
		"monitoring": res.Monitoring,
		"reward":     res.Reward,
		"frozen":     res.Frozen,
		"vector_sum": res.Vector.Sum(),
	}
}

// Status implements the HTTP surface's status provider.
func (s *Scheduler) Status() httpapi.EngineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := httpapi.EngineStatus{
		Healthy:     true,
		CyclesRun:   s.cyclesRun,
		NextCycleAt: s.nextAt,
	}
	if s.lastRun != nil {
		st.LastRunID = s.lastRun.RunID
		st.LastRunAt = s.lastRun.StartedAt
		st.LastDuration = s.lastRun.Duration.String()
		st.LastFallback = s.lastRun.Fallback
		st.MonitoringBriefs = s.lastRun.Monitoring
		st.RewardBriefs = s.lastRun.Reward
		st.VectorSum = s.lastRun.Vector.Sum()
		st.Healthy = !s.lastRun.Fallback
	}
	return st
}
