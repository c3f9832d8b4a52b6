package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/cache"
)

// Registry holds all Prometheus metrics for the reward engine. It owns its
// prometheus registry so multiple instances can coexist in tests.
type Registry struct {
	registry *prometheus.Registry

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageRuns     *prometheus.CounterVec
	StageErrors   *prometheus.CounterVec

	// Cache performance metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Provider metrics
	ProviderRequests *prometheus.CounterVec

	// Reward pipeline metrics
	FallbackVectors  prometheus.Counter
	SnapshotsFrozen  prometheus.Counter
	BriefsByState    *prometheus.GaugeVec
	VectorSum        prometheus.Gauge
	ActiveCycles     prometheus.Gauge
	CyclesTotal      prometheus.Counter
	DiscoveryMembers *prometheus.GaugeVec

	mu        sync.Mutex
	lastStats map[string]cache.Stats
}

// NewRegistry creates a registry with every engine metric registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulserank_stage_duration_seconds",
				Help:    "Duration of each cycle stage in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"stage", "result"},
		),

		StageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulserank_stage_runs_total",
				Help: "Total stage executions by outcome",
			},
			[]string{"stage", "result"},
		),

		StageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulserank_stage_errors_total",
				Help: "Total stage errors by fault kind",
			},
			[]string{"stage", "kind"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulserank_cache_hit_ratio",
				Help: "Combined cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulserank_cache_hits_total",
				Help: "Total cache hits by cache name",
			},
			[]string{"cache"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulserank_cache_misses_total",
				Help: "Total cache misses by cache name",
			},
			[]string{"cache"},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulserank_provider_requests_total",
				Help: "Content API requests by endpoint and outcome",
			},
			[]string{"endpoint", "status"},
		),

		FallbackVectors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulserank_fallback_vectors_total",
				Help: "Cycles that emitted the all-to-zero-identity fallback vector",
			},
		),

		SnapshotsFrozen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulserank_snapshots_frozen_total",
				Help: "Reward snapshots captured on first reward-phase evaluation",
			},
		),

		BriefsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulserank_briefs",
				Help: "Briefs seen in the last cycle by lifecycle state",
			},
			[]string{"state"},
		),

		VectorSum: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulserank_vector_sum",
				Help: "Sum of the last published reward vector",
			},
		),

		ActiveCycles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulserank_active_cycles",
				Help: "Number of cycles currently running (0 or 1)",
			},
		),

		CyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulserank_cycles_total",
				Help: "Total reward cycles started",
			},
		),

		DiscoveryMembers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulserank_pool_members",
				Help: "Active members per pool after the last discovery run",
			},
			[]string{"pool"},
		),

		lastStats: make(map[string]cache.Stats),
	}

	r.registry.MustRegister(
		r.StageDuration,
		r.StageRuns,
		r.StageErrors,
		r.CacheHitRatio,
		r.CacheHits,
		r.CacheMisses,
		r.ProviderRequests,
		r.FallbackVectors,
		r.SnapshotsFrozen,
		r.BriefsByState,
		r.VectorSum,
		r.ActiveCycles,
		r.CyclesTotal,
		r.DiscoveryMembers,
	)

	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// StageTimer tracks execution time for one cycle stage.
type StageTimer struct {
	metrics *Registry
	stage   string
	start   time.Time
}

// StartStage begins timing a stage.
func (r *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{metrics: r, stage: stage, start: time.Now()}
}

// Stop completes the stage timing and records the outcome.
func (t *StageTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.metrics.StageDuration.WithLabelValues(t.stage, result).Observe(duration.Seconds())
	t.metrics.StageRuns.WithLabelValues(t.stage, result).Inc()

	log.Debug().
		Str("stage", t.stage).
		Str("result", result).
		Dur("duration", duration).
		Msg("stage completed")
}

// RecordStageError records a stage failure by fault kind.
func (r *Registry) RecordStageError(stage, kind string) {
	r.StageErrors.WithLabelValues(stage, kind).Inc()
}

// ObserveCache folds a cache's cumulative stats into the hit/miss counters,
// adding only the delta since the last observation, then refreshes the
// combined hit-ratio gauge.
func (r *Registry) ObserveCache(name string, stats cache.Stats) {
	r.mu.Lock()
	last := r.lastStats[name]
	r.lastStats[name] = stats
	r.mu.Unlock()

	if d := stats.Hits - last.Hits; d > 0 {
		r.CacheHits.WithLabelValues(name).Add(float64(d))
	}
	if d := stats.Misses - last.Misses; d > 0 {
		r.CacheMisses.WithLabelValues(name).Add(float64(d))
	}
	r.updateCacheHitRatio()
}

// updateCacheHitRatio recomputes the combined ratio by reading the counters
// back out of the registry.
func (r *Registry) updateCacheHitRatio() {
	r.mu.Lock()
	names := make([]string, 0, len(r.lastStats))
	for name := range r.lastStats {
		names = append(names, name)
	}
	r.mu.Unlock()

	m := &io_prometheus_client.Metric{}
	totalHits := 0.0
	totalMisses := 0.0
	for _, name := range names {
		if hits, err := r.CacheHits.GetMetricWithLabelValues(name); err == nil {
			if err := hits.Write(m); err == nil {
				totalHits += m.GetCounter().GetValue()
			}
		}
		if misses, err := r.CacheMisses.GetMetricWithLabelValues(name); err == nil {
			if err := misses.Write(m); err == nil {
				totalMisses += m.GetCounter().GetValue()
			}
		}
	}

	if totalHits+totalMisses > 0 {
		r.CacheHitRatio.Set(totalHits / (totalHits + totalMisses))
	}
}

// RecordProviderRequest records one content API call outcome.
func (r *Registry) RecordProviderRequest(endpoint, status string) {
	r.ProviderRequests.WithLabelValues(endpoint, status).Inc()
}

// RecordBriefStates publishes the lifecycle split sizes.
func (r *Registry) RecordBriefStates(monitoring, reward int) {
	r.BriefsByState.WithLabelValues("monitoring").Set(float64(monitoring))
	r.BriefsByState.WithLabelValues("reward").Set(float64(reward))
}
