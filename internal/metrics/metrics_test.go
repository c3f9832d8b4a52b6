package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulserank/pulserank/internal/cache"
)

func TestRegistry_StageTimer(t *testing.T) {
	r := NewRegistry()

	timer := r.StartStage("discovery")
	timer.Stop("success")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `pulserank_stage_runs_total{result="success",stage="discovery"} 1`)
	assert.Contains(t, body, "pulserank_stage_duration_seconds")
}

func TestRegistry_ObserveCacheTracksDeltas(t *testing.T) {
	r := NewRegistry()

	r.ObserveCache("content", cache.Stats{Hits: 3, Misses: 1})
	r.ObserveCache("content", cache.Stats{Hits: 5, Misses: 1})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `pulserank_cache_hits_total{cache="content"} 5`)
	assert.Contains(t, body, `pulserank_cache_misses_total{cache="content"} 1`)
	// 5 hits / 6 lookups.
	assert.Contains(t, body, "pulserank_cache_hit_ratio 0.8333333333333334")
}

func TestRegistry_InstancesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.CyclesTotal.Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), "pulserank_cycles_total 0")
}

func TestRegistry_FallbackAndBriefGauges(t *testing.T) {
	r := NewRegistry()

	r.FallbackVectors.Inc()
	r.RecordBriefStates(3, 2)
	r.RecordStageError("emission", "computation")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "pulserank_fallback_vectors_total 1")
	assert.Contains(t, body, `pulserank_briefs{state="monitoring"} 3`)
	assert.Contains(t, body, `pulserank_briefs{state="reward"} 2`)
	assert.Contains(t, body, `pulserank_stage_errors_total{kind="computation",stage="emission"} 1`)
}
