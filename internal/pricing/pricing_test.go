package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/faults"
)

func TestHTTPSource_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price_usd": 0.25, "unit_supply": 4000}`))
	}))
	defer srv.Close()

	s, err := NewHTTPSource(config.PricingConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	q, err := s.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.25, q.PriceUSD)
	assert.Equal(t, 4000.0, q.UnitSupply)
}

func TestHTTPSource_CachesWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"price_usd": 0.25, "unit_supply": 4000}`))
	}))
	defer srv.Close()

	now := time.Now()
	s, err := NewHTTPSource(config.PricingConfig{BaseURL: srv.URL, CacheTTL: time.Minute},
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = s.Quote(context.Background())
	require.NoError(t, err)
	_, err = s.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second quote must come from cache")

	// Advance past the TTL and the source refetches.
	now = now.Add(2 * time.Minute)
	_, err = s.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPSource_RejectsNonPositiveQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price_usd": 0, "unit_supply": 4000}`))
	}))
	defer srv.Close()

	s, err := NewHTTPSource(config.PricingConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = s.Quote(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindComputation))
}

func TestHTTPSource_TransientOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewHTTPSource(config.PricingConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = s.Quote(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindTransient))
}

func TestHTTPSource_IntegrityOnGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	s, err := NewHTTPSource(config.PricingConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = s.Quote(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindIntegrity))
}

func TestStatic_Quote(t *testing.T) {
	s := Static{PriceUSD: 1, UnitSupply: 700}
	q, err := s.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, q.PriceUSD)
	assert.Equal(t, 700.0, q.UnitSupply)
}

func TestNewHTTPSource_RequiresURL(t *testing.T) {
	_, err := NewHTTPSource(config.PricingConfig{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindConfiguration))
}
