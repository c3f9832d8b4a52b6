package pricing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/faults"
)

// Quote is one pricing lookup: the unit price and the number of units
// emitted per distribution cycle. Weight = USD / (price x supply) is the
// fraction of one cycle's emission a dollar target claims.
type Quote struct {
	PriceUSD   float64   `json:"price_usd"`
	UnitSupply float64   `json:"unit_supply"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Source provides pricing for emission conversion.
type Source interface {
	Quote(ctx context.Context) (*Quote, error)
}

// Static is a fixed quote, for simulations and tests.
type Static struct {
	PriceUSD   float64
	UnitSupply float64
}

func (s Static) Quote(context.Context) (*Quote, error) {
	return &Quote{PriceUSD: s.PriceUSD, UnitSupply: s.UnitSupply, FetchedAt: time.Now()}, nil
}

// HTTPSource fetches quotes from the pricing endpoint, holding the last
// result for a short TTL so one lookup serves a whole cycle.
type HTTPSource struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	cached *Quote
}

// HTTPOption customizes an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithClient overrides the HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithClock overrides the freshness clock, for tests.
func WithClock(now func() time.Time) HTTPOption {
	return func(s *HTTPSource) { s.now = now }
}

// NewHTTPSource builds a pricing source from config.
func NewHTTPSource(cfg config.PricingConfig, opts ...HTTPOption) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, faults.Configuration(nil, "pricing URL not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s := &HTTPSource{
		url:    cfg.BaseURL,
		ttl:    ttl,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Quote returns the current pricing, cached within the TTL. A zero or
// negative price or supply is a computation fault; emission fails closed on
// it rather than dividing by garbage.
func (s *HTTPSource) Quote(ctx context.Context) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.cached.FetchedAt) < s.ttl {
		return s.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, faults.Configuration(err, "invalid pricing URL %s", s.url)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, faults.Transient(err, "pricing request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, faults.Transient(nil, "pricing endpoint returned status %d", resp.StatusCode)
	}

	var quote Quote
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&quote); err != nil {
		return nil, faults.Integrity(err, "pricing payload undecodable")
	}
	if quote.PriceUSD <= 0 || quote.UnitSupply <= 0 {
		return nil, faults.Computation(nil, "pricing lookup returned non-positive price %.6f or supply %.2f",
			quote.PriceUSD, quote.UnitSupply)
	}

	quote.FetchedAt = s.now()
	s.cached = &quote
	log.Debug().Float64("price_usd", quote.PriceUSD).Float64("unit_supply", quote.UnitSupply).Msg("pricing refreshed")
	return s.cached, nil
}
