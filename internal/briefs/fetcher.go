package briefs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/model"
)

const feedCacheKey = "pulserank:briefs:feed"

// maxFeedBytes bounds how much of a feed response is read.
const maxFeedBytes = 8 << 20

// cachedFeed wraps the raw feed payload with its fetch time so freshness is
// decided in code, not by key expiry. The entry itself never expires; a stale
// copy is the fallback when the feed is unreachable.
type cachedFeed struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Fetcher retrieves the brief feed, serving from the Redis cache while fresh
// and falling back to a stale copy when the feed endpoint is down.
type Fetcher struct {
	url    string
	ttl    time.Duration
	client *http.Client
	rdb    *redis.Client
	now    func() time.Time
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithFetcherClock overrides the freshness clock, for tests.
func WithFetcherClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher builds a feed fetcher. rdb may be nil to disable caching.
func NewFetcher(cfg config.BriefsConfig, rdb *redis.Client, opts ...FetcherOption) (*Fetcher, error) {
	if cfg.FeedURL == "" {
		return nil, faults.Configuration(nil, "brief feed URL not configured")
	}
	f := &Fetcher{
		url:    cfg.FeedURL,
		ttl:    cfg.CacheTTL,
		client: &http.Client{Timeout: 30 * time.Second},
		rdb:    rdb,
		now:    time.Now,
	}
	if f.ttl <= 0 {
		f.ttl = 24 * time.Hour
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch returns the current brief feed. A fresh cached copy short-circuits
// the HTTP call entirely; a fetch failure degrades to the stale copy.
func (f *Fetcher) Fetch(ctx context.Context) ([]*model.Brief, error) {
	cached, found := f.loadCached(ctx)
	if found && f.now().Sub(cached.FetchedAt) < f.ttl {
		briefs, _, err := model.ParseBriefs(cached.Payload)
		if err == nil {
			log.Debug().Int("briefs", len(briefs)).Msg("brief feed served from cache")
			return briefs, nil
		}
		log.Warn().Err(err).Msg("cached brief feed unreadable, refetching")
	}

	payload, err := f.fetchFeed(ctx)
	if err != nil {
		if found {
			briefs, _, perr := model.ParseBriefs(cached.Payload)
			if perr == nil {
				log.Warn().Err(err).
					Time("fetched_at", cached.FetchedAt).
					Msg("brief feed unreachable, serving stale cache")
				return briefs, nil
			}
		}
		return nil, err
	}

	briefs, dropped, err := model.ParseBriefs(payload)
	if err != nil {
		return nil, faults.Integrity(err, "brief feed payload undecodable")
	}
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("invalid briefs dropped from feed")
	}

	f.storeCached(ctx, payload)
	log.Info().Int("briefs", len(briefs)).Msg("brief feed fetched")
	return briefs, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, faults.Configuration(err, "invalid brief feed URL %s", f.url)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, faults.Transient(err, "brief feed request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, faults.Transient(nil, "brief feed returned status %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, faults.Transient(err, "brief feed read failed")
	}
	return payload, nil
}

func (f *Fetcher) loadCached(ctx context.Context) (*cachedFeed, bool) {
	if f.rdb == nil {
		return nil, false
	}
	val, err := f.rdb.Get(ctx, feedCacheKey).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Msg("brief feed cache read failed")
		}
		return nil, false
	}
	var cached cachedFeed
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		log.Warn().Err(err).Msg("brief feed cache entry corrupt")
		return nil, false
	}
	return &cached, true
}

func (f *Fetcher) storeCached(ctx context.Context, payload []byte) {
	if f.rdb == nil {
		return
	}
	data, err := json.Marshal(cachedFeed{FetchedAt: f.now(), Payload: payload})
	if err != nil {
		return
	}
	// No expiry: the stale copy is the outage fallback.
	if err := f.rdb.Set(ctx, feedCacheKey, data, 0).Err(); err != nil {
		log.Warn().Err(err).Msg("brief feed cache write failed")
	}
}

// FeedStatus summarizes the cached feed state for the status endpoint.
func (f *Fetcher) FeedStatus(ctx context.Context) string {
	cached, found := f.loadCached(ctx)
	if !found {
		return "uncached"
	}
	age := f.now().Sub(cached.FetchedAt)
	if age < f.ttl {
		return fmt.Sprintf("fresh (age %s)", age.Round(time.Second))
	}
	return fmt.Sprintf("stale (age %s)", age.Round(time.Second))
}
