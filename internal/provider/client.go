// Package provider implements the social content API client: rate-limited,
// circuit-broken HTTP fetches with bounded retries, plus the bounded worker
// pool used to fan fetches out across many accounts.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/model"
)

// Fetcher is the read-only content source the engine consumes.
type Fetcher interface {
	// FetchContent returns an account's content since the given time.
	FetchContent(ctx context.Context, account string, since time.Time) ([]model.ContentItem, error)
	// SearchContent returns content matching a query since the given time.
	SearchContent(ctx context.Context, query string, since time.Time) ([]model.ContentItem, error)
}

// Config holds client settings.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	RatePerSecond float64
	RateBurst     int
	// BreakerTimeout is how long an opened circuit stays open.
	BreakerTimeout time.Duration
	MaxPerFetch    int
}

// Client talks to the content API over HTTP.
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *EndpointLimiter
	breaker  *gobreaker.CircuitBreaker
	sleep    func(time.Duration)
	maxItems int
}

// NewClient builds a client from config. The API key is required.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, faults.Configuration(nil, "content API key not set")
	}
	if cfg.BaseURL == "" {
		return nil, faults.Configuration(nil, "content API base URL not set")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if cfg.MaxPerFetch == 0 {
		cfg.MaxPerFetch = 200
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "content-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
		},
	})

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  NewEndpointLimiter(cfg.RatePerSecond, cfg.RateBurst),
		breaker:  breaker,
		sleep:    time.Sleep,
		maxItems: cfg.MaxPerFetch,
	}, nil
}

// contentEnvelope is the wire shape of the content API responses.
type contentEnvelope struct {
	Account string     `json:"account,omitempty"`
	Items   []wireItem `json:"items"`
}

type wireItem struct {
	ID              string   `json:"id"`
	Author          string   `json:"author"`
	Text            string   `json:"text"`
	CreatedAt       string   `json:"created_at"`
	Lang            string   `json:"lang"`
	Retweet         bool     `json:"retweet"`
	Quote           bool     `json:"quote"`
	Reply           bool     `json:"reply"`
	RetweetedID     string   `json:"retweeted_id"`
	QuotedID        string   `json:"quoted_id"`
	RetweetedUser   string   `json:"retweeted_user"`
	QuotedUser      string   `json:"quoted_user"`
	Mentions        []string `json:"mentions"`
	RetweetCount    int      `json:"retweet_count"`
	QuoteCount      int      `json:"quote_count"`
	ReplyCount      int      `json:"reply_count"`
	LikeCount       int      `json:"like_count"`
	RetweetedBy     []string `json:"retweeted_by"`
	QuotedBy        []string `json:"quoted_by"`
	AuthorFollowers int      `json:"author_followers"`
}

func (w *wireItem) toModel() (model.ContentItem, error) {
	item := model.ContentItem{
		ID:              w.ID,
		Author:          strings.ToLower(w.Author),
		Text:            w.Text,
		Lang:            w.Lang,
		Retweet:         w.Retweet,
		Quote:           w.Quote,
		Reply:           w.Reply,
		RetweetedID:     w.RetweetedID,
		QuotedID:        w.QuotedID,
		RetweetedUser:   strings.ToLower(w.RetweetedUser),
		QuotedUser:      strings.ToLower(w.QuotedUser),
		RetweetCount:    w.RetweetCount,
		QuoteCount:      w.QuoteCount,
		ReplyCount:      w.ReplyCount,
		LikeCount:       w.LikeCount,
		AuthorFollowers: w.AuthorFollowers,
	}
	if item.ID == "" || item.Author == "" {
		return item, faults.Integrity(nil, "content item missing id or author")
	}
	if w.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, w.CreatedAt)
		if err != nil {
			return item, faults.Integrity(err, "content item %s has bad created_at", w.ID)
		}
		item.CreatedAt = t.UTC()
	}
	for _, m := range w.Mentions {
		item.Mentions = append(item.Mentions, strings.ToLower(strings.TrimPrefix(m, "@")))
	}
	for _, u := range w.RetweetedBy {
		item.RetweetedBy = append(item.RetweetedBy, strings.ToLower(u))
	}
	for _, u := range w.QuotedBy {
		item.QuotedBy = append(item.QuotedBy, strings.ToLower(u))
	}
	return item, nil
}

// FetchContent returns one account's content since the given time. Malformed
// items are dropped, not fatal.
func (c *Client) FetchContent(ctx context.Context, account string, since time.Time) ([]model.ContentItem, error) {
	account = strings.ToLower(strings.TrimSpace(account))
	if account == "" {
		return nil, faults.Configuration(nil, "empty account name")
	}

	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339))
	params.Set("limit", fmt.Sprintf("%d", c.maxItems))

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/content", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(account))
	return c.fetch(ctx, "content", endpoint, params)
}

// SearchContent returns content matching query since the given time.
func (c *Client) SearchContent(ctx context.Context, query string, since time.Time) ([]model.ContentItem, error) {
	if strings.TrimSpace(query) == "" {
		return nil, faults.Configuration(nil, "empty search query")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("since", since.UTC().Format(time.RFC3339))
	params.Set("limit", fmt.Sprintf("%d", c.maxItems))

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/content/search"
	return c.fetch(ctx, "search", endpoint, params)
}

func (c *Client) fetch(ctx context.Context, kind, endpoint string, params url.Values) ([]model.ContentItem, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx, kind, endpoint, params)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, faults.Transient(err, "content API circuit open")
		}
		return nil, err
	}
	return result.([]model.ContentItem), nil
}

func (c *Client) fetchWithRetry(ctx context.Context, kind, endpoint string, params url.Values) ([]model.ContentItem, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(c.cfg.RetryDelay * time.Duration(attempt))
		}
		if err := c.limiter.Wait(ctx, kind); err != nil {
			return nil, faults.Transient(err, "rate limiter interrupted")
		}

		items, retryable, err := c.doRequest(ctx, endpoint, params)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		log.Warn().Err(err).Str("endpoint", kind).Int("attempt", attempt+1).Msg("content fetch retrying")
	}
	return nil, faults.Transient(lastErr, "content fetch exhausted %d retries", c.cfg.MaxRetries)
}

// doRequest performs one HTTP round trip. The second return reports whether
// the failure is worth retrying.
func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values) ([]model.ContentItem, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, false, faults.Configuration(err, "bad request for %s", endpoint)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, faults.Transient(ctx.Err(), "content fetch canceled")
		}
		return nil, true, faults.Transient(err, "content fetch failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, faults.Transient(nil, "content API status %d", resp.StatusCode)
	default:
		return nil, false, faults.Transient(nil, "content API status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, true, faults.Transient(err, "failed to read content response")
	}

	var envelope contentEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Some deployments return the bare item list.
		var bare []wireItem
		if err2 := json.Unmarshal(body, &bare); err2 != nil {
			return nil, false, faults.Integrity(err, "invalid content response")
		}
		envelope.Items = bare
	}

	items := make([]model.ContentItem, 0, len(envelope.Items))
	dropped := 0
	for i := range envelope.Items {
		item, err := envelope.Items[i].toModel()
		if err != nil {
			dropped++
			continue
		}
		items = append(items, item)
	}
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("dropped malformed content items")
	}
	return items, false, nil
}
