package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/model"
)

// FetchResult is one account's fan-out outcome. A failed account carries an
// empty item list; the error is informational only.
type FetchResult struct {
	Account string
	Items   []model.ContentItem
	Err     error
}

// Pool fans per-account fetches out over a bounded set of workers and joins
// the results. Per-account failures degrade that account to empty content;
// they never abort the batch.
type Pool struct {
	fetcher Fetcher
	workers int
}

// NewPool builds a fetch pool. Workers defaults to 10.
func NewPool(fetcher Fetcher, workers int) *Pool {
	if workers <= 0 {
		workers = 10
	}
	return &Pool{fetcher: fetcher, workers: workers}
}

// FetchAll fetches content for every account since the given time. The result
// map always contains one entry per requested account.
func (p *Pool) FetchAll(ctx context.Context, accounts []string, since time.Time) map[string][]model.ContentItem {
	jobs := make(chan string)
	results := make(chan FetchResult)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for account := range jobs {
				items, err := p.fetcher.FetchContent(ctx, account, since)
				if err != nil {
					log.Warn().Err(err).Str("account", account).Msg("account fetch degraded to empty")
					results <- FetchResult{Account: account, Err: err}
					continue
				}
				results <- FetchResult{Account: account, Items: items}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, account := range accounts {
			select {
			case jobs <- account:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string][]model.ContentItem, len(accounts))
	for _, account := range accounts {
		out[account] = nil
	}
	failed := 0
	for res := range results {
		out[res.Account] = res.Items
		if res.Err != nil {
			failed++
		}
	}
	log.Info().Int("accounts", len(accounts)).Int("failed", failed).Int("workers", p.workers).Msg("content fan-out complete")
	return out
}
