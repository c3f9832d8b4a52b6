package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/pulserank/pulserank/internal/briefs"
	"github.com/pulserank/pulserank/internal/model"
)

// runBriefs fetches the feed and prints each brief with its state today.
func runBriefs(cmd *cobra.Command, args []string) error {
	cfg, pools, err := loadAll(cmd)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	feed, err := briefs.NewFetcher(cfg.Briefs, rdb)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	list, err := feed.Fetch(ctx)
	if err != nil {
		return err
	}

	lifecycle := briefs.NewLifecycle(cfg.Rewards.RewardDelayDays, cfg.Rewards.EmissionPeriodDays)
	now := time.Now().UTC()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartDate.Equal(list[j].StartDate.Time) {
			return list[i].StartDate.Before(list[j].StartDate.Time)
		}
		return list[i].ID < list[j].ID
	})

	counts := map[model.BriefState]int{}
	for _, b := range list {
		state := lifecycle.Classify(b, now)
		counts[state]++

		line := fmt.Sprintf("%-16s %-12s %s → %s  $%-8.0f %s",
			b.ID, b.Pool,
			b.StartDate.Format("2006-01-02"), b.EndDate.Format("2006-01-02"),
			b.BudgetUSD, state)
		switch state {
		case model.StateReward:
			green.Println(line)
		case model.StateMonitoring:
			cyan.Println(line)
		default:
			faint.Println(line)
		}
		if _, ok := pools[b.Pool]; !ok {
			yellow.Printf("  pool %q not configured, brief will be skipped\n", b.Pool)
		}
	}

	fmt.Printf("%d briefs: %d monitoring, %d reward, %d inactive (feed %s)\n",
		len(list),
		counts[model.StateMonitoring], counts[model.StateReward], counts[model.StateInactive],
		feed.FeedStatus(ctx))
	return nil
}
