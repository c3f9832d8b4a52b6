package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulserank/pulserank/internal/artifact"
	"github.com/pulserank/pulserank/internal/cache"
	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/discovery"
)

// runDiscover regenerates social maps outside the scheduler, wiring only the
// fetch layer so it works before the feed or pricing endpoints exist.
func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, pools, err := loadAll(cmd)
	if err != nil {
		return err
	}
	poolName, _ := cmd.Flags().GetString("pool")

	if poolName != "" {
		p, ok := pools[poolName]
		if !ok {
			return fmt.Errorf("unknown pool %q", poolName)
		}
		pools = map[string]config.Pool{poolName: p}
	}

	store, err := artifact.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	contentCache := cache.NewAuto(cfg.Redis.Addr, cfg.Redis.DB)
	defer contentCache.Close()

	fetchPool, _, err := newFetchPool(cfg, contentCache)
	if err != nil {
		return err
	}
	lookback := time.Duration(cfg.Provider.InitialDays) * 24 * time.Hour
	eng := discovery.NewEngine(fetchPool, store, cfg.Discovery, lookback)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	failed := 0
	for name, pool := range pools {
		m, err := eng.Run(ctx, pool)
		if err != nil {
			red.Printf("✗ %s: %v\n", name, err)
			failed++
			continue
		}
		green.Printf("✓ %s: %d accounts ranked, %d active members (run %s)\n",
			name, len(m.Accounts), m.Meta.ActiveMembers, m.RunID)
		if relegated := m.RelegatedMembers(); len(relegated) > 0 {
			yellow.Printf("  relegated: %v\n", relegated)
		}
	}
	if failed > 0 {
		return fmt.Errorf("discovery failed for %d of %d pools", failed, len(pools))
	}
	return nil
}
