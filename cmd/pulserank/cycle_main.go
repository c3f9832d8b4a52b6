package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulserank/pulserank/internal/reward"
)

// runCycle executes a single reward cycle and prints the outcome.
func runCycle(cmd *cobra.Command, args []string) error {
	cfg, pools, err := loadAll(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	eng, err := buildEngine(cfg, pools)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	res := eng.orch.RunCycle(ctx)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"run_id":     res.RunID,
			"started_at": res.StartedAt,
			"duration":   res.Duration.String(),
			"fallback":   res.Fallback,
			"monitoring": res.Monitoring,
			"reward":     res.Reward,
			"skipped":    res.Skipped,
			"roster":     res.Roster,
			"vector":     res.Vector,
		})
	}

	fmt.Printf("Cycle %s finished in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
	fmt.Printf("Briefs: %d monitoring, %d reward, %d skipped\n", res.Monitoring, res.Reward, res.Skipped)
	if res.Frozen > 0 {
		cyan.Printf("Snapshots frozen: %d\n", res.Frozen)
	}
	if res.Fallback {
		red.Println("FALLBACK VECTOR EMITTED")
	} else {
		green.Printf("Vector sum %.6f over %d identities\n", res.Vector.Sum(), len(res.Roster))
	}
	printTopAllocations(res)
	return nil
}

// printTopAllocations lists the largest vector slots, skipping zeros.
func printTopAllocations(res *reward.CycleResult) {
	type slot struct {
		identity int
		fraction float64
	}
	slots := make([]slot, 0, len(res.Vector))
	for i, f := range res.Vector {
		if f > 0 && i < len(res.Roster) {
			slots = append(slots, slot{res.Roster[i], f})
		}
	}
	if len(slots) == 0 {
		return
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].fraction > slots[j].fraction })
	if len(slots) > 10 {
		slots = slots[:10]
	}

	fmt.Println("Top allocations:")
	for _, s := range slots {
		fmt.Printf("  identity %4d  %.6f\n", s.identity, s.fraction)
	}
}
