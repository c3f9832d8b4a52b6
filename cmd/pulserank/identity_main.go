package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulserank/pulserank/internal/identity"
)

func openIdentityStore(cmd *cobra.Command) (identity.Store, func() error, error) {
	cfg, _, err := loadAll(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, nil, fmt.Errorf("identity db not configured (set database.dsn or PG_DSN)")
	}
	db, err := identity.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return identity.NewStore(db, cfg.Database.QueryTimeout), db.Close, nil
}

// runIdentityList prints a pool's account-to-identity mappings.
func runIdentityList(cmd *cobra.Command, args []string) error {
	pool, _ := cmd.Flags().GetString("pool")
	if pool == "" {
		return fmt.Errorf("--pool is required")
	}

	store, closeDB, err := openIdentityStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mappings, err := store.List(ctx, pool)
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		fmt.Printf("no mappings for pool %q\n", pool)
		return nil
	}

	for _, m := range mappings {
		line := fmt.Sprintf("%-24s → %4d", m.Account, m.Identity)
		if m.Tag != "" {
			line += "  " + m.Tag
		}
		fmt.Println(line)
	}
	fmt.Printf("%d mappings in pool %q\n", len(mappings), pool)
	return nil
}

// runIdentitySet upserts one mapping.
func runIdentitySet(cmd *cobra.Command, args []string) error {
	pool, _ := cmd.Flags().GetString("pool")
	account, _ := cmd.Flags().GetString("account")
	id, _ := cmd.Flags().GetInt("identity")
	tag, _ := cmd.Flags().GetString("tag")

	if pool == "" || strings.TrimSpace(account) == "" {
		return fmt.Errorf("--pool and --account are required")
	}
	if id < 0 {
		return fmt.Errorf("--identity must be a non-negative roster index")
	}

	store, closeDB, err := openIdentityStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Upsert(ctx, identity.Mapping{
		Pool:     pool,
		Account:  account,
		Identity: id,
		Tag:      tag,
	}); err != nil {
		return err
	}
	green.Printf("✓ %s/%s → identity %d\n", pool, strings.ToLower(account), id)
	return nil
}
