package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulserank/pulserank/internal/httpapi"
	"github.com/pulserank/pulserank/internal/scheduler"
)

// runServe wires the full engine and runs the cycle scheduler alongside the
// read-only HTTP surface until interrupted.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, pools, err := loadAll(cmd)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, pools)
	if err != nil {
		return err
	}
	defer eng.Close()

	// The server reports the scheduler's status and the scheduler publishes
	// into the server's event hub, so the status hook is bound late.
	var sched *scheduler.Scheduler
	srv := httpapi.NewServer(cfg.Server, httpapi.StatusFunc(func() httpapi.EngineStatus {
		if sched == nil {
			return httpapi.EngineStatus{}
		}
		return sched.Status()
	}), eng.metrics)
	sched = scheduler.New(cfg.Scheduler, pools, eng.orch, eng.discovery, eng.metrics,
		scheduler.WithEvents(srv.Events()),
		scheduler.WithCaches(eng.caches),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	log.Info().
		Str("addr", cfg.Server.Addr).
		Int("pools", len(pools)).
		Msg("engine running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server error: %w", err)
	}

	cancel()
	<-schedDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		return err
	}
	log.Info().Msg("engine stopped")
	return nil
}
