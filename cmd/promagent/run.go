package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/promagent/pkg/api"
	"github.com/cuemby/promagent/pkg/config"
	"github.com/cuemby/promagent/pkg/events"
	"github.com/cuemby/promagent/pkg/health"
	"github.com/cuemby/promagent/pkg/log"
	"github.com/cuemby/promagent/pkg/metrics"
	"github.com/cuemby/promagent/pkg/reconciler"
	"github.com/cuemby/promagent/pkg/service"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long: `Run the agent in the foreground until interrupted.

The agent converges once at startup, then again whenever the configuration
file changes or a file in the relations directory is written or removed.
update-status runs on --status-interval. Health, status and metrics are
served on the API address; the gRPC health protocol on the gRPC address.`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().Duration("status-interval", 5*time.Minute, "Interval between update-status cycles (0 disables)")
	runCmd.Flags().Duration("debounce", config.DefaultDebounce, "Quiet period before a file change triggers a cycle")
}

func runAgent(cmd *cobra.Command, args []string) error {
	statusInterval, _ := cmd.Flags().GetDuration("status-interval")
	debounce, _ := cmd.Flags().GetDuration("debounce")
	logger := log.WithComponent("agent")

	a, err := newAgent(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := os.MkdirAll(cfg.RelationsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create relations directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	// Servers
	httpServer := api.NewHealthServer(a.reconciler).WithRateLimit(cfg.APIRateLimit, int(2*cfg.APIRateLimit)+1)
	grpcServer := api.NewServer()
	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(cfg.APIAddress); err != nil {
			errCh <- fmt.Errorf("HTTP API error: %w", err)
		}
	}()
	if cfg.GRPCAddress != "" {
		go func() {
			if err := grpcServer.Start(cfg.GRPCAddress); err != nil {
				errCh <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	// Background observers
	collector := metrics.NewCollector(a.store, 0)
	collector.Start()
	defer collector.Stop()

	monitor := health.NewMonitor(health.NewReadyChecker(a.daemonURL), health.DefaultConfig())
	monitor.Start()
	defer monitor.Stop()

	// Reconcile loop
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reconciler.Loop(ctx, sub, func(res *reconciler.Result, err error) {
			if res != nil && (slices.Contains(res.Actions, string(service.ActionStart)) ||
				slices.Contains(res.Actions, string(service.ActionRestart))) {
				monitor.Restarted()
			}
			if st, serr := a.reconciler.Status(ctx); serr == nil {
				grpcServer.SetConverged(st.Converged)
			}
		})
	}()

	// Event sources
	broker.Publish(events.New(events.EventInstall))
	if err := publishRelationSync(a, broker); err != nil {
		logger.Warn().Err(err).Msg("Initial relation sync failed")
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := config.WatchFile(ctx, configPath, debounce, func() {
			logger.Info().Str("path", configPath).Msg("Configuration changed")
			broker.Publish(events.New(events.EventConfigChanged))
		})
		if err != nil {
			metrics.UpdateComponent(metrics.ComponentWatcher, false, err.Error())
			logger.Error().Err(err).Msg("Configuration watcher stopped")
		}
	}()
	go func() {
		defer wg.Done()
		err := config.Watch(ctx, cfg.RelationsDir, debounce, func(path string) {
			ev, ok, err := relationEvent(path)
			if err != nil {
				logger.Warn().Err(err).Msg("Ignoring relation change")
				return
			}
			if ok {
				logger.Info().Int("relation_id", ev.RelationID).Str("event", string(ev.Type)).Msg("Relation changed")
				broker.Publish(ev)
			}
		})
		if err != nil {
			metrics.UpdateComponent(metrics.ComponentWatcher, false, err.Error())
			logger.Error().Err(err).Msg("Relations watcher stopped")
		}
	}()
	metrics.UpdateComponent(metrics.ComponentWatcher, true, "")

	if statusInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(statusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					broker.Publish(events.New(events.EventUpdateStatus))
				}
			}
		}()
	}

	logger.Info().
		Str("api", cfg.APIAddress).
		Str("grpc", cfg.GRPCAddress).
		Str("relations", cfg.RelationsDir).
		Msg("Agent is running")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Server failed, shutting down")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP API shutdown failed")
	}
	grpcServer.Stop()
	// Unblocks a watcher still publishing after the loop exited
	broker.Stop()
	wg.Wait()

	logger.Info().Msg("Shutdown complete")
	return runErr
}

// publishRelationSync queues events for relation files that changed or
// disappeared while the agent was not running
func publishRelationSync(a *agent, broker *events.Broker) error {
	stored, err := a.store.ListRelations()
	if err != nil {
		return err
	}
	evs, err := syncRelations(cfg.RelationsDir, stored)
	if err != nil {
		return err
	}
	for _, ev := range evs {
		broker.Publish(ev)
	}
	return nil
}
