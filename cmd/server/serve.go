package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/trigger-planner/internal/monitor"
	"github.com/t77yq/trigger-planner/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the automatic rebalancer",
	Long: `Run until interrupted, rebalancing trigger times on rebalance.schedule
over the configured window. With rebalance.due_check set, due jobs are
logged on that schedule, with or without rebalancing.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if capacity, err := monitor.ProbeCapacity(); err == nil {
		logger.Info("Host capacity",
			zap.Int("logical_cpus", capacity.LogicalCPUs),
			zap.Int("physical_cpus", capacity.PhysicalCPUs),
			zap.Uint64("memory_total", capacity.MemoryTotal))
	}

	if cfg.Rebalance.Schedule == "" {
		logger.Info("Automatic rebalancing disabled; set rebalance.schedule to enable it")
	}
	if cfg.Rebalance.Schedule != "" || cfg.Rebalance.DueCheck != "" {
		balancer, err := scheduler.NewAutoBalancer(a.service, scheduler.AutoBalancerConfig{
			Schedule:       cfg.Rebalance.Schedule,
			Window:         cfg.Rebalance.Window,
			MaxConcurrency: monitor.DefaultConcurrency(cfg.Rebalance.MaxConcurrency, logger),
			Principal:      principal,
			DueCheck:       cfg.Rebalance.DueCheck,
		}, logger)
		if err != nil {
			return err
		}
		if err := balancer.Start(ctx); err != nil {
			return err
		}
		defer balancer.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	logger.Info("Server shutting down gracefully")
	return nil
}
