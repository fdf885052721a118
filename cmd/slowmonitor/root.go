package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slowmonitor/internal/channels"
	"slowmonitor/internal/config"
	"slowmonitor/internal/eventloop"
	"slowmonitor/internal/logging"
	"slowmonitor/internal/metrics"
	"slowmonitor/internal/monitor"
	"slowmonitor/internal/server"
	"slowmonitor/internal/simulate"
	"slowmonitor/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "slowmonitor",
		Short:         "Real-time slowness telemetry for interactive pages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newInspectCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry core and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to configuration file (YAML)")
	cmd.Flags().StringVar(&addr, "addr", "", "address for the web server, overrides listen_addr")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(reg)

	loop := eventloop.New(quartz.NewReal(), cfg.FrameInterval(), logger)
	registry := channels.NewRegistry(cfg.ChannelCapacity)
	workload := simulate.New(loop, registry, workloadConfig(cfg), logger)
	mon := monitor.New(loop, registry, monitor.Sources{
		Tracer:     workload,
		Visibility: workload.Visibility(),
		Timer:      workload.Timer(),
		Publisher:  workload,
		Feed:       workload.Feed(),
	}, monitor.Options{
		LongTaskThreshold:   cfg.LongTaskThreshold(),
		FrameWindow:         cfg.FrameWindow(),
		MaxEvents:           cfg.MaxEvents,
		MaxInteractionBatch: cfg.MaxInteractionBatch,
		Kinds:               cfg.Kinds(),
		Logger:              logger,
		Metrics:             rec,
	})
	if err := mon.Start(ctx); err != nil {
		return err
	}

	srv := server.New(cfg.ListenAddr, mon, server.Options{
		PushInterval: cfg.StreamPushInterval(),
		Gatherer:     reg,
		Logger:       logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
		if cfg.SnapshotPath != "" {
			if err := persistSnapshot(shutdownCtx, mon, cfg.SnapshotPath); err != nil {
				logger.Error("write snapshot", zap.Error(err))
			} else {
				logger.Info("snapshot written", zap.String("path", cfg.SnapshotPath))
			}
		}
		return mon.Stop(shutdownCtx)
	})

	logger.Info("slowmonitor started",
		zap.String("addr", cfg.ListenAddr),
		zap.Bool("simulate", cfg.Simulate.Enabled),
		zap.Duration("long_task_threshold", cfg.LongTaskThreshold()))
	return g.Wait()
}

func persistSnapshot(ctx context.Context, mon *monitor.Monitor, path string) error {
	snap, err := mon.Snapshot(ctx)
	if err != nil {
		return err
	}
	return storage.WriteSnapshot(path, snap)
}

func workloadConfig(cfg config.Config) simulate.Config {
	sim := cfg.Simulate
	if !sim.Enabled {
		return simulate.Config{}
	}
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return simulate.Config{
		InteractionEvery: ms(sim.InteractionEveryMS),
		InteractionCost:  ms(sim.InteractionCostMS),
		LongTaskEvery:    ms(sim.LongTaskEveryMS),
		LongTaskCost:     ms(sim.LongTaskCostMS),
		DesyncRatio:      sim.DesyncRatio,
		HiddenEvery:      ms(sim.HiddenEveryMS),
		Seed:             sim.Seed,
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot.json>",
		Short: "Summarise a snapshot written at shutdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0])
		},
	}
}

type inspectReport struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	Status       string          `json:"status"`
	FPS          int             `json:"fps"`
	Interactions int             `json:"buffered_interactions"`
	Summary      metrics.Summary `json:"summary"`
}

func inspect(out io.Writer, path string) error {
	snap, err := storage.ReadSnapshot(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(inspectReport{
		GeneratedAt:  snap.GeneratedAt,
		Status:       string(snap.Status.Phase),
		FPS:          snap.FPS,
		Interactions: len(snap.Interactions),
		Summary:      metrics.ComputeSummary(snap.Events),
	})
}
