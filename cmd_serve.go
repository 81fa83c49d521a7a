package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"plantops/log"
	"plantops/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	serveDryRun   bool
	serveMock     bool
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run check cycles on a schedule",
	Long: `Run a check cycle immediately and then every check interval. While serving,
the agent also watches the emergency-stop marker, monitors bridge health and
executes manual commands from the RabbitMQ command queue when configured.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "Log actions instead of driving the hardware")
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Use mock sensor data instead of the bridge")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Override CHECK_INTERVAL")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.GetInstance()

	cfg, limits, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveDryRun {
		cfg.DryRun = true
	}
	if serveMock {
		cfg.UseMockSensors = true
	}
	if serveInterval > 0 {
		cfg.CheckInterval = serveInterval
	}
	if cfg.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive, got %s", cfg.CheckInterval)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, limits)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer a.Close()

	mode := "live"
	if cfg.DryRun {
		mode = "dry-run"
	}
	logger.Info("Plant agent started",
		zap.String("mode", mode),
		zap.Duration("check_interval", cfg.CheckInterval),
		zap.Bool("mock_sensors", cfg.UseMockSensors),
		zap.String("emergency_stop_file", limits.EmergencyStopFile),
		zap.Int("max_actions_per_hour", limits.MaxActionsPerHour))

	if a.telegram != nil {
		if err := a.telegram.SendStartupMessage(mode, cfg.CheckInterval); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runSchedule(gctx, a)
		return nil
	})

	g.Go(func() error {
		a.health.Start(gctx)
		return nil
	})

	g.Go(func() error {
		watcher := services.NewStopWatcher(limits.EmergencyStopFile, logger, a.stopAlerters()...)
		if err := watcher.Run(gctx); err != nil {
			logger.Warn("Emergency stop watcher unavailable", zap.Error(err))
		}
		return nil
	})

	if a.rabbit != nil {
		g.Go(func() error {
			if err := a.rabbit.ConsumeCommands(gctx, a.agent.HandleCommand); err != nil {
				logger.Error("Command consumer stopped", zap.Error(err))
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("Plant agent stopped")
	return err
}

// runSchedule runs a cycle now and then on every tick until ctx is done.
func runSchedule(ctx context.Context, a *app) {
	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()

	opts := services.CheckOptions{IncludePhoto: a.cfg.IncludePhoto}
	runOnce := func() {
		summary := a.agent.RunCheck(ctx, opts)
		if summary.Error != "" {
			a.logger.Error("Check cycle failed", zap.String("error", summary.Error))
			return
		}
		a.logger.Info("Check cycle complete",
			zap.Bool("executed", summary.Executed),
			zap.Int("actions", len(summary.ActionsTaken)))
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
