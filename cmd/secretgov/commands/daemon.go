package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/secretgov/internal/app"
	"github.com/systmms/secretgov/internal/config"
	"github.com/systmms/secretgov/pkg/rotation"
)

// NewDaemonCommand creates the 'daemon' command
func NewDaemonCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled auto-rotation and serve metrics",
		Long: `Run auto-rotation every rotation.interval until interrupted. After each run
the metadata is flushed and HIGH or CRITICAL policy violations are sent to
the configured notification providers.

When metrics.enabled is set, Prometheus metrics and a /health endpoint are
served on metrics.port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return runDaemon(ctx, a)
			})
		},
	}
	return cmd
}

func runDaemon(ctx context.Context, a *app.App) error {
	sched, err := a.NewScheduler()
	if err != nil {
		return err
	}
	sched.OnRun = func(result rotation.BatchResult) {
		if result.Rotated > 0 {
			a.Logger.Info("Scheduled rotation rotated %d secret(s)", result.Rotated)
		}
		if err := a.Store.Flush(ctx); err != nil {
			a.Logger.Warn("Failed to persist metadata after scheduled rotation: %v", err)
		}
		a.Detector.PublishViolations()
	}

	srv := a.MetricsServer()
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(shutdownCtx)
	}()

	a.Detector.PublishViolations()

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info("Shutting down")
	return nil
}
