package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/secretgov/internal/app"
	"github.com/systmms/secretgov/internal/config"
	"github.com/systmms/secretgov/pkg/service"
)

// NewStaleCommand creates the 'stale' command
func NewStaleCommand(cfg *config.Config) *cobra.Command {
	var (
		threshold int
		format    string
	)

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List active secrets overdue for rotation",
		Long: `List active secrets whose time since last rotation meets or exceeds their
rotation frequency. Secrets with a frequency of 0 are exempt.`,
		Example: `  # Use each secret's own frequency
  secretgov stale

  # Treat anything older than 7 days as stale
  secretgov stale --threshold 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var override *int
			if cmd.Flags().Changed("threshold") {
				override = &threshold
			}
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.DetectStaleKeys(override)
				if err := failed(res.Status); err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					if res.Count == 0 {
						_, _ = fmt.Fprintln(w, "No stale secrets")
						return
					}
					_, _ = fmt.Fprintln(w, "NAME\tCLASSIFICATION\tDAYS SINCE ROTATION\tTHRESHOLD\tOVERDUE")
					for _, s := range res.StaleSecrets {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
							s.Name, s.Classification, s.DaysSinceRotation, s.ThresholdDays, s.DaysOverdue)
					}
				})
			})
		},
	}

	cmd.Flags().IntVar(&threshold, "threshold", 0, "Override every secret's rotation frequency (days)")
	addFormatFlag(cmd, &format, "table")
	return cmd
}

// NewRotationCommand creates the parent 'rotation' command
func NewRotationCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "Batch rotation jobs and rotation reporting",
		Long: `Run batch rotation jobs over the tracked secrets.

Batch rotation regenerates each secret's recorded hash, resetting its
staleness clock. A failure on one secret never stops the batch.

Examples:
  secretgov rotation auto
  secretgov rotation critical --actor security-team
  secretgov rotation report --format json`,
	}

	cmd.AddCommand(
		newBatchCommand(cfg, "all", "Rotate every active secret",
			func(ctx context.Context, s *service.Service, c callerFlags) service.BatchResult {
				return s.RotateAll(ctx, c.actor, c.ip)
			}),
		newBatchCommand(cfg, "critical", "Rotate active secrets classified HIGH or CRITICAL",
			func(ctx context.Context, s *service.Service, c callerFlags) service.BatchResult {
				return s.RotateCriticalOnly(ctx, c.actor, c.ip)
			}),
		newBatchCommand(cfg, "auto", "Rotate only stale secrets",
			func(ctx context.Context, s *service.Service, c callerFlags) service.BatchResult {
				return s.AutoRotateIfNeeded(ctx, c.actor, c.ip)
			}),
		newRotationReportCommand(cfg),
	)

	return cmd
}

func newBatchCommand(cfg *config.Config, use, short string, job func(context.Context, *service.Service, callerFlags) service.BatchResult) *cobra.Command {
	var (
		caller callerFlags
		format string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := job(ctx, a.Service, caller)
				if err := output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					_, _ = fmt.Fprintf(w, "Job:\t%s\n", res.Job)
					_, _ = fmt.Fprintf(w, "Rotated:\t%d of %d\n", res.Rotated, res.Total)
					_, _ = fmt.Fprintf(w, "Failed:\t%d\n", res.Failed)
					_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", res.Skipped)
					for _, it := range res.Items {
						_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\n", it.Name, it.Status, it.Reason)
					}
				}); err != nil {
					return err
				}
				return failed(res.Status)
			})
		},
	}

	caller.register(cmd)
	addFormatFlag(cmd, &format, "table")
	return cmd
}

func newRotationReportCommand(cfg *config.Config) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise staleness, recent rotations and recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.GetRotationReport()
				if err := failed(res.Status); err != nil {
					return err
				}
				r := res.Report
				return output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					_, _ = fmt.Fprintf(w, "Secrets:\t%d (%d active)\n", r.TotalSecrets, r.ActiveSecrets)
					_, _ = fmt.Fprintf(w, "Stale:\t%d\n", r.StaleSecrets)
					_, _ = fmt.Fprintf(w, "Rotations recorded:\t%d (%d failed)\n",
						res.Statistics.TotalEvents, res.Statistics.Failed)
					_, _ = fmt.Fprintln(w, "Recommendations:")
					for _, rec := range r.Recommendations {
						_, _ = fmt.Fprintf(w, "  - %s\n", rec)
					}
				})
			})
		},
	}

	addFormatFlag(cmd, &format, "table")
	return cmd
}
