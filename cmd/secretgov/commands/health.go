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

// NewHealthCommand creates the 'health' command
func NewHealthCommand(cfg *config.Config) *cobra.Command {
	var (
		format string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Summarise the secret store",
		Long: `Summarise the secret store. The status is degraded while any CRITICAL
secret is stale. With --strict a degraded status exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.HealthCheck()
				if err := failed(res.Status); err != nil {
					return err
				}
				if err := output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					_, _ = fmt.Fprintf(w, "Status:\t%s\n", res.Health)
					_, _ = fmt.Fprintf(w, "Secrets:\t%d (%d active)\n", res.TotalSecrets, res.ActiveSecrets)
					_, _ = fmt.Fprintf(w, "Critical:\t%d (%d stale)\n", res.CriticalSecrets, res.CriticalStale)
					_, _ = fmt.Fprintf(w, "Stale:\t%d\n", res.StaleSecrets)
					_, _ = fmt.Fprintf(w, "Access log entries:\t%d\n", res.TotalAccessLogs)
				}); err != nil {
					return err
				}
				if strict && res.Health != service.StatusHealthy {
					return fmt.Errorf("secret store is %s: %d CRITICAL secret(s) stale", res.Health, res.CriticalStale)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when degraded")
	addFormatFlag(cmd, &format, "table")
	return cmd
}
