package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/secretgov/internal/app"
	"github.com/systmms/secretgov/internal/config"
	"github.com/systmms/secretgov/pkg/service"
)

// NewSetCommand creates the 'set' command
func NewSetCommand(cfg *config.Config) *cobra.Command {
	var (
		caller         callerFlags
		owner          string
		purpose        string
		environment    string
		classification string
		rotationDays   int
	)

	cmd := &cobra.Command{
		Use:   "set NAME [VALUE]",
		Short: "Create or update a secret",
		Long: `Create or update a secret. Only a one-way hash of the value is stored.

When VALUE is omitted it is read from stdin. Classification, environment and
rotation frequency are inferred from the name unless given explicitly.`,
		Example: `  # Create with inferred metadata
  secretgov set PROD_API_KEY abc123

  # Read the value from stdin
  printf '%s' "$TOKEN" | secretgov set CI_TOKEN --owner platform`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := secretValue(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			req := service.SetRequest{
				Name:           args[0],
				Value:          value,
				Actor:          caller.actor,
				IP:             caller.ip,
				Owner:          owner,
				Purpose:        purpose,
				Environment:    environment,
				Classification: classification,
			}
			if cmd.Flags().Changed("rotation-days") {
				req.RotationFrequencyDays = &rotationDays
			}

			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.SetSecret(ctx, req)
				if err := failed(res.Status); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", res.Name)
				return nil
			})
		},
	}

	caller.register(cmd)
	cmd.Flags().StringVar(&owner, "owner", "", "Owning team or person")
	cmd.Flags().StringVar(&purpose, "purpose", "", "What the secret is used for")
	cmd.Flags().StringVar(&environment, "environment", "", "DEVELOPMENT, STAGING, PRODUCTION or ALL")
	cmd.Flags().StringVar(&classification, "classification", "", "LOW, MODERATE, HIGH or CRITICAL")
	cmd.Flags().IntVar(&rotationDays, "rotation-days", 0, "Rotation frequency in days (0 exempts from staleness)")

	return cmd
}

func secretValue(stdin io.Reader, args []string) (string, error) {
	if len(args) > 1 {
		return args[1], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read value from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// NewGetCommand creates the 'get' command
func NewGetCommand(cfg *config.Config) *cobra.Command {
	var caller callerFlags

	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Print a secret value held by this process",
		Long: `Print the value of a secret set earlier in the same process.

Values are never persisted. Outside a long-running process this command
records a failed READ in the audit log and exits with an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.GetSecret(ctx, args[0], caller.actor, caller.ip)
				if err := failed(res.Status); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(res.Value))
				return nil
			})
		},
	}

	caller.register(cmd)
	return cmd
}

// NewMetadataCommand creates the 'metadata' command
func NewMetadataCommand(cfg *config.Config) *cobra.Command {
	var (
		format string
		caller callerFlags
	)

	cmd := &cobra.Command{
		Use:   "metadata NAME",
		Short: "Show the metadata recorded for a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.GetSecretMetadata(ctx, args[0], caller.actor, caller.ip)
				if err := failed(res.Status); err != nil {
					return err
				}
				m := res.Metadata
				return output(cmd.OutOrStdout(), format, m, func(w *tabwriter.Writer) {
					_, _ = fmt.Fprintf(w, "Name:\t%s\n", m.Name)
					_, _ = fmt.Fprintf(w, "Classification:\t%s\n", m.Classification)
					_, _ = fmt.Fprintf(w, "Environment:\t%s\n", m.Environment)
					_, _ = fmt.Fprintf(w, "Owner:\t%s\n", m.Owner)
					_, _ = fmt.Fprintf(w, "Purpose:\t%s\n", m.Purpose)
					_, _ = fmt.Fprintf(w, "Rotation frequency:\t%d days\n", m.RotationFrequencyDays)
					_, _ = fmt.Fprintf(w, "Rotations:\t%d\n", m.RotationsCount)
					_, _ = fmt.Fprintf(w, "Created:\t%s\n", formatTime(m.CreatedAt))
					_, _ = fmt.Fprintf(w, "Last rotated:\t%s\n", formatTime(m.LastRotated))
					_, _ = fmt.Fprintf(w, "Active:\t%s\n", yesNo(m.IsActive))
					_, _ = fmt.Fprintf(w, "Value hash:\t%s\n", m.ValueHash)
				})
			})
		},
	}

	addFormatFlag(cmd, &format, "table")
	caller.register(cmd)
	return cmd
}

// NewRotateCommand creates the 'rotate' command
func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var caller callerFlags

	cmd := &cobra.Command{
		Use:   "rotate NAME [NEW_VALUE]",
		Short: "Replace the value of an existing secret",
		Long: `Replace the value of an existing active secret. The new value is read from
stdin when NEW_VALUE is omitted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := secretValue(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.RotateSecret(ctx, args[0], value, caller.actor, caller.ip)
				if err := failed(res.Status); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Rotated %s (rotation #%d at %s)\n",
					res.Name, res.RotationsCount, formatTime(res.LastRotated))
				return nil
			})
		},
	}

	caller.register(cmd)
	return cmd
}

// NewDeleteCommand creates the 'delete' command
func NewDeleteCommand(cfg *config.Config) *cobra.Command {
	var caller callerFlags

	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Deactivate a secret",
		Long: `Deactivate a secret and drop its cached value. The record and its audit
trail are kept; setting the secret again reactivates it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.DeleteSecret(ctx, args[0], caller.actor, caller.ip)
				if err := failed(res.Status); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s\n", res.Name)
				return nil
			})
		},
	}

	caller.register(cmd)
	return cmd
}

// NewListCommand creates the 'list' command
func NewListCommand(cfg *config.Config) *cobra.Command {
	var (
		caller callerFlags
		all    bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.ListSecrets(ctx, all, caller.actor, caller.ip)
				if err := failed(res.Status); err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					_, _ = fmt.Fprintln(w, "NAME\tCLASSIFICATION\tENVIRONMENT\tROTATIONS\tLAST ROTATED\tACTIVE")
					for _, r := range res.Secrets {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
							r.Name, r.Classification, r.Environment, r.RotationsCount,
							formatTime(r.LastRotated), yesNo(r.IsActive))
					}
				})
			})
		},
	}

	caller.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Include deactivated secrets")
	addFormatFlag(cmd, &format, "table")
	return cmd
}

// NewExportCommand creates the 'export' command
func NewExportCommand(cfg *config.Config) *cobra.Command {
	var (
		caller callerFlags
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export metadata and recent audit entries",
		Long: `Export every secret's metadata together with the most recent access log
entries. Raw values are never included.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.ExportMetadata(ctx, caller.actor, caller.ip)
				if err := failed(res.Status); err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), format, res, nil)
			})
		},
	}

	caller.register(cmd)
	addFormatFlag(cmd, &format, "json")
	return cmd
}

// NewHistoryCommand creates the 'history' command
func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "history NAME",
		Short: "Show lifecycle events recorded for a secret in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.GetSecretHistory(args[0])
				if err := failed(res.Status); err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					_, _ = fmt.Fprintln(w, "TIME\tEVENT\tACTOR")
					for _, ev := range res.Events {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", formatTime(ev.At), ev.Kind, ev.Actor)
					}
				})
			})
		},
	}

	addFormatFlag(cmd, &format, "table")
	return cmd
}

// NewLogsCommand creates the 'logs' command
func NewLogsCommand(cfg *config.Config) *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the access audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.GetAccessLogs(limit)
				if err := failed(res.Status); err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					_, _ = fmt.Fprintln(w, "TIME\tACTION\tSECRET\tACTOR\tIP\tOK\tREASON")
					for _, e := range res.Logs {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
							formatTime(e.Timestamp), e.Action, e.SecretName, e.Actor, e.SourceIP,
							yesNo(e.Success), e.Reason)
					}
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Number of most recent entries (0 for all)")
	addFormatFlag(cmd, &format, "table")
	return cmd
}
