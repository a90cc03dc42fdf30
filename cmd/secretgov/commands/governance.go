package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/secretgov/internal/app"
	"github.com/systmms/secretgov/internal/config"
	"github.com/systmms/secretgov/pkg/governance"
	"github.com/systmms/secretgov/pkg/secret"
)

// NewGovernanceCommand creates the parent 'governance' command
func NewGovernanceCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "governance",
		Short: "Evaluate governance policies against tracked secrets",
	}

	cmd.AddCommand(
		newGovernanceReportCommand(cfg),
		newViolationsCommand(cfg),
	)
	return cmd
}

func newGovernanceReportCommand(cfg *config.Config) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show compliance by classification and environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.GetGovernanceReport()
				if err := failed(res.Status); err != nil {
					return err
				}
				r := res.Report
				return output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					_, _ = fmt.Fprintf(w, "Compliance:\t%.1f%%\n", r.CompliancePercentage)
					_, _ = fmt.Fprintf(w, "Active secrets:\t%d (%d compliant)\n", r.ActiveSecrets, r.CompliantSecrets)
					_, _ = fmt.Fprintf(w, "Violations:\t%d\n", r.TotalViolations)
					for _, c := range secret.Classifications {
						if count, ok := r.ComplianceByClassification[c]; ok {
							_, _ = fmt.Fprintf(w, "  %s\t%d/%d compliant\n", c, count.Compliant, count.Total)
						}
					}
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

func newViolationsCommand(cfg *config.Config) *cobra.Command {
	var (
		format  string
		publish bool
	)

	cmd := &cobra.Command{
		Use:   "violations",
		Short: "List current policy violations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.DetectPolicyViolations()
				if err := failed(res.Status); err != nil {
					return err
				}
				if publish {
					a.Detector.PublishViolations()
				}
				return output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					if res.Count == 0 {
						_, _ = fmt.Fprintln(w, "No violations")
						return
					}
					_, _ = fmt.Fprintln(w, "SECRET\tPOLICY\tTYPE\tSEVERITY\tDESCRIPTION")
					for _, v := range res.Violations {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
							v.SecretName, v.PolicyID, v.Type, v.Severity, v.Description)
					}
				})
			})
		},
	}

	addFormatFlag(cmd, &format, "table")
	cmd.Flags().BoolVar(&publish, "notify", false, "Send HIGH and CRITICAL violations to configured notification providers")
	return cmd
}

// NewPolicyCommand creates the parent 'policy' command
func NewPolicyCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect governance policies and access decisions",
	}

	cmd.AddCommand(
		newPolicyListCommand(cfg),
		newPolicyCheckCommand(cfg),
		newPolicyValidateCommand(),
	)
	return cmd
}

func newPolicyListCommand(cfg *config.Config) *cobra.Command {
	var (
		all    bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				policies := a.Registry.List(!all)
				return output(cmd.OutOrStdout(), format, policies, func(w *tabwriter.Writer) {
					_, _ = fmt.Fprintln(w, "ID\tPATTERN\tCLASSIFICATION\tROTATION DAYS\tROLES\tACTIVE")
					for _, p := range policies {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
							p.ID, p.Pattern, p.RequiredClassification, p.RotationFrequencyDays,
							strings.Join(p.AllowedRoles, ","), yesNo(p.IsActive))
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include deactivated policies")
	addFormatFlag(cmd, &format, "table")
	return cmd
}

func newPolicyCheckCommand(cfg *config.Config) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "check NAME ROLE",
		Short: "Check whether a role may access a secret",
		Long: `Check whether ROLE may access NAME under the active policies.

A name matching no policy is allowed. Once any policy matches, the role must
appear in at least one matching policy's allowed roles.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res := a.Service.CheckAccess(args[0], args[1])
				if err := failed(res.Status); err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), format, res, func(w *tabwriter.Writer) {
					decision := "DENIED"
					if res.Allowed {
						decision = "ALLOWED"
					}
					matched := "none"
					if len(res.Policies) > 0 {
						matched = strings.Join(res.Policies, ", ")
					}
					_, _ = fmt.Fprintf(w, "%s\t%s may access %s\n", decision, res.Role, res.Name)
					_, _ = fmt.Fprintf(w, "Matching policies:\t%s\n", matched)
				})
			})
		},
	}

	addFormatFlag(cmd, &format, "table")
	return cmd
}

func newPolicyValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a policy file against the policy schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := governance.LoadPolicyFile(args[0])
			if err != nil {
				return err
			}
			registry := governance.NewRegistry(nil)
			if err := registry.RegisterAll(policies); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid policies\n", args[0], len(policies))
			return nil
		},
	}
}
