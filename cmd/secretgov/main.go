package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/secretgov/cmd/secretgov/commands"
	"github.com/systmms/secretgov/internal/config"
	dserrors "github.com/systmms/secretgov/internal/errors"
	"github.com/systmms/secretgov/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
		logFormat  string
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "secretgov",
		Short: "Secrets governance - track, rotate and audit secrets by hash",
		Long: `secretgov tracks sensitive credentials without persisting their values,
enforces pattern-based governance policies, detects stale secrets and keeps an
append-only audit trail of every operation.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch logFormat {
			case "json":
				cfg.Logger = logging.NewJSON(debug)
			case "console", "":
				cfg.Logger = logging.New(debug, noColor)
			default:
				return fmt.Errorf("unknown log format %q (use console or json)", logFormat)
			}
			cfg.Path = configFile
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console, json")

	rootCmd.AddCommand(
		commands.NewSetCommand(cfg),
		commands.NewGetCommand(cfg),
		commands.NewMetadataCommand(cfg),
		commands.NewRotateCommand(cfg),
		commands.NewDeleteCommand(cfg),
		commands.NewListCommand(cfg),
		commands.NewExportCommand(cfg),
		commands.NewHistoryCommand(cfg),
		commands.NewLogsCommand(cfg),
		commands.NewStaleCommand(cfg),
		commands.NewRotationCommand(cfg),
		commands.NewGovernanceCommand(cfg),
		commands.NewPolicyCommand(cfg),
		commands.NewHealthCommand(cfg),
		commands.NewDaemonCommand(cfg),
	)

	defer func() {
		if cfg.Logger != nil {
			_ = cfg.Logger.Sync()
		}
	}()
	return rootCmd.Execute()
}
