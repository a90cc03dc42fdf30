package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/systmms/secretgov/internal/app"
	"github.com/systmms/secretgov/internal/config"
	"github.com/systmms/secretgov/pkg/service"
)

// appFactory builds the App for a command. Tests replace it to inject a
// clock or storage.
var appFactory = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

// withApp loads the configuration, builds the App, runs fn and closes the
// App so pending metadata is flushed.
func withApp(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, a *app.App) error) error {
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := appFactory(ctx, cfg)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		cfg.Logger.Warn("Failed to persist metadata on exit: %v", err)
	}
	return runErr
}

// callerFlags are the audit identity flags shared by auditing commands.
type callerFlags struct {
	actor string
	ip    string
}

func (c *callerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.actor, "actor", defaultActor(), "Actor recorded in the audit log")
	cmd.Flags().StringVar(&c.ip, "ip", "127.0.0.1", "Source IP recorded in the audit log")
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// addFormatFlag registers --format with the given default.
func addFormatFlag(cmd *cobra.Command, format *string, def string) {
	cmd.Flags().StringVar(format, "format", def, "Output format: table, json, yaml")
}

// output writes v as json or yaml, or calls table for the table format.
func output(w io.Writer, format string, v interface{}, table func(tw *tabwriter.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(v)
	case "table", "":
		if table == nil {
			return output(w, "yaml", v, nil)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
	}
}

// failed converts a failed envelope into a command error.
func failed(s service.Status) error {
	if s.Success {
		return nil
	}
	if err := s.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s", s.Error)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
