package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/nexus-app/nexus/internal/daemon"
)

// openDaemon loads the config and opens the store for a one-shot command.
// Logs below warn are dropped unless --verbose is set, and background jobs
// are never started.
func openDaemon(ctx context.Context) (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Logging.Format = "console"
	cfg.Logging.Level = "warn"
	if verbose {
		cfg.Logging.Level = "debug"
	}
	log, err := daemon.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return daemon.NewWithConfig(ctx, cfg, log)
}

// withDaemon opens the daemon, runs fn and closes it.
func withDaemon(cmd *cobra.Command, fn func(ctx context.Context, d *daemon.Daemon) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, d)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
