// Package cli implements the Nexus command-line interface using Cobra.
// Commands open the configured store directly; only serve starts the HTTP API.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Nexus: streaks, achievements and levels",
	Long: `Nexus is the gamification core for the journaling app.
It tracks daily streaks, awards achievements and levels users up with XP.

Configuration lives in $NEXUS_HOME/config.toml (default ~/.nexus).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
