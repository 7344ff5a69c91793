package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-app/nexus/internal/daemon"
)

func init() {
	recomputeCmd.Flags().BoolVar(&recomputeAll, "all", false, "Recompute every user")
	streaksCmd.AddCommand(recomputeCmd, sweepCmd)
	rootCmd.AddCommand(streaksCmd)

	fixCmd.AddCommand(fixLevelsCmd)
	rootCmd.AddCommand(fixCmd)
}

var recomputeAll bool

var streaksCmd = &cobra.Command{
	Use:   "streaks",
	Short: "Streak maintenance",
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute [USER]",
	Short: "Rebuild streaks from the activity log and re-check achievements",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if recomputeAll == (len(args) == 1) {
			return errors.New("pass a USER or --all, not both")
		}
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			out := cmd.OutOrStdout()
			if recomputeAll {
				n, err := d.Service.RecomputeAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %d user(s)\n", goodStyle.Render("recomputed"), n)
				return nil
			}
			if err := d.Service.RecomputeUser(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", goodStyle.Render("recomputed"), args[0])
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark streaks inactive for users who missed a day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			broken, err := d.Service.SweepInactive(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d streak(s) broken\n", warnStyle.Render("swept"), broken)
			return err
		})
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Repair derived state",
}

var fixLevelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Recompute level, currentXP and title from each user's totalXP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			n, err := d.Service.RebuildLevels(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("all levels consistent"))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d level record(s)\n", goodStyle.Render("repaired"), n)
			return nil
		})
	},
}
