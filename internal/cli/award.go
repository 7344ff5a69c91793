package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nexus-app/nexus/internal/daemon"
)

func init() {
	awardCmd.Flags().StringVar(&awardReason, "reason", "manual", "Ledger reason")
	awardCmd.Flags().StringVar(&awardKey, "key", "", "Idempotency key; repeating it is a no-op")
	rootCmd.AddCommand(awardCmd)
	rootCmd.AddCommand(checkCmd)
}

var (
	awardReason string
	awardKey    string
)

var awardCmd = &cobra.Command{
	Use:   "award USER AMOUNT",
	Short: "Award XP to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("amount %q is not a number", args[1])
		}
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			award, err := d.Service.AwardXP(ctx, args[0], amount, awardReason, awardKey)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if award.Replayed {
				fmt.Fprintln(out, mutedStyle.Render("already awarded under key "+awardKey+", nothing applied"))
				return nil
			}
			line := fmt.Sprintf("+%d XP to %s, now level %d", award.XPAwarded, args[0], award.NewLevel)
			if award.LeveledUp {
				line += " " + levelUpBadge
			}
			fmt.Fprintln(out, line)
			return nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check USER",
	Short: "Evaluate achievements for a user and award any newly earned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			res, err := d.Service.CheckAchievements(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.AwardedCount == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no new achievements"))
				return nil
			}
			fmt.Fprintf(out, "%s %d new\n", heading("Achievements"), res.AwardedCount)
			for _, code := range res.NewlyEarned {
				fmt.Fprintf(out, "  %s %s\n", goodStyle.Render("+"), code)
			}
			return nil
		})
	},
}
