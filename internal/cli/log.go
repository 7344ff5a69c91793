package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-app/nexus/internal/daemon"
	"github.com/nexus-app/nexus/internal/domain"
)

func init() {
	logCmd.Flags().StringVar(&logTarget, "target", "", "Habit or entity id the activity belongs to")
	logCmd.Flags().StringVar(&logStatus, "status", string(domain.StatusCompleted), "completed, skipped or partial")
	logCmd.Flags().StringVar(&logAt, "at", "", "When it happened (RFC 3339 or YYYY-MM-DD); default now")
	rootCmd.AddCommand(logCmd)
}

var (
	logTarget string
	logStatus string
	logAt     string
)

var logCmd = &cobra.Command{
	Use:   "log USER KIND",
	Short: "Record an activity and run streaks, achievements and XP",
	Long: `Record an activity event for a user. KIND is one of
habit_completion, mood_entry, journal_entry, dream_entry, decision, insight.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseWhen(logAt)
		if err != nil {
			return err
		}
		ev := domain.ActivityEvent{
			UserID:     args[0],
			Kind:       domain.ActivityKind(args[1]),
			Status:     domain.ActivityStatus(logStatus),
			TargetID:   logTarget,
			OccurredAt: at,
		}
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			res, err := d.Service.RecordActivity(ctx, ev)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s %s\n", goodStyle.Render("logged"), res.Event.Kind, mutedStyle.Render(res.Event.ID))
			for _, s := range res.Streaks {
				fmt.Fprintf(out, "  %s %s: %d day(s)\n", keyStyle.Render("streak"), s.Type, s.CurrentStreak)
			}
			for _, code := range res.Achievements.NewlyEarned {
				fmt.Fprintf(out, "  %s %s\n", goldStyle.Render("unlocked"), code)
			}
			return nil
		})
	},
}

// parseWhen accepts RFC 3339 or a bare date; empty means now.
func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := domain.ParseDay(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
