package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexus-app/nexus/internal/daemon"
	"github.com/nexus-app/nexus/internal/domain"
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print raw JSON")
	rootCmd.AddCommand(statusCmd)
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status USER",
	Short: "Show a user's level, streaks and achievements",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			return runStatus(ctx, cmd, d, args[0])
		})
	},
}

func runStatus(ctx context.Context, cmd *cobra.Command, d *daemon.Daemon, userID string) error {
	st, err := d.Service.Status(ctx, userID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if statusJSON {
		return printJSON(out, st)
	}

	lvl := st.Level
	summary := fmt.Sprintf("%s\n%s\n%s %s %.0f%%\n%s",
		heading(userID),
		labelValue("Level", fmt.Sprintf("%d (%s)", lvl.Level, lvl.Title)),
		labelValue("XP", fmt.Sprintf("%d/%d", lvl.CurrentXP, lvl.XPToNextLevel)),
		xpBar(st.ProgressPct), st.ProgressPct,
		labelValue("Total XP", lvl.TotalXP),
	)
	fmt.Fprintln(out, panelStyle.Render(summary))

	if len(st.Streaks) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, heading("Streaks"))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tTARGET\tCURRENT\tLONGEST\tLAST\tSTATE")
		for _, s := range st.Streaks {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				s.Type, orDash(s.TargetID), s.CurrentStreak, s.LongestStreak,
				orDash(domain.FormatDay(s.LastActivityDate)), activeText(s.IsActive))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s %d/%d earned\n", heading("Achievements"), st.Earned, st.Total)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, p := range st.Achievements {
		mark := mutedStyle.Render(fmt.Sprintf("%3.0f%%", p.Progress*100))
		if p.Earned {
			mark = goodStyle.Render("done")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, p.Definition.Name, rarityText(p.Definition.Rarity), mutedStyle.Render(p.Definition.Description))
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
