package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-app/nexus/internal/daemon"
	"github.com/nexus-app/nexus/internal/domain"
)

func init() {
	trackCmd.Flags().StringVar(&trackID, "id", "", "Entity id (default random)")
	rootCmd.AddCommand(trackCmd, grantCmd)
}

var trackID string

var trackCmd = &cobra.Command{
	Use:   "track USER KIND",
	Short: "Record a created habit, dream, decision or insight",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			res, err := d.Service.TrackEntity(ctx, domain.TrackedEntity{
				ID:     trackID,
				UserID: args[0],
				Kind:   domain.EntityKind(args[1]),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", goodStyle.Render("tracked"), args[1])
			for _, code := range res.NewlyEarned {
				fmt.Fprintf(out, "  %s %s\n", goldStyle.Render("unlocked"), code)
			}
			return nil
		})
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant USER CODE",
	Short: "Award an achievement by code regardless of its requirement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			ok, err := d.Service.GrantAchievement(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(args[0]+" already has "+args[1]))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s to %s\n", goldStyle.Render("granted"), args[1], args[0])
			return nil
		})
	},
}
