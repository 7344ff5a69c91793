package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexus-app/nexus/internal/daemon"
	"github.com/nexus-app/nexus/internal/infra/catalog"
)

func init() {
	catalogListCmd.Flags().BoolVar(&catalogSecrets, "secrets", false, "Include secret achievements")
	catalogCmd.AddCommand(catalogListCmd, catalogValidateCmd)
	rootCmd.AddCommand(catalogCmd)
}

var catalogSecrets bool

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the achievement catalog",
}

var catalogListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List achievement definitions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			defs, err := d.Service.Definitions(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tXP\tRARITY\tREQUIREMENT")
			for _, def := range defs {
				if def.IsSecret && !catalogSecrets {
					continue
				}
				req := string(def.Requirement.Kind)
				switch {
				case def.Requirement.Metric != "":
					req += " " + string(def.Requirement.Metric)
				case def.Requirement.StreakType != "":
					req += " " + string(def.Requirement.StreakType)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", def.Code, def.Name, def.XPReward, rarityText(def.Rarity), req)
			}
			return w.Flush()
		})
	},
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a catalog file without loading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := catalog.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d achievement(s)\n", goodStyle.Render("ok"), len(defs))
		return nil
	},
}
