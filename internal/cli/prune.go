package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vidtreonou/panamax/internal/prune"
)

// pruneFlags holds the flag values shared by the prune subcommands.
type pruneFlags struct {
	keepLast int
	dryRun   bool
}

// NewPruneCommand creates the "prune" command group.
func NewPruneCommand() *cobra.Command {
	flags := &pruneFlags{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old application images and containers",
		Long: `Prune old application images and containers on every server.

With --dry-run, the listings are fetched and the removals that would happen
are printed. Nothing is removed and the deploy lock is not taken.`,
	}
	cmd.PersistentFlags().IntVar(&flags.keepLast, "keep-last", prune.DefaultKeepLast, "Number of stopped containers to keep")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "Show what would be removed without removing it")

	cmd.AddCommand(
		pruneAction("all", "Prune unused images and stopped containers", "Pruned images and containers", flags, true, true),
		pruneAction("images", "Prune dangling images and tagged images no container uses", "Pruned images", flags, false, true),
		pruneAction("containers", "Prune stopped containers, keeping the newest", "Pruned containers", flags, true, false),
	)
	return cmd
}

// pruneAction builds a prune subcommand covering containers, images or
// both.
func pruneAction(use, short, done string, flags *pruneFlags, containers, images bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCommander(cmd, func(c *Commander) error {
				if flags.dryRun {
					plans, err := c.Traefik.PlanPrune(cmd.Context(), flags.keepLast, containers, images)
					if printErr := printPlans(cmd.OutOrStdout(), plans); printErr != nil {
						return printErr
					}
					return err
				}

				var err error
				switch {
				case containers && images:
					err = c.Traefik.PruneAll(cmd.Context(), flags.keepLast)
				case containers:
					err = c.Traefik.PruneContainers(cmd.Context(), flags.keepLast)
				default:
					err = c.Traefik.PruneImages(cmd.Context())
				}
				if err != nil {
					return err
				}
				return printDone(cmd.OutOrStdout(), done, c.Config.Hosts())
			})
		},
	}
}

// printPlans writes what each host would prune.
func printPlans(w io.Writer, plans []prune.Plan) error {
	if IsJSONOutput() {
		return printJSON(w, plans)
	}

	for _, p := range plans {
		fmt.Fprintf(w, "Prune Host: %s\n", p.Host)
		switch {
		case p.Error != "":
			fmt.Fprintf(w, "Error: %s\n", p.Error)
		case len(p.Containers) == 0 && len(p.Images) == 0:
			fmt.Fprintln(w, "Nothing to remove")
		default:
			for _, id := range p.Containers {
				fmt.Fprintf(w, "Would remove container %s\n", id)
			}
			for _, ref := range p.Images {
				fmt.Fprintf(w, "Would remove image %s\n", ref)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}
