package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCommand creates the "version" command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the pnmx version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if IsJSONOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": Version,
					"commit":  Commit,
					"date":    Date,
				})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pnmx %s (commit: %s, built: %s)\n", Version, Commit, Date)
			return err
		},
	}
}
