package cli

import (
	"github.com/spf13/cobra"
)

// NewRegistryCommand creates the "registry" command group.
func NewRegistryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Log servers in and out of the image registry",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "login",
			Short: "Log in to the registry on every server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCommander(cmd, func(c *Commander) error {
					if err := c.Traefik.RegistryLogin(cmd.Context()); err != nil {
						return err
					}
					return printDone(cmd.OutOrStdout(), "Logged in to registry", c.Config.Hosts())
				})
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Log out of the registry on every server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCommander(cmd, func(c *Commander) error {
					if err := c.Traefik.RegistryLogout(cmd.Context()); err != nil {
						return err
					}
					return printDone(cmd.OutOrStdout(), "Logged out of registry", c.Config.Hosts())
				})
			},
		},
	)
	return cmd
}
