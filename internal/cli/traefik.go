package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vidtreonou/panamax/internal/docker"
	"github.com/vidtreonou/panamax/internal/lifecycle"
	"github.com/vidtreonou/panamax/internal/model"
)

// NewTraefikCommand creates the "traefik" command group.
func NewTraefikCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traefik",
		Short: "Manage the Traefik edge router",
	}

	cmd.AddCommand(
		traefikAction("boot", "Boot Traefik on servers", "Booted traefik", (*lifecycle.Controller).Boot),
		traefikAction("reboot", "Reboot Traefik on servers (stop container, remove container, start new container)", "Rebooted traefik", (*lifecycle.Controller).Reboot),
		traefikAction("start", "Start existing Traefik container on servers", "Started traefik", (*lifecycle.Controller).Start),
		traefikAction("stop", "Stop existing Traefik container on servers", "Stopped traefik", (*lifecycle.Controller).Stop),
		traefikAction("restart", "Restart existing Traefik container on servers", "Restarted traefik", (*lifecycle.Controller).Restart),
		newTraefikDetailsCommand(),
		newTraefikLogsCommand(),
		newTraefikRemoveCommand(),
	)
	return cmd
}

// traefikAction builds a subcommand that runs one controller operation.
func traefikAction(use, short, done string, op func(*lifecycle.Controller, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCommander(cmd, func(c *Commander) error {
				if err := op(c.Traefik, cmd.Context()); err != nil {
					return err
				}
				return printDone(cmd.OutOrStdout(), done, c.Traefik.Service().Hosts())
			})
		},
	}
}

func newTraefikDetailsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "details",
		Short: "Show details about Traefik container from servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCommander(cmd, func(c *Commander) error {
				outputs, err := c.Traefik.Details(cmd.Context())
				if printErr := printByHost(cmd.OutOrStdout(), c.Traefik.Service().Title(), outputs); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

// logsFlags holds the flag values for `traefik logs`.
type logsFlags struct {
	since  string
	lines  int
	grep   string
	follow bool
}

func newTraefikLogsCommand() *cobra.Command {
	flags := &logsFlags{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show log lines from Traefik on servers",
		Long: `Show log lines from Traefik on every server.

Without --since, --grep or --lines, the last 100 lines are shown;
--lines 0 shows the whole log. With
--follow, the log of the primary server is streamed until interrupted.

Examples:
  pnmx traefik logs
  pnmx traefik logs --since 42m --grep 502
  pnmx traefik logs --follow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCommander(cmd, func(c *Commander) error {
				return runTraefikLogs(cmd, c, flags)
			})
		},
	}

	cmd.Flags().StringVarP(&flags.since, "since", "s", "", "Show logs since timestamp (e.g. 2013-01-02T13:23:37Z) or relative (e.g. 42m for 42 minutes)")
	cmd.Flags().IntVarP(&flags.lines, "lines", "n", 0, "Number of log lines to pull from each server")
	cmd.Flags().StringVarP(&flags.grep, "grep", "g", "", "Show lines with grep match only (use this to fetch specific requests by id)")
	cmd.Flags().BoolVarP(&flags.follow, "follow", "f", false, "Follow logs on primary server")
	cmd.MarkFlagsMutuallyExclusive("follow", "since")
	cmd.MarkFlagsMutuallyExclusive("follow", "lines")

	return cmd
}

func runTraefikLogs(cmd *cobra.Command, c *Commander, flags *logsFlags) error {
	if flags.follow {
		fmt.Fprintf(cmd.ErrOrStderr(), "Following logs on %s...\n", c.Config.PrimaryHost())
		return c.Traefik.FollowLogs(cmd.Context(), flags.grep, cmd.OutOrStdout())
	}

	outputs, err := c.Traefik.Logs(cmd.Context(), docker.LogOptions{
		Since: flags.since,
		Lines: flags.lines,
		Grep:  flags.grep,
		// An explicit --lines 0 lifts the default cap.
		AllLines: cmd.Flags().Changed("lines") && flags.lines <= 0,
	})
	if printErr := printByHost(cmd.OutOrStdout(), c.Traefik.Service().Title(), outputs); printErr != nil {
		return printErr
	}
	return err
}

func newTraefikRemoveCommand() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove Traefik container and image from servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
					"This will remove the Traefik container and image from all servers. Are you sure?")
				if err != nil {
					return err
				}
				if !ok {
					return model.NewCLIError(model.ExitUserCancelled, "aborted")
				}
			}
			return withCommander(cmd, func(c *Commander) error {
				if err := c.Traefik.Remove(cmd.Context()); err != nil {
					return err
				}
				return printDone(cmd.OutOrStdout(), "Removed traefik", c.Traefik.Service().Hosts())
			})
		},
	}

	cmd.Flags().BoolVarP(&confirmed, "confirmed", "y", false, "Proceed without confirmation")
	return cmd
}

// confirm asks question on w and reads a y/N answer from r.
func confirm(r io.Reader, w io.Writer, question string) (bool, error) {
	fmt.Fprintf(w, "%s [y/N] ", question)
	answer, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
