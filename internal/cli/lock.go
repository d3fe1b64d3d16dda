package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vidtreonou/panamax/internal/lock"
	"github.com/vidtreonou/panamax/internal/model"
)

// NewLockCommand creates the "lock" command group.
func NewLockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Manage the deploy lock",
		Long: `Manage the deploy lock held on the primary server.

State-changing commands take the lock for their duration. Acquire it by
hand to block deploys during maintenance, and release it afterwards.`,
	}

	cmd.AddCommand(newLockStatusCommand(), newLockAcquireCommand(), newLockReleaseCommand())
	return cmd
}

func newLockStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the lock status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCommander(cmd, func(c *Commander) error {
				details, held, err := c.Guard.Status(cmd.Context())
				if err != nil {
					return err
				}

				if IsJSONOutput() {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{
						"host":    c.Config.PrimaryHost(),
						"locked":  held,
						"details": details,
					})
				}

				status := "unlocked"
				if held {
					status = "locked"
				}
				printTable(cmd.OutOrStdout(),
					[]string{"Host", "Status", "Details"},
					[][]string{{c.Config.PrimaryHost(), status, details}})
				return nil
			})
		},
	}
}

func newLockAcquireCommand() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Acquire the deploy lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCommander(cmd, func(c *Commander) error {
				h, err := c.Guard.Acquire(cmd.Context(), message)
				if err != nil {
					return err
				}
				VerboseLog("Acquired lock %s", h.ID)
				if IsJSONOutput() {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{
						"action":  "acquired",
						"id":      h.ID,
						"message": message,
					})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Acquired the deploy lock: %s\n", message)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Reason for holding the lock")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newLockReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Release the deploy lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCommander(cmd, func(c *Commander) error {
				err := c.Guard.Release(cmd.Context())
				if errors.Is(err, lock.ErrNotLocked) {
					return model.WrapCLIError(model.ExitGeneralError, "there is no deploy lock to release", err)
				}
				if err != nil {
					return err
				}
				return printDone(cmd.OutOrStdout(), "Released the deploy lock", []string{c.Config.PrimaryHost()})
			})
		},
	}
}
