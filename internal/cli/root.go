// Package cli implements the cobra-based CLI commands for pnmx.
//
// Each command group (traefik, prune, registry, lock) is defined in its own
// file within this package. This file defines the root command that serves
// as the parent for all subcommands and handles global flags, logging and
// the mapping from errors to exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/hook"
	"github.com/vidtreonou/panamax/internal/lock"
	"github.com/vidtreonou/panamax/internal/model"
	"github.com/vidtreonou/panamax/internal/remote"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose lowers the log level to debug, which also prints audit and
	// lock bookkeeping commands.
	verbose bool

	// configPath is the base deploy configuration file.
	configPath string

	// destination selects the deploy.<destination>.yml overlay.
	destination string

	// deployVersion overrides the version otherwise taken from git.
	deployVersion string

	// hostFilter restricts every command to a subset of the servers.
	hostFilter []string
)

// Build information, injected from the main package.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// logger is rebuilt in PersistentPreRun once --verbose is known.
var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// NewRootCommand creates and configures the root cobra command.
// The root command itself only provides help text and global flags.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pnmx",
		Short: "Deploy containerized services to a fleet of hosts",
		Long: `pnmx runs a service's containers and its Traefik edge router on a fleet
of hosts over SSH. State-changing commands take a fleet-wide lock on the
primary host so two operators cannot deploy at once.`,

		// We format errors ourselves (text or JSON based on --json flag).
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = newLogger(cmd.ErrOrStderr(), verbose)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVarP(&configPath, "config-file", "c", config.DefaultPath, "Path to the deploy configuration")
	flags.StringVarP(&destination, "destination", "d", "", "Destination overlay to load (e.g. staging)")
	flags.StringVar(&deployVersion, "version", "", "Version to deploy (defaults to the current git commit)")
	flags.StringSliceVar(&hostFilter, "hosts", nil, "Run only on these hosts (comma-separated)")

	rootCmd.AddCommand(NewTraefikCommand())
	rootCmd.AddCommand(NewPruneCommand())
	rootCmd.AddCommand(NewRegistryCommand())
	rootCmd.AddCommand(NewLockCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// Execute runs the root command and exits with the code matching the
// returned error.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(rootCmd.ErrOrStderr(), cliErr.Message, cliErr.Err)
		} else {
			printError(rootCmd.ErrOrStderr(), err.Error(), nil)
		}
		os.Exit(int(ExitCodeFor(err)))
	}
}

// ExitCodeFor maps an error to the process exit code.
func ExitCodeFor(err error) model.ExitCode {
	var cliErr *model.CLIError
	var cmdErr *remote.CommandError

	switch {
	case err == nil:
		return model.ExitSuccess
	case errors.As(err, &cliErr):
		return cliErr.Code
	case errors.Is(err, lock.ErrLocked):
		return model.ExitLockHeld
	case errors.Is(err, hook.ErrHookFailed):
		return model.ExitHookFailed
	case errors.Is(err, remote.ErrConnectionFailed):
		return model.ExitConnectionFailed
	case errors.As(err, &cmdErr):
		return model.ExitRemoteCommandFailed
	default:
		return model.ExitGeneralError
	}
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"message": message,
		}
		if underlying != nil {
			errObj["detail"] = underlying.Error()
		}
		data, _ := json.MarshalIndent(map[string]interface{}{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// VerboseLog logs a debug message, shown only with --verbose.
func VerboseLog(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}
