// Package model defines the domain types for the pnmx CLI.
//
// Fleet state is never stored locally. Service state on a host is inferred
// from the container runtime at query time, so these types are transient
// representations built from remote command output.
package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ServiceState is the lifecycle state of a service container on one host.
// Transitions:
//
//	absent → (boot) → running ⇄ stopped → (remove) → absent
type ServiceState string

const (
	// StateAbsent means no container for the service exists on the host.
	StateAbsent ServiceState = "absent"

	// StateStopped means the container exists but is not running.
	StateStopped ServiceState = "stopped"

	// StateRunning means the container process is up, healthy or not.
	StateRunning ServiceState = "running"
)

// String returns the string representation of ServiceState.
func (s ServiceState) String() string {
	return string(s)
}

// StateFromRuntime maps the scalar printed by the health-or-status inspect
// format to a ServiceState. Health values (healthy, unhealthy, starting)
// only exist for running containers.
func StateFromRuntime(status string) ServiceState {
	switch strings.TrimSpace(strings.ToLower(status)) {
	case "":
		return StateAbsent
	case "running", "restarting", "paused", "healthy", "unhealthy", "starting":
		return StateRunning
	default:
		// created, exited, dead, removing
		return StateStopped
	}
}

// serviceNameRegex follows the container runtime's own name rules.
var serviceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateServiceName checks that name can be used as a container name and
// as a label filter value.
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name must not be empty")
	}
	if !serviceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid service name %q: must start with an alphanumeric character and contain only alphanumerics, '_', '.' and '-'", name)
	}
	return nil
}

// HostOutput is the captured output of one command on one host.
type HostOutput struct {
	// Host is the address the command ran on.
	Host string `json:"host"`

	// Output is the trimmed standard output.
	Output string `json:"output"`

	// State is the inferred service state, when the command reports one.
	State ServiceState `json:"state,omitempty"`

	// Error is set when the capture failed on this host.
	Error string `json:"error,omitempty"`
}

// ExitCode defines the CLI exit codes. Scripts and CI systems use them to
// tell a lock conflict apart from a failed remote command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the deploy configuration could not be
	// loaded or failed validation.
	ExitConfigError ExitCode = 2

	// ExitConnectionFailed indicates an SSH connection to a host failed.
	ExitConnectionFailed ExitCode = 3

	// ExitRemoteCommandFailed indicates a remote command exited non-zero
	// where that was not tolerated.
	ExitRemoteCommandFailed ExitCode = 4

	// ExitLockHeld indicates the fleet mutation lock is held by someone else.
	ExitLockHeld ExitCode = 5

	// ExitHookFailed indicates a local pre/post hook failed.
	ExitHookFailed ExitCode = 6

	// ExitUserCancelled indicates the user cancelled an interactive prompt.
	ExitUserCancelled ExitCode = 7
)

// CLIError pairs an error with the exit code pnmx terminates with.
// Errors that are not CLIErrors are classified by cli.ExitCodeFor.
type CLIError struct {
	Code    ExitCode
	Message string
	Err     error // may be nil
}

func (e *CLIError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *CLIError) Unwrap() error { return e.Err }

// NewCLIError returns a CLIError without an underlying cause.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError returns a CLIError that wraps err.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
