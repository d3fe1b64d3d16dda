// Package model defines the domain types and value objects for the
// pnmx CLI.
//
// This package contains pure data structures with no external dependencies:
// the per-host service state inferred from the container runtime, captured
// per-host output, and the exit codes (ExitCode) and error type (CLIError)
// used for OS process exit handling.
package model
