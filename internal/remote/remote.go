// Package remote executes built commands on hosts.
//
// The Executor interface is the only way the rest of the module reaches a
// host. Commands arrive as command.Command values and are rendered exactly
// once, at dispatch. The SSH implementation keeps one connection per host
// for the lifetime of an invocation; OnHosts fans a function out over a host
// set with a concurrency limit and per-host isolation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/vidtreonou/panamax/internal/command"
)

// ErrConnectionFailed is returned when a host cannot be reached or
// authentication fails.
var ErrConnectionFailed = errors.New("ssh connection failed")

// ExitPolicy decides what a non-zero remote exit status means.
type ExitPolicy int

const (
	// RaiseOnNonZero returns a *CommandError for a non-zero exit.
	RaiseOnNonZero ExitPolicy = iota

	// TolerateNonZero ignores a non-zero exit. Used for commands whose
	// desired end state may already hold, such as stopping a stopped
	// container.
	TolerateNonZero
)

// String returns the policy name for log output.
func (p ExitPolicy) String() string {
	if p == TolerateNonZero {
		return "tolerate"
	}
	return "raise"
}

// ExecOptions controls a single command execution.
type ExecOptions struct {
	ExitPolicy ExitPolicy

	// Verbosity is the log level the command line is logged at.
	// The zero value logs at info.
	Verbosity slog.Level
}

// Tolerant returns options that ignore a non-zero exit.
func Tolerant() ExecOptions {
	return ExecOptions{ExitPolicy: TolerateNonZero}
}

// Debug returns options that log the command at debug level.
func Debug() ExecOptions {
	return ExecOptions{Verbosity: slog.LevelDebug}
}

// Executor runs commands on hosts.
type Executor interface {
	// Execute runs cmd on host, discarding its output.
	Execute(ctx context.Context, host string, cmd command.Command, opts ExecOptions) error

	// Capture runs cmd on host and returns its standard output.
	Capture(ctx context.Context, host string, cmd command.Command, opts ExecOptions) (string, error)

	// Stream runs cmd on host, copying standard output and standard error
	// to w until the command exits or ctx is cancelled.
	Stream(ctx context.Context, host string, cmd command.Command, w io.Writer) error

	// Close releases every connection.
	Close() error
}

// CommandError reports a command that exited with a non-zero status.
type CommandError struct {
	Host       string
	Command    string // redacted
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: `%s` exited with status %d", e.Host, e.Command, e.ExitStatus)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// applyPolicy drops a *CommandError when opts tolerate non-zero exits.
// Connection errors are never tolerated.
func applyPolicy(err error, opts ExecOptions) error {
	if err == nil || opts.ExitPolicy != TolerateNonZero {
		return err
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return nil
	}
	return err
}

// OnHosts calls fn once per host, at most limit at a time. A failure on one
// host does not cancel the others; every host error is returned joined.
// A limit below one means no limit.
func OnHosts(ctx context.Context, hosts []string, limit int, fn func(ctx context.Context, host string) error) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	errs := make([]error, len(hosts))
	for i, host := range hosts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, host)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
