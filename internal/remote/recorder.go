package remote

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/vidtreonou/panamax/internal/command"
)

// Call is one command dispatched through a Recorder.
type Call struct {
	Host    string
	Command string
	Policy  ExitPolicy
	Stream  bool
}

// Recorder is an Executor that runs nothing. It records every dispatched
// command and answers from canned output, for tests and dry runs.
type Recorder struct {
	// Output maps a rendered command to the output Capture and Stream
	// return for it.
	Output map[string]string

	// Fail, when set, is consulted before a command is recorded as run.
	// A returned *CommandError is subject to the call's ExitPolicy.
	Fail func(host string, cmd command.Command) error

	mu    sync.Mutex
	calls []Call
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{Output: make(map[string]string)}
}

// Execute implements Executor.
func (r *Recorder) Execute(ctx context.Context, host string, cmd command.Command, opts ExecOptions) error {
	_, err := r.dispatch(ctx, host, cmd, opts, false)
	return err
}

// Capture implements Executor.
func (r *Recorder) Capture(ctx context.Context, host string, cmd command.Command, opts ExecOptions) (string, error) {
	return r.dispatch(ctx, host, cmd, opts, false)
}

// Stream implements Executor.
func (r *Recorder) Stream(ctx context.Context, host string, cmd command.Command, w io.Writer) error {
	out, err := r.dispatch(ctx, host, cmd, ExecOptions{}, true)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// Close implements Executor.
func (r *Recorder) Close() error { return nil }

func (r *Recorder) dispatch(ctx context.Context, host string, cmd command.Command, opts ExecOptions, stream bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rendered := command.Render(cmd)

	r.mu.Lock()
	r.calls = append(r.calls, Call{Host: host, Command: rendered, Policy: opts.ExitPolicy, Stream: stream})
	out := r.Output[rendered]
	r.mu.Unlock()

	if r.Fail != nil {
		if err := r.Fail(host, cmd); err != nil {
			return out, applyPolicy(err, opts)
		}
	}
	return out, nil
}

// Calls returns the recorded calls in dispatch order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Commands returns the rendered commands in dispatch order.
func (r *Recorder) Commands() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Command
	}
	return out
}

// CommandsOn returns the rendered commands dispatched to host.
func (r *Recorder) CommandsOn(host string) []string {
	var out []string
	for _, c := range r.Calls() {
		if c.Host == host {
			out = append(out, c.Command)
		}
	}
	return out
}

// Count returns how many recorded commands contain substr.
func (r *Recorder) Count(substr string) int {
	n := 0
	for _, c := range r.Calls() {
		if strings.Contains(c.Command, substr) {
			n++
		}
	}
	return n
}

// FailMatching returns a Fail function that fails every command containing
// substr with exit status 1.
func FailMatching(substr string) func(host string, cmd command.Command) error {
	return func(host string, cmd command.Command) error {
		if strings.Contains(command.Render(cmd), substr) {
			return &CommandError{Host: host, Command: cmd.Redacted(), ExitStatus: 1}
		}
		return nil
	}
}
