// Package hook runs local executables around lifecycle operations.
//
// A hook named "pre-traefik-reboot" is the file of that name inside the
// configured hooks directory. Missing hooks are skipped. A hook runs with
// the operator's environment plus the operation's tags as PNMX_* variables.
package hook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/vidtreonou/panamax/internal/tags"
)

// ErrHookFailed is returned when a hook exits non-zero.
var ErrHookFailed = errors.New("hook failed")

// HookError reports which hook failed.
type HookError struct {
	Name string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrHookFailed, e.Name, e.Err)
}

func (e *HookError) Unwrap() []error { return []error{ErrHookFailed, e.Err} }

// Runner finds and runs hooks in a directory.
type Runner struct {
	dir    string
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// NewRunner returns a Runner for hooks in dir. Hook output is copied to
// stdout and stderr.
func NewRunner(dir string, stdout, stderr io.Writer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{dir: dir, stdout: stdout, stderr: stderr, logger: logger}
}

// Path returns where the hook name is looked up.
func (r *Runner) Path(name string) string {
	return filepath.Join(r.dir, name)
}

// Exists reports whether the hook is present and executable.
func (r *Runner) Exists(name string) bool {
	info, err := os.Stat(r.Path(name))
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// Run executes the hook name if it exists. A non-zero exit returns a
// *HookError.
func (r *Runner) Run(ctx context.Context, name string, set tags.Set) error {
	if !r.Exists(name) {
		r.logger.Debug("hook not found, skipping", "hook", name, "path", r.Path(name))
		return nil
	}

	r.logger.Info("running hook", "hook", name)

	cmd := exec.CommandContext(ctx, r.Path(name))
	cmd.Env = append(os.Environ(), set.Environ()...)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Run(); err != nil {
		return &HookError{Name: name, Err: err}
	}
	return nil
}
