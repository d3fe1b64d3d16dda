// Package lock implements the fleet-wide mutation guard.
//
// The guard has two layers. In-process, a mutex keeps two operations of the
// same invocation from mutating at once. Across operators, a lock directory
// on the primary host is created with mkdir, which fails if it already
// exists. Every state-changing operation runs inside Guard.Mutating;
// composite operations re-enter through the handle carried in their
// context instead of acquiring a second time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vidtreonou/panamax/internal/command"
	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/remote"
	"github.com/vidtreonou/panamax/internal/tags"
)

// DefaultMessage is recorded when an operation takes the lock implicitly.
const DefaultMessage = "Automatic deploy lock"

// ErrLocked is returned when the lock is held by someone else.
var ErrLocked = errors.New("deploy lock is held")

// ErrNotLocked is returned by Release when there is no lock to release.
var ErrNotLocked = errors.New("deploy lock is not held")

// LockError reports a held lock and, when known, who holds it.
type LockError struct {
	// Holder is the details line written by the holder, or a description
	// of the in-process holder.
	Holder string
}

func (e *LockError) Error() string {
	if e.Holder == "" {
		return ErrLocked.Error()
	}
	return fmt.Sprintf("%s: %s", ErrLocked, e.Holder)
}

func (e *LockError) Unwrap() error { return ErrLocked }

// Handle is an acquired lock.
type Handle struct {
	ID   string
	Tags tags.Set

	guard *Guard
}

type handleKey struct{}

// HandleFrom returns the handle held by the operation running in ctx.
func HandleFrom(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(handleKey{}).(*Handle)
	return h, ok
}

func withHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// Guard serializes state-changing operations.
type Guard struct {
	cfg      *config.Config
	exec     remote.Executor
	identity tags.Identity
	logger   *slog.Logger

	mu sync.Mutex
}

// NewGuard returns a Guard that keeps its remote lock on cfg's primary host.
func NewGuard(cfg *config.Config, exec remote.Executor, identity tags.Identity, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Guard{cfg: cfg, exec: exec, identity: identity, logger: logger}
}

// Mutating runs fn while holding the lock. If ctx already carries a handle
// from this guard, fn runs under it without acquiring again. Otherwise the
// lock is acquired before fn runs and released when fn returns, whatever
// the outcome. A held lock fails with *LockError before fn runs.
func (g *Guard) Mutating(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if h, ok := HandleFrom(ctx); ok && h.guard == g {
		return fn(ctx)
	}

	if !g.mu.TryLock() {
		return &LockError{Holder: "another operation in this process"}
	}
	defer g.mu.Unlock()

	h, err := g.acquire(ctx, DefaultMessage)
	if err != nil {
		return err
	}
	defer func() {
		// Release even when ctx was cancelled.
		if relErr := g.release(context.WithoutCancel(ctx)); relErr != nil {
			err = errors.Join(err, fmt.Errorf("release lock: %w", relErr))
		}
	}()

	return fn(withHandle(ctx, h))
}

// Acquire takes the remote lock with message and leaves it held. Used by
// `pnmx lock acquire` to block deploys across invocations.
func (g *Guard) Acquire(ctx context.Context, message string) (*Handle, error) {
	if !g.mu.TryLock() {
		return nil, &LockError{Holder: "another operation in this process"}
	}
	defer g.mu.Unlock()
	return g.acquire(ctx, message)
}

// Release removes the remote lock. It returns ErrNotLocked when no lock
// directory exists.
func (g *Guard) Release(ctx context.Context) error {
	_, held, err := g.Status(ctx)
	if err != nil {
		return err
	}
	if !held {
		return ErrNotLocked
	}
	return g.release(ctx)
}

// Status returns the holder's details line and whether the lock is held.
func (g *Guard) Status(ctx context.Context) (string, bool, error) {
	out, err := g.exec.Capture(ctx, g.cfg.PrimaryHost(), StatusCommand(g.cfg), remote.Debug())
	if err != nil {
		var cmdErr *remote.CommandError
		if errors.As(err, &cmdErr) {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(out), true, nil
}

func (g *Guard) acquire(ctx context.Context, message string) (*Handle, error) {
	h := &Handle{ID: uuid.NewString(), guard: g}
	h.Tags = tags.FromConfig(g.cfg, g.identity, tags.F("lock_id", h.ID))

	details := h.Tags.String() + " " + message
	err := g.exec.Execute(ctx, g.cfg.PrimaryHost(), AcquireCommand(g.cfg, details), remote.Debug())
	if err != nil {
		var cmdErr *remote.CommandError
		if !errors.As(err, &cmdErr) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		holder, held, statusErr := g.Status(ctx)
		if statusErr != nil {
			return nil, &LockError{}
		}
		if !held {
			// mkdir failed for another reason, such as permissions.
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		return nil, &LockError{Holder: holder}
	}

	g.logger.Debug("acquired deploy lock", "id", h.ID, "host", g.cfg.PrimaryHost())
	return h, nil
}

func (g *Guard) release(ctx context.Context) error {
	err := g.exec.Execute(ctx, g.cfg.PrimaryHost(), ReleaseCommand(g.cfg), remote.Debug())
	if err == nil {
		g.logger.Debug("released deploy lock", "host", g.cfg.PrimaryHost())
	}
	return err
}

// AcquireCommand creates the lock directory and writes details into it.
// The second mkdir fails if the lock is already held.
func AcquireCommand(cfg *config.Config, details string) command.Command {
	dir := cfg.LockDirectory()
	return command.And(
		command.New("mkdir", "-p", cfg.RunDirectory),
		command.New("mkdir", dir),
		command.Write(command.New("echo", details), command.New(dir+"/details")),
	)
}

// ReleaseCommand removes the lock directory.
func ReleaseCommand(cfg *config.Config) command.Command {
	return command.New("rm", "-r", cfg.LockDirectory())
}

// StatusCommand prints the lock details, failing when no lock is held.
func StatusCommand(cfg *config.Config) command.Command {
	dir := cfg.LockDirectory()
	return command.And(
		command.Write(command.New("stat", dir), command.New("/dev/null")),
		command.New("cat", dir+"/details"),
	)
}
