package lock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidtreonou/panamax/internal/command"
	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/remote"
	"github.com/vidtreonou/panamax/internal/tags"
)

const (
	acquirePrefix = "mkdir -p .pnmx && mkdir .pnmx/lock-app && echo"
	releaseCmd    = "rm -r .pnmx/lock-app"
	statusCmd     = "stat .pnmx/lock-app > /dev/null && cat .pnmx/lock-app/details"
)

func testConfig() *config.Config {
	return &config.Config{
		Service:      "app",
		Servers:      []string{"1.1.1.1", "1.1.1.2"},
		RunDirectory: ".pnmx",
		Version:      "123",
	}
}

func testIdentity() tags.Identity {
	return tags.Identity{
		Now:       func() time.Time { return time.Date(2023, 5, 4, 10, 30, 0, 0, time.UTC) },
		Performer: "deployer",
	}
}

func newGuard(rec *remote.Recorder) *Guard {
	return NewGuard(testConfig(), rec, testIdentity(), nil)
}

func TestCommands(t *testing.T) {
	cfg := testConfig()

	assert.Equal(t,
		"mkdir -p .pnmx && mkdir .pnmx/lock-app && echo 'locked by me' > .pnmx/lock-app/details",
		AcquireCommand(cfg, "locked by me").String())
	assert.Equal(t, releaseCmd, ReleaseCommand(cfg).String())
	assert.Equal(t, statusCmd, StatusCommand(cfg).String())
}

func TestMutating_AcquiresAndReleasesOnPrimaryHost(t *testing.T) {
	rec := remote.NewRecorder()
	g := newGuard(rec)

	var inside []string
	err := g.Mutating(context.Background(), func(ctx context.Context) error {
		h, ok := HandleFrom(ctx)
		require.True(t, ok)
		assert.NotEmpty(t, h.ID)
		inside = rec.Commands()
		return nil
	})
	require.NoError(t, err)

	require.Len(t, inside, 1)
	assert.Contains(t, inside[0], acquirePrefix)
	assert.Contains(t, inside[0], DefaultMessage)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, releaseCmd, calls[1].Command)
	for _, c := range calls {
		assert.Equal(t, "1.1.1.1", c.Host)
	}
}

func TestMutating_ReleasesOnError(t *testing.T) {
	rec := remote.NewRecorder()
	g := newGuard(rec)
	boom := errors.New("boom")

	err := g.Mutating(context.Background(), func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, rec.Count(releaseCmd))
}

func TestMutating_ReleasesOnPanic(t *testing.T) {
	rec := remote.NewRecorder()
	g := newGuard(rec)

	assert.Panics(t, func() {
		_ = g.Mutating(context.Background(), func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, 1, rec.Count(releaseCmd))

	// The in-process guard is free again.
	assert.NoError(t, g.Mutating(context.Background(), func(context.Context) error { return nil }))
}

func TestMutating_ReleasesWhenContextCancelled(t *testing.T) {
	rec := remote.NewRecorder()
	g := newGuard(rec)
	ctx, cancel := context.WithCancel(context.Background())

	err := g.Mutating(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rec.Count(releaseCmd))
}

func TestMutating_ReentersWithHandle(t *testing.T) {
	rec := remote.NewRecorder()
	g := newGuard(rec)

	err := g.Mutating(context.Background(), func(ctx context.Context) error {
		return g.Mutating(ctx, func(ctx context.Context) error {
			return g.Mutating(ctx, func(context.Context) error { return nil })
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count("mkdir .pnmx/lock-app"))
	assert.Equal(t, 1, rec.Count(releaseCmd))
}

func TestMutating_HeldInProcess(t *testing.T) {
	rec := remote.NewRecorder()
	g := newGuard(rec)

	err := g.Mutating(context.Background(), func(context.Context) error {
		// A second actor without the handle.
		return g.Mutating(context.Background(), func(context.Context) error {
			t.Fatal("must not run")
			return nil
		})
	})

	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 1, rec.Count("mkdir .pnmx/lock-app"))
}

func TestMutating_HeldRemotely(t *testing.T) {
	rec := remote.NewRecorder()
	rec.Fail = remote.FailMatching("mkdir .pnmx/lock-app")
	rec.Output[statusCmd] = "[2023-05-01T00:00:00Z] [someone] Automatic deploy lock\n"
	g := newGuard(rec)

	called := false
	err := g.Mutating(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, ErrLocked)
	assert.False(t, called)
	assert.Contains(t, err.Error(), "[someone]")
	assert.Zero(t, rec.Count(releaseCmd), "a lock we do not hold is never released")
}

func TestMutating_AcquireFailsWithoutHolder(t *testing.T) {
	rec := remote.NewRecorder()
	// mkdir -p fails (permission denied) and no lock directory exists.
	rec.Fail = func(host string, cmd command.Command) error {
		rendered := cmd.String()
		if strings.Contains(rendered, "mkdir -p") || strings.HasPrefix(rendered, "stat ") {
			return &remote.CommandError{Host: host, Command: rendered, ExitStatus: 1, Stderr: "Permission denied"}
		}
		return nil
	}
	g := newGuard(rec)

	called := false
	err := g.Mutating(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	assert.NotErrorIs(t, err, ErrLocked)
	var cmdErr *remote.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "Permission denied", cmdErr.Stderr)
	assert.Contains(t, err.Error(), "acquire lock")
}

func TestMutating_ConnectionFailure(t *testing.T) {
	rec := remote.NewRecorder()
	rec.Fail = func(string, command.Command) error { return remote.ErrConnectionFailed }
	g := newGuard(rec)

	err := g.Mutating(context.Background(), func(context.Context) error { return nil })

	assert.ErrorIs(t, err, remote.ErrConnectionFailed)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestAcquireStatusRelease(t *testing.T) {
	rec := remote.NewRecorder()
	rec.Output[statusCmd] = "[x] Maintenance\n"
	g := newGuard(rec)
	ctx := context.Background()

	h, err := g.Acquire(ctx, "Maintenance")
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	id, ok := h.Tags.Get("lock_id")
	require.True(t, ok)
	assert.Equal(t, h.ID, id)
	assert.Zero(t, rec.Count(releaseCmd))

	details, held, err := g.Status(ctx)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "[x] Maintenance", details)

	require.NoError(t, g.Release(ctx))
	assert.Equal(t, 1, rec.Count(releaseCmd))
}

func TestRelease_NotLocked(t *testing.T) {
	rec := remote.NewRecorder()
	rec.Fail = remote.FailMatching("stat ")
	g := newGuard(rec)

	err := g.Release(context.Background())
	assert.ErrorIs(t, err, ErrNotLocked)
	assert.Zero(t, rec.Count(releaseCmd))
}
