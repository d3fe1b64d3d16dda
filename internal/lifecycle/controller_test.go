package lifecycle

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidtreonou/panamax/internal/audit"
	"github.com/vidtreonou/panamax/internal/command"
	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/docker"
	"github.com/vidtreonou/panamax/internal/hook"
	"github.com/vidtreonou/panamax/internal/lock"
	"github.com/vidtreonou/panamax/internal/model"
	"github.com/vidtreonou/panamax/internal/prune"
	"github.com/vidtreonou/panamax/internal/registry"
	"github.com/vidtreonou/panamax/internal/remote"
	"github.com/vidtreonou/panamax/internal/tags"
	"github.com/vidtreonou/panamax/internal/traefik"
)

const (
	lockAcquire = "mkdir .pnmx/lock-app"
	lockRelease = "rm -r .pnmx/lock-app"
	lockStatus  = "stat .pnmx/lock-app"
)

type harness struct {
	cfg   *config.Config
	rec   *remote.Recorder
	guard *lock.Guard
	ctrl  *Controller
	hooks string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{
		Service:      "app",
		Image:        "dhh/app",
		Servers:      []string{"1.1.1.1", "1.1.1.2"},
		RunDirectory: ".pnmx",
		Version:      "123",
		Registry: config.RegistryConfig{
			Server:   "hub.docker.com",
			Username: config.LiteralSecret("dhh"),
			Password: config.LiteralSecret("secret"),
		},
		Traefik: config.TraefikConfig{Image: "traefik:v2.10", HostPort: 80},
		SSH:     config.SSHConfig{MaxConcurrent: 1},
	}
	id := tags.Identity{
		Now:       func() time.Time { return time.Date(2023, 5, 4, 10, 30, 0, 0, time.UTC) },
		Performer: "deployer",
	}

	rec := remote.NewRecorder()
	hooksDir := t.TempDir()
	guard := lock.NewGuard(cfg, rec, id, nil)

	ctrl := New(cfg, traefik.New(cfg), Deps{
		Executor: rec,
		Guard:    guard,
		Auditor:  audit.New(cfg, id),
		Registry: registry.New(cfg.Registry),
		Prune:    prune.New(cfg),
		Hooks:    hook.NewRunner(hooksDir, nil, nil, nil),
	})

	return &harness{cfg: cfg, rec: rec, guard: guard, ctrl: ctrl, hooks: hooksDir}
}

// dockerCommands drops lock and audit bookkeeping from the recorded calls.
func (h *harness) dockerCommands(host string) []string {
	var out []string
	for _, c := range h.rec.CommandsOn(host) {
		if strings.HasPrefix(c, "docker ") {
			out = append(out, c)
		}
	}
	return out
}

func TestBoot(t *testing.T) {
	h := newHarness(t)
	h.rec.Fail = remote.FailMatching("docker run")

	require.NoError(t, h.ctrl.Boot(context.Background()), "run tolerates a non-zero exit")

	for _, host := range h.cfg.Servers {
		cmds := h.dockerCommands(host)
		require.Len(t, cmds, 2)
		assert.Equal(t, "docker login hub.docker.com -u dhh -p secret", cmds[0])
		assert.True(t, strings.HasPrefix(cmds[1], "docker run --name traefik"))
	}
	assert.Equal(t, 1, h.rec.Count(lockAcquire))
	assert.Equal(t, 1, h.rec.Count(lockRelease))
}

func TestBoot_LoginFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.rec.Fail = remote.FailMatching("docker login")

	err := h.ctrl.Boot(context.Background())

	require.Error(t, err)
	assert.Zero(t, h.rec.Count("docker run"))
	assert.Equal(t, 1, h.rec.Count(lockRelease))
}

func TestStartStop_AuditThenTolerantCommand(t *testing.T) {
	h := newHarness(t)
	h.rec.Fail = remote.FailMatching("docker container st")
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Stop(ctx))

	cmds := h.rec.CommandsOn("1.1.1.1")
	// acquire, audit, start, release, acquire, audit, stop, release
	require.Len(t, cmds, 8)
	assert.Contains(t, cmds[1], "Started traefik")
	assert.Equal(t, "docker container start traefik", cmds[2])
	assert.Contains(t, cmds[5], "Stopped traefik")
	assert.Equal(t, "docker container stop traefik", cmds[6])

	for _, call := range h.rec.Calls() {
		if strings.HasPrefix(call.Command, "docker container") {
			assert.Equal(t, remote.TolerateNonZero, call.Policy)
		}
	}
}

func TestRestart(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.Restart(context.Background()))

	assert.Equal(t, []string{
		"docker container stop traefik",
		"docker container start traefik",
	}, h.dockerCommands("1.1.1.1"))
	assert.Equal(t, 1, h.rec.Count(lockAcquire))
}

func TestReboot_AcquiresLockOnce(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.Reboot(context.Background()))

	assert.Equal(t, 1, h.rec.Count(lockAcquire))
	assert.Equal(t, 1, h.rec.Count(lockRelease))

	cmds := h.dockerCommands("1.1.1.2")
	require.Len(t, cmds, 4)
	assert.Equal(t, "docker container stop traefik", cmds[0])
	assert.Contains(t, cmds[1], "docker container prune --force")
	assert.Contains(t, cmds[2], "docker login")
	assert.Contains(t, cmds[3], "docker run")
}

func TestReboot_RemovalFailureStopsComposite(t *testing.T) {
	h := newHarness(t)
	h.rec.Fail = remote.FailMatching("docker container prune")

	err := h.ctrl.Reboot(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "remove container")
	var cmdErr *remote.CommandError
	assert.ErrorAs(t, err, &cmdErr)
	assert.Zero(t, h.rec.Count("docker run"), "boot must not run after a failed removal")
	assert.Zero(t, h.rec.Count("docker login"))
	assert.Equal(t, 1, h.rec.Count(lockRelease))
}

func TestReboot_Hooks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hooks are shell scripts")
	}
	h := newHarness(t)
	marker := filepath.Join(t.TempDir(), "ran")
	script := "#!/bin/sh\necho \"$PNMX_SERVICE_VERSION\" >> " + marker + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.hooks, "pre-traefik-reboot"), []byte(script), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.hooks, "post-traefik-reboot"), []byte(script), 0o755))

	require.NoError(t, h.ctrl.Reboot(context.Background()))

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "app@123\napp@123\n", string(data))
}

func TestReboot_FailingPreHookAborts(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hooks are shell scripts")
	}
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.hooks, "pre-traefik-reboot"), []byte("#!/bin/sh\nexit 1\n"), 0o755))

	err := h.ctrl.Reboot(context.Background())

	assert.ErrorIs(t, err, hook.ErrHookFailed)
	assert.Empty(t, h.dockerCommands("1.1.1.1"))
	assert.Equal(t, 1, h.rec.Count(lockRelease))
}

func TestRemove(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.Remove(context.Background()))

	assert.Equal(t, []string{
		"docker container stop traefik",
		"docker container prune --force --filter label=org.opencontainers.image.title=Traefik",
		"docker image prune --all --force --filter label=org.opencontainers.image.title=Traefik",
	}, h.dockerCommands("1.1.1.1"))

	audits := h.rec.Count("-audit.log")
	assert.Equal(t, 6, audits, "one audit record per step per host")
}

func TestRemove_ImageFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.rec.Fail = remote.FailMatching("docker image prune")

	err := h.ctrl.Remove(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "remove image")
}

func TestMutatingOperations_FailWhenLockedInProcess(t *testing.T) {
	ops := map[string]func(*Controller, context.Context) error{
		"boot":             (*Controller).Boot,
		"start":            (*Controller).Start,
		"stop":             (*Controller).Stop,
		"restart":          (*Controller).Restart,
		"reboot":           (*Controller).Reboot,
		"remove":           (*Controller).Remove,
		"remove container": (*Controller).RemoveContainer,
		"remove image":     (*Controller).RemoveImage,
		"prune images":     (*Controller).PruneImages,
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)

			var opErr error
			require.NoError(t, h.guard.Mutating(context.Background(), func(context.Context) error {
				before := len(h.rec.Calls())
				// A different actor: no handle in its context.
				opErr = op(h.ctrl, context.Background())
				assert.Equal(t, before, len(h.rec.Calls()), "no remote command may be issued")
				return nil
			}))

			assert.ErrorIs(t, opErr, lock.ErrLocked)
		})
	}
}

func TestMutatingOperations_FailWhenLockedRemotely(t *testing.T) {
	h := newHarness(t)
	h.rec.Fail = remote.FailMatching(lockAcquire)

	err := h.ctrl.Stop(context.Background())

	assert.ErrorIs(t, err, lock.ErrLocked)
	assert.Empty(t, h.dockerCommands("1.1.1.1"))
	assert.Empty(t, h.dockerCommands("1.1.1.2"))
	assert.Zero(t, h.rec.Count("-audit.log"))
}

func TestDetails_NoLockNoAudit(t *testing.T) {
	h := newHarness(t)
	h.rec.Output["docker ps --filter 'name=^traefik$'"] = "CONTAINER ID  IMAGE\nabc  traefik:v2.10\n"
	h.rec.Output["docker inspect --format '{{if .State.Health}}{{.State.Health.Status}}{{else}}{{.State.Status}}{{end}}' traefik"] = "healthy\n"

	out, err := h.ctrl.Details(context.Background())

	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "1.1.1.1", out[0].Host)
	assert.Equal(t, "1.1.1.2", out[1].Host)
	assert.Equal(t, "CONTAINER ID  IMAGE\nabc  traefik:v2.10\nhealthy", out[0].Output)
	assert.Equal(t, model.StateRunning, out[0].State)
	assert.Zero(t, h.rec.Count(lockAcquire))
	assert.Zero(t, h.rec.Count("-audit.log"))
}

func TestDetails_InfersState(t *testing.T) {
	inspect := "docker inspect --format '{{if .State.Health}}{{.State.Health.Status}}{{else}}{{.State.Status}}{{end}}' traefik"

	tests := []struct {
		name   string
		status string
		fail   bool
		want   model.ServiceState
	}{
		{"running", "running\n", false, model.StateRunning},
		{"unhealthy still running", "unhealthy\n", false, model.StateRunning},
		{"exited", "exited\n", false, model.StateStopped},
		{"no such container", "", true, model.StateAbsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.rec.Output[inspect] = tt.status
			if tt.fail {
				h.rec.Fail = remote.FailMatching("docker inspect")
			}

			out, err := h.ctrl.Details(context.Background())

			require.NoError(t, err)
			for _, o := range out {
				assert.Equal(t, tt.want, o.State, o.Host)
				assert.Empty(t, o.Error)
			}
		})
	}
}

func TestPlanPrune_ReadOnly(t *testing.T) {
	h := newHarness(t)
	h.rec.Output["docker ps -q -a --filter label=service=app --filter status=created --filter status=dead --filter status=exited"] =
		"c8\nc7\nc6\nc5\nc4\nc3\nc2\nc1\n"
	h.rec.Output["docker image ls --filter label=service=app --format '{{.ID}} {{.Repository}}:{{.Tag}}'"] =
		"i1 hub.docker.com/dhh/app:latest\ni2 hub.docker.com/dhh/app:v1\ni3 hub.docker.com/dhh/app:v2\ni4 hub.docker.com/dhh/app:<none>\n"
	h.rec.Output["docker container ls --all --format '{{.Image}}' --filter label=service=app"] = "hub.docker.com/dhh/app:v2\n"

	plans, err := h.ctrl.PlanPrune(context.Background(), 5, true, true)

	require.NoError(t, err)
	require.Len(t, plans, 2)
	for _, p := range plans {
		assert.Equal(t, []string{"c3", "c2", "c1"}, p.Containers)
		assert.Equal(t, []string{"hub.docker.com/dhh/app:v1"}, p.Images)
	}
	assert.Zero(t, h.rec.Count(lockAcquire))
	assert.Zero(t, h.rec.Count("-audit.log"))
	assert.Zero(t, h.rec.Count("docker rm"))
}

func TestPlanPrune_HostErrorIsReported(t *testing.T) {
	h := newHarness(t)
	h.rec.Fail = func(host string, cmd command.Command) error {
		if host == "1.1.1.2" {
			return &remote.CommandError{Host: host, Command: cmd.Redacted(), ExitStatus: 1}
		}
		return nil
	}

	plans, err := h.ctrl.PlanPrune(context.Background(), 5, true, false)

	require.Error(t, err)
	assert.Empty(t, plans[0].Error)
	assert.NotEmpty(t, plans[1].Error)
}

func TestLogs_BatchPolicy(t *testing.T) {
	tests := []struct {
		name string
		opts docker.LogOptions
		want string
	}{
		{"defaults to 100 lines", docker.LogOptions{}, "docker logs traefik --tail 100 --timestamps 2>&1"},
		{"explicit lines", docker.LogOptions{Lines: 5}, "docker logs traefik --tail 5 --timestamps 2>&1"},
		{"all lines uncapped", docker.LogOptions{AllLines: true}, "docker logs traefik --timestamps 2>&1"},
		{"since uncapped", docker.LogOptions{Since: "5m"}, "docker logs traefik --since 5m --timestamps 2>&1"},
		{"grep uncapped", docker.LogOptions{Grep: "err"}, "docker logs traefik --timestamps 2>&1 | grep err"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			out, err := h.ctrl.Logs(context.Background(), tt.opts)

			require.NoError(t, err)
			assert.Len(t, out, 2)
			assert.Equal(t, []string{tt.want}, h.rec.CommandsOn("1.1.1.1"))
			assert.Equal(t, []string{tt.want}, h.rec.CommandsOn("1.1.1.2"))
			assert.Zero(t, h.rec.Count(lockAcquire))
		})
	}
}

func TestFollowLogs_PrimaryHostOnly(t *testing.T) {
	h := newHarness(t)
	h.rec.Output["docker logs traefik --timestamps --tail 10 --follow 2>&1 | grep 502"] = "line\n"

	var buf bytes.Buffer
	require.NoError(t, h.ctrl.FollowLogs(context.Background(), "502", &buf))

	calls := h.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "1.1.1.1", calls[0].Host)
	assert.True(t, calls[0].Stream)
	assert.Equal(t, "line\n", buf.String())
}

func TestPruneAll(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.PruneAll(context.Background(), 0))

	cmds := h.dockerCommands("1.1.1.1")
	require.Len(t, cmds, 3)
	assert.Contains(t, cmds[0], "docker ps -q -a")
	assert.Contains(t, cmds[0], "tail -n +6")
	assert.Contains(t, cmds[1], "docker image prune --force")
	assert.Contains(t, cmds[2], "docker image ls")
	assert.Equal(t, 1, h.rec.Count(lockAcquire))
}

func TestRegistryLoginLogout_NoLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.RegistryLogin(ctx))
	require.NoError(t, h.ctrl.RegistryLogout(ctx))

	assert.Equal(t, []string{
		"docker login hub.docker.com -u dhh -p secret",
		"docker logout hub.docker.com",
	}, h.rec.CommandsOn("1.1.1.2"))
	assert.Zero(t, h.rec.Count(lockAcquire))
}

func TestEffectiveLogOptions(t *testing.T) {
	assert.Equal(t, DefaultLogLines, EffectiveLogOptions(docker.LogOptions{}).Lines)
	assert.Equal(t, 7, EffectiveLogOptions(docker.LogOptions{Lines: 7, Grep: "x"}).Lines)
	assert.Zero(t, EffectiveLogOptions(docker.LogOptions{Since: "1h"}).Lines)
	assert.Zero(t, EffectiveLogOptions(docker.LogOptions{Grep: "x"}).Lines)
	assert.Zero(t, EffectiveLogOptions(docker.LogOptions{AllLines: true}).Lines)
}
