// Package traefik builds the commands that manage the Traefik edge router
// container on each host.
package traefik

import (
	"sort"
	"strconv"

	"github.com/vidtreonou/panamax/internal/command"
	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/docker"
)

// ContainerName is the name of the Traefik container on every host.
const ContainerName = "traefik"

// Title is the value of the OCI title label on the official image.
const Title = "Traefik"

// containerPort is the port Traefik listens on inside the container.
const containerPort = 80

// followTail is how many lines of history follow mode prints first.
const followTail = 10

const dockerSocket = "/var/run/docker.sock"

// defaultArgs are passed to traefik unless overridden in configuration.
// An empty value renders as a bare flag.
var defaultArgs = map[string]string{
	"providers.docker": "",
	"log.level":        "DEBUG",
}

// Traefik builds commands for the Traefik container.
type Traefik struct {
	cfg *config.Config
}

// New returns a Traefik command builder for cfg.
func New(cfg *config.Config) *Traefik {
	return &Traefik{cfg: cfg}
}

// Name returns the container name.
func (t *Traefik) Name() string { return ContainerName }

// Title returns the display name used in per-host output.
func (t *Traefik) Title() string { return Title }

// Hosts returns the hosts Traefik runs on.
func (t *Traefik) Hosts() []string { return t.cfg.TraefikHosts() }

// Run starts a new Traefik container.
func (t *Traefik) Run() command.Command {
	tc := t.cfg.Traefik

	cmd := docker.Docker("run",
		"--name", ContainerName,
		"--detach",
		"--restart", "unless-stopped",
		"--publish", strconv.Itoa(tc.HostPort)+":"+strconv.Itoa(containerPort),
		"--volume", dockerSocket+":"+dockerSocket,
	)

	for _, key := range sortedKeys(tc.Labels) {
		cmd = cmd.WithArgs("--label", key+"="+tc.Labels[key])
	}
	for _, key := range sortedKeys(tc.Options) {
		cmd = cmd.WithArgs("--"+key, tc.Options[key])
	}

	cmd = cmd.WithArgs(tc.Image)

	args := make(map[string]string, len(defaultArgs)+len(tc.Args))
	for k, v := range defaultArgs {
		args[k] = v
	}
	for k, v := range tc.Args {
		args[k] = v
	}
	for _, key := range sortedKeys(args) {
		if args[key] == "" {
			cmd = cmd.WithArgs("--" + key)
			continue
		}
		cmd = cmd.WithArgs("--" + key + "=" + args[key])
	}
	return cmd
}

// Start starts the existing container.
func (t *Traefik) Start() command.Command {
	return docker.Docker("container", "start", ContainerName)
}

// Stop stops the running container.
func (t *Traefik) Stop() command.Command {
	return docker.Docker("container", "stop", ContainerName)
}

// Info lists the container while it is running.
func (t *Traefik) Info() command.Command {
	return docker.Docker("ps").With(docker.Filters(docker.NameFilter(ContainerName))...)
}

// Health prints the container's health or runtime status.
func (t *Traefik) Health() command.Command {
	return docker.HealthStatus(ContainerName)
}

// Logs prints past log lines.
func (t *Traefik) Logs(opts docker.LogOptions) command.Command {
	cmd := docker.Docker("logs", ContainerName)
	if opts.Since != "" {
		cmd = cmd.WithArgs("--since", opts.Since)
	}
	if opts.Lines > 0 {
		cmd = cmd.WithArgs("--tail", strconv.Itoa(opts.Lines))
	}
	cmd = cmd.WithArgs("--timestamps").With(command.Literal("2>&1"))
	return grep(cmd, opts.Grep)
}

// FollowLogs prints recent lines and then streams new ones.
func (t *Traefik) FollowLogs(pattern string) command.Command {
	cmd := docker.Docker("logs", ContainerName, "--timestamps", "--tail", strconv.Itoa(followTail), "--follow").
		With(command.Literal("2>&1"))
	return grep(cmd, pattern)
}

// RemoveContainer removes stopped Traefik containers.
func (t *Traefik) RemoveContainer() command.Command {
	return docker.Docker("container", "prune", "--force").With(docker.Filters(docker.TitleFilter(Title))...)
}

// RemoveImage removes unused Traefik images.
func (t *Traefik) RemoveImage() command.Command {
	return docker.Docker("image", "prune", "--all", "--force").With(docker.Filters(docker.TitleFilter(Title))...)
}

func grep(cmd command.Command, pattern string) command.Command {
	if pattern == "" {
		return cmd
	}
	return command.Pipe(cmd, command.New("grep", pattern))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
