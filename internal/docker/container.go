package docker

import (
	"github.com/vidtreonou/panamax/internal/command"
)

// Format templates passed to `docker inspect --format`.
const (
	// HealthStatusFormat prints the health status when the container has a
	// healthcheck and the plain runtime state otherwise.
	HealthStatusFormat = "{{if .State.Health}}{{.State.Health.Status}}{{else}}{{.State.Status}}{{end}}"

	// HealthLogFormat prints the healthcheck history as JSON.
	HealthLogFormat = "{{json .State.Health}}"
)

// Docker returns `docker <args...>`. Empty arguments are dropped, so
// optional flags can be passed as "" instead of branching at every call
// site.
func Docker(args ...string) command.Command {
	cmd := command.New("docker")
	for _, a := range args {
		if a != "" {
			cmd = append(cmd, command.Arg(a))
		}
	}
	return cmd
}

// ContainerIDFor returns the command printing the ID of the container named
// name. With onlyRunning false, stopped containers match too.
func ContainerIDFor(name string, onlyRunning bool) command.Command {
	all := "--all"
	if onlyRunning {
		all = ""
	}
	return Docker("container", "ls", all).
		With(Filters(NameFilter(name))...).
		WithArgs("--quiet")
}

// HealthStatus returns the command printing the health of container.
func HealthStatus(container string) command.Command {
	return Docker("inspect", "--format", HealthStatusFormat, container)
}

// HealthLog returns the command printing the healthcheck log of container.
func HealthLog(container string) command.Command {
	return Docker("inspect", "--format", HealthLogFormat, container)
}

// LogOptions selects which past log lines `docker logs` prints.
type LogOptions struct {
	// Since is a timestamp or a relative duration such as "42m".
	Since string

	// Lines caps the number of lines. Zero means no cap.
	Lines int

	// AllLines asks for the whole log even where a default cap would
	// otherwise apply.
	AllLines bool

	// Grep keeps only lines matching this pattern.
	Grep string
}
