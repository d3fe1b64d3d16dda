// Package lifecycle drives a service through its states on every host.
//
// A Controller is generic over Service, the set of commands that manage one
// container kind; traefik.Traefik is the instance wired into the CLI. Every
// operation that changes fleet state runs inside the lock.Guard, issues an
// audit record on each host, and stops at the first failure that is not
// explicitly tolerated. Details and logs are read-only and take no lock.
package lifecycle

import (
	"github.com/vidtreonou/panamax/internal/command"
	"github.com/vidtreonou/panamax/internal/docker"
)

// Service builds the commands that manage one kind of container.
type Service interface {
	// Name is the container name, used in audit messages and hook names.
	Name() string

	// Title is the display name for per-host output.
	Title() string

	// Hosts are the hosts the service runs on.
	Hosts() []string

	Run() command.Command
	Start() command.Command
	Stop() command.Command
	Info() command.Command
	Health() command.Command
	Logs(opts docker.LogOptions) command.Command
	FollowLogs(grep string) command.Command
	RemoveContainer() command.Command
	RemoveImage() command.Command
}

// DefaultLogLines is the line cap applied when logs are requested without
// since, grep or an explicit line count.
const DefaultLogLines = 100

// EffectiveLogOptions applies the default line cap. An explicit Lines is
// kept; otherwise Lines becomes DefaultLogLines unless Since or Grep narrows
// the output or AllLines is set, in which case no cap is applied.
func EffectiveLogOptions(opts docker.LogOptions) docker.LogOptions {
	if opts.AllLines {
		opts.Lines = 0
		return opts
	}
	if opts.Lines == 0 && opts.Since == "" && opts.Grep == "" {
		opts.Lines = DefaultLogLines
	}
	return opts
}
