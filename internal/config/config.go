// Package config loads and validates the deploy configuration.
//
// The configuration describes one service: its image, the registry it is
// pulled from, the hosts it runs on, and the auxiliary Traefik edge router
// in front of it. A Config is loaded once per invocation and is read-only
// afterwards; every component receives it through its constructor.
package config

import (
	"strings"
	"time"
)

// Config holds the deploy configuration for one service.
type Config struct {
	// Service is the service name, used for container names and
	// `label=service=<name>` filters.
	Service string `mapstructure:"service" validate:"required,servicename" yaml:"service"`

	// Image is the image name without registry or tag (e.g. "dhh/app").
	Image string `mapstructure:"image" validate:"required" yaml:"image"`

	// Servers is the ordered list of target hosts. The first one is the
	// primary host.
	Servers []string `mapstructure:"servers" validate:"required,min=1,dive,required" yaml:"servers"`

	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`
	Traefik  TraefikConfig  `mapstructure:"traefik" yaml:"traefik"`
	SSH      SSHConfig      `mapstructure:"ssh" yaml:"ssh"`

	// RunDirectory is the directory on each host, relative to the SSH
	// user's home, holding the lock and audit log.
	RunDirectory string `mapstructure:"run_directory" validate:"required" yaml:"run_directory"`

	// HooksPath is the local directory searched for hook executables.
	HooksPath string `mapstructure:"hooks_path" yaml:"hooks_path"`

	// Destination is the label selected with --destination (e.g. "staging").
	// Empty for the base configuration.
	Destination string `mapstructure:"-" yaml:"destination,omitempty"`

	// Version is the version being deployed, normally a git commit SHA.
	Version string `mapstructure:"-" yaml:"version,omitempty"`
}

// RegistryConfig holds the container registry credentials.
type RegistryConfig struct {
	// Server is the registry host. Empty means the runtime's default registry.
	Server string `mapstructure:"server" yaml:"server,omitempty"`

	Username Secret `mapstructure:"username" yaml:"username"`
	Password Secret `mapstructure:"password" yaml:"password"`
}

// TraefikConfig configures the Traefik edge router container.
type TraefikConfig struct {
	Image    string `mapstructure:"image" validate:"required" yaml:"image"`
	HostPort int    `mapstructure:"host_port" validate:"min=1,max=65535" yaml:"host_port"`

	// Args are passed to traefik as --<key>=<value>.
	Args map[string]string `mapstructure:"args" yaml:"args,omitempty"`

	// Labels are added to the container as --label <key>=<value>.
	Labels map[string]string `mapstructure:"labels" yaml:"labels,omitempty"`

	// Options are extra `docker run` options, passed as --<key> <value>.
	Options map[string]string `mapstructure:"options" yaml:"options,omitempty"`

	// Hosts restricts Traefik to a subset of Servers. Empty means all.
	Hosts []string `mapstructure:"hosts" yaml:"hosts,omitempty"`
}

// SSHConfig configures the SSH transport.
type SSHConfig struct {
	User string `mapstructure:"user" validate:"required" yaml:"user"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// Keys are private key files. When empty, only the SSH agent is used.
	Keys []string `mapstructure:"keys" yaml:"keys,omitempty"`

	// KnownHosts is a known_hosts file used to verify host keys. Empty
	// disables host key verification.
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0" yaml:"connect_timeout"`

	// MaxConcurrent bounds how many hosts a command runs on at once.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"min=1" yaml:"max_concurrent"`
}

// abbreviatedVersionLength matches git's short SHA length.
const abbreviatedVersionLength = 7

// Repository returns the registry-qualified image name.
func (c *Config) Repository() string {
	if c.Registry.Server == "" {
		return c.Image
	}
	return c.Registry.Server + "/" + c.Image
}

// LatestImage returns the repository tagged "latest". Pruning never
// removes it.
func (c *Config) LatestImage() string {
	return c.Repository() + ":latest"
}

// AbbreviatedVersion returns the first seven characters of Version.
func (c *Config) AbbreviatedVersion() string {
	if len(c.Version) <= abbreviatedVersionLength {
		return c.Version
	}
	return c.Version[:abbreviatedVersionLength]
}

// ServiceWithVersion returns "<service>@<abbreviated version>", or just the
// service name when no version is set.
func (c *Config) ServiceWithVersion() string {
	parts := []string{c.Service}
	if v := c.AbbreviatedVersion(); v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, "@")
}

// Hosts returns every target host in configured order.
func (c *Config) Hosts() []string {
	return append([]string(nil), c.Servers...)
}

// PrimaryHost returns the host used for single-target operations such as
// following logs and holding the lock.
func (c *Config) PrimaryHost() string {
	if len(c.Servers) == 0 {
		return ""
	}
	return c.Servers[0]
}

// TraefikHosts returns the hosts running the Traefik edge router.
func (c *Config) TraefikHosts() []string {
	if len(c.Traefik.Hosts) == 0 {
		return c.Hosts()
	}
	return intersect(c.Servers, c.Traefik.Hosts)
}

// LockDirectory returns the remote path of the service's lock directory.
func (c *Config) LockDirectory() string {
	return c.RunDirectory + "/lock-" + c.Service
}

// AuditLog returns the remote path of the service's audit log.
func (c *Config) AuditLog() string {
	return c.RunDirectory + "/" + c.Service + "-audit.log"
}

// intersect returns the elements of hosts that appear in subset, keeping
// the order of hosts.
func intersect(hosts, subset []string) []string {
	keep := make(map[string]bool, len(subset))
	for _, h := range subset {
		keep[h] = true
	}
	out := make([]string, 0, len(subset))
	for _, h := range hosts {
		if keep[h] {
			out = append(out, h)
		}
	}
	return out
}
