// Package registry builds the registry login and logout commands.
package registry

import (
	"github.com/vidtreonou/panamax/internal/command"
	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/docker"
)

// Registry builds commands for the registry configured for a service.
type Registry struct {
	cfg config.RegistryConfig
}

// New returns a Registry for cfg.
func New(cfg config.RegistryConfig) *Registry {
	return &Registry{cfg: cfg}
}

// Login returns `docker login <server> -u <username> -p <password>`.
// Credentials are resolved from the environment at call time. The password
// token is sensitive and does not appear in logged commands.
func (r *Registry) Login() command.Command {
	return docker.Docker("login", r.cfg.Server).
		WithArgs("-u", r.cfg.Username.Resolve()).
		With(command.Arg("-p"), command.Sensitive(r.cfg.Password.Resolve()))
}

// Logout returns `docker logout <server>`.
func (r *Registry) Logout() command.Command {
	return docker.Docker("logout", r.cfg.Server)
}
