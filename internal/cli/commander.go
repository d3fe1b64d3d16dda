package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vidtreonou/panamax/internal/audit"
	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/git"
	"github.com/vidtreonou/panamax/internal/hook"
	"github.com/vidtreonou/panamax/internal/lifecycle"
	"github.com/vidtreonou/panamax/internal/lock"
	"github.com/vidtreonou/panamax/internal/model"
	"github.com/vidtreonou/panamax/internal/prune"
	"github.com/vidtreonou/panamax/internal/registry"
	"github.com/vidtreonou/panamax/internal/remote"
	"github.com/vidtreonou/panamax/internal/tags"
	"github.com/vidtreonou/panamax/internal/traefik"
)

// newExecutor builds the executor for an invocation. Tests replace it with
// a recorder.
var newExecutor = func(cfg *config.Config, logger *slog.Logger) remote.Executor {
	return remote.NewSSH(cfg.SSH, logger)
}

// currentIdentity supplies the clock and operator name. Tests replace it.
var currentIdentity = tags.CurrentIdentity

// Commander is everything one invocation needs, built once from the global
// flags and passed to the command's run function.
type Commander struct {
	Config   *config.Config
	Executor remote.Executor
	Guard    *lock.Guard
	Traefik  *lifecycle.Controller
}

// loadConfig loads the configuration selected by the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		Path:        configPath,
		Destination: destination,
		Version:     deployVersion,
		Hosts:       hostFilter,
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "failed to load configuration", err)
	}
	if deployVersion == "" && cfg.Version != "" {
		if dirty, err := git.Uncommitted(""); err == nil && dirty {
			logger.Warn("working tree has uncommitted changes; they are not part of the deployed version", "version", cfg.AbbreviatedVersion())
		}
	}
	VerboseLog("Loaded configuration for service %q (%d hosts)", cfg.Service, len(cfg.Servers))
	return cfg, nil
}

// newCommander loads the configuration and wires the collaborators. The
// caller must Close it.
func newCommander(cmd *cobra.Command) (*Commander, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	identity := currentIdentity()
	exec := newExecutor(cfg, logger)
	guard := lock.NewGuard(cfg, exec, identity, logger)

	deps := lifecycle.Deps{
		Executor: exec,
		Guard:    guard,
		Auditor:  audit.New(cfg, identity),
		Registry: registry.New(cfg.Registry),
		Prune:    prune.New(cfg),
		Hooks:    hook.NewRunner(cfg.HooksPath, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger),
		Logger:   logger,
	}

	return &Commander{
		Config:   cfg,
		Executor: exec,
		Guard:    guard,
		Traefik:  lifecycle.New(cfg, traefik.New(cfg), deps),
	}, nil
}

// Close releases the executor's connections.
func (c *Commander) Close() error {
	return c.Executor.Close()
}

// withCommander builds a Commander, runs fn with it and closes it.
func withCommander(cmd *cobra.Command, fn func(c *Commander) error) error {
	c, err := newCommander(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			VerboseLog("closing connections: %v", err)
		}
	}()
	return fn(c)
}
