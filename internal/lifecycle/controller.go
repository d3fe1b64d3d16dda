package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

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
)

// Deps are the collaborators a Controller dispatches through.
type Deps struct {
	Executor remote.Executor
	Guard    *lock.Guard
	Auditor  *audit.Auditor
	Registry *registry.Registry
	Prune    *prune.Policy
	Hooks    *hook.Runner
	Logger   *slog.Logger
}

// Controller runs lifecycle operations for one Service.
type Controller struct {
	cfg  *config.Config
	svc  Service
	deps Deps
}

// New returns a Controller for svc.
func New(cfg *config.Config, svc Service, deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{cfg: cfg, svc: svc, deps: deps}
}

// Service returns the controlled service.
func (c *Controller) Service() Service {
	return c.svc
}

// Boot logs into the registry and runs a new container on every host. The
// run step tolerates failure: the container may already be running.
func (c *Controller) Boot(ctx context.Context) error {
	return c.mutating(ctx, func(ctx context.Context) error {
		return c.onHosts(ctx, c.svc.Hosts(), func(ctx context.Context, host string) error {
			if err := c.exec(ctx, host, c.deps.Registry.Login(), remote.ExecOptions{}); err != nil {
				return fmt.Errorf("registry login: %w", err)
			}
			return c.exec(ctx, host, c.svc.Run(), remote.Tolerant())
		})
	})
}

// Start starts the existing container on every host.
func (c *Controller) Start(ctx context.Context) error {
	return c.audited(ctx, "Started "+c.svc.Name(), c.svc.Start(), remote.Tolerant())
}

// Stop stops the container on every host.
func (c *Controller) Stop(ctx context.Context) error {
	return c.audited(ctx, "Stopped "+c.svc.Name(), c.svc.Stop(), remote.Tolerant())
}

// Restart stops then starts the container.
func (c *Controller) Restart(ctx context.Context) error {
	return c.mutating(ctx, func(ctx context.Context) error {
		return steps(ctx,
			step{"stop", c.Stop},
			step{"start", c.Start},
		)
	})
}

// Reboot replaces the container: stop, remove, boot. The
// pre-<name>-reboot and post-<name>-reboot hooks run around it.
func (c *Controller) Reboot(ctx context.Context) error {
	return c.mutating(ctx, func(ctx context.Context) error {
		return steps(ctx,
			step{"pre-reboot hook", c.hookStep("pre-" + c.svc.Name() + "-reboot")},
			step{"stop", c.Stop},
			step{"remove container", c.RemoveContainer},
			step{"boot", c.Boot},
			step{"post-reboot hook", c.hookStep("post-" + c.svc.Name() + "-reboot")},
		)
	})
}

// Remove stops the container and removes it and its image.
func (c *Controller) Remove(ctx context.Context) error {
	return c.mutating(ctx, func(ctx context.Context) error {
		return steps(ctx,
			step{"stop", c.Stop},
			step{"remove container", c.RemoveContainer},
			step{"remove image", c.RemoveImage},
		)
	})
}

// RemoveContainer removes the container on every host. Failure propagates.
func (c *Controller) RemoveContainer(ctx context.Context) error {
	return c.audited(ctx, "Removed "+c.svc.Name()+" container", c.svc.RemoveContainer(), remote.ExecOptions{})
}

// RemoveImage removes the image on every host. Failure propagates.
func (c *Controller) RemoveImage(ctx context.Context) error {
	return c.audited(ctx, "Removed "+c.svc.Name()+" image", c.svc.RemoveImage(), remote.ExecOptions{})
}

// Details returns the container listing and health status of each host,
// with the service state inferred from the status.
func (c *Controller) Details(ctx context.Context) ([]model.HostOutput, error) {
	hosts := c.svc.Hosts()
	outputs := newHostOutputs(hosts)
	index := hostIndex(hosts)

	err := c.onHosts(ctx, hosts, func(ctx context.Context, host string) error {
		o := &outputs[index[host]]

		info, err := c.deps.Executor.Capture(ctx, host, c.svc.Info(), remote.Tolerant())
		if err != nil {
			o.Error = err.Error()
			return err
		}
		status, err := c.deps.Executor.Capture(ctx, host, c.svc.Health(), remote.Tolerant())
		if err != nil {
			o.Error = err.Error()
			return err
		}

		status = strings.TrimSpace(status)
		o.State = model.StateFromRuntime(status)
		o.Output = strings.TrimRight(info, "\n")
		if o.Output != "" && status != "" {
			o.Output += "\n"
		}
		o.Output += status
		return nil
	})
	return outputs, err
}

// Logs returns past log lines from every host, with the default line cap
// applied by EffectiveLogOptions.
func (c *Controller) Logs(ctx context.Context, opts docker.LogOptions) ([]model.HostOutput, error) {
	cmd := c.svc.Logs(EffectiveLogOptions(opts))
	return c.captureOnHosts(ctx, c.svc.Hosts(), cmd, remote.ExecOptions{})
}

// FollowLogs streams the log of the primary host to w until ctx is done.
func (c *Controller) FollowLogs(ctx context.Context, grep string, w io.Writer) error {
	host := c.cfg.PrimaryHost()
	c.deps.Logger.Info("following logs", "host", host, "service", c.svc.Name())
	return c.deps.Executor.Stream(ctx, host, c.svc.FollowLogs(grep), w)
}

// PruneAll removes old containers, then unused images, of the deployed
// service.
func (c *Controller) PruneAll(ctx context.Context, keepLast int) error {
	return c.mutating(ctx, func(ctx context.Context) error {
		return steps(ctx,
			step{"prune containers", func(ctx context.Context) error { return c.PruneContainers(ctx, keepLast) }},
			step{"prune images", c.PruneImages},
		)
	})
}

// PruneImages removes dangling images and tagged images no container uses.
func (c *Controller) PruneImages(ctx context.Context) error {
	return c.mutating(ctx, func(ctx context.Context) error {
		return c.onHosts(ctx, c.cfg.Hosts(), func(ctx context.Context, host string) error {
			return c.sequence(ctx, host,
				c.deps.Auditor.Record("Pruned images"),
				c.deps.Prune.DanglingImages(),
				c.deps.Prune.TaggedImages(),
			)
		})
	})
}

// PruneContainers removes stopped containers, keeping the newest keepLast.
func (c *Controller) PruneContainers(ctx context.Context, keepLast int) error {
	if keepLast <= 0 {
		keepLast = prune.DefaultKeepLast
	}
	return c.mutating(ctx, func(ctx context.Context) error {
		return c.onHosts(ctx, c.cfg.Hosts(), func(ctx context.Context, host string) error {
			return c.sequence(ctx, host,
				c.deps.Auditor.Record(fmt.Sprintf("Pruned containers (kept last %d)", keepLast)),
				c.deps.Prune.Containers(keepLast),
			)
		})
	})
}

// PlanPrune reports, per host, what PruneContainers and PruneImages would
// remove, without removing anything. It takes no lock and records no audit
// line. Either kind can be left out.
func (c *Controller) PlanPrune(ctx context.Context, keepLast int, containers, images bool) ([]prune.Plan, error) {
	hosts := c.cfg.Hosts()
	plans := make([]prune.Plan, len(hosts))
	for i, h := range hosts {
		plans[i].Host = h
	}
	index := hostIndex(hosts)

	err := c.onHosts(ctx, hosts, func(ctx context.Context, host string) error {
		plan := &plans[index[host]]
		if err := c.planHost(ctx, host, plan, keepLast, containers, images); err != nil {
			plan.Error = err.Error()
			return err
		}
		return nil
	})
	return plans, err
}

func (c *Controller) planHost(ctx context.Context, host string, plan *prune.Plan, keepLast int, containers, images bool) error {
	policy := c.deps.Prune

	if containers {
		out, err := c.deps.Executor.Capture(ctx, host, policy.StoppedContainers(), remote.Debug())
		if err != nil {
			return err
		}
		plan.Containers = prune.SelectContainers(prune.Lines(out), keepLast)
	}

	if images {
		list, err := c.deps.Executor.Capture(ctx, host, policy.ImageList(), remote.Debug())
		if err != nil {
			return err
		}
		inUse, err := c.deps.Executor.Capture(ctx, host, policy.InUseImages(), remote.Debug())
		if err != nil {
			return err
		}
		for _, img := range prune.SelectImages(prune.ParseImages(list), policy.Protected(prune.Lines(inUse))) {
			plan.Images = append(plan.Images, img.Reference)
		}
	}
	return nil
}

// RegistryLogin logs into the registry on every host. It takes no lock.
func (c *Controller) RegistryLogin(ctx context.Context) error {
	return c.onHosts(ctx, c.cfg.Hosts(), func(ctx context.Context, host string) error {
		return c.exec(ctx, host, c.deps.Registry.Login(), remote.ExecOptions{})
	})
}

// RegistryLogout logs out of the registry on every host. It takes no lock.
func (c *Controller) RegistryLogout(ctx context.Context) error {
	return c.onHosts(ctx, c.cfg.Hosts(), func(ctx context.Context, host string) error {
		return c.exec(ctx, host, c.deps.Registry.Logout(), remote.ExecOptions{})
	})
}

func (c *Controller) mutating(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.deps.Guard.Mutating(ctx, fn)
}

// audited records message then runs cmd on every service host, under the
// guard.
func (c *Controller) audited(ctx context.Context, message string, cmd command.Command, opts remote.ExecOptions) error {
	return c.mutating(ctx, func(ctx context.Context) error {
		return c.onHosts(ctx, c.svc.Hosts(), func(ctx context.Context, host string) error {
			if err := c.exec(ctx, host, c.deps.Auditor.Record(message), remote.Debug()); err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			return c.exec(ctx, host, cmd, opts)
		})
	})
}

// sequence runs an audit record followed by cmds on host, stopping at the
// first failure.
func (c *Controller) sequence(ctx context.Context, host string, record command.Command, cmds ...command.Command) error {
	if err := c.exec(ctx, host, record, remote.Debug()); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	for _, cmd := range cmds {
		if err := c.exec(ctx, host, cmd, remote.ExecOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) exec(ctx context.Context, host string, cmd command.Command, opts remote.ExecOptions) error {
	return c.deps.Executor.Execute(ctx, host, cmd, opts)
}

func (c *Controller) onHosts(ctx context.Context, hosts []string, fn func(ctx context.Context, host string) error) error {
	return remote.OnHosts(ctx, hosts, c.cfg.SSH.MaxConcurrent, fn)
}

// captureOnHosts runs cmd on every host and collects the output in host
// order. A failing host keeps its error in its HostOutput and in the
// returned error; the other hosts still report.
func (c *Controller) captureOnHosts(ctx context.Context, hosts []string, cmd command.Command, opts remote.ExecOptions) ([]model.HostOutput, error) {
	outputs := newHostOutputs(hosts)
	index := hostIndex(hosts)

	err := c.onHosts(ctx, hosts, func(ctx context.Context, host string) error {
		out, err := c.deps.Executor.Capture(ctx, host, cmd, opts)
		o := &outputs[index[host]]
		o.Output = strings.TrimRight(out, "\n")
		if err != nil {
			o.Error = err.Error()
		}
		return err
	})
	return outputs, err
}

func newHostOutputs(hosts []string) []model.HostOutput {
	outputs := make([]model.HostOutput, len(hosts))
	for i, h := range hosts {
		outputs[i].Host = h
	}
	return outputs
}

func hostIndex(hosts []string) map[string]int {
	index := make(map[string]int, len(hosts))
	for i, h := range hosts {
		index[h] = i
	}
	return index
}

func (c *Controller) hookStep(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if c.deps.Hooks == nil {
			return nil
		}
		return c.deps.Hooks.Run(ctx, name, c.deps.Auditor.Tags())
	}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// steps runs each step in order and stops at the first error, wrapped with
// the step's name.
func steps(ctx context.Context, all ...step) error {
	for _, s := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}
