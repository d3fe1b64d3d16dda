// Package audit builds the commands that append a line to the
// host-local audit log.
package audit

import (
	"github.com/vidtreonou/panamax/internal/command"
	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/tags"
)

// Auditor builds audit records for one service.
type Auditor struct {
	cfg      *config.Config
	identity tags.Identity
}

// New returns an Auditor that stamps records with identity.
func New(cfg *config.Config, identity tags.Identity) *Auditor {
	return &Auditor{cfg: cfg, identity: identity}
}

// Tags returns a fresh TagSet for one record.
func (a *Auditor) Tags(extra ...tags.Field) tags.Set {
	return tags.FromConfig(a.cfg, a.identity, extra...)
}

// Record returns the command appending "<tags> <message>" to the audit log,
// creating the run directory first.
func (a *Auditor) Record(message string, extra ...tags.Field) command.Command {
	line := a.Tags(extra...).String() + " " + message

	return command.And(
		command.New("mkdir", "-p", a.cfg.RunDirectory),
		command.Append(
			command.New("echo", line),
			command.New(a.cfg.AuditLog()),
		),
	)
}
