// Package prune builds the commands that garbage-collect a service's old
// images and stopped containers on each host.
//
// Selection and removal both happen on the host inside a single pipeline:
// a listing is filtered with grep or tail and fed into a read-loop that
// issues one removal per line. For a dry run the same listings are fetched
// back and filtered locally by SelectContainers and SelectImages.
package prune

import (
	"strconv"

	"github.com/docker/docker/api/types/filters"

	"github.com/vidtreonou/panamax/internal/command"
	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/docker"
)

// DefaultKeepLast is how many stopped containers Containers keeps when
// keepLast is not positive.
const DefaultKeepLast = 5

// NoneTag is the tag the runtime prints for untagged images.
const NoneTag = "<none>"

// stoppedStates are the container states eligible for removal.
var stoppedStates = []string{"created", "exited", "dead"}

// Policy builds prune commands for one service.
type Policy struct {
	cfg *config.Config
}

// New returns a Policy for the service described by cfg.
func New(cfg *config.Config) *Policy {
	return &Policy{cfg: cfg}
}

// DanglingImages removes untagged images labelled with the service.
func (p *Policy) DanglingImages() command.Command {
	return docker.Docker("image", "prune", "--force").
		With(docker.Filters(
			docker.ServiceFilter(p.cfg.Service),
			filters.Arg("dangling", "true"),
		)...)
}

// TaggedImages removes every tagged image of the service that no container
// references, except the latest image.
func (p *Policy) TaggedImages() command.Command {
	// Images of every container of the service, running or not, each
	// followed by a grep alternation.
	inUse := command.Pipe(
		p.containerImages(`{{.Image}}\|`),
		command.New("tr", "-d", `\n`),
	)

	exclude := command.New("grep", "-v", "-w").With(command.Concat(
		command.Literal(`"`),
		command.Subshell(inUse),
		command.Literal(`"`),
		command.Arg(p.cfg.LatestImage()+`\|`+p.cfg.Repository()+":"+NoneTag),
	))

	remove := readLoop([]string{"image", "tag"}, docker.Docker("rmi").With(command.Literal("$tag")))

	return command.Pipe(p.ImageList(), exclude, remove)
}

// ImageList prints "<id> <repository>:<tag>" for every image of the
// service.
func (p *Policy) ImageList() command.Command {
	return docker.Docker("image", "ls").
		With(docker.Filters(docker.ServiceFilter(p.cfg.Service))...).
		WithArgs("--format", "{{.ID}} {{.Repository}}:{{.Tag}}")
}

// InUseImages prints the image of every container of the service, one per
// line.
func (p *Policy) InUseImages() command.Command {
	return p.containerImages("{{.Image}}")
}

func (p *Policy) containerImages(format string) command.Command {
	return docker.Docker("container", "ls", "--all", "--format", format).
		With(docker.Filters(docker.ServiceFilter(p.cfg.Service))...)
}

// Containers removes stopped containers of the service, keeping the newest
// keepLast. The runtime lists newest first, so tail skips the ones kept.
func (p *Policy) Containers(keepLast int) command.Command {
	if keepLast <= 0 {
		keepLast = DefaultKeepLast
	}

	skip := command.New("tail", "-n", "+"+strconv.Itoa(keepLast+1))
	remove := readLoop([]string{"container_id"}, docker.Docker("rm").With(command.Literal("$container_id")))

	return command.Pipe(p.StoppedContainers(), skip, remove)
}

// StoppedContainers prints the IDs of the service's stopped containers,
// newest first.
func (p *Policy) StoppedContainers() command.Command {
	pairs := []filters.KeyValuePair{docker.ServiceFilter(p.cfg.Service)}
	for _, state := range stoppedStates {
		pairs = append(pairs, filters.Arg("status", state))
	}
	return docker.Docker("ps", "-q", "-a").With(docker.Filters(pairs...)...)
}

// readLoop returns `while read <vars>; do <body>; done`.
func readLoop(vars []string, body command.Command) command.Command {
	head := command.Command{command.Literal("while"), command.Literal("read")}
	for i, v := range vars {
		if i == len(vars)-1 {
			v += ";"
		}
		head = append(head, command.Literal(v))
	}
	return head.
		With(command.Literal("do")).
		With(body...).
		With(command.Literal(";"), command.Literal("done"))
}
