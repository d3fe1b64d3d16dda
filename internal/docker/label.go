package docker

import (
	"sort"

	"github.com/docker/docker/api/types/filters"

	"github.com/vidtreonou/panamax/internal/command"
)

// Label keys used to select containers and images.
const (
	// LabelService marks every container and image belonging to a
	// service: "service=<name>".
	LabelService = "service"

	// LabelImageTitle is the OCI title label. Traefik's official image
	// sets it to "Traefik", which is how its container and image are
	// found for removal.
	LabelImageTitle = "org.opencontainers.image.title"
)

// ServiceFilter selects everything labelled with service.
func ServiceFilter(service string) filters.KeyValuePair {
	return filters.Arg("label", LabelService+"="+service)
}

// TitleFilter selects everything whose OCI title label is title.
func TitleFilter(title string) filters.KeyValuePair {
	return filters.Arg("label", LabelImageTitle+"="+title)
}

// NameFilter matches the container named exactly name. The runtime treats
// name filters as regular expressions, hence the anchors.
func NameFilter(name string) filters.KeyValuePair {
	return filters.Arg("name", "^"+name+"$")
}

// FilterFlags renders args as "--filter key=value" tokens. Keys and the
// values under each key are sorted, so the same filters always produce the
// same command.
func FilterFlags(args filters.Args) []command.Token {
	keys := args.Keys()
	sort.Strings(keys)

	var tokens []command.Token
	for _, key := range keys {
		values := args.Get(key)
		sort.Strings(values)
		for _, value := range values {
			tokens = append(tokens, command.Arg("--filter"), command.Arg(key+"="+value))
		}
	}
	return tokens
}

// Filters is shorthand for FilterFlags(filters.NewArgs(pairs...)).
func Filters(pairs ...filters.KeyValuePair) []command.Token {
	return FilterFlags(filters.NewArgs(pairs...))
}
