package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"

	"github.com/vidtreonou/panamax/internal/git"
)

// DefaultPath is where the deploy configuration is looked up when no
// --config flag is given.
const DefaultPath = "config/deploy.yml"

// envPrefix scopes environment overrides, e.g. PNMX_SSH_USER.
const envPrefix = "PNMX"

// keyDelimiter replaces viper's default "." so map keys such as Traefik
// labels ("traefik.http.routers.web.rule") survive unmarshalling intact.
const keyDelimiter = "::"

// ErrDestinationNotFound is returned when --destination names a file that
// does not exist next to the base configuration.
var ErrDestinationNotFound = errors.New("destination configuration not found")

// LoadOptions selects which configuration to load.
type LoadOptions struct {
	// Path is the base configuration file. Defaults to DefaultPath.
	Path string

	// Destination selects the overlay file deploy.<destination>.yml.
	Destination string

	// Version overrides the deploy version. When empty, VersionLookup
	// is consulted.
	Version string

	// VersionLookup returns the version when none is given. Defaults to
	// the current git commit; a lookup error leaves the version empty.
	VersionLookup func() (string, error)

	// Hosts restricts the configured servers to this subset.
	Hosts []string
}

// Load reads the base configuration and the optional destination overlay,
// applies PNMX_* environment overrides and defaults, and validates the
// result.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PNMX_*)
//  2. Destination overlay file
//  3. Base configuration file
//  4. Default values
func Load(opts LoadOptions) (*Config, error) {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	if err := readFile(v, path, false); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if opts.Destination != "" {
		destPath := DestinationPath(path, opts.Destination)
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDestinationNotFound, destPath)
		}
		if err := readFile(v, destPath, true); err != nil {
			return nil, fmt.Errorf("failed to read destination config %s: %w", destPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Destination = opts.Destination
	cfg.Version = resolveVersion(opts)

	if len(opts.Hosts) > 0 {
		cfg.Servers = intersect(cfg.Servers, opts.Hosts)
		if len(cfg.Servers) == 0 {
			return nil, fmt.Errorf("no configured servers match --hosts %s", strings.Join(opts.Hosts, ","))
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// DestinationPath returns the overlay file for destination next to the
// base file: config/deploy.yml + staging → config/deploy.staging.yml.
func DestinationPath(base, destination string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + destination + ext
}

func setDefaults(v *viper.Viper) {
	key := func(parts ...string) string { return strings.Join(parts, keyDelimiter) }

	v.SetDefault("run_directory", ".pnmx")
	v.SetDefault("hooks_path", ".pnmx/hooks")
	v.SetDefault(key("traefik", "image"), "traefik:v2.10")
	v.SetDefault(key("traefik", "host_port"), 80)
	v.SetDefault(key("ssh", "user"), "root")
	v.SetDefault(key("ssh", "port"), 22)
	v.SetDefault(key("ssh", "connect_timeout"), "10s")
	v.SetDefault(key("ssh", "max_concurrent"), 10)
}

// readFile loads a YAML or JSON(C) file into v. JSONC comments and
// trailing commas are stripped before parsing.
func readFile(v *viper.Viper, path string, merge bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	format := "yaml"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
		format = "json"
	}
	v.SetConfigType(format)

	if merge {
		return v.MergeConfig(bytes.NewReader(data))
	}
	return v.ReadConfig(bytes.NewReader(data))
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secretDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func resolveVersion(opts LoadOptions) string {
	if opts.Version != "" {
		return opts.Version
	}
	lookup := opts.VersionLookup
	if lookup == nil {
		lookup = GitRevision
	}
	version, err := lookup()
	if err != nil {
		return ""
	}
	return version
}

// GitRevision returns the commit SHA of HEAD in the current directory.
func GitRevision() (string, error) {
	return git.Revision("")
}
