package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// Secret is a credential value from the deploy configuration. In YAML it is
// either a literal scalar:
//
//	password: hunter2
//
// or a single-element list naming an environment variable that is read
// when the command is built:
//
//	password:
//	  - PNMX_REGISTRY_PASSWORD
type Secret struct {
	// Literal is used as-is when EnvName is empty.
	Literal string

	// EnvName names the environment variable holding the value.
	EnvName string
}

// LiteralSecret returns a Secret holding value.
func LiteralSecret(value string) Secret {
	return Secret{Literal: value}
}

// EnvSecret returns a Secret read from the environment variable name.
func EnvSecret(name string) Secret {
	return Secret{EnvName: name}
}

// IsEnv reports whether the secret is read from the environment.
func (s Secret) IsEnv() bool {
	return s.EnvName != ""
}

// Resolve returns the secret value. An unset environment variable resolves
// to the empty string rather than an error, so a missing registry password
// renders as an empty -p argument and the registry rejects the login.
func (s Secret) Resolve() string {
	if s.IsEnv() {
		return os.Getenv(s.EnvName)
	}
	return s.Literal
}

// MarshalYAML prints env-backed secrets in their list form and hides
// literal values, so `pnmx config` never leaks a credential.
func (s Secret) MarshalYAML() (interface{}, error) {
	if s.IsEnv() {
		return []string{s.EnvName}, nil
	}
	if s.Literal == "" {
		return "", nil
	}
	return "[REDACTED]", nil
}

var secretType = reflect.TypeOf(Secret{})

// secretDecodeHook converts raw configuration values into Secret.
func secretDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != secretType {
			return data, nil
		}

		switch v := data.(type) {
		case nil:
			return Secret{}, nil
		case Secret:
			return v, nil
		case string:
			return LiteralSecret(v), nil
		case []interface{}:
			if len(v) != 1 {
				return nil, fmt.Errorf("secret list must name exactly one environment variable, got %d entries", len(v))
			}
			return EnvSecret(fmt.Sprint(v[0])), nil
		case []string:
			if len(v) != 1 {
				return nil, fmt.Errorf("secret list must name exactly one environment variable, got %d entries", len(v))
			}
			return EnvSecret(v[0]), nil
		default:
			return LiteralSecret(fmt.Sprint(v)), nil
		}
	}
}
