// Package tags builds the per-operation metadata record attached to audit
// lines and exported to hooks.
package tags

import (
	"os/user"
	"strings"
	"time"

	"github.com/vidtreonou/panamax/internal/config"
	"github.com/vidtreonou/panamax/internal/git"
)

// EnvPrefix is prepended to every key in Env and Environ.
const EnvPrefix = "PNMX_"

// Field names of the canonical set.
const (
	RecordedAt     = "recorded_at"
	Performer      = "performer"
	Destination    = "destination"
	Version        = "version"
	ServiceVersion = "service_version"
)

// Field is one key/value pair of a Set.
type Field struct {
	Key   string
	Value string
}

// F is shorthand for Field{Key: key, Value: value}.
func F(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Identity supplies the clock and the operator name recorded in a Set.
type Identity struct {
	Now       func() time.Time
	Performer string
}

// CurrentIdentity returns the wall clock and the invoking OS user. When
// the OS user cannot be looked up, git's user.name is used instead.
func CurrentIdentity() Identity {
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	if name == "" {
		name = git.UserName("")
	}
	return Identity{Now: time.Now, Performer: name}
}

// Set is an ordered, immutable list of fields. No field has an empty value.
type Set struct {
	fields []Field
}

// New builds a Set from fields in order. A repeated key replaces the
// earlier value in place; fields with an empty value are dropped.
func New(fields ...Field) Set {
	var s Set
	for _, f := range fields {
		s.fields = put(s.fields, f)
	}
	return s.compact()
}

// FromConfig builds the canonical set for an operation on cfg, merged with
// extra. An extra field whose key is already present replaces that value.
func FromConfig(cfg *config.Config, id Identity, extra ...Field) Set {
	now := time.Now
	if id.Now != nil {
		now = id.Now
	}

	base := []Field{
		F(RecordedAt, now().UTC().Format(time.RFC3339)),
		F(Performer, id.Performer),
		F(Destination, cfg.Destination),
		F(Version, cfg.Version),
		F(ServiceVersion, cfg.ServiceWithVersion()),
	}
	return New(append(base, extra...)...)
}

func put(fields []Field, f Field) []Field {
	for i := range fields {
		if fields[i].Key == f.Key {
			fields[i].Value = f.Value
			return fields
		}
	}
	return append(fields, f)
}

func (s Set) compact() Set {
	out := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return Set{fields: out}
}

// Fields returns a copy of the fields in order.
func (s Set) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Get returns the value for key and whether it is present.
func (s Set) Get(key string) (string, bool) {
	for _, f := range s.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Len returns the number of fields.
func (s Set) Len() int {
	return len(s.fields)
}

// Except returns a new Set without keys. s is left untouched.
func (s Set) Except(keys ...string) Set {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	out := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		if !drop[f.Key] {
			out = append(out, f)
		}
	}
	return Set{fields: out}
}

// With returns a new Set with fields merged in, following the same rules
// as New.
func (s Set) With(fields ...Field) Set {
	return New(append(s.Fields(), fields...)...)
}

// EnvKey returns the environment variable name for key: "foo_bar" becomes
// "PNMX_FOO_BAR".
func EnvKey(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// Env returns the fields keyed by EnvKey.
func (s Set) Env() map[string]string {
	env := make(map[string]string, len(s.fields))
	for _, f := range s.fields {
		env[EnvKey(f.Key)] = f.Value
	}
	return env
}

// Environ returns the fields as KEY=VALUE strings in order, suitable for
// exec.Cmd.Env.
func (s Set) Environ() []string {
	out := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, EnvKey(f.Key)+"="+f.Value)
	}
	return out
}

// String renders the values as "[v1] [v2] ...", keys omitted.
func (s Set) String() string {
	parts := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		parts = append(parts, "["+f.Value+"]")
	}
	return strings.Join(parts, " ")
}
