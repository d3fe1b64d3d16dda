// Package command builds remote shell commands as token arrays.
//
// A Command is never assembled by string interpolation. Every value that can
// come from configuration (service names, image tags, repository names,
// credentials) travels as an argument Token until Render, which is the only
// place a Command becomes a single shell string. Render quotes argument
// tokens and passes literal tokens (combinators, read-loops, variable
// references) through verbatim.
package command

import (
	"regexp"
	"strings"
)

// kind classifies how a Token is rendered.
type kind uint8

const (
	kindArg kind = iota
	kindLiteral
	kindSensitive
)

// redactedValue replaces sensitive tokens in log output.
const redactedValue = "[REDACTED]"

// Token is a single shell word.
type Token struct {
	value string
	kind  kind
}

// Arg returns an argument token. Arguments are shell-quoted when rendered
// if they contain anything outside a conservative safe character set.
func Arg(value string) Token {
	return Token{value: value, kind: kindArg}
}

// Literal returns a token that is rendered verbatim. Literals are reserved
// for fixed shell syntax written in this module: operators, loop keywords
// and variable references. Configuration values must never be passed here.
func Literal(value string) Token {
	return Token{value: value, kind: kindLiteral}
}

// Sensitive returns an argument token whose value is hidden by Redacted.
func Sensitive(value string) Token {
	return Token{value: value, kind: kindSensitive}
}

// Value returns the raw, unquoted value of the token.
func (t Token) Value() string {
	return t.value
}

// IsLiteral reports whether the token is rendered verbatim.
func (t Token) IsLiteral() bool {
	return t.kind == kindLiteral
}

// String returns the rendered (shell-safe) form of the token.
func (t Token) String() string {
	if t.kind == kindLiteral {
		return t.value
	}
	return Quote(t.value)
}

func (t Token) redacted() string {
	if t.kind == kindSensitive {
		return redactedValue
	}
	return t.String()
}

// Command is an ordered sequence of tokens representing one program
// invocation, or a chain of invocations joined by operator tokens.
type Command []Token

// New builds a Command from plain argument values.
func New(args ...string) Command {
	cmd := make(Command, 0, len(args))
	for _, a := range args {
		cmd = append(cmd, Arg(a))
	}
	return cmd
}

// With returns a copy of c with tokens appended. The receiver is not
// modified, so builders can share a prefix safely.
func (c Command) With(tokens ...Token) Command {
	out := make(Command, 0, len(c)+len(tokens))
	out = append(out, c...)
	return append(out, tokens...)
}

// WithArgs is With for plain argument values.
func (c Command) WithArgs(args ...string) Command {
	return c.With(New(args...)...)
}

// Args returns the raw token values in order. Tests compare against this
// form; it is not safe to pass to a shell.
func (c Command) Args() []string {
	out := make([]string, len(c))
	for i, t := range c {
		out[i] = t.value
	}
	return out
}

// String renders the command for dispatch. See Render.
func (c Command) String() string {
	return Render(c)
}

// Redacted renders the command with sensitive tokens hidden, for logging.
func (c Command) Redacted() string {
	parts := make([]string, len(c))
	for i, t := range c {
		parts[i] = t.redacted()
	}
	return strings.Join(parts, " ")
}

// Render is the single point at which a Command becomes a shell string.
func Render(c Command) string {
	parts := make([]string, len(c))
	for i, t := range c {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

var safeWord = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// Quote returns s in a form the POSIX shell reads back as exactly s.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if safeWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Subshell returns a literal command substitution $(...) around the
// rendered form of cmd. The inner tokens are quoted as usual.
func Subshell(cmd Command) Token {
	return Literal("$(" + Render(cmd) + ")")
}

// Concat joins the rendered forms of tokens into a single shell word.
func Concat(tokens ...Token) Token {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.String())
	}
	return Literal(b.String())
}
