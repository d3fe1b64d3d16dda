package command

// Combinator tokens. These are the only operators Render emits unquoted
// between commands.
var (
	OpAnd      = Literal("&&")
	OpSequence = Literal(";")
	OpPipe     = Literal("|")
	OpAppend   = Literal(">>")
	OpWrite    = Literal(">")
)

// Combine joins commands with the operator by. Nil and empty commands are
// dropped first, so the result never carries a dangling operator; joining
// zero commands yields an empty Command.
func Combine(by Token, commands ...Command) Command {
	var out Command
	for _, cmd := range commands {
		if len(cmd) == 0 {
			continue
		}
		if len(out) > 0 {
			out = append(out, by)
		}
		out = append(out, cmd...)
	}
	return out
}

// And runs each command only if the previous one succeeded.
func And(commands ...Command) Command {
	return Combine(OpAnd, commands...)
}

// Chain runs commands in sequence regardless of exit status.
func Chain(commands ...Command) Command {
	return Combine(OpSequence, commands...)
}

// Pipe connects stdout of each command to stdin of the next.
func Pipe(commands ...Command) Command {
	return Combine(OpPipe, commands...)
}

// Append redirects output of the first command, appending to the target.
func Append(commands ...Command) Command {
	return Combine(OpAppend, commands...)
}

// Write redirects output of the first command, truncating the target.
func Write(commands ...Command) Command {
	return Combine(OpWrite, commands...)
}

// Xargs wraps cmd as a consumer of piped standard input.
func Xargs(cmd Command) Command {
	return New("xargs").With(cmd...)
}
