// Package docker builds docker CLI invocations that run on remote hosts.
//
// Nothing here talks to a daemon. Every function returns a
// command.Command that the remote package executes over SSH; the hosts'
// docker CLI does the work. Filters are expressed with the Engine SDK's
// filters.Args so label and name filters are written the same way the
// API would receive them, then rendered as --filter flags.
package docker
