// Package git reads deploy metadata from the local Git checkout.
//
// It shells out to the git CLI so the results match what the operator sees
// in their own terminal, including any worktree or includeIf configuration.
package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Revision returns the full commit SHA of HEAD in dir.
func Revision(dir string) (string, error) {
	out, err := run(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// UserName returns the configured user.name, or "" when none is set.
func UserName(dir string) string {
	out, err := run(dir, "config", "user.name")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// Uncommitted reports whether the working tree in dir has changes that
// are not committed, untracked files included.
func Uncommitted(dir string) (bool, error) {
	out, err := run(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// run executes git with args in dir and returns stdout. An empty dir
// leaves git in the process working directory.
func run(dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)

	// #nosec G204 -- args are constructed internally
	cmd := exec.Command("git", fullArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := fmt.Sprintf("git %s failed", strings.Join(args, " "))
		if s := strings.TrimSpace(stderr.String()); s != "" {
			message = fmt.Sprintf("%s: %s", message, s)
		}
		return "", fmt.Errorf("%s: %w", message, err)
	}
	return stdout.String(), nil
}
