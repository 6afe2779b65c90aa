// Package docker shells out to a real docker CLI for the subcommands the
// proxy does not translate.
package docker

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/chainguard-dev/clog"
)

// Exit code used when the delegated binary cannot be executed at all, as
// the docker CLI itself does for client-side failures.
const execFailureCode = 125

// CLI wraps a local docker binary.
type CLI struct {
	path string
}

// New returns a CLI delegating to the binary at path.
func New(path string) *CLI {
	return &CLI{path: path}
}

// Run executes the docker binary with args, inheriting the caller's
// standard streams, and returns the exit code the binary produced.
func (c *CLI) Run(ctx context.Context, args ...string) int {
	log := clog.FromContext(ctx)

	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Debug("delegating to local docker", "path", c.path, "args", args)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		log.Error("could not execute local docker binary", "path", c.path, "error", err)
		return execFailureCode
	}
	return 0
}
