package installer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRunner is the version-control client used for checkout installs and updates
type GitRunner interface {
	// Available reports whether the client can be used at all
	Available() bool
	// Clone makes a shallow clone of url into dest at ref; an empty ref clones the default branch
	Clone(ctx context.Context, url, ref, dest string) error
	// IsTrackable reports whether dir is a checkout on a branch that can be pulled
	IsTrackable(ctx context.Context, dir string) bool
	// LocalHead returns the commit checked out in dir
	LocalHead(ctx context.Context, dir string) (string, error)
	// RemoteHead returns the commit the tracked remote branch points at
	RemoteHead(ctx context.Context, dir string) (string, error)
	// Pull fast-forwards dir to its remote branch
	Pull(ctx context.Context, dir string) error
}

// ExecGit runs the git executable
type ExecGit struct {
	binary string
}

// NewExecGit creates a runner for the git binary on PATH
func NewExecGit() *ExecGit {
	return &ExecGit{binary: "git"}
}

// gitCommand is a single git invocation
type gitCommand struct {
	binary string
	dir    string
	args   []string
}

func (g *ExecGit) command(dir string, args ...string) *gitCommand {
	return &gitCommand{binary: g.binary, dir: dir, args: args}
}

func (c *gitCommand) run(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, c.args...)
	if c.dir != "" {
		cmd.Dir = c.dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %s", strings.Join(c.args, " "), strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Available reports whether git is on PATH
func (g *ExecGit) Available() bool {
	_, err := exec.LookPath(g.binary)
	return err == nil
}

// Clone makes a depth-1 clone
func (g *ExecGit) Clone(ctx context.Context, url, ref, dest string) error {
	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, dest)
	_, err := g.command("", args...).run(ctx)
	return err
}

// IsTrackable is false for non-checkouts and for detached heads, which is how
// a clone of a tag looks
func (g *ExecGit) IsTrackable(ctx context.Context, dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	_, err := g.command(dir, "symbolic-ref", "-q", "HEAD").run(ctx)
	return err == nil
}

// LocalHead returns HEAD's commit
func (g *ExecGit) LocalHead(ctx context.Context, dir string) (string, error) {
	return g.command(dir, "rev-parse", "HEAD").run(ctx)
}

// RemoteHead asks the remote for the commit of the current branch without
// touching the working tree
func (g *ExecGit) RemoteHead(ctx context.Context, dir string) (string, error) {
	branch, err := g.command(dir, "rev-parse", "--abbrev-ref", "HEAD").run(ctx)
	if err != nil {
		return "", err
	}

	out, err := g.command(dir, "ls-remote", "origin", "refs/heads/"+branch).run(ctx)
	if err != nil {
		return "", err
	}

	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("remote branch %s not found", branch)
	}
	return fields[0], nil
}

// Pull fast-forwards the checkout
func (g *ExecGit) Pull(ctx context.Context, dir string) error {
	_, err := g.command(dir, "pull", "--ff-only").run(ctx)
	return err
}
