package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git implements VCS by shelling out to the git binary.
type Git struct {
	repoRoot string
}

// Detect locates the git repository containing dir.
func Detect(dir string) (*Git, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, ErrGitNotAvailable
	}

	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return nil, ErrNotInRepo
	}

	return &Git{repoRoot: strings.TrimSpace(string(output))}, nil
}

// Name returns "git".
func (g *Git) Name() string {
	return "git"
}

// RepoRoot returns the repository root directory.
func (g *Git) RepoRoot() (string, error) {
	return g.repoRoot, nil
}

// HasChanges returns true if there are uncommitted changes.
// If paths are specified, only those paths are checked.
func (g *Git) HasChanges(paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Commit stages the given paths and creates a commit.
func (g *Git) Commit(ctx context.Context, opts CommitOptions) error {
	if opts.Message == "" {
		return fmt.Errorf("commit message is required")
	}
	if len(opts.Paths) == 0 {
		return ErrNothingToCommit
	}

	changed, err := g.HasChanges(opts.Paths...)
	if err != nil {
		return err
	}
	if !changed {
		return ErrNothingToCommit
	}

	addArgs := append([]string{"add", "--"}, opts.Paths...)
	cmd := exec.CommandContext(ctx, "git", addArgs...)
	cmd.Dir = g.repoRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add failed: %w\n%s", err, output)
	}

	args := []string{"commit", "-m", opts.Message}
	if opts.NoVerify {
		args = append(args, "--no-verify")
	}
	args = append(args, "--")
	args = append(args, opts.Paths...)

	cmd = exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %w\n%s", err, output)
	}
	return nil
}

// Head returns the commit hash of HEAD.
func (g *Git) Head() (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
