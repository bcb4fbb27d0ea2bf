// Package vcs provides the version-control audit sink for sync runs.
//
// The engine consults the VCS only for "what changed" and to record each
// run as a commit; all reconciliation happens against the canonical store.
// The interface keeps the orchestrator testable without a repository and
// leaves room for other backends.
package vcs

import "context"

// CommitOptions configures a commit operation.
type CommitOptions struct {
	// Message is the commit message (required).
	Message string

	// Paths specifies files to stage and commit. Empty commits nothing.
	Paths []string

	// NoVerify skips pre-commit hooks.
	NoVerify bool
}

// VCS defines the version-control operations the engine needs.
type VCS interface {
	// Name returns the backend name ("git").
	Name() string

	// RepoRoot returns the repository root directory path.
	RepoRoot() (string, error)

	// HasChanges returns true if there are uncommitted changes.
	// If paths are specified, only those paths are checked.
	HasChanges(paths ...string) (bool, error)

	// Commit stages the given paths and creates a commit.
	Commit(ctx context.Context, opts CommitOptions) error

	// Head returns the commit hash of HEAD.
	Head() (string, error)
}
