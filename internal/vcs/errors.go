package vcs

import "errors"

// Common errors returned by VCS operations. Check with errors.Is.
var (
	// ErrNotInRepo is returned when the working directory is not inside
	// a repository.
	ErrNotInRepo = errors.New("not in a git repository")

	// ErrGitNotAvailable is returned when the git binary is not installed
	// or not in PATH.
	ErrGitNotAvailable = errors.New("git binary not available")

	// ErrNothingToCommit is returned when a commit is requested but the
	// given paths have no changes.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// IsFatal returns true if the error indicates the VCS cannot be used at all,
// as opposed to a single failed operation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNotInRepo) || errors.Is(err, ErrGitNotAvailable)
}
