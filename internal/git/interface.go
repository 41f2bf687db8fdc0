// Package git provides an interface for git operations.
package git

import "context"

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// BranchExists returns true if the branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// CreateBranch creates a new branch at base without checking it out.
	// An empty base means HEAD.
	CreateBranch(ctx context.Context, name, base string) error
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(ctx context.Context, name string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a new worktree at the given path for an existing branch.
	WorktreeAdd(ctx context.Context, path, branch string) error
	// WorktreeRemove removes the worktree, optionally with force.
	WorktreeRemove(ctx context.Context, path string, force bool) error
	// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
	WorktreeListPorcelain(ctx context.Context) (string, error)
	// WorktreePrune prunes worktrees with --expire now.
	WorktreePrune(ctx context.Context) error
}

// StatusOperations defines the interface for inspecting a working tree.
type StatusOperations interface {
	// Status returns the output of git status --porcelain --untracked-files=all.
	Status(ctx context.Context) (string, error)
}

// Runner defines the complete interface for git operations.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	BranchOperations
	WorktreeOperations
	StatusOperations
	// Run executes an arbitrary git command with the given arguments.
	// Returns the command output and an error if the command fails.
	Run(ctx context.Context, args ...string) (string, error)
}
