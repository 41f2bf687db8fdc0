package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ShayCichocki/mosaic/internal/git"
)

// GitBackend binds revision lines to directories using git branches and worktrees.
type GitBackend struct {
	git git.Runner
}

// NewGitBackend creates a backend for the repository at repoPath.
func NewGitBackend(repoPath string) *GitBackend {
	return &GitBackend{git: git.NewRunner(repoPath)}
}

// NewGitBackendWithRunner creates a backend with a custom git runner.
// This is useful for testing with mock git runners.
func NewGitBackendWithRunner(runner git.Runner) *GitBackend {
	return &GitBackend{git: runner}
}

// EnsureRevisionLine creates the branch from HEAD if it does not exist.
func (b *GitBackend) EnsureRevisionLine(ctx context.Context, name string) error {
	exists, err := b.git.BranchExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := b.git.CreateBranch(ctx, name, ""); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// BindWorkingDirectory adds a worktree at path for the branch.
func (b *GitBackend) BindWorkingDirectory(ctx context.Context, name, path string) error {
	entries, err := b.list(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Branch != name {
			continue
		}
		if samePath(e.Path, path) {
			return nil
		}
		return fmt.Errorf("branch %s checked out at %s: %w", name, e.Path, ErrWorkspaceConflict)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create worktree parent: %w", err)
	}
	if err := b.git.WorktreeAdd(ctx, path, name); err != nil {
		return fmt.Errorf("add worktree %s: %w", path, err)
	}
	return nil
}

// IsBound reports whether a worktree at path has the branch checked out.
func (b *GitBackend) IsBound(ctx context.Context, name, path string) (bool, error) {
	entries, err := b.list(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Branch == name && samePath(e.Path, path) {
			return true, nil
		}
	}
	return false, nil
}

// Release removes the worktree and optionally deletes the branch.
func (b *GitBackend) Release(ctx context.Context, name, path string, deleteLine bool) error {
	if err := b.git.WorktreeRemove(ctx, path, true); err != nil {
		// If git worktree remove fails, try removing the directory directly
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree %s: %w", path, err)
		}
		_ = b.git.WorktreePrune(ctx) // Ignore errors, directory already gone
	}
	if deleteLine {
		exists, err := b.git.BranchExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			if err := b.git.DeleteBranch(ctx, name); err != nil {
				return fmt.Errorf("delete branch %s: %w", name, err)
			}
		}
	}
	return nil
}

// Bindings returns every worktree that has a branch checked out.
func (b *GitBackend) Bindings(ctx context.Context) ([]Binding, error) {
	entries, err := b.list(ctx)
	if err != nil {
		return nil, err
	}
	var out []Binding
	for _, e := range entries {
		if e.Branch == "" {
			continue
		}
		out = append(out, Binding{Line: e.Branch, Path: e.Path})
	}
	return out, nil
}

func (b *GitBackend) list(ctx context.Context) ([]git.WorktreeEntry, error) {
	output, err := b.git.WorktreeListPorcelain(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return git.ParseWorktreeList(output)
}

// samePath compares two paths after cleaning and resolving symlinks where possible.
func samePath(a, b string) bool {
	return resolvePath(a) == resolvePath(b)
}

func resolvePath(p string) string {
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return p
}

// Verify GitBackend implements the backend interfaces at compile time.
var (
	_ Backend       = (*GitBackend)(nil)
	_ BindingLister = (*GitBackend)(nil)
)
