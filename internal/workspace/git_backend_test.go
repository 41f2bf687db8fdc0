package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

// fakeGit is an in-memory git.Runner recording the commands it receives.
type fakeGit struct {
	branches  map[string]bool
	worktrees map[string]string // path -> branch
	commands  []string
	removeErr error
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		branches:  map[string]bool{"main": true},
		worktrees: map[string]string{"/repo": "main"},
	}
}

func (f *fakeGit) record(format string, args ...interface{}) {
	f.commands = append(f.commands, fmt.Sprintf(format, args...))
}

func (f *fakeGit) CurrentBranch(ctx context.Context) (string, error) { return "main", nil }

func (f *fakeGit) BranchExists(ctx context.Context, name string) (bool, error) {
	return f.branches[name], nil
}

func (f *fakeGit) CreateBranch(ctx context.Context, name, base string) error {
	f.record("branch %s", name)
	f.branches[name] = true
	return nil
}

func (f *fakeGit) DeleteBranch(ctx context.Context, name string) error {
	f.record("branch -D %s", name)
	delete(f.branches, name)
	return nil
}

func (f *fakeGit) WorktreeAdd(ctx context.Context, path, branch string) error {
	f.record("worktree add %s %s", path, branch)
	if !f.branches[branch] {
		return errors.New("invalid reference: " + branch)
	}
	f.worktrees[path] = branch
	return nil
}

func (f *fakeGit) WorktreeRemove(ctx context.Context, path string, force bool) error {
	f.record("worktree remove %s", path)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.worktrees, path)
	return nil
}

func (f *fakeGit) WorktreeListPorcelain(ctx context.Context) (string, error) {
	var b strings.Builder
	for path, branch := range f.worktrees {
		fmt.Fprintf(&b, "worktree %s\nHEAD abc\nbranch refs/heads/%s\n\n", path, branch)
	}
	return b.String(), nil
}

func (f *fakeGit) WorktreePrune(ctx context.Context) error {
	f.record("worktree prune")
	return nil
}

func (f *fakeGit) Status(ctx context.Context) (string, error) { return "", nil }

func (f *fakeGit) Run(ctx context.Context, args ...string) (string, error) {
	f.record("%s", strings.Join(args, " "))
	return "", nil
}

func TestGitBackend_ProvisionCreatesBranchAndWorktree(t *testing.T) {
	fake := newFakeGit()
	backend := NewGitBackendWithRunner(fake)
	p := newTestProvisioner(t, backend)

	ws, err := p.Provision(context.Background(), "button")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if !fake.branches["mosaic/button"] {
		t.Error("branch mosaic/button not created")
	}
	if fake.worktrees[ws.Path] != "mosaic/button" {
		t.Errorf("worktree at %s = %q, want mosaic/button", ws.Path, fake.worktrees[ws.Path])
	}
}

func TestGitBackend_ExistingWorktreeIsReused(t *testing.T) {
	fake := newFakeGit()
	backend := NewGitBackendWithRunner(fake)
	p := newTestProvisioner(t, backend)

	path := p.PathFor("card")
	fake.branches["mosaic/card"] = true
	fake.worktrees[path] = "mosaic/card"

	if _, err := p.Provision(context.Background(), "card"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if len(fake.commands) != 0 {
		t.Errorf("expected no mutating git commands, got %v", fake.commands)
	}
}

func TestGitBackend_ConflictWhenBranchCheckedOutElsewhere(t *testing.T) {
	fake := newFakeGit()
	fake.branches["mosaic/card"] = true
	fake.worktrees["/elsewhere/card"] = "mosaic/card"
	backend := NewGitBackendWithRunner(fake)

	err := backend.BindWorkingDirectory(context.Background(), "mosaic/card", filepath.Join(t.TempDir(), "card"))
	if !errors.Is(err, ErrWorkspaceConflict) {
		t.Fatalf("BindWorkingDirectory() error = %v, want ErrWorkspaceConflict", err)
	}
}

func TestGitBackend_ReleaseDeletesBranch(t *testing.T) {
	fake := newFakeGit()
	fake.branches["mosaic/header"] = true
	fake.worktrees["/wt/header"] = "mosaic/header"
	backend := NewGitBackendWithRunner(fake)

	if err := backend.Release(context.Background(), "mosaic/header", "/wt/header", true); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, ok := fake.worktrees["/wt/header"]; ok {
		t.Error("worktree should be removed")
	}
	if fake.branches["mosaic/header"] {
		t.Error("branch should be deleted")
	}
}

func TestGitBackend_ReleaseFallsBackToRemoveAll(t *testing.T) {
	fake := newFakeGit()
	fake.removeErr = errors.New("worktree is dirty")
	backend := NewGitBackendWithRunner(fake)
	dir := filepath.Join(t.TempDir(), "gone")

	if err := backend.Release(context.Background(), "mosaic/gone", dir, false); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if fake.commands[len(fake.commands)-1] != "worktree prune" {
		t.Errorf("expected prune after directory removal, got %v", fake.commands)
	}
}

func TestGitBackend_Bindings(t *testing.T) {
	fake := newFakeGit()
	fake.worktrees["/wt/a"] = "mosaic/a"
	backend := NewGitBackendWithRunner(fake)

	bindings, err := backend.Bindings(context.Background())
	if err != nil {
		t.Fatalf("Bindings() error = %v", err)
	}
	if len(bindings) != 2 {
		t.Errorf("Bindings() = %v, want main and mosaic/a", bindings)
	}
}
