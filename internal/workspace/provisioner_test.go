package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

func newTestProvisioner(t *testing.T, backend Backend) *Provisioner {
	t.Helper()
	p, err := NewProvisioner(backend, t.TempDir())
	if err != nil {
		t.Fatalf("NewProvisioner() error = %v", err)
	}
	return p
}

func TestProvision_DeterministicNaming(t *testing.T) {
	backend := NewMemoryBackend()
	p := newTestProvisioner(t, backend)

	ws, err := p.Provision(context.Background(), "button")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if ws.RevisionLine != "mosaic/button" {
		t.Errorf("RevisionLine = %q, want %q", ws.RevisionLine, "mosaic/button")
	}
	if ws.Path != filepath.Join(p.BaseDir(), "button") {
		t.Errorf("Path = %q, want under base dir", ws.Path)
	}
	if ws.State != models.WorkspaceProvisioned {
		t.Errorf("State = %q, want provisioned", ws.State)
	}
	if !backend.HasLine("mosaic/button") {
		t.Error("revision line was not created")
	}
}

func TestProvision_Idempotent(t *testing.T) {
	backend := NewMemoryBackend()
	p := newTestProvisioner(t, backend)
	ctx := context.Background()

	first, err := p.Provision(ctx, "card")
	if err != nil {
		t.Fatalf("first Provision() error = %v", err)
	}
	second, err := p.Provision(ctx, "card")
	if err != nil {
		t.Fatalf("second Provision() error = %v", err)
	}

	if *first != *second {
		t.Errorf("second call returned %+v, want %+v", second, first)
	}
	if got := backend.Calls("EnsureRevisionLine"); got != 1 {
		t.Errorf("EnsureRevisionLine calls = %d, want 1", got)
	}
	if got := backend.Calls("BindWorkingDirectory"); got != 1 {
		t.Errorf("BindWorkingDirectory calls = %d, want 1", got)
	}
	if got := backend.Calls("IsBound"); got != 1 {
		t.Errorf("IsBound calls = %d, want 1 (second call should not reach backend)", got)
	}
}

func TestProvision_AdoptsExistingBinding(t *testing.T) {
	backend := NewMemoryBackend()
	p := newTestProvisioner(t, backend)
	backend.Bind("mosaic/header", p.PathFor("header"))

	ws, err := p.Provision(context.Background(), "header")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if ws.State != models.WorkspaceProvisioned {
		t.Errorf("State = %q, want provisioned", ws.State)
	}
	if backend.Calls("EnsureRevisionLine") != 0 || backend.Calls("BindWorkingDirectory") != 0 {
		t.Error("adopting an existing binding should not mutate the backend")
	}
}

func TestProvision_Conflict(t *testing.T) {
	backend := NewMemoryBackend()
	p := newTestProvisioner(t, backend)
	backend.Bind("mosaic/card", "/somewhere/else")

	ws, err := p.Provision(context.Background(), "card")
	if !errors.Is(err, ErrWorkspaceConflict) {
		t.Fatalf("Provision() error = %v, want ErrWorkspaceConflict", err)
	}
	if ws == nil || ws.State != models.WorkspaceFailed {
		t.Fatalf("workspace = %+v, want failed record", ws)
	}
	got, ok := p.Get("card")
	if !ok || got.State != models.WorkspaceFailed || got.Error == "" {
		t.Errorf("Get(card) = %+v, %v", got, ok)
	}
}

func TestProvision_BackendFailure(t *testing.T) {
	backend := NewMemoryBackend()
	p := newTestProvisioner(t, backend)
	backend.FailBind("mosaic/input", errors.New("disk full"))

	_, err := p.Provision(context.Background(), "input")
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Provision() error = %v, want wrapped backend error", err)
	}
	if errors.Is(err, ErrWorkspaceConflict) {
		t.Error("generic backend failure should not be a conflict")
	}
	ws, _ := p.Get("input")
	if ws.State != models.WorkspaceFailed {
		t.Errorf("State = %q, want failed", ws.State)
	}
}

func TestProvision_RetriesAfterFailure(t *testing.T) {
	backend := NewMemoryBackend()
	p := newTestProvisioner(t, backend)
	backend.Bind("mosaic/card", "/somewhere/else")

	if _, err := p.Provision(context.Background(), "card"); err == nil {
		t.Fatal("expected conflict")
	}
	if err := backend.Release(context.Background(), "mosaic/card", "/somewhere/else", false); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	ws, err := p.Provision(context.Background(), "card")
	if err != nil {
		t.Fatalf("Provision() after release error = %v", err)
	}
	if ws.State != models.WorkspaceProvisioned {
		t.Errorf("State = %q, want provisioned", ws.State)
	}
}

func TestProvision_ConcurrentSameName(t *testing.T) {
	backend := NewMemoryBackend()
	p := newTestProvisioner(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Provision(context.Background(), "button"); err != nil {
				t.Errorf("Provision() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := backend.Calls("BindWorkingDirectory"); got != 1 {
		t.Errorf("BindWorkingDirectory calls = %d, want 1", got)
	}
}

func TestProvisionAll_IsolatesFailures(t *testing.T) {
	backend := NewMemoryBackend()
	p := newTestProvisioner(t, backend)
	backend.Bind("mosaic/card", "/somewhere/else")

	names := []string{"button", "input", "card", "header"}
	workspaces, failures := p.ProvisionAll(context.Background(), names, 2)

	if len(failures) != 1 {
		t.Fatalf("failures = %v, want exactly card", failures)
	}
	if !errors.Is(failures["card"], ErrWorkspaceConflict) {
		t.Errorf("card failure = %v, want conflict", failures["card"])
	}
	for _, name := range []string{"button", "input", "header"} {
		ws, ok := workspaces[name]
		if !ok || ws.State != models.WorkspaceProvisioned {
			t.Errorf("workspace %s = %+v, want provisioned", name, ws)
		}
	}
	if ws := workspaces["card"]; ws == nil || ws.State != models.WorkspaceFailed {
		t.Errorf("card workspace = %+v, want failed record", ws)
	}
}

func TestStateTransitions(t *testing.T) {
	p := newTestProvisioner(t, NewMemoryBackend())
	if _, err := p.Provision(context.Background(), "button"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if err := p.MarkReleased("button"); err == nil {
		t.Error("MarkReleased on provisioned workspace should fail")
	}
	if err := p.MarkInUse("button"); err != nil {
		t.Fatalf("MarkInUse() error = %v", err)
	}
	if ws, _ := p.Get("button"); ws.State != models.WorkspaceInUse {
		t.Errorf("State = %q, want in_use", ws.State)
	}
	if err := p.MarkReleased("button"); err != nil {
		t.Fatalf("MarkReleased() error = %v", err)
	}
	if ws, _ := p.Get("button"); ws.State != models.WorkspaceProvisioned {
		t.Errorf("State = %q, want provisioned", ws.State)
	}
	if err := p.MarkInUse("missing"); !errors.Is(err, ErrUnknownWorkspace) {
		t.Errorf("MarkInUse(missing) error = %v, want ErrUnknownWorkspace", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	p := newTestProvisioner(t, NewMemoryBackend())
	ws, err := p.Provision(context.Background(), "button")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	ws.State = models.WorkspaceFailed

	got, _ := p.Get("button")
	if got.State != models.WorkspaceProvisioned {
		t.Error("mutating a returned workspace changed the tracked record")
	}
}

func TestTeardownAndCleanupOrphans(t *testing.T) {
	backend := NewMemoryBackend()
	p := newTestProvisioner(t, backend)
	ctx := context.Background()

	if _, err := p.Provision(ctx, "button"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	backend.Bind("mosaic/stale", "/old/stale")
	backend.Bind("feature/keep", "/old/keep")

	var removedPaths []string
	removed, err := p.CleanupOrphans(ctx, func(path string) { removedPaths = append(removedPaths, path) })
	if err != nil {
		t.Fatalf("CleanupOrphans() error = %v", err)
	}
	if removed != 1 || len(removedPaths) != 1 || removedPaths[0] != "/old/stale" {
		t.Errorf("removed = %d %v, want only /old/stale", removed, removedPaths)
	}
	if backend.HasLine("mosaic/stale") {
		t.Error("orphan revision line should be deleted")
	}
	if !backend.HasLine("feature/keep") || !backend.HasLine("mosaic/button") {
		t.Error("non-orphan lines should be kept")
	}

	if err := p.Teardown(ctx, "button", true); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if _, ok := p.Get("button"); ok {
		t.Error("Teardown should forget the workspace")
	}
	if backend.HasLine("mosaic/button") {
		t.Error("Teardown with deleteLine should remove the revision line")
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name       string
		wantPrefix string
		exact      bool
	}{
		{"button", "button", true},
		{"nav-bar", "nav-bar", true},
		{"icon_set", "icon_set", true},
		{"Primary Button", "primary-button-", false},
		{"card/elevated", "card-elevated-", false},
		{"../../etc", "etc-", false},
		{"***", "task-", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slug(tt.name)
			if tt.exact && got != tt.wantPrefix {
				t.Errorf("Slug(%q) = %q, want %q", tt.name, got, tt.wantPrefix)
			}
			if !tt.exact && !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("Slug(%q) = %q, want prefix %q", tt.name, got, tt.wantPrefix)
			}
			if strings.ContainsAny(got, "/ .") {
				t.Errorf("Slug(%q) = %q contains unsafe characters", tt.name, got)
			}
		})
	}

	if Slug("Card") == Slug("card") {
		t.Error("distinct names should not share a slug")
	}
	if Slug("Primary Button") != Slug("Primary Button") {
		t.Error("Slug should be deterministic")
	}
}

func TestNewProvisioner_Validation(t *testing.T) {
	if _, err := NewProvisioner(nil, "/tmp"); err == nil {
		t.Error("nil backend should be rejected")
	}
	if _, err := NewProvisioner(NewMemoryBackend(), ""); err == nil {
		t.Error("empty base dir should be rejected")
	}
	p, err := NewProvisioner(NewMemoryBackend(), t.TempDir(), WithPrefix("/ui/"))
	if err != nil {
		t.Fatalf("NewProvisioner() error = %v", err)
	}
	if got := p.RevisionLine("button"); got != "ui/button" {
		t.Errorf("RevisionLine = %q, want ui/button", got)
	}
}
