package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// MemoryBackend is an in-memory Backend used by tests and dry runs.
// Nothing touches the filesystem.
type MemoryBackend struct {
	mu       sync.Mutex
	lines    map[string]bool
	bound    map[string]string // line -> path
	failures map[string]error  // line -> error returned from BindWorkingDirectory
	calls    map[string]int
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		lines:    make(map[string]bool),
		bound:    make(map[string]string),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Bind records an existing binding, as if a previous process had provisioned it.
// Binding a line to a path other than the one the Provisioner computes
// simulates a conflict.
func (m *MemoryBackend) Bind(line, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[line] = true
	m.bound[line] = filepath.Clean(path)
}

// FailBind makes BindWorkingDirectory fail for the line with err.
func (m *MemoryBackend) FailBind(line string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[line] = err
}

// Calls returns how many times the named method has been invoked.
func (m *MemoryBackend) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// HasLine reports whether the revision line exists.
func (m *MemoryBackend) HasLine(line string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines[line]
}

// EnsureRevisionLine creates the line if needed.
func (m *MemoryBackend) EnsureRevisionLine(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["EnsureRevisionLine"]++
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lines[name] = true
	return nil
}

// BindWorkingDirectory binds path to the line.
func (m *MemoryBackend) BindWorkingDirectory(ctx context.Context, name, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["BindWorkingDirectory"]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := m.failures[name]; ok {
		return err
	}
	if !m.lines[name] {
		return fmt.Errorf("revision line %s does not exist", name)
	}
	path = filepath.Clean(path)
	if existing, ok := m.bound[name]; ok {
		if existing == path {
			return nil
		}
		return fmt.Errorf("line %s bound at %s: %w", name, existing, ErrWorkspaceConflict)
	}
	m.bound[name] = path
	return nil
}

// IsBound reports whether path is bound to the line.
func (m *MemoryBackend) IsBound(ctx context.Context, name, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["IsBound"]++
	existing, ok := m.bound[name]
	return ok && existing == filepath.Clean(path), nil
}

// Release unbinds the line and optionally deletes it.
func (m *MemoryBackend) Release(ctx context.Context, name, path string, deleteLine bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Release"]++
	if existing, ok := m.bound[name]; ok && existing == filepath.Clean(path) {
		delete(m.bound, name)
	}
	if deleteLine {
		delete(m.lines, name)
	}
	return nil
}

// Bindings returns the current bindings.
func (m *MemoryBackend) Bindings(ctx context.Context) ([]Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Binding, 0, len(m.bound))
	for line, path := range m.bound {
		out = append(out, Binding{Line: line, Path: path})
	}
	return out, nil
}

// Verify MemoryBackend implements the backend interfaces at compile time.
var (
	_ Backend       = (*MemoryBackend)(nil)
	_ BindingLister = (*MemoryBackend)(nil)
)
