// Package workspace provisions one isolated working directory per task,
// each bound to its own revision line.
package workspace

import (
	"context"
	"errors"
)

// ErrWorkspaceConflict is returned when a revision line is already checked
// out in a different directory.
var ErrWorkspaceConflict = errors.New("revision line bound to another directory")

// Backend is the narrow version-control capability the Provisioner needs.
type Backend interface {
	// EnsureRevisionLine creates the named revision line if it does not exist.
	EnsureRevisionLine(ctx context.Context, name string) error
	// BindWorkingDirectory checks out the revision line into path.
	// Returns an error wrapping ErrWorkspaceConflict when the line is
	// already bound to a different directory.
	BindWorkingDirectory(ctx context.Context, name, path string) error
	// IsBound reports whether path is already bound to the revision line.
	IsBound(ctx context.Context, name, path string) (bool, error)
	// Release unbinds path and optionally deletes the revision line.
	Release(ctx context.Context, name, path string, deleteLine bool) error
}

// Binding is a directory currently bound to a revision line.
type Binding struct {
	Line string
	Path string
}

// BindingLister is implemented by backends that can enumerate their bindings.
// The Provisioner uses it for orphan cleanup.
type BindingLister interface {
	Bindings(ctx context.Context) ([]Binding, error)
}
