package models

import "time"

// WorkspaceState represents the provisioning state of a workspace.
type WorkspaceState string

const (
	// WorkspaceAbsent indicates no directory has been bound yet.
	WorkspaceAbsent WorkspaceState = "absent"
	// WorkspaceProvisioned indicates the directory is bound and ready.
	WorkspaceProvisioned WorkspaceState = "provisioned"
	// WorkspaceInUse indicates a task is currently executing in the directory.
	WorkspaceInUse WorkspaceState = "in_use"
	// WorkspaceFailed indicates provisioning failed.
	WorkspaceFailed WorkspaceState = "failed"
)

// Valid returns true if the state is a known value.
func (s WorkspaceState) Valid() bool {
	switch s {
	case WorkspaceAbsent, WorkspaceProvisioned, WorkspaceInUse, WorkspaceFailed:
		return true
	default:
		return false
	}
}

// Usable reports whether a task may execute in a workspace in this state.
func (s WorkspaceState) Usable() bool {
	return s == WorkspaceProvisioned || s == WorkspaceInUse
}

// Workspace is an isolated working directory bound to a dedicated revision line.
// Each workspace is owned exclusively by one task for the lifetime of a run.
type Workspace struct {
	// TaskName is a lookup back-reference to the owning task.
	TaskName string `json:"task_name"`
	// Path is the directory root the worker operates within.
	Path string `json:"path"`
	// RevisionLine is the branch bound to this workspace.
	RevisionLine string `json:"revision_line"`
	// State is the current provisioning state.
	State WorkspaceState `json:"state"`
	// CreatedAt is when the workspace record was created.
	CreatedAt time.Time `json:"created_at"`
	// Error holds the provisioning failure, if any.
	Error string `json:"error,omitempty"`
}
