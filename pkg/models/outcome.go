package models

import (
	"errors"
	"fmt"
	"time"
)

// OutcomeStatus is the terminal status of one task.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates the worker finished all of its work.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomePartialSuccess indicates the worker produced usable but incomplete work.
	OutcomePartialSuccess OutcomeStatus = "partial_success"
	// OutcomeFailed indicates the task failed.
	OutcomeFailed OutcomeStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s OutcomeStatus) Valid() bool {
	switch s {
	case OutcomeSuccess, OutcomePartialSuccess, OutcomeFailed:
		return true
	default:
		return false
	}
}

// ErrorKind classifies why a task failed.
type ErrorKind string

const (
	// ErrorKindNone is used for non-failed outcomes.
	ErrorKindNone ErrorKind = ""
	// ErrorKindWorkerFailure means the worker returned an error or panicked.
	ErrorKindWorkerFailure ErrorKind = "worker_failure"
	// ErrorKindWorkerTimeout means the worker exceeded its time budget.
	ErrorKindWorkerTimeout ErrorKind = "worker_timeout"
	// ErrorKindRunStopped means the task was never started because the run was stopped.
	ErrorKindRunStopped ErrorKind = "run_stopped"
)

// TaskOutcome is the terminal result of one task's execution.
// It is written once by the task executor and read-only thereafter.
type TaskOutcome struct {
	TaskName      string        `json:"task_name"`
	Priority      int           `json:"priority"`
	Status        OutcomeStatus `json:"status"`
	Summary       string        `json:"summary"`
	ArtifactPaths []string      `json:"artifact_paths"`
	// Error is present iff Status is OutcomeFailed.
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// WorkingDir is the directory the worker ran in.
	WorkingDir   string `json:"working_dir"`
	RevisionLine string `json:"revision_line,omitempty"`
	// DegradedIsolation is set when the task ran in the shared fallback directory.
	DegradedIsolation bool     `json:"degraded_isolation,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

// Duration returns how long the worker ran.
func (o TaskOutcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Succeeded reports whether the outcome counts as a success.
// Partial success is a first-class successful terminal state.
func (o TaskOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess || o.Status == OutcomePartialSuccess
}

// Validate checks the outcome's invariants.
func (o TaskOutcome) Validate() error {
	if o.TaskName == "" {
		return errors.New("outcome has no task name")
	}
	if !o.Status.Valid() {
		return fmt.Errorf("outcome %s: unknown status %q", o.TaskName, o.Status)
	}
	if o.Status == OutcomeFailed && o.Error == "" {
		return fmt.Errorf("outcome %s: failed without error", o.TaskName)
	}
	if o.Status != OutcomeFailed && o.Error != "" {
		return fmt.Errorf("outcome %s: error set on %s outcome", o.TaskName, o.Status)
	}
	return nil
}

// FailedOutcome builds a failed outcome for a task that never reached a worker.
func FailedOutcome(task TaskDescriptor, kind ErrorKind, err error, at time.Time) TaskOutcome {
	msg := "task failed"
	if err != nil {
		msg = err.Error()
	}
	return TaskOutcome{
		TaskName:      task.Name,
		Priority:      task.EffectivePriority(),
		Status:        OutcomeFailed,
		Summary:       msg,
		ArtifactPaths: []string{},
		Error:         msg,
		ErrorKind:     kind,
		StartedAt:     at,
		FinishedAt:    at,
	}
}
