package dispatch

import (
	"time"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventStateChanged indicates the engine moved to a new state.
	EventStateChanged EventType = "state_changed"
	// EventPlanned indicates the planner produced the task list.
	EventPlanned EventType = "planned"
	// EventWorkspaceReady indicates a task's workspace was provisioned.
	EventWorkspaceReady EventType = "workspace_ready"
	// EventWorkspaceFailed indicates a task will run in the fallback directory.
	EventWorkspaceFailed EventType = "workspace_failed"
	// EventTierStarted indicates a priority tier has started.
	EventTierStarted EventType = "tier_started"
	// EventTierCompleted indicates every batch of a tier has finished.
	EventTierCompleted EventType = "tier_completed"
	// EventBatchStarted indicates a batch has started.
	EventBatchStarted EventType = "batch_started"
	// EventBatchCompleted indicates every task of a batch has finished.
	EventBatchCompleted EventType = "batch_completed"
	// EventTaskStarted indicates a worker was invoked for a task.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task finished with success or partial success.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventRunStopped indicates a stop request was honored at a batch boundary.
	EventRunStopped EventType = "run_stopped"
	// EventRunDone indicates the report was finalized.
	EventRunDone EventType = "run_done"
)

// Event represents an event emitted by the engine.
// These events are used to update the TUI and track progress.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the run.
	RunID string
	// State is the engine state (state_changed events).
	State State
	// TaskName is the related task, if applicable.
	TaskName string
	// Priority is the tier priority, if applicable.
	Priority int
	// Batch is the 1-based batch index within the tier, if applicable.
	Batch int
	// Count is the number of tasks the event covers.
	Count int
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Outcome is set on task_completed and task_failed events.
	Outcome *models.TaskOutcome
	// Report is set on the run_done event.
	Report *models.RunReport
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
