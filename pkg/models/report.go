package models

import "time"

// WarningKind classifies a non-fatal condition surfaced in a run report.
type WarningKind string

const (
	// WarningDuplicateOutcome means a second outcome was recorded for the same task.
	WarningDuplicateOutcome WarningKind = "duplicate_outcome"
	// WarningWorkspaceConflict means the task's revision line was checked out elsewhere.
	WarningWorkspaceConflict WarningKind = "workspace_conflict"
	// WarningWorkspaceFailed means provisioning failed for another reason.
	WarningWorkspaceFailed WarningKind = "workspace_failed"
	// WarningDependencyOrder means a dependency is not in an earlier tier.
	WarningDependencyOrder WarningKind = "dependency_order"
	// WarningDependencyUnknown means a dependency names a task not in the plan.
	WarningDependencyUnknown WarningKind = "dependency_unknown"
	// WarningDependencyCycle means the dependency hints form a cycle.
	WarningDependencyCycle WarningKind = "dependency_cycle"
	// WarningRunStopped means the run was stopped before every task started.
	WarningRunStopped WarningKind = "run_stopped"
	// WarningReportHook means a finalization hook failed.
	WarningReportHook WarningKind = "report_hook"
	// WarningInvalidField means a planned field was unusable and replaced by its default.
	WarningInvalidField WarningKind = "invalid_field"
)

// Warning is a non-fatal condition recorded during a run.
type Warning struct {
	Kind     WarningKind `json:"kind"`
	TaskName string      `json:"task_name,omitempty"`
	Message  string      `json:"message"`
}

// RunReport is the aggregated, finalized result of one dispatch run.
type RunReport struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`

	// Outcomes are in completion order, not submission order.
	Outcomes []TaskOutcome `json:"outcomes"`

	Total          int `json:"total"`
	Succeeded      int `json:"succeeded"`
	PartialSuccess int `json:"partial_success"`
	Failed         int `json:"failed"`

	Tiers    []TierTiming `json:"tiers"`
	Warnings []Warning    `json:"warnings,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// OK reports whether the run counts as an overall success.
func (r *RunReport) OK() bool {
	return r.Failed == 0
}

// Duration returns the overall run duration.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome returns the outcome recorded for the named task.
func (r *RunReport) Outcome(taskName string) (TaskOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.TaskName == taskName {
			return o, true
		}
	}
	return TaskOutcome{}, false
}

// WarningsOf returns the warnings of the given kind.
func (r *RunReport) WarningsOf(kind WarningKind) []Warning {
	var out []Warning
	for _, w := range r.Warnings {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}

// ArtifactPaths returns every artifact path across all outcomes, in outcome order.
func (r *RunReport) ArtifactPaths() []string {
	var paths []string
	for _, o := range r.Outcomes {
		paths = append(paths, o.ArtifactPaths...)
	}
	return paths
}
