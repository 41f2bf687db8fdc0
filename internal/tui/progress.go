package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/ShayCichocki/mosaic/internal/dispatch"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

// TaskStatus is the display state of one task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskDone     TaskStatus = "done"
	TaskPartial  TaskStatus = "partial"
	TaskFailed   TaskStatus = "failed"
	TaskDegraded TaskStatus = "degraded"
)

// TaskRow is one line of the task table.
type TaskRow struct {
	Name      string
	Priority  int
	Status    TaskStatus
	Degraded  bool
	StartedAt time.Time
	Duration  time.Duration
	Detail    string
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// maxLogEntries bounds the activity log.
const maxLogEntries = 200

// ProgressState is everything the progress view renders. It is built only
// from engine events so it can be tested without a terminal.
type ProgressState struct {
	RunID        string
	Phase        string
	Total        int
	Finished     int
	Failed       int
	Tiers        int
	Priority     int
	Batch        int
	Stopping     bool
	Stopped      bool
	Report       *models.RunReport
	Tasks        map[string]*TaskRow
	Logs         []LogEntry
	DroppedCount int
}

// NewProgressState returns an empty state.
func NewProgressState() *ProgressState {
	return &ProgressState{Phase: dispatch.StateIdle.String(), Tasks: make(map[string]*TaskRow)}
}

// Apply folds one engine event into the state.
func (s *ProgressState) Apply(ev dispatch.Event) {
	if ev.RunID != "" {
		s.RunID = ev.RunID
	}
	switch ev.Type {
	case dispatch.EventStateChanged:
		s.Phase = ev.State.String()
		s.log(ev, "state", ev.State.String())
	case dispatch.EventPlanned:
		s.Total = ev.Count
		s.log(ev, "plan", fmt.Sprintf("%d tasks in %s", ev.Count, ev.Message))
	case dispatch.EventWorkspaceReady:
		s.row(ev.TaskName, ev.Priority)
	case dispatch.EventWorkspaceFailed:
		r := s.row(ev.TaskName, ev.Priority)
		r.Degraded = true
		s.log(ev, "workspace", fmt.Sprintf("%s: %s", ev.TaskName, errText(ev.Error)))
	case dispatch.EventTierStarted:
		s.Tiers++
		s.Priority = ev.Priority
		s.Batch = 0
		s.log(ev, "tier", fmt.Sprintf("priority %d started (%d tasks)", ev.Priority, ev.Count))
	case dispatch.EventTierCompleted:
		s.log(ev, "tier", fmt.Sprintf("priority %d finished", ev.Priority))
	case dispatch.EventBatchStarted:
		s.Batch = ev.Batch
	case dispatch.EventTaskStarted:
		r := s.row(ev.TaskName, ev.Priority)
		r.Status = TaskRunning
		if r.Degraded {
			r.Status = TaskDegraded
		}
		r.StartedAt = ev.Timestamp
		r.Detail = ev.Message
	case dispatch.EventTaskCompleted, dispatch.EventTaskFailed:
		s.finish(ev)
	case dispatch.EventRunStopped:
		s.Stopped = true
		s.log(ev, "stop", fmt.Sprintf("stopped before priority %d batch %d", ev.Priority, ev.Batch))
	case dispatch.EventRunDone:
		s.Report = ev.Report
		s.log(ev, "done", fmt.Sprintf("%d tasks reported", ev.Count))
	}
}

func (s *ProgressState) finish(ev dispatch.Event) {
	if ev.Outcome == nil {
		return
	}
	o := ev.Outcome
	r := s.row(o.TaskName, o.Priority)
	already := r.Status == TaskDone || r.Status == TaskPartial || r.Status == TaskFailed
	r.Duration = o.Duration()
	r.Degraded = r.Degraded || o.DegradedIsolation
	switch o.Status {
	case models.OutcomeSuccess:
		r.Status = TaskDone
		r.Detail = o.Summary
	case models.OutcomePartialSuccess:
		r.Status = TaskPartial
		r.Detail = o.Summary
	default:
		r.Status = TaskFailed
		r.Detail = o.Error
		if !already {
			s.Failed++
		}
		s.log(ev, "failed", fmt.Sprintf("%s: %s", o.TaskName, o.Error))
	}
	if !already {
		s.Finished++
	}
}

func (s *ProgressState) row(name string, priority int) *TaskRow {
	r, ok := s.Tasks[name]
	if !ok {
		r = &TaskRow{Name: name, Priority: priority, Status: TaskPending}
		s.Tasks[name] = r
	}
	if priority > 0 {
		r.Priority = priority
	}
	return r
}

func (s *ProgressState) log(ev dispatch.Event, kind, msg string) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.Logs = append(s.Logs, LogEntry{Timestamp: ts, Kind: kind, Message: msg})
	if len(s.Logs) > maxLogEntries {
		s.Logs = s.Logs[len(s.Logs)-maxLogEntries:]
	}
}

// Rows returns the task rows ordered by priority, then name.
func (s *ProgressState) Rows() []TaskRow {
	rows := make([]TaskRow, 0, len(s.Tasks))
	for _, r := range s.Tasks {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Priority != rows[j].Priority {
			return rows[i].Priority < rows[j].Priority
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}

// Running returns how many tasks are currently executing.
func (s *ProgressState) Running() int {
	n := 0
	for _, r := range s.Tasks {
		if r.Status == TaskRunning || r.Status == TaskDegraded {
			n++
		}
	}
	return n
}

// Percent returns completion as 0-100.
func (s *ProgressState) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Finished) / float64(s.Total) * 100
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
