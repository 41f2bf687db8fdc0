package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/mosaic/internal/dispatch"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

func outcomeEvent(name string, priority int, status models.OutcomeStatus) dispatch.Event {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	o := models.TaskOutcome{
		TaskName:   name,
		Priority:   priority,
		Status:     status,
		Summary:    "built " + name,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
	}
	typ := dispatch.EventTaskCompleted
	if status == models.OutcomeFailed {
		o.Summary = ""
		o.Error = name + " broke"
		o.ErrorKind = models.ErrorKindWorkerFailure
		typ = dispatch.EventTaskFailed
	}
	return dispatch.Event{Type: typ, TaskName: name, Priority: priority, Outcome: &o}
}

func TestProgressState_Apply(t *testing.T) {
	s := NewProgressState()
	events := []dispatch.Event{
		{Type: dispatch.EventStateChanged, RunID: "run-1", State: dispatch.StatePlanning},
		{Type: dispatch.EventPlanned, Count: 3, Message: "2 tiers"},
		{Type: dispatch.EventWorkspaceReady, TaskName: "button"},
		{Type: dispatch.EventWorkspaceFailed, TaskName: "input", Error: errors.New("branch exists")},
		{Type: dispatch.EventStateChanged, State: dispatch.StateDispatching},
		{Type: dispatch.EventTierStarted, Priority: 1, Count: 2},
		{Type: dispatch.EventBatchStarted, Priority: 1, Batch: 1, Count: 2},
		{Type: dispatch.EventTaskStarted, TaskName: "button", Priority: 1},
		{Type: dispatch.EventTaskStarted, TaskName: "input", Priority: 1},
	}
	for _, ev := range events {
		s.Apply(ev)
	}

	if s.RunID != "run-1" || s.Phase != dispatch.StateDispatching.String() {
		t.Errorf("run id %q phase %q", s.RunID, s.Phase)
	}
	if s.Total != 3 || s.Running() != 2 {
		t.Errorf("total %d running %d", s.Total, s.Running())
	}
	if got := s.Tasks["input"].Status; got != TaskDegraded {
		t.Errorf("input status = %s, want degraded", got)
	}

	s.Apply(outcomeEvent("button", 1, models.OutcomeSuccess))
	s.Apply(outcomeEvent("input", 1, models.OutcomeFailed))
	// A duplicate delivery must not be counted twice.
	s.Apply(outcomeEvent("input", 1, models.OutcomeFailed))

	if s.Finished != 2 || s.Failed != 1 {
		t.Errorf("finished %d failed %d, want 2 and 1", s.Finished, s.Failed)
	}
	if s.Running() != 0 {
		t.Errorf("running = %d after completion", s.Running())
	}
	if got := s.Tasks["button"].Duration; got != 3*time.Second {
		t.Errorf("button duration = %v", got)
	}
	if pct := s.Percent(); pct < 66 || pct > 67 {
		t.Errorf("percent = %.1f", pct)
	}
}

func TestProgressState_RowsOrdered(t *testing.T) {
	s := NewProgressState()
	s.Apply(dispatch.Event{Type: dispatch.EventTaskStarted, TaskName: "header", Priority: 3})
	s.Apply(dispatch.Event{Type: dispatch.EventTaskStarted, TaskName: "input", Priority: 1})
	s.Apply(dispatch.Event{Type: dispatch.EventTaskStarted, TaskName: "button", Priority: 1})

	var names []string
	for _, r := range s.Rows() {
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "button,input,header" {
		t.Errorf("rows = %v", names)
	}
}

func TestProgressState_LogBounded(t *testing.T) {
	s := NewProgressState()
	for i := 0; i < maxLogEntries+50; i++ {
		s.Apply(dispatch.Event{Type: dispatch.EventTierCompleted, Priority: i})
	}
	if len(s.Logs) != maxLogEntries {
		t.Errorf("log length = %d, want %d", len(s.Logs), maxLogEntries)
	}
}

func TestRunApp_FirstQuitRequestsStop(t *testing.T) {
	var reasons []string
	app := NewRunApp("design.yaml", func(reason string) { reasons = append(reasons, reason) })

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd != nil {
		t.Error("first q should not quit the program")
	}
	if len(reasons) != 1 || !app.State().Stopping {
		t.Fatalf("stop reasons = %v, stopping = %v", reasons, app.State().Stopping)
	}
	if !strings.Contains(app.View(), "Stopping after the current batch") {
		t.Error("view does not show the stopping notice")
	}

	_, cmd = app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("second press should quit")
	}
	if len(reasons) != 1 {
		t.Errorf("stop called %d times", len(reasons))
	}
}

func TestRunApp_QuitAfterDone(t *testing.T) {
	called := false
	app := NewRunApp("", func(string) { called = true })
	report := &models.RunReport{Total: 2, Succeeded: 1, Failed: 1}
	app.Update(DoneMsg{Report: report})

	if !strings.Contains(app.View(), "1 of 2 tasks failed") {
		t.Errorf("view = %s", app.View())
	}
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("q after done should quit")
	}
	if called {
		t.Error("stop should not be requested after the run finished")
	}
}

func TestRunApp_ViewShowsTasks(t *testing.T) {
	app := NewRunApp("brief.md", nil)
	app.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	app.Update(EventMsg{Event: dispatch.Event{Type: dispatch.EventPlanned, Count: 2, Message: "1 tiers"}})
	app.Update(EventMsg{Event: outcomeEvent("button", 1, models.OutcomeSuccess)})
	app.Update(EventMsg{Event: outcomeEvent("card", 1, models.OutcomePartialSuccess)})

	view := app.View()
	for _, want := range []string{"brief.md", "button", "card", "2/2 finished", "built card"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestRunApp_AbortedRun(t *testing.T) {
	app := NewRunApp("", nil)
	app.Update(DoneMsg{Err: errors.New("planning failed: zero tasks")})
	if !strings.Contains(app.View(), "Run aborted") {
		t.Errorf("view = %s", app.View())
	}
}

func TestFramesPerSecond(t *testing.T) {
	tests := []struct {
		refresh time.Duration
		want    int
	}{
		{0, 0},
		{100 * time.Millisecond, 10},
		{2 * time.Second, 1},
		{time.Millisecond, 120},
	}
	for _, tt := range tests {
		if got := framesPerSecond(tt.refresh); got != tt.want {
			t.Errorf("framesPerSecond(%v) = %d, want %d", tt.refresh, got, tt.want)
		}
	}
}
