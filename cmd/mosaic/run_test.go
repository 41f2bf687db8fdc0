package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mosaic/internal/config"
	"github.com/ShayCichocki/mosaic/internal/dispatch"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

func TestChoosePlanner(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "design.yaml"), []byte("components: []\n"), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "folder.json"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tests := []struct {
		name    string
		kind    string
		source  string
		want    string
		wantErr bool
	}{
		{name: "existing yaml file", kind: plannerAuto, source: "design.yaml", want: plannerManifest},
		{name: "missing yaml file", kind: plannerAuto, source: "missing.yaml", want: plannerClaude},
		{name: "directory with manifest extension", kind: plannerAuto, source: "folder.json", want: plannerClaude},
		{name: "inline description", kind: "", source: "A login form with two buttons", want: plannerClaude},
		{name: "explicit manifest", kind: plannerManifest, source: "anything", want: plannerManifest},
		{name: "explicit claude for manifest file", kind: plannerClaude, source: "design.yaml", want: plannerClaude},
		{name: "unknown kind", kind: "magic", source: "design.yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := choosePlanner(tt.kind, tt.source, dir)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("choosePlanner(%q) expected error", tt.kind)
				}
				return
			}
			if err != nil {
				t.Fatalf("choosePlanner() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("choosePlanner(%q, %q) = %q, want %q", tt.kind, tt.source, got, tt.want)
			}
		})
	}
}

func TestFindGitRoot(t *testing.T) {
	root := t.TempDir()
	// A linked worktree has a .git file rather than a directory.
	if err := os.WriteFile(filepath.Join(root, ".git"), []byte("gitdir: /elsewhere\n"), 0644); err != nil {
		t.Fatalf("write .git: %v", err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := findGitRoot(nested)
	if err != nil {
		t.Fatalf("findGitRoot() error = %v", err)
	}
	if got != root {
		t.Errorf("findGitRoot() = %q, want %q", got, root)
	}
}

func TestBuildSchedule_Priority(t *testing.T) {
	tasks := []models.TaskDescriptor{
		{Name: "button", Priority: 1},
		{Name: "input", Priority: 1},
		{Name: "badge", Priority: 1},
		{Name: "form", Priority: 2, Dependencies: []string{"input", "ghost"}},
	}

	s, err := buildSchedule(tasks, models.DesignTokens{}, 2, false)
	if err != nil {
		t.Fatalf("buildSchedule() error = %v", err)
	}
	if len(s.Tiers) != 2 {
		t.Fatalf("expected 2 tiers, got %d", len(s.Tiers))
	}
	if s.Tiers[0].Priority != 1 || len(s.Tiers[0].Batches) != 2 {
		t.Errorf("tier 1 = %+v, want priority 1 in 2 batches", s.Tiers[0])
	}
	if got := s.Tiers[1].Batches; len(got) != 1 || len(got[0]) != 1 || got[0][0] != "form" {
		t.Errorf("tier 2 batches = %v, want [[form]]", got)
	}
	if len(s.Warnings) != 1 || s.Warnings[0].Kind != models.WarningDependencyUnknown {
		t.Errorf("expected one unknown-dependency warning, got %+v", s.Warnings)
	}
}

func TestBuildSchedule_StrictDependencies(t *testing.T) {
	tasks := []models.TaskDescriptor{
		{Name: "form", Priority: 1, Dependencies: []string{"input"}},
		{Name: "input", Priority: 1},
	}

	s, err := buildSchedule(tasks, models.DesignTokens{}, 4, true)
	if err != nil {
		t.Fatalf("buildSchedule() error = %v", err)
	}

	tierOf := make(map[string]int)
	for i, tier := range s.Tiers {
		for _, batch := range tier.Batches {
			for _, name := range batch {
				tierOf[name] = i
			}
		}
	}
	if tierOf["input"] >= tierOf["form"] {
		t.Errorf("input scheduled in tier %d, form in tier %d; want input first", tierOf["input"], tierOf["form"])
	}
	if len(s.Warnings) != 0 {
		t.Errorf("strict mode should not report warnings, got %+v", s.Warnings)
	}
}

func TestBuildSchedule_StrictCycle(t *testing.T) {
	tasks := []models.TaskDescriptor{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"a"}},
	}
	if _, err := buildSchedule(tasks, models.DesignTokens{}, 2, true); err == nil {
		t.Fatal("expected cycle error in strict mode")
	}
}

func TestApplyRunFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "")
	cmd.Flags().DurationVar(&runTimeout, "timeout", 0, "")
	cmd.Flags().StringVar(&runCommand, "command", "", "")
	cmd.Flags().StringVar(&runReportPath, "report", "", "")

	for flag, value := range map[string]string{
		"concurrency": "7",
		"timeout":     "90s",
		"command":     "make component",
		"report":      "out/report.json",
	} {
		if err := cmd.Flags().Set(flag, value); err != nil {
			t.Fatalf("set %s: %v", flag, err)
		}
	}

	c := config.Default()
	applyRunFlags(cmd, c)

	if c.Dispatch.ConcurrencyLimit != 7 {
		t.Errorf("ConcurrencyLimit = %d, want 7", c.Dispatch.ConcurrencyLimit)
	}
	if c.Dispatch.TaskTimeout != 90*time.Second {
		t.Errorf("TaskTimeout = %v, want 90s", c.Dispatch.TaskTimeout)
	}
	if c.Worker.Kind != config.WorkerCommand || c.Worker.Command != "make component" {
		t.Errorf("Worker = %+v, want command worker running 'make component'", c.Worker)
	}
	if c.Output.ReportPath != "out/report.json" {
		t.Errorf("ReportPath = %q", c.Output.ReportPath)
	}
	if c.Dispatch.StrictDependencies {
		t.Error("unset flags should leave config values alone")
	}
}

func TestNewWorker_CommandRequiresCommand(t *testing.T) {
	c := config.Default()
	c.Worker.Kind = config.WorkerCommand
	if _, err := newWorker(c, nil); err == nil {
		t.Fatal("expected error for command worker without a command")
	}

	c.Worker.Kind = "robot"
	if _, err := newWorker(c, nil); err == nil {
		t.Fatal("expected error for unknown worker kind")
	}
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	report := &models.RunReport{
		RunID:     "run-1",
		Source:    "design.yaml",
		Total:     2,
		Succeeded: 1,
		Failed:    1,
		Outcomes: []models.TaskOutcome{
			{TaskName: "button", Priority: 1, Status: models.OutcomeSuccess},
			{TaskName: "card", Priority: 1, Status: models.OutcomeFailed, Error: "boom", ErrorKind: models.ErrorKindWorkerFailure},
		},
	}

	if err := writeReport(path, report); err != nil {
		t.Fatalf("writeReport() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var got models.RunReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got.RunID != "run-1" || len(got.Outcomes) != 2 || got.Failed != 1 {
		t.Errorf("decoded report = %+v", got)
	}
}

func TestOutcomeLine(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		outcome models.TaskOutcome
		want    []string
	}{
		{
			name:    "success shows summary",
			outcome: models.TaskOutcome{TaskName: "button", Status: models.OutcomeSuccess, Summary: "built button\nmore", StartedAt: start, FinishedAt: start.Add(2 * time.Second)},
			want:    []string{"button", "built button", "2s"},
		},
		{
			name:    "failure shows kind and error",
			outcome: models.TaskOutcome{TaskName: "card", Status: models.OutcomeFailed, Error: "deadline exceeded", ErrorKind: models.ErrorKindWorkerTimeout},
			want:    []string{"card", "[worker_timeout] deadline exceeded"},
		},
		{
			name:    "degraded isolation is flagged",
			outcome: models.TaskOutcome{TaskName: "nav", Status: models.OutcomePartialSuccess, DegradedIsolation: true},
			want:    []string{"nav", "[shared dir]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := outcomeLine(tt.outcome)
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("outcomeLine() = %q, missing %q", line, w)
				}
			}
			if strings.Contains(line, "\n") {
				t.Errorf("outcomeLine() should be a single line, got %q", line)
			}
		})
	}
}

func TestEventLine(t *testing.T) {
	if got := eventLine(dispatch.Event{Type: dispatch.EventBatchStarted}); got != "" {
		t.Errorf("batch_started should be silent, got %q", got)
	}
	if got := eventLine(dispatch.Event{Type: dispatch.EventTaskCompleted}); got != "" {
		t.Errorf("completion without outcome should be silent, got %q", got)
	}
	got := eventLine(dispatch.Event{Type: dispatch.EventWorkspaceFailed, TaskName: "card", Error: errors.New("locked")})
	if !strings.Contains(got, "card") || !strings.Contains(got, "locked") {
		t.Errorf("workspace_failed line = %q", got)
	}
}

func TestPrintSummary(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	report := &models.RunReport{
		RunID:      "run-42",
		Total:      2,
		Succeeded:  1,
		Failed:     1,
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Tiers:      []models.TierTiming{{Priority: 1, Tasks: 2, Batches: 1}},
		Warnings:   []models.Warning{{Kind: models.WarningDependencyUnknown, TaskName: "card", Message: "card depends on unknown task ghost"}},
		Outcomes: []models.TaskOutcome{
			{TaskName: "card", Priority: 1, Status: models.OutcomeFailed, Error: "boom"},
			{TaskName: "button", Priority: 1, Status: models.OutcomeSuccess, RevisionLine: "mosaic/button"},
		},
	}

	var buf bytes.Buffer
	printSummary(&buf, report, nil)
	out := buf.String()

	for _, want := range []string{"run-42", "Tier 1", "branch mosaic/button", "depends on unknown task ghost", "1 succeeded", "1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "button") > strings.Index(out, "card") {
		t.Error("outcomes should be listed by name within a priority")
	}
}

func TestConfigValueRoundTrip(t *testing.T) {
	c := config.Default()

	if err := setConfigValue(c, "dispatch.task_timeout", "3m"); err != nil {
		t.Fatalf("setConfigValue() error = %v", err)
	}
	if got, _ := getConfigValue(c, "dispatch.task_timeout"); got != "3m0s" {
		t.Errorf("task_timeout = %q, want 3m0s", got)
	}
	if err := setConfigValue(c, "Worker.Kind", "command"); err != nil {
		t.Fatalf("setConfigValue() error = %v", err)
	}
	if c.Worker.Kind != "command" {
		t.Errorf("keys should be case-insensitive, Worker.Kind = %q", c.Worker.Kind)
	}

	if err := setConfigValue(c, "dispatch.concurrency_limit", "many"); err == nil {
		t.Error("expected error for non-numeric concurrency")
	}
	if err := setConfigValue(c, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := getConfigValue(c, "nope"); err == nil {
		t.Error("expected error for unknown key")
	}
	for _, key := range configKeys {
		if _, err := getConfigValue(c, key); err != nil {
			t.Errorf("getConfigValue(%q) error = %v", key, err)
		}
	}
}
