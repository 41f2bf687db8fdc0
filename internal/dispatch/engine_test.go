package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/mosaic/internal/planner"
	"github.com/ShayCichocki/mosaic/internal/worker"
	"github.com/ShayCichocki/mosaic/internal/workspace"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

// recorder is a worker that logs start and end of every task.
type recorder struct {
	mu          sync.Mutex
	log         []string
	dirs        map[string]string
	inflight    int
	maxInflight int

	delay time.Duration
	fail  map[string]error
	after func(name string)
}

func newRecorder(delay time.Duration) *recorder {
	return &recorder{delay: delay, dirs: map[string]string{}, fail: map[string]error{}}
}

func (r *recorder) Perform(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
	r.mu.Lock()
	r.log = append(r.log, "start:"+task.Name)
	r.dirs[task.Name] = workDir
	r.inflight++
	if r.inflight > r.maxInflight {
		r.maxInflight = r.inflight
	}
	r.mu.Unlock()

	time.Sleep(r.delay)

	r.mu.Lock()
	r.inflight--
	r.log = append(r.log, "end:"+task.Name)
	err := r.fail[task.Name]
	after := r.after
	r.mu.Unlock()

	if after != nil {
		after(task.Name)
	}
	if err != nil {
		return worker.Result{}, err
	}
	return worker.Result{Status: models.OutcomeSuccess, Summary: "built " + task.Name}, nil
}

func (r *recorder) pos(entry string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.log {
		if e == entry {
			return i
		}
	}
	return -1
}

// assertBefore checks every "end" of first happens before every "start" of then.
func (r *recorder) assertBefore(t *testing.T, first, then []string) {
	t.Helper()
	for _, f := range first {
		for _, s := range then {
			end, start := r.pos("end:"+f), r.pos("start:"+s)
			if end < 0 || start < 0 || end > start {
				t.Errorf("%s started before %s finished: %v", s, f, r.log)
			}
		}
	}
}

func scenarioTasks() []models.TaskDescriptor {
	return []models.TaskDescriptor{
		task("button", 1),
		task("input", 1),
		task("card", 2, "button"),
		task("header", 3, "button"),
	}
}

func newMemoryProvisioner(t *testing.T) (*workspace.Provisioner, *workspace.MemoryBackend) {
	t.Helper()
	backend := workspace.NewMemoryBackend()
	p, err := workspace.NewProvisioner(backend, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return p, backend
}

// collect drains the engine's events until the channel closes.
func collect(e *Engine) func() []Event {
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range e.Events() {
			events = append(events, ev)
		}
	}()
	return func() []Event {
		<-done
		return events
	}
}

func TestEngine_ButtonInputCardHeaderScenario(t *testing.T) {
	rec := newRecorder(15 * time.Millisecond)
	prov, _ := newMemoryProvisioner(t)
	e := NewEngine(planner.Static(scenarioTasks(), models.DesignTokens{}), rec,
		WithProvisioner(prov),
		WithConcurrency(2),
		WithEvents(64),
	)
	wait := collect(e)

	report, err := e.Run(context.Background(), "dashboard")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := wait()

	if report.Total != 4 || report.Succeeded != 4 || !report.OK() {
		t.Errorf("report = total %d ok %d failed %d", report.Total, report.Succeeded, report.Failed)
	}
	rec.assertBefore(t, []string{"button", "input"}, []string{"card", "header"})
	rec.assertBefore(t, []string{"card"}, []string{"header"})

	var batchSizes []int
	for _, ev := range events {
		if ev.Type == EventBatchStarted {
			batchSizes = append(batchSizes, ev.Count)
		}
	}
	if !reflect.DeepEqual(batchSizes, []int{2, 1, 1}) {
		t.Errorf("batch sizes = %v, want [2 1 1]", batchSizes)
	}
	if len(report.Tiers) != 3 || report.Tiers[0].Batches != 1 || report.Tiers[0].Tasks != 2 {
		t.Errorf("tiers = %+v", report.Tiers)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("warnings = %+v", report.Warnings)
	}
	if e.State() != StateDone {
		t.Errorf("state = %s, want done", e.State())
	}
	if events[len(events)-1].Type != EventRunDone {
		t.Errorf("last event = %s, want run_done", events[len(events)-1].Type)
	}

	for _, o := range report.Outcomes {
		if o.DegradedIsolation || o.RevisionLine != "mosaic/"+o.TaskName {
			t.Errorf("outcome %s = %+v, want isolated workspace", o.TaskName, o)
		}
		if rec.dirs[o.TaskName] != prov.PathFor(o.TaskName) {
			t.Errorf("%s ran in %s, want %s", o.TaskName, rec.dirs[o.TaskName], prov.PathFor(o.TaskName))
		}
		if ws, _ := prov.Get(o.TaskName); ws.State != models.WorkspaceProvisioned {
			t.Errorf("%s workspace state = %s after run", o.TaskName, ws.State)
		}
	}
}

func TestEngine_TierOrdering(t *testing.T) {
	rec := newRecorder(10 * time.Millisecond)
	tasks := []models.TaskDescriptor{task("c", 3), task("a", 1), task("b2", 2), task("a2", 1)}
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), rec, WithConcurrency(10), WithSerialFallback(false))

	if _, err := e.Run(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	rec.assertBefore(t, []string{"a", "a2"}, []string{"b2", "c"})
	rec.assertBefore(t, []string{"b2"}, []string{"c"})
}

func TestEngine_BatchBound(t *testing.T) {
	rec := newRecorder(10 * time.Millisecond)
	var tasks []models.TaskDescriptor
	for i := 0; i < 5; i++ {
		tasks = append(tasks, task(fmt.Sprintf("t%d", i), 1))
	}
	prov, _ := newMemoryProvisioner(t)
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), rec, WithProvisioner(prov), WithConcurrency(2))

	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if rec.maxInflight > 2 {
		t.Errorf("max in flight = %d, want <= 2", rec.maxInflight)
	}
	if report.Total != 5 || report.Tiers[0].Batches != 3 {
		t.Errorf("total = %d batches = %d", report.Total, report.Tiers[0].Batches)
	}
	rec.assertBefore(t, []string{"t0", "t1"}, []string{"t2", "t3", "t4"})
	rec.assertBefore(t, []string{"t2", "t3"}, []string{"t4"})
}

func TestEngine_FailureIsolation(t *testing.T) {
	rec := newRecorder(5 * time.Millisecond)
	rec.fail["b"] = errors.New("generation failed")
	prov, _ := newMemoryProvisioner(t)
	tasks := []models.TaskDescriptor{task("a", 1), task("b", 1), task("c", 1), task("d", 2)}
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), rec, WithProvisioner(prov), WithConcurrency(3))

	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := map[string]models.OutcomeStatus{"a": models.OutcomeSuccess, "b": models.OutcomeFailed, "c": models.OutcomeSuccess, "d": models.OutcomeSuccess}
	for name, status := range want {
		o, ok := report.Outcome(name)
		if !ok || o.Status != status {
			t.Errorf("%s = %+v, want %s", name, o, status)
		}
	}
	if report.Failed != 1 || report.OK() {
		t.Errorf("failed = %d", report.Failed)
	}
}

func TestEngine_OutcomeCompleteness(t *testing.T) {
	rec := newRecorder(time.Millisecond)
	rec.fail["t3"] = errors.New("x")
	var tasks []models.TaskDescriptor
	for i := 0; i < 9; i++ {
		tasks = append(tasks, task(fmt.Sprintf("t%d", i), i%3+1))
	}
	prov, _ := newMemoryProvisioner(t)
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), rec, WithProvisioner(prov), WithConcurrency(2))

	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, o := range report.Outcomes {
		got = append(got, o.TaskName)
	}
	sort.Strings(got)
	want := models.TaskNames(tasks)
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) || report.Total != len(tasks) {
		t.Errorf("outcomes = %v, want each of %v exactly once", got, want)
	}
	if len(report.WarningsOf(models.WarningDuplicateOutcome)) != 0 {
		t.Error("unexpected duplicate outcome warning")
	}
}

func TestEngine_FallbackDegradation(t *testing.T) {
	rec := newRecorder(time.Millisecond)
	prov, backend := newMemoryProvisioner(t)
	backend.Bind("mosaic/card", "/somewhere/else")
	backend.FailBind("mosaic/input", errors.New("disk full"))
	fallback := t.TempDir()

	e := NewEngine(planner.Static(scenarioTasks(), models.DesignTokens{}), rec,
		WithProvisioner(prov),
		WithFallbackDir(fallback),
		WithConcurrency(2),
	)
	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Total != 4 {
		t.Fatalf("total = %d, want 4", report.Total)
	}

	for _, name := range []string{"card", "input"} {
		o, ok := report.Outcome(name)
		if !ok {
			t.Fatalf("%s missing from report", name)
		}
		if !o.DegradedIsolation || o.WorkingDir != fallback || len(o.Notes) != 1 {
			t.Errorf("%s outcome = %+v, want degraded run in %s", name, o, fallback)
		}
		if o.Status != models.OutcomeSuccess {
			t.Errorf("%s status = %s; degradation is a note, not a status", name, o.Status)
		}
		if rec.dirs[name] != fallback {
			t.Errorf("%s ran in %s", name, rec.dirs[name])
		}
	}
	if o, _ := report.Outcome("button"); o.DegradedIsolation {
		t.Error("button should have its own workspace")
	}

	conflicts := report.WarningsOf(models.WarningWorkspaceConflict)
	failures := report.WarningsOf(models.WarningWorkspaceFailed)
	if len(conflicts) != 1 || conflicts[0].TaskName != "card" {
		t.Errorf("conflict warnings = %+v", conflicts)
	}
	if len(failures) != 1 || failures[0].TaskName != "input" {
		t.Errorf("failure warnings = %+v", failures)
	}
}

func TestEngine_NoWorkspaces(t *testing.T) {
	rec := newRecorder(time.Millisecond)
	dir := t.TempDir()
	e := NewEngine(planner.Static(scenarioTasks(), models.DesignTokens{}), rec, WithFallbackDir(dir))

	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range report.Outcomes {
		if !o.DegradedIsolation || o.WorkingDir != dir {
			t.Errorf("%s = %+v", o.TaskName, o)
		}
	}
}

func TestEngine_SerialFallback(t *testing.T) {
	rec := newRecorder(10 * time.Millisecond)
	tasks := []models.TaskDescriptor{task("a", 1), task("b", 1), task("c", 1)}
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), rec, WithConcurrency(3))

	if _, err := e.Run(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if rec.maxInflight != 1 {
		t.Errorf("max in flight in shared directory = %d, want 1", rec.maxInflight)
	}
}

func TestEngine_ZeroTasksAborts(t *testing.T) {
	called := false
	w := worker.Func(func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
		called = true
		return worker.Result{Status: models.OutcomeSuccess}, nil
	})
	prov, backend := newMemoryProvisioner(t)
	e := NewEngine(planner.Static(nil, models.DesignTokens{}), w, WithProvisioner(prov))

	report, err := e.Run(context.Background(), "empty")
	if !errors.Is(err, ErrPlanningFailed) {
		t.Fatalf("Run() error = %v, want ErrPlanningFailed", err)
	}
	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
	if e.State() != StateAborted {
		t.Errorf("state = %s, want aborted", e.State())
	}
	if called || backend.Calls("EnsureRevisionLine") != 0 {
		t.Error("work started after planning failed")
	}
}

func TestEngine_PlannerErrorAborts(t *testing.T) {
	p := planner.Func(func(ctx context.Context, source string) (*planner.Plan, error) {
		return nil, errors.New("design file unreadable")
	})
	e := NewEngine(p, succeed("x"))
	_, err := e.Run(context.Background(), "x")
	if !errors.Is(err, ErrPlanningFailed) || e.State() != StateAborted {
		t.Errorf("err = %v state = %s", err, e.State())
	}
}

func TestEngine_SingleUse(t *testing.T) {
	e := NewEngine(planner.Static([]models.TaskDescriptor{task("a", 1)}, models.DesignTokens{}), succeed("ok"))
	if _, err := e.Run(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background(), "x"); !errors.Is(err, ErrEngineUsed) {
		t.Errorf("second Run() error = %v, want ErrEngineUsed", err)
	}
}

type flagStop struct{ stopped atomic.Bool }

func (f *flagStop) ShouldStop() bool { return f.stopped.Load() }

func TestEngine_StopBetweenBatches(t *testing.T) {
	stop := &flagStop{}
	rec := newRecorder(time.Millisecond)
	rec.after = func(name string) {
		if name == "a" {
			stop.stopped.Store(true)
		}
	}
	tasks := []models.TaskDescriptor{task("a", 1), task("b", 1), task("c", 2)}
	prov, _ := newMemoryProvisioner(t)
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), rec, WithProvisioner(prov), WithConcurrency(1), WithStop(stop))

	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Total != 3 {
		t.Fatalf("total = %d, want 3", report.Total)
	}
	if o, _ := report.Outcome("a"); o.Status != models.OutcomeSuccess {
		t.Errorf("a = %+v, the running batch should finish", o)
	}
	for _, name := range []string{"b", "c"} {
		o, _ := report.Outcome(name)
		if o.Status != models.OutcomeFailed || o.ErrorKind != models.ErrorKindRunStopped {
			t.Errorf("%s = %+v, want run_stopped", name, o)
		}
		if rec.pos("start:"+name) >= 0 {
			t.Errorf("%s started after stop", name)
		}
	}
	if len(report.WarningsOf(models.WarningRunStopped)) != 1 {
		t.Errorf("warnings = %+v", report.Warnings)
	}
}

func TestEngine_StrictDependencies(t *testing.T) {
	rec := newRecorder(5 * time.Millisecond)
	tasks := []models.TaskDescriptor{task("header", 1, "card"), task("card", 1, "button"), task("button", 1)}
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), rec, WithStrictDependencies(true), WithConcurrency(3), WithSerialFallback(false))

	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Tiers) != 3 {
		t.Errorf("tiers = %+v, want 3 layers", report.Tiers)
	}
	rec.assertBefore(t, []string{"button"}, []string{"card"})
	rec.assertBefore(t, []string{"card"}, []string{"header"})

	cyclic := []models.TaskDescriptor{task("a", 1, "b"), task("b", 1, "a")}
	e2 := NewEngine(planner.Static(cyclic, models.DesignTokens{}), rec, WithStrictDependencies(true))
	if _, err := e2.Run(context.Background(), "x"); !errors.Is(err, ErrPlanningFailed) {
		t.Errorf("cyclic strict run error = %v, want ErrPlanningFailed", err)
	}
}

func TestEngine_AdvisoryDependencyWarnings(t *testing.T) {
	tasks := []models.TaskDescriptor{task("button", 1), task("card", 1, "button"), task("header", 2, "nav")}
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), succeed("ok"))

	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.WarningsOf(models.WarningDependencyOrder)) != 1 || len(report.WarningsOf(models.WarningDependencyUnknown)) != 1 {
		t.Errorf("warnings = %+v", report.Warnings)
	}
	if report.Total != 3 {
		t.Errorf("total = %d", report.Total)
	}
}

func TestEngine_PlanHintsDoNotAbort(t *testing.T) {
	tasks := []models.TaskDescriptor{
		{Name: "button", Priority: 1, Complexity: "simple"},
		{Name: "card", Priority: 2, Dependencies: []string{"card"}},
	}

	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), succeed("ok"))
	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Total != 2 || report.Succeeded != 2 {
		t.Errorf("report = %+v, want both tasks to run", report)
	}
	if len(report.WarningsOf(models.WarningInvalidField)) != 1 || len(report.WarningsOf(models.WarningDependencyCycle)) != 1 {
		t.Errorf("warnings = %+v, want invalid_field and dependency_cycle", report.Warnings)
	}

	strict := NewEngine(planner.Static(tasks, models.DesignTokens{}), succeed("ok"), WithStrictDependencies(true))
	if _, err := strict.Run(context.Background(), "x"); !errors.Is(err, ErrPlanningFailed) {
		t.Errorf("strict run error = %v, want ErrPlanningFailed", err)
	}
}

func TestEngine_ReportHooks(t *testing.T) {
	var seen *models.RunReport
	ok := ReportHookFunc(func(ctx context.Context, r *models.RunReport) error {
		seen = r
		return nil
	})
	broken := ReportHookFunc(func(ctx context.Context, r *models.RunReport) error {
		return errors.New("database locked")
	})
	e := NewEngine(planner.Static([]models.TaskDescriptor{task("a", 1)}, models.DesignTokens{}), succeed("ok"),
		WithReportHooks(ok, broken), WithRunID("run-42"))

	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if seen == nil || seen.RunID != "run-42" || seen.Total != 1 {
		t.Errorf("hook saw %+v", seen)
	}
	if len(report.WarningsOf(models.WarningReportHook)) != 1 {
		t.Errorf("warnings = %+v", report.Warnings)
	}
}

func TestEngine_ReportHooksRunAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder(0)
	rec.after = func(string) { cancel() }

	var hookErr error
	called := false
	hook := ReportHookFunc(func(ctx context.Context, r *models.RunReport) error {
		called = true
		hookErr = ctx.Err()
		return hookErr
	})
	tasks := []models.TaskDescriptor{task("a", 1), task("b", 1)}
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), rec, WithConcurrency(1), WithReportHooks(hook))

	report, err := e.Run(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("hook was not called")
	}
	if hookErr != nil {
		t.Errorf("hook ctx.Err() = %v, want a live context", hookErr)
	}
	if len(report.WarningsOf(models.WarningReportHook)) != 0 {
		t.Errorf("warnings = %+v", report.Warnings)
	}
	if o, _ := report.Outcome("b"); o.ErrorKind != models.ErrorKindRunStopped {
		t.Errorf("b = %+v, want run_stopped", o)
	}
}

func TestEngine_TimeoutInBatchDoesNotBlockSiblings(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	w := worker.Func(func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
		if task.Name == "stuck" {
			<-release
		}
		return worker.Result{Status: models.OutcomeSuccess}, nil
	})
	prov, _ := newMemoryProvisioner(t)
	tasks := []models.TaskDescriptor{task("stuck", 1), task("fine", 1), task("later", 2)}
	e := NewEngine(planner.Static(tasks, models.DesignTokens{}), w, WithProvisioner(prov), WithTaskTimeout(30*time.Millisecond))

	report, err := e.Run(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if o, _ := report.Outcome("stuck"); o.ErrorKind != models.ErrorKindWorkerTimeout {
		t.Errorf("stuck = %+v", o)
	}
	for _, name := range []string{"fine", "later"} {
		if o, _ := report.Outcome(name); o.Status != models.OutcomeSuccess {
			t.Errorf("%s = %+v", name, o)
		}
	}
}

func TestState_String(t *testing.T) {
	if StateDispatching.String() != "dispatching" || !StateAborted.Terminal() || StatePlanning.Terminal() {
		t.Error("state helpers")
	}
}
