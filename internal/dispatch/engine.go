package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ShayCichocki/mosaic/internal/planner"
	"github.com/ShayCichocki/mosaic/internal/worker"
	"github.com/ShayCichocki/mosaic/internal/workspace"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

var (
	// ErrPlanningFailed aborts a run that has nothing to schedule.
	ErrPlanningFailed = planner.ErrPlanningFailed
	// ErrEngineUsed is returned when Run is called on an engine that already ran.
	ErrEngineUsed = errors.New("engine already used")
)

// Engine sequences one run: plan, provision, dispatch tier by tier, finalize.
// An Engine runs once; create a new one for every run.
type Engine struct {
	planner planner.Planner
	worker  worker.Worker
	opts    engineOptions

	runID  string
	state  atomic.Int32
	events *EventEmitter
}

// NewEngine creates an engine.
func NewEngine(p planner.Planner, w worker.Worker, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	if o.provisionParallelism < 1 {
		o.provisionParallelism = 1
	}
	if o.fallbackDir == "" {
		o.fallbackDir = "."
	}
	if abs, err := filepath.Abs(o.fallbackDir); err == nil {
		o.fallbackDir = abs
	}

	e := &Engine{planner: p, worker: w, opts: o, runID: o.runID}
	if e.runID == "" {
		e.runID = uuid.New().String()
	}
	if o.eventBuffer > 0 {
		e.events = NewEventEmitter(o.eventBuffer)
	}
	return e
}

// RunID returns the identifier stamped on the report.
func (e *Engine) RunID() string {
	return e.runID
}

// State returns the current state. Safe for concurrent use.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Events returns the event channel, or nil if events were not enabled.
// The channel is closed when Run returns.
func (e *Engine) Events() <-chan Event {
	return e.events.Events()
}

// DroppedEvents returns how many events were dropped because the subscriber lagged.
func (e *Engine) DroppedEvents() uint64 {
	return e.events.DroppedCount()
}

// Run executes the whole pipeline for source. It returns the finalized
// report, or a nil report and an error wrapping ErrPlanningFailed when
// there is nothing to schedule. Task failures never make Run fail.
func (e *Engine) Run(ctx context.Context, source string) (*models.RunReport, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StatePlanning)) {
		return nil, ErrEngineUsed
	}
	defer e.events.Close()
	e.emitState(StatePlanning)

	startedAt := e.opts.now()
	plan, err := e.plan(ctx, source)
	if err != nil {
		return nil, e.abort(err)
	}

	tiers, err := e.group(plan.Tasks)
	if err != nil {
		return nil, e.abort(err)
	}
	e.events.Emit(Event{Type: EventPlanned, RunID: e.runID, Count: len(plan.Tasks), Message: fmt.Sprintf("%d tiers", len(tiers))})

	agg := NewAggregator(e.runID, source, startedAt)
	agg.now = e.opts.now
	for _, w := range plan.Warnings {
		agg.Warn(w)
	}
	if !e.opts.strictDependencies {
		for _, w := range CheckDependencies(plan.Tasks) {
			agg.Warn(w)
		}
	}

	e.setState(StateProvisioning)
	e.provision(ctx, plan.Tasks, agg)

	e.setState(StateDispatching)
	d := NewDispatcher(DispatcherConfig{
		Executor:       e.newExecutor(),
		Workspaces:     e.workspaceSource(),
		FallbackDir:    e.opts.fallbackDir,
		Shared:         plan.SharedConfig,
		Stop:           e.opts.stop,
		Events:         e.events,
		RunID:          e.runID,
		Sink:           agg.Record,
		SerialFallback: e.opts.serialFallback,
	})
	d.now = e.opts.now

	for _, tier := range tiers {
		e.events.Emit(Event{Type: EventTierStarted, RunID: e.runID, Priority: tier.Priority, Count: len(tier.Tasks)})
		timing := models.TierTiming{
			Priority:  tier.Priority,
			Tasks:     len(tier.Tasks),
			Batches:   len(tier.Batches(e.opts.concurrency)),
			StartedAt: e.opts.now(),
		}
		d.Dispatch(ctx, tier, e.opts.concurrency)
		timing.FinishedAt = e.opts.now()
		agg.RecordTier(timing)
		e.events.Emit(Event{Type: EventTierCompleted, RunID: e.runID, Priority: tier.Priority, Count: len(tier.Tasks)})
	}
	if d.Stopped() {
		agg.Warn(models.Warning{
			Kind:    models.WarningRunStopped,
			Message: "run stopped at a batch boundary; remaining tasks were not started",
		})
	}

	e.setState(StateFinalizing)
	report := agg.Finalize()
	// Hooks still see a cancelled run's report.
	e.runHooks(context.WithoutCancel(ctx), &report)

	e.setState(StateDone)
	e.events.Emit(Event{Type: EventRunDone, RunID: e.runID, Count: report.Total, Report: &report})
	return &report, nil
}

func (e *Engine) plan(ctx context.Context, source string) (*planner.Plan, error) {
	plan, err := e.planner.Analyze(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	debugLog("[engine] run %s planned %d tasks: %v", e.runID, len(plan.Tasks), models.TaskNames(plan.Tasks))
	return plan, nil
}

func (e *Engine) group(tasks []models.TaskDescriptor) ([]models.Tier, error) {
	if !e.opts.strictDependencies {
		return GroupByPriority(tasks), nil
	}
	tiers, err := GroupByDependencies(tasks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanningFailed, err)
	}
	return tiers, nil
}

// provision binds a workspace for every task. Failures only degrade the
// affected tasks to the fallback directory.
func (e *Engine) provision(ctx context.Context, tasks []models.TaskDescriptor, agg *Aggregator) {
	if e.opts.provisioner == nil {
		debugLog("[engine] workspace isolation disabled; all tasks use %s", e.opts.fallbackDir)
		return
	}

	names := models.TaskNames(tasks)
	_, errs := e.opts.provisioner.ProvisionAll(ctx, names, e.opts.provisionParallelism)
	for _, name := range names {
		err, failed := errs[name]
		if !failed {
			e.events.Emit(Event{Type: EventWorkspaceReady, RunID: e.runID, TaskName: name})
			continue
		}
		kind := models.WarningWorkspaceFailed
		if errors.Is(err, workspace.ErrWorkspaceConflict) {
			kind = models.WarningWorkspaceConflict
		}
		agg.Warn(models.Warning{
			Kind:     kind,
			TaskName: name,
			Message:  fmt.Sprintf("workspace for %s unavailable, using fallback directory: %v", name, err),
		})
		e.events.Emit(Event{Type: EventWorkspaceFailed, RunID: e.runID, TaskName: name, Error: err})
	}
}

func (e *Engine) newExecutor() *Executor {
	ex := NewExecutor(e.worker, e.opts.taskTimeout)
	ex.now = e.opts.now
	return ex
}

func (e *Engine) workspaceSource() WorkspaceSource {
	if e.opts.provisioner == nil {
		return nil
	}
	return e.opts.provisioner
}

func (e *Engine) runHooks(ctx context.Context, report *models.RunReport) {
	for i, hook := range e.opts.hooks {
		if err := hook.HandleReport(ctx, report); err != nil {
			log.Printf("[engine] warning: report hook %d failed: %v", i+1, err)
			report.Warnings = append(report.Warnings, models.Warning{
				Kind:    models.WarningReportHook,
				Message: fmt.Sprintf("report hook %d: %v", i+1, err),
			})
		}
	}
}

func (e *Engine) abort(err error) error {
	if !errors.Is(err, ErrPlanningFailed) {
		err = fmt.Errorf("%w: %v", ErrPlanningFailed, err)
	}
	log.Printf("[engine] run %s aborted: %v", e.runID, err)
	e.setState(StateAborted)
	return err
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.emitState(s)
}

func (e *Engine) emitState(s State) {
	debugLog("[engine] run %s -> %s", e.runID, s)
	e.events.Emit(Event{Type: EventStateChanged, RunID: e.runID, State: s, Message: s.String()})
}
