package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// StopChecker reports whether a graceful stop was requested.
type StopChecker interface {
	ShouldStop() bool
}

// WorkspaceSource looks up provisioned workspaces and tracks their use.
type WorkspaceSource interface {
	Get(taskName string) (*models.Workspace, bool)
	MarkInUse(taskName string) error
	MarkReleased(taskName string) error
}

// Dispatcher runs one tier at a time in concurrency-bounded batches.
type Dispatcher struct {
	executor    *Executor
	workspaces  WorkspaceSource
	fallbackDir string
	shared      models.DesignTokens
	stop        StopChecker
	events      *EventEmitter
	runID       string
	now         func() time.Time

	// sink receives each outcome on the dispatching goroutine.
	sink func(models.TaskOutcome)

	// fallbackMu serializes tasks sharing the fallback directory.
	fallbackMu     sync.Mutex
	serialFallback bool

	stopped bool
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Executor *Executor
	// Workspaces may be nil, in which case every task runs in FallbackDir.
	Workspaces  WorkspaceSource
	FallbackDir string
	Shared      models.DesignTokens
	Stop        StopChecker
	Events      *EventEmitter
	RunID       string
	// Sink, if set, is called for every outcome in completion order.
	Sink func(models.TaskOutcome)
	// SerialFallback runs degraded tasks of a batch one at a time.
	SerialFallback bool
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		executor:       cfg.Executor,
		workspaces:     cfg.Workspaces,
		fallbackDir:    cfg.FallbackDir,
		shared:         cfg.Shared,
		stop:           cfg.Stop,
		events:         cfg.Events,
		runID:          cfg.RunID,
		sink:           cfg.Sink,
		serialFallback: cfg.SerialFallback,
		now:            time.Now,
	}
}

// Stopped reports whether a stop request has been honored.
func (d *Dispatcher) Stopped() bool {
	return d.stopped
}

// Dispatch runs the tier's tasks in consecutive batches of at most limit
// tasks and returns their outcomes in completion order. Every batch finishes
// before the next starts, whatever its tasks' statuses. A stop request or a
// cancelled ctx is honored only between batches; tasks that never started are
// recorded as Failed with ErrorKindRunStopped.
func (d *Dispatcher) Dispatch(ctx context.Context, tier models.Tier, limit int) []models.TaskOutcome {
	batches := tier.Batches(limit)
	outcomes := make([]models.TaskOutcome, 0, len(tier.Tasks))

	for i, batch := range batches {
		if !d.stopped && d.shouldStop(ctx) {
			d.stopped = true
			d.events.Emit(Event{Type: EventRunStopped, RunID: d.runID, Priority: tier.Priority, Batch: i + 1})
		}
		if d.stopped {
			for _, task := range batch {
				o := models.FailedOutcome(task, models.ErrorKindRunStopped, ErrRunStopped, d.now())
				outcomes = append(outcomes, d.deliver(o))
			}
			continue
		}

		debugLog("[dispatch] tier %d batch %d/%d: %v", tier.Priority, i+1, len(batches), models.TaskNames(batch))
		d.events.Emit(Event{Type: EventBatchStarted, RunID: d.runID, Priority: tier.Priority, Batch: i + 1, Count: len(batch)})
		outcomes = append(outcomes, d.runBatch(ctx, batch)...)
		d.events.Emit(Event{Type: EventBatchCompleted, RunID: d.runID, Priority: tier.Priority, Batch: i + 1, Count: len(batch)})
	}
	return outcomes
}

// runBatch starts every task of the batch and collects outcomes through a
// single channel as they complete.
func (d *Dispatcher) runBatch(ctx context.Context, batch []models.TaskDescriptor) []models.TaskOutcome {
	results := make(chan models.TaskOutcome, len(batch))

	// Plain group: one task's failure must not cancel its siblings.
	var g errgroup.Group
	for _, task := range batch {
		g.Go(func() error {
			results <- d.runTask(ctx, task)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	outcomes := make([]models.TaskOutcome, 0, len(batch))
	for o := range results {
		outcomes = append(outcomes, d.deliver(o))
	}
	return outcomes
}

func (d *Dispatcher) runTask(ctx context.Context, task models.TaskDescriptor) models.TaskOutcome {
	dir, ws, note := d.resolveDir(task.Name)
	degraded := ws == nil

	if degraded {
		if d.serialFallback {
			d.fallbackMu.Lock()
			defer d.fallbackMu.Unlock()
		}
	} else if err := d.workspaces.MarkInUse(task.Name); err != nil {
		debugLog("[dispatch] mark %s in use: %v", task.Name, err)
	} else {
		defer func() {
			if err := d.workspaces.MarkReleased(task.Name); err != nil {
				debugLog("[dispatch] release %s: %v", task.Name, err)
			}
		}()
	}

	d.events.Emit(Event{Type: EventTaskStarted, RunID: d.runID, TaskName: task.Name, Priority: task.EffectivePriority(), Message: dir})
	outcome := d.executor.Execute(ctx, task, dir, d.shared)

	if degraded {
		outcome.DegradedIsolation = true
		outcome.Notes = append(outcome.Notes, note)
	} else {
		outcome.RevisionLine = ws.RevisionLine
	}
	return outcome
}

// resolveDir returns the task's workspace path, or the fallback directory
// and a note explaining the degradation when no usable workspace exists.
func (d *Dispatcher) resolveDir(taskName string) (string, *models.Workspace, string) {
	if d.workspaces == nil {
		return d.fallbackDir, nil, fmt.Sprintf("workspace isolation disabled; ran in shared directory %s", d.fallbackDir)
	}
	ws, ok := d.workspaces.Get(taskName)
	switch {
	case !ok:
		return d.fallbackDir, nil, fmt.Sprintf("no workspace provisioned; ran in shared directory %s", d.fallbackDir)
	case !ws.State.Usable():
		reason := string(ws.State)
		if ws.Error != "" {
			reason = ws.Error
		}
		return d.fallbackDir, nil, fmt.Sprintf("workspace unavailable (%s); ran in shared directory %s", reason, d.fallbackDir)
	default:
		return ws.Path, ws, ""
	}
}

// deliver hands an outcome to the sink. Only the dispatching goroutine calls it.
func (d *Dispatcher) deliver(o models.TaskOutcome) models.TaskOutcome {
	if d.sink != nil {
		d.sink(o)
	}
	ev := Event{Type: EventTaskCompleted, RunID: d.runID, TaskName: o.TaskName, Priority: o.Priority, Message: o.Summary, Outcome: &o}
	if o.Status == models.OutcomeFailed {
		ev.Type = EventTaskFailed
		ev.Error = errors.New(o.Error)
	}
	d.events.Emit(ev)
	return o
}

func (d *Dispatcher) shouldStop(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return d.stop != nil && d.stop.ShouldStop()
}
