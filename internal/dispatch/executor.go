package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ShayCichocki/mosaic/internal/worker"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

var (
	// ErrWorkerTimeout is recorded when a worker exceeds the task timeout.
	ErrWorkerTimeout = errors.New("worker timed out")
	// ErrWorkerPanic is recorded when a worker panics.
	ErrWorkerPanic = errors.New("worker panicked")
	// ErrRunStopped is recorded for tasks that never started because the run was stopped.
	ErrRunStopped = errors.New("run stopped before task started")
)

// Executor wraps one worker invocation and always yields a terminal outcome.
type Executor struct {
	worker  worker.Worker
	timeout time.Duration
	now     func() time.Time
}

// NewExecutor creates an executor. A timeout <= 0 disables the per-task deadline.
func NewExecutor(w worker.Worker, timeout time.Duration) *Executor {
	return &Executor{worker: w, timeout: timeout, now: time.Now}
}

type workerReply struct {
	result worker.Result
	err    error
}

// Execute invokes the worker exactly once and converts every failure mode
// (error, panic, timeout, unknown status) into a Failed outcome. The worker
// runs in its own goroutine so a worker that ignores ctx cannot hold the
// batch past the deadline; such a goroutine is abandoned, not killed.
func (e *Executor) Execute(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) models.TaskOutcome {
	outcome := models.TaskOutcome{
		TaskName:      task.Name,
		Priority:      task.EffectivePriority(),
		ArtifactPaths: []string{},
		WorkingDir:    workDir,
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan workerReply, 1)
	outcome.StartedAt = e.now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				debugLog("[executor] task %s panic: %v\n%s", task.Name, r, debug.Stack())
				done <- workerReply{err: fmt.Errorf("%w: %v", ErrWorkerPanic, r)}
			}
		}()
		res, err := e.worker.Perform(runCtx, task, workDir, shared)
		done <- workerReply{result: res, err: err}
	}()

	var reply workerReply
	select {
	case reply = <-done:
	case <-runCtx.Done():
		select {
		case reply = <-done:
		default:
			reply = workerReply{err: runCtx.Err()}
		}
	}
	outcome.FinishedAt = e.now()

	if reply.err != nil {
		if errors.Is(reply.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return e.fail(outcome, reply.result, models.ErrorKindWorkerTimeout,
				fmt.Errorf("%w after %s", ErrWorkerTimeout, e.timeout))
		}
		return e.fail(outcome, reply.result, models.ErrorKindWorkerFailure, reply.err)
	}

	switch reply.result.Status {
	case models.OutcomeSuccess, models.OutcomePartialSuccess:
		outcome.Status = reply.result.Status
		outcome.Summary = reply.result.Summary
		if len(reply.result.ArtifactPaths) > 0 {
			outcome.ArtifactPaths = append([]string(nil), reply.result.ArtifactPaths...)
		}
		return outcome
	case models.OutcomeFailed:
		msg := reply.result.Summary
		if msg == "" {
			msg = "worker reported failure"
		}
		return e.fail(outcome, reply.result, models.ErrorKindWorkerFailure, errors.New(msg))
	default:
		return e.fail(outcome, reply.result, models.ErrorKindWorkerFailure,
			fmt.Errorf("worker returned unknown status %q", reply.result.Status))
	}
}

func (e *Executor) fail(outcome models.TaskOutcome, res worker.Result, kind models.ErrorKind, err error) models.TaskOutcome {
	outcome.Status = models.OutcomeFailed
	outcome.ErrorKind = kind
	outcome.Error = err.Error()
	outcome.Summary = res.Summary
	if outcome.Summary == "" {
		outcome.Summary = outcome.Error
	}
	if len(res.ArtifactPaths) > 0 {
		outcome.ArtifactPaths = append([]string(nil), res.ArtifactPaths...)
	}
	return outcome
}
