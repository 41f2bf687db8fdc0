package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/mosaic/internal/worker"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

func succeed(summary string, artifacts ...string) worker.Func {
	return func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
		return worker.Result{Status: models.OutcomeSuccess, Summary: summary, ArtifactPaths: artifacts}, nil
	}
}

func TestExecutor_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		worker    worker.Func
		status    models.OutcomeStatus
		kind      models.ErrorKind
		errSubstr string
	}{
		{
			name:   "success",
			worker: succeed("built", "Button.tsx"),
			status: models.OutcomeSuccess,
		},
		{
			name: "partial",
			worker: func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
				return worker.Result{Status: models.OutcomePartialSuccess, Summary: "no dark mode"}, nil
			},
			status: models.OutcomePartialSuccess,
		},
		{
			name: "error",
			worker: func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
				return worker.Result{}, errors.New("model overloaded")
			},
			status:    models.OutcomeFailed,
			kind:      models.ErrorKindWorkerFailure,
			errSubstr: "model overloaded",
		},
		{
			name: "panic",
			worker: func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
				panic("nil map")
			},
			status:    models.OutcomeFailed,
			kind:      models.ErrorKindWorkerFailure,
			errSubstr: "panicked: nil map",
		},
		{
			name: "reported failure",
			worker: func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
				return worker.Result{Status: models.OutcomeFailed, Summary: "lint failed"}, nil
			},
			status:    models.OutcomeFailed,
			kind:      models.ErrorKindWorkerFailure,
			errSubstr: "lint failed",
		},
		{
			name: "unknown status",
			worker: func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
				return worker.Result{Status: "great"}, nil
			},
			status:    models.OutcomeFailed,
			kind:      models.ErrorKindWorkerFailure,
			errSubstr: "unknown status",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewExecutor(tt.worker, time.Second).Execute(context.Background(), task("button", 1), "/work", models.DesignTokens{})

			if o.Status != tt.status || o.ErrorKind != tt.kind {
				t.Errorf("status/kind = %s/%q, want %s/%q", o.Status, o.ErrorKind, tt.status, tt.kind)
			}
			if !strings.Contains(o.Error, tt.errSubstr) {
				t.Errorf("Error = %q, want it to contain %q", o.Error, tt.errSubstr)
			}
			if err := o.Validate(); err != nil {
				t.Errorf("outcome invalid: %v", err)
			}
			if o.StartedAt.IsZero() || o.FinishedAt.Before(o.StartedAt) {
				t.Errorf("timestamps = %v .. %v", o.StartedAt, o.FinishedAt)
			}
			if o.ArtifactPaths == nil || o.WorkingDir != "/work" {
				t.Errorf("outcome = %+v", o)
			}
		})
	}
}

func TestExecutor_TimeoutWithUncooperativeWorker(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stuck := worker.Func(func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
		<-release
		return worker.Result{Status: models.OutcomeSuccess}, nil
	})

	start := time.Now()
	o := NewExecutor(stuck, 30*time.Millisecond).Execute(context.Background(), task("slow", 1), "/work", models.DesignTokens{})

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Execute blocked for %v", elapsed)
	}
	if o.Status != models.OutcomeFailed || o.ErrorKind != models.ErrorKindWorkerTimeout {
		t.Errorf("outcome = %+v, want worker_timeout failure", o)
	}
	if !strings.Contains(o.Error, ErrWorkerTimeout.Error()) {
		t.Errorf("Error = %q", o.Error)
	}
}

func TestExecutor_TimeoutWithCooperativeWorker(t *testing.T) {
	polite := worker.Func(func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	})
	o := NewExecutor(polite, 20*time.Millisecond).Execute(context.Background(), task("slow", 1), "/work", models.DesignTokens{})
	if o.ErrorKind != models.ErrorKindWorkerTimeout {
		t.Errorf("ErrorKind = %q, want worker_timeout", o.ErrorKind)
	}
}

func TestExecutor_InvokesWorkerOnce(t *testing.T) {
	calls := 0
	w := worker.Func(func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
		calls++
		return worker.Result{}, errors.New("fail")
	})
	NewExecutor(w, time.Second).Execute(context.Background(), task("a", 1), "/w", models.DesignTokens{})
	if calls != 1 {
		t.Errorf("worker called %d times, want 1", calls)
	}
}
