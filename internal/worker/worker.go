// Package worker performs one component task inside its working directory.
package worker

import (
	"context"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// Result is what a worker reports for a finished task.
type Result struct {
	Status        models.OutcomeStatus
	Summary       string
	ArtifactPaths []string
}

// Worker performs a task. Implementations may be slow, may fail, and may
// ignore ctx; callers enforce timeouts themselves.
type Worker interface {
	Perform(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (Result, error)
}

// Func adapts a function to the Worker interface.
type Func func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (Result, error)

// Perform calls f.
func (f Func) Perform(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (Result, error) {
	return f(ctx, task, workDir, shared)
}
