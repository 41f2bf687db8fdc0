package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/mosaic/internal/api"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

// ClaudeWorker generates a component by running the Claude tool loop in the workspace.
type ClaudeWorker struct {
	messenger     api.Messenger
	maxIterations int
	tools         []api.ToolKind
	onEvent       func(task string, ev api.StreamEvent)
}

// ClaudeOption configures a ClaudeWorker.
type ClaudeOption func(*ClaudeWorker)

// WithMaxIterations caps API calls per task.
func WithMaxIterations(n int) ClaudeOption {
	return func(w *ClaudeWorker) { w.maxIterations = n }
}

// WithoutShell removes the Bash tool.
func WithoutShell() ClaudeOption {
	return func(w *ClaudeWorker) { w.tools = api.FileTools }
}

// WithEventHandler receives the tool loop's stream events for every task.
func WithEventHandler(fn func(task string, ev api.StreamEvent)) ClaudeOption {
	return func(w *ClaudeWorker) { w.onEvent = fn }
}

// NewClaudeWorker creates a worker that sends requests through m.
func NewClaudeWorker(m api.Messenger, opts ...ClaudeOption) *ClaudeWorker {
	w := &ClaudeWorker{messenger: m, tools: api.AllTools}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Perform runs the tool loop for one component.
//
// A clean finish is Success. Hitting the iteration cap after writing files is
// PartialSuccess. Anything else is a failure.
func (w *ClaudeWorker) Perform(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (Result, error) {
	executor := api.NewToolExecutor(workDir, api.WithTools(w.tools...))
	loop := api.NewAgentLoop(api.AgentLoopConfig{
		Messenger:     w.messenger,
		Executor:      executor,
		MaxIterations: w.maxIterations,
	})
	if w.onEvent != nil {
		loop.SetStreamHandler(func(ev api.StreamEvent) { w.onEvent(task.Name, ev) })
	}

	system, user := BuildPrompts(task, shared)
	lr, err := loop.Run(ctx, system, user)

	res := Result{ArtifactPaths: lr.FilesWritten}
	switch {
	case err == nil:
		res.Status = models.OutcomeSuccess
		res.Summary = summarize(lr.Output)
		return res, nil
	case errors.Is(err, api.ErrMaxIterations) && len(lr.FilesWritten) > 0:
		res.Status = models.OutcomePartialSuccess
		res.Summary = fmt.Sprintf("incomplete after %d iterations: %v; wrote %d files", lr.Iterations, err, len(lr.FilesWritten))
		return res, nil
	default:
		res.Status = models.OutcomeFailed
		return res, fmt.Errorf("generate %s: %w", task.Name, err)
	}
}

const summaryLimit = 500

func summarize(output string) string {
	output = strings.TrimSpace(output)
	if len(output) <= summaryLimit {
		return output
	}
	cut := summaryLimit - 3
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	return output[:cut] + "..."
}

// Verify ClaudeWorker implements Worker at compile time.
var _ Worker = (*ClaudeWorker)(nil)
