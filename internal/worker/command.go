package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	mexec "github.com/ShayCichocki/mosaic/internal/exec"
	"github.com/ShayCichocki/mosaic/internal/git"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

// Environment variables passed to command workers.
const (
	EnvTask     = "MOSAIC_TASK"
	EnvPriority = "MOSAIC_PRIORITY"
	EnvPayload  = "MOSAIC_PAYLOAD"
	EnvTokens   = "MOSAIC_TOKENS"
	EnvWorkDir  = "MOSAIC_WORKDIR"
)

// ErrNoCommand is returned when a CommandWorker has nothing to run.
var ErrNoCommand = errors.New("no worker command configured")

// CommandWorker runs a shell command in the working directory for each task.
//
// The command sees the task through MOSAIC_* environment variables. If the
// last line of its stdout is a JSON object with a "status" field, that object
// supplies the result; otherwise exit status decides success and the last
// stdout line becomes the summary. Artifacts are the paths whose git status
// changed while the command ran.
type CommandWorker struct {
	command string
	runner  mexec.CommandRunner
	status  func(dir string) git.StatusOperations
}

// CommandOption configures a CommandWorker.
type CommandOption func(*CommandWorker)

// WithRunner sets the command runner.
func WithRunner(r mexec.CommandRunner) CommandOption {
	return func(w *CommandWorker) { w.runner = r }
}

// WithStatusSource sets how working tree status is read for a directory.
func WithStatusSource(fn func(dir string) git.StatusOperations) CommandOption {
	return func(w *CommandWorker) { w.status = fn }
}

// NewCommandWorker creates a worker that runs command through the shell.
func NewCommandWorker(command string, opts ...CommandOption) *CommandWorker {
	w := &CommandWorker{
		command: command,
		runner:  mexec.NewRunner(),
		status:  func(dir string) git.StatusOperations { return git.NewRunner(dir) },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// commandReport is the optional structured result on the last stdout line.
type commandReport struct {
	Status    models.OutcomeStatus `json:"status"`
	Summary   string               `json:"summary"`
	Artifacts []string             `json:"artifacts"`
	Error     string               `json:"error"`
}

// Perform runs the command for one task.
func (w *CommandWorker) Perform(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (Result, error) {
	if strings.TrimSpace(w.command) == "" {
		return Result{Status: models.OutcomeFailed}, ErrNoCommand
	}

	tokens, err := json.Marshal(shared)
	if err != nil {
		return Result{Status: models.OutcomeFailed}, fmt.Errorf("encode tokens: %w", err)
	}
	env := []string{
		EnvTask + "=" + task.Name,
		EnvPriority + "=" + strconv.Itoa(task.EffectivePriority()),
		EnvPayload + "=" + string(task.Payload),
		EnvTokens + "=" + string(tokens),
		EnvWorkDir + "=" + workDir,
	}

	before := w.snapshot(ctx, workDir)
	out, runErr := w.runner.RunShell(ctx, workDir, w.command, env)
	changed := w.changedSince(ctx, workDir, before)

	if report, ok := parseReport(out.Stdout); ok {
		res := Result{Status: report.Status, Summary: report.Summary, ArtifactPaths: report.Artifacts}
		if len(res.ArtifactPaths) == 0 {
			res.ArtifactPaths = changed
		}
		if report.Status == models.OutcomeFailed {
			msg := report.Error
			if msg == "" {
				msg = report.Summary
			}
			return res, fmt.Errorf("%s: %s", task.Name, msg)
		}
		if runErr != nil {
			return Result{Status: models.OutcomeFailed, ArtifactPaths: res.ArtifactPaths}, runErr
		}
		return res, nil
	}

	if runErr != nil {
		return Result{Status: models.OutcomeFailed, ArtifactPaths: changed}, runErr
	}
	return Result{
		Status:        models.OutcomeSuccess,
		Summary:       lastLine(out.Stdout),
		ArtifactPaths: changed,
	}, nil
}

// snapshot records the status code of every dirty path. A directory that is
// not a git working tree yields nil and no artifacts are detected.
func (w *CommandWorker) snapshot(ctx context.Context, dir string) map[string]string {
	if w.status == nil {
		return nil
	}
	out, err := w.status(dir).Status(ctx)
	if err != nil {
		debugLog("[worker] status in %s: %v", dir, err)
		return nil
	}
	entries := git.ParseStatus(out)
	snap := make(map[string]string, len(entries))
	for _, e := range entries {
		snap[e.Path] = e.Code
	}
	return snap
}

func (w *CommandWorker) changedSince(ctx context.Context, dir string, before map[string]string) []string {
	if before == nil {
		return nil
	}
	after := w.snapshot(context.WithoutCancel(ctx), dir)
	var paths []string
	for path, code := range after {
		if prev, ok := before[path]; ok && prev == code {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func parseReport(stdout []byte) (commandReport, bool) {
	line := lastLine(stdout)
	if !strings.HasPrefix(line, "{") {
		return commandReport{}, false
	}
	var report commandReport
	if err := json.Unmarshal([]byte(line), &report); err != nil || !report.Status.Valid() {
		return commandReport{}, false
	}
	return report, true
}

func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	return strings.TrimSpace(string(lines[len(lines)-1]))
}

// Verify CommandWorker implements Worker at compile time.
var _ Worker = (*CommandWorker)(nil)
