package dispatch

import (
	"context"
	"time"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// Defaults used when an option is not given.
const (
	DefaultConcurrency          = 3
	DefaultTaskTimeout          = 15 * time.Minute
	DefaultProvisionParallelism = 4
	DefaultEventBuffer          = 256
)

// Provisioner creates workspaces for every task before dispatch.
type Provisioner interface {
	WorkspaceSource
	ProvisionAll(ctx context.Context, names []string, parallelism int) (map[string]*models.Workspace, map[string]error)
}

// ReportHook receives the finalized report. Errors are logged and recorded
// as report_hook warnings; they never fail the run.
type ReportHook interface {
	HandleReport(ctx context.Context, report *models.RunReport) error
}

// ReportHookFunc adapts a function to the ReportHook interface.
type ReportHookFunc func(ctx context.Context, report *models.RunReport) error

// HandleReport calls f.
func (f ReportHookFunc) HandleReport(ctx context.Context, report *models.RunReport) error {
	return f(ctx, report)
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

type engineOptions struct {
	provisioner          Provisioner
	fallbackDir          string
	concurrency          int
	taskTimeout          time.Duration
	provisionParallelism int
	strictDependencies   bool
	serialFallback       bool
	stop                 StopChecker
	hooks                []ReportHook
	eventBuffer          int
	runID                string
	now                  func() time.Time
}

func defaultOptions() engineOptions {
	return engineOptions{
		concurrency:          DefaultConcurrency,
		taskTimeout:          DefaultTaskTimeout,
		provisionParallelism: DefaultProvisionParallelism,
		serialFallback:       true,
		now:                  time.Now,
	}
}

// WithProvisioner sets the workspace provisioner. Without one, every task
// runs in the fallback directory.
func WithProvisioner(p Provisioner) Option {
	return func(o *engineOptions) { o.provisioner = p }
}

// WithFallbackDir sets the shared directory used when a workspace is unavailable.
func WithFallbackDir(dir string) Option {
	return func(o *engineOptions) { o.fallbackDir = dir }
}

// WithConcurrency sets the maximum number of tasks in flight. Values < 1 mean 1.
func WithConcurrency(n int) Option {
	return func(o *engineOptions) { o.concurrency = n }
}

// WithTaskTimeout sets the per-task worker deadline. Zero disables it.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.taskTimeout = d }
}

// WithProvisionParallelism bounds concurrent workspace provisioning.
func WithProvisionParallelism(n int) Option {
	return func(o *engineOptions) { o.provisionParallelism = n }
}

// WithStrictDependencies derives tiers from dependency layering instead of priority.
func WithStrictDependencies(b bool) Option {
	return func(o *engineOptions) { o.strictDependencies = b }
}

// WithSerialFallback controls whether degraded tasks in one batch take turns
// in the shared fallback directory. Enabled by default.
func WithSerialFallback(b bool) Option {
	return func(o *engineOptions) { o.serialFallback = b }
}

// WithStop sets the graceful stop signal checked between batches.
func WithStop(s StopChecker) Option {
	return func(o *engineOptions) { o.stop = s }
}

// WithReportHooks adds hooks run after the report is finalized.
func WithReportHooks(hooks ...ReportHook) Option {
	return func(o *engineOptions) { o.hooks = append(o.hooks, hooks...) }
}

// WithEvents enables the event channel with the given buffer size.
func WithEvents(bufferSize int) Option {
	return func(o *engineOptions) {
		if bufferSize < 1 {
			bufferSize = DefaultEventBuffer
		}
		o.eventBuffer = bufferSize
	}
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(o *engineOptions) { o.runID = id }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}
