package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/mosaic/internal/api"
	"github.com/ShayCichocki/mosaic/internal/config"
	"github.com/ShayCichocki/mosaic/internal/dispatch"
	"github.com/ShayCichocki/mosaic/internal/planner"
	"github.com/ShayCichocki/mosaic/internal/state"
	"github.com/ShayCichocki/mosaic/internal/worker"
	"github.com/ShayCichocki/mosaic/internal/workspace"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

// Planner kinds accepted by --planner.
const (
	plannerAuto     = "auto"
	plannerManifest = "manifest"
	plannerClaude   = "claude"
)

// repoRoot finds the enclosing git repository of the working directory.
func repoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return findGitRoot(cwd)
}

// findGitRoot finds the root of the git repository starting from the given directory.
// A .git file (linked worktree) counts as well as a directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}

// choosePlanner resolves "auto" by looking at the source: an existing
// .yaml, .yml or .json file is a manifest, anything else goes to Claude.
func choosePlanner(kind, source, baseDir string) (string, error) {
	switch kind {
	case plannerManifest, plannerClaude:
		return kind, nil
	case "", plannerAuto:
	default:
		return "", fmt.Errorf("unknown planner %q: must be auto, manifest or claude", kind)
	}

	path := source
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	switch strings.ToLower(filepath.Ext(source)) {
	case ".yaml", ".yml", ".json":
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return plannerManifest, nil
		}
	}
	return plannerClaude, nil
}

// lazyMessenger creates the API client on first use so manifest runs with a
// command worker never need an API key.
type lazyMessenger struct {
	cfg    *config.Config
	client *api.Client
	err    error
}

func (m *lazyMessenger) get() (*api.Client, error) {
	if m.client == nil && m.err == nil {
		m.client, m.err = newAPIClient(m.cfg)
	}
	return m.client, m.err
}

// Send implements api.Messenger.
func (m *lazyMessenger) Send(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	c, err := m.get()
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, params)
}

// Tracker returns the token tracker, or nil when no call was made.
func (m *lazyMessenger) Tracker() *api.TokenTracker {
	if m.client == nil {
		return nil
	}
	return m.client.Tracker()
}

func newAPIClient(c *config.Config) (*api.Client, error) {
	key, err := config.GetAPIKey(c)
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(c.Anthropic.Model),
		APIKey:        key,
		MaxTokens:     c.Anthropic.MaxTokens,
		UseAWSBedrock: c.Anthropic.UseBedrock,
		AWSRegion:     c.Anthropic.AWSRegion,
		AWSProfile:    c.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return client, nil
}

func newPlanner(kind string, m api.Messenger, baseDir string) planner.Planner {
	if kind == plannerManifest {
		return planner.NewManifestPlanner(baseDir)
	}
	return planner.NewClaudePlanner(m, baseDir)
}

// newWorker builds the configured worker. Graceful stops are handled by the
// dispatcher at batch boundaries, so workers never see the stop signal and a
// started component always runs to completion.
func newWorker(c *config.Config, m api.Messenger) (worker.Worker, error) {
	switch c.Worker.Kind {
	case config.WorkerCommand:
		if strings.TrimSpace(c.Worker.Command) == "" {
			return nil, worker.ErrNoCommand
		}
		return worker.NewCommandWorker(c.Worker.Command), nil
	case config.WorkerClaude, "":
		opts := []worker.ClaudeOption{worker.WithMaxIterations(c.Worker.MaxIterations)}
		if !c.Worker.AllowShell {
			opts = append(opts, worker.WithoutShell())
		}
		return worker.NewClaudeWorker(m, opts...), nil
	default:
		return nil, fmt.Errorf("unknown worker kind %q", c.Worker.Kind)
	}
}

// dryRunWorker reports success without touching anything.
func dryRunWorker() worker.Worker {
	return worker.Func(func(ctx context.Context, task models.TaskDescriptor, workDir string, shared models.DesignTokens) (worker.Result, error) {
		return worker.Result{
			Status:  models.OutcomeSuccess,
			Summary: fmt.Sprintf("dry run: would build %s in %s", task.Name, workDir),
		}, nil
	})
}

// newProvisioner creates the worktree provisioner for root. With dryRun the
// backend is in memory and nothing on disk changes.
func newProvisioner(c *config.Config, root string, dryRun bool) (*workspace.Provisioner, error) {
	baseDir := c.Workspace.BaseDir
	if !filepath.IsAbs(baseDir) {
		baseDir = filepath.Join(root, baseDir)
	}
	var backend workspace.Backend = workspace.NewGitBackend(root)
	if dryRun {
		backend = workspace.NewMemoryBackend()
	}
	return workspace.NewProvisioner(backend, baseDir, workspace.WithPrefix(c.Workspace.BranchPrefix))
}

// openAudit opens the run history database, migrating it and applying the
// retention policy.
func openAudit(ctx context.Context, c *config.Config, root string) (*state.DB, error) {
	path := c.Audit.Path
	if path == "" {
		path = state.ProjectDBPath(root)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	db, err := state.OpenWithDriver(c.Audit.Driver, path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}
	if c.Audit.Retention > 0 {
		if n, err := db.PurgeOldRuns(ctx, c.Audit.Retention); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: purge old runs: %v\n", err)
		} else if n > 0 {
			fmt.Fprintf(os.Stderr, "Purged %d run(s) older than %s\n", n, c.Audit.Retention)
		}
	}
	return db, nil
}

// reportFileHook writes the finalized report as indented JSON.
func reportFileHook(path string) dispatch.ReportHook {
	return dispatch.ReportHookFunc(func(ctx context.Context, r *models.RunReport) error {
		return writeReport(path, r)
	})
}

func writeReport(path string, r *models.RunReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
