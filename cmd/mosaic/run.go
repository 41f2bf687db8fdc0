package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mosaic/internal/config"
	"github.com/ShayCichocki/mosaic/internal/dispatch"
	"github.com/ShayCichocki/mosaic/internal/signals"
	"github.com/ShayCichocki/mosaic/internal/tui"
	"github.com/ShayCichocki/mosaic/internal/worker"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

var (
	runConcurrency int
	runTimeout     time.Duration
	runStrictDeps  bool
	runNoWorktrees bool
	runDryRun      bool
	runJSON        bool
	runReportPath  string
	runTUI         bool
	runWorker      string
	runCommand     string
	runPlanner     string
)

var runCmd = &cobra.Command{
	Use:   "run <source>",
	Short: "Plan a design and build every component",
	Long: `Plan the design and build every component.

<source> is a design manifest (.yaml, .yml or .json) or a design description,
either as a file or inline text. Manifests are read directly; descriptions are
decomposed by Claude (see --planner).

Components run tier by tier in priority order. Within a tier at most
--concurrency components run at once, each in its own git worktree on the
branch <prefix>/<component>. A component whose worktree cannot be created
runs in the fallback directory and is marked degraded in the report.

Press Ctrl+C (or create .mosaic/signals/stop) to stop after the current
batch; components that never started are reported as failed with run_stopped.
A second Ctrl+C cancels running components.

Exit status is 1 if planning failed or any component failed.

Examples:
  mosaic run design.yaml
  mosaic run design.yaml --concurrency 5 --report out/report.json
  mosaic run "A settings page with a form, a toggle and a save button"
  mosaic run design.yaml --worker command --command ./scripts/build-component.sh
  mosaic run design.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runDesign,
}

func init() {
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Maximum components running at once (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-component timeout (default from config)")
	runCmd.Flags().BoolVar(&runStrictDeps, "strict-deps", false, "Derive tiers from depends_on instead of priority")
	runCmd.Flags().BoolVar(&runNoWorktrees, "no-worktrees", false, "Run every component in the fallback directory")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Plan and schedule without creating worktrees or running workers")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the report as JSON instead of a summary")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "Also write the JSON report to this file")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live progress in a terminal UI")
	runCmd.Flags().StringVar(&runWorker, "worker", "", "Worker kind: claude or command (default from config)")
	runCmd.Flags().StringVar(&runCommand, "command", "", "Command run per component when --worker=command")
	runCmd.Flags().StringVar(&runPlanner, "planner", plannerAuto, "Planner: auto, manifest or claude")
}

// applyRunFlags overlays explicitly set flags on the loaded configuration.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		c.Dispatch.ConcurrencyLimit = runConcurrency
	}
	if flags.Changed("timeout") {
		c.Dispatch.TaskTimeout = runTimeout
	}
	if flags.Changed("strict-deps") {
		c.Dispatch.StrictDependencies = runStrictDeps
	}
	if runNoWorktrees {
		c.Workspace.Enabled = false
	}
	if flags.Changed("worker") {
		c.Worker.Kind = runWorker
	}
	if flags.Changed("command") {
		c.Worker.Command = runCommand
		if !flags.Changed("worker") {
			c.Worker.Kind = config.WorkerCommand
		}
	}
	if flags.Changed("report") {
		c.Output.ReportPath = runReportPath
	}
	if flags.Changed("tui") {
		c.Output.TUI = runTUI
	}
}

func runDesign(cmd *cobra.Command, args []string) error {
	source := args[0]
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	root, rootErr := repoRoot()
	if root == "" {
		root = cwd
	}
	useWorktrees := cfg.Workspace.Enabled
	if useWorktrees && rootErr != nil && !runDryRun {
		fmt.Fprintf(os.Stderr, "Warning: %v; running every component in %s\n", rootErr, cwd)
		useWorktrees = false
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopper, err := signals.NewStopWatcher(root)
	if err != nil {
		return fmt.Errorf("create stop watcher: %w", err)
	}
	defer stopper.Close()

	// First interrupt: stop after the current batch. Second: cancel workers.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				if i == 0 {
					fmt.Fprintln(os.Stderr, "\nStopping after the current batch. Press Ctrl+C again to cancel running components.")
					stopper.Stop("interrupt")
					continue
				}
				fmt.Fprintln(os.Stderr, "\nCancelling running components...")
				cancel()
				return
			}
		}
	}()

	kind, err := choosePlanner(runPlanner, source, cwd)
	if err != nil {
		return err
	}
	messenger := &lazyMessenger{cfg: cfg}

	var w worker.Worker
	if runDryRun {
		w = dryRunWorker()
	} else if w, err = newWorker(cfg, messenger); err != nil {
		return err
	}

	fallback := cfg.Dispatch.FallbackDir
	if fallback == "" {
		fallback = cwd
	}
	opts := []dispatch.Option{
		dispatch.WithConcurrency(cfg.Dispatch.ConcurrencyLimit),
		dispatch.WithTaskTimeout(cfg.Dispatch.TaskTimeout),
		dispatch.WithProvisionParallelism(cfg.Dispatch.ProvisionParallelism),
		dispatch.WithStrictDependencies(cfg.Dispatch.StrictDependencies),
		dispatch.WithSerialFallback(cfg.Dispatch.SerialFallback),
		dispatch.WithFallbackDir(fallback),
		dispatch.WithStop(stopper),
	}
	if useWorktrees {
		prov, err := newProvisioner(cfg, root, runDryRun)
		if err != nil {
			return err
		}
		opts = append(opts, dispatch.WithProvisioner(prov))
	}
	if cfg.Audit.Enabled && !runDryRun {
		db, err := openAudit(ctx, cfg, root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: run history disabled: %v\n", err)
		} else {
			defer db.Close()
			opts = append(opts, dispatch.WithReportHooks(db))
		}
	}
	if cfg.Output.ReportPath != "" {
		opts = append(opts, dispatch.WithReportHooks(reportFileHook(cfg.Output.ReportPath)))
	}

	useTUI := cfg.Output.TUI && !runJSON
	if !runJSON {
		opts = append(opts, dispatch.WithEvents(dispatch.DefaultEventBuffer))
	}

	engine := dispatch.NewEngine(newPlanner(kind, messenger, cwd), w, opts...)

	var report *models.RunReport
	var runErr error
	switch {
	case useTUI:
		report, runErr = runWithTUI(ctx, engine, source, stopper)
	case runJSON:
		report, runErr = engine.Run(ctx, source)
	default:
		done := make(chan struct{})
		go func() {
			defer close(done)
			printEvents(os.Stderr, engine.Events())
		}()
		report, runErr = engine.Run(ctx, source)
		<-done
	}

	if runErr != nil {
		return runErr
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		printSummary(os.Stdout, report, messenger.Tracker())
		if cfg.Output.ReportPath != "" {
			fmt.Printf("Report written to %s\n", cfg.Output.ReportPath)
		}
	}
	if dropped := engine.DroppedEvents(); dropped > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d progress events were dropped\n", dropped)
	}

	if !report.OK() {
		return errTasksFailed
	}
	return nil
}

// runWithTUI runs the engine behind the progress display. Quitting the
// display early requests a stop and waits for the run to wind down.
func runWithTUI(ctx context.Context, engine *dispatch.Engine, source string, stopper *signals.StopWatcher) (*models.RunReport, error) {
	program, _ := tui.NewRunProgram(source, stopper.Stop, cfg.Output.RefreshRate)
	go tui.Forward(engine.Events(), program)

	type result struct {
		report *models.RunReport
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		report, err := engine.Run(ctx, source)
		resCh <- result{report, err}
		program.Send(tui.DoneMsg{Report: report, Err: err})
	}()

	if _, err := program.Run(); err != nil {
		stopper.Stop("display closed")
		res := <-resCh
		if res.err == nil {
			res.err = fmt.Errorf("terminal UI: %w", err)
		}
		return res.report, res.err
	}

	var res result
	select {
	case res = <-resCh:
	default:
		stopper.Stop("display closed")
		fmt.Fprintln(os.Stderr, "Waiting for running components to finish...")
		res = <-resCh
	}
	return res.report, res.err
}
