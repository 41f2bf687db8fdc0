package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mosaic/internal/config"
	"github.com/ShayCichocki/mosaic/internal/logging"
)

// errTasksFailed makes the process exit 1 without printing anything further;
// the summary has already been shown.
var errTasksFailed = errors.New("one or more tasks failed")

var (
	configPath string
	debugFlag  bool

	// cfg is the resolved configuration, loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "Build a design system in parallel, one component per worktree",
	Long: `mosaic analyzes a UI design, breaks it into independent components and
builds them in parallel.

Components are grouped into priority tiers. Tiers run strictly in order; the
components of a tier run in bounded batches, each in its own git worktree.
One failed component never stops its siblings. Every run produces a report
with exactly one outcome per component.

The design source is either a manifest (YAML or JSON) listing components and
design tokens, or a free-form description that Claude decomposes.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if !errors.Is(err, errTasksFailed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .mosaic.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Write a debug log to .mosaic/logs (also MOSAIC_DEBUG=1)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if debugFlag || os.Getenv("MOSAIC_DEBUG") != "" {
		root, _ := repoRoot()
		if root == "" {
			root, _ = os.Getwd()
		}
		logging.SetDefault(logging.NewDebugLoggerForRepo(root))
	}
	return nil
}
