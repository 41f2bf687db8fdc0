package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mosaic/internal/workspace"
)

var (
	cleanupForce   bool
	cleanupVerbose bool
	cleanupDryRun  bool
	cleanupRuns    time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove mosaic worktrees and branches",
	Long: `Remove the git worktrees and branches created by mosaic runs.

Worktrees are kept after a run so their output can be reviewed and merged.
Run this once the component branches are no longer needed.

With --runs, also deletes run history older than the given age.

Examples:
  mosaic cleanup              # Confirm, then remove
  mosaic cleanup --force      # Skip confirmation prompt
  mosaic cleanup --dry-run    # Show what would be removed
  mosaic cleanup --runs 720h  # Also purge history older than 30 days`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().DurationVar(&cleanupRuns, "runs", 0, "Also purge run history older than this")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	root, err := repoRoot()
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	prov, err := newProvisioner(cfg, root, false)
	if err != nil {
		return err
	}
	backend := workspace.NewGitBackend(root)
	bindings, err := backend.Bindings(ctx)
	if err != nil {
		return fmt.Errorf("list worktrees: %w", err)
	}

	var ours []workspace.Binding
	for _, b := range bindings {
		if strings.HasPrefix(b.Line, prov.Prefix()+"/") {
			ours = append(ours, b)
		}
	}

	if len(ours) == 0 {
		fmt.Println("No mosaic worktrees found.")
	} else {
		fmt.Printf("Found %d mosaic worktree(s):\n", len(ours))
		for _, b := range ours {
			fmt.Printf("  - %s (branch: %s)\n", b.Path, b.Line)
		}
		fmt.Println()

		switch {
		case cleanupDryRun:
			fmt.Println("Dry run mode - no worktrees were removed.")
		case !cleanupForce && !confirm("Remove these worktrees and their branches? [y/N] "):
			fmt.Println("Worktree cleanup cancelled.")
		default:
			var verbose func(path string)
			if cleanupVerbose {
				verbose = func(path string) { fmt.Printf("Removed: %s\n", path) }
			}
			removed, err := prov.CleanupOrphans(ctx, verbose)
			if err != nil {
				return fmt.Errorf("cleanup worktrees: %w", err)
			}
			fmt.Printf("Successfully removed %d worktree(s).\n", removed)
		}
	}

	if cleanupRuns > 0 {
		return purgeRuns(ctx, root)
	}
	return nil
}

func purgeRuns(ctx context.Context, root string) error {
	db, err := openAudit(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	if cleanupDryRun {
		fmt.Printf("Dry run: would purge runs older than %s.\n", cleanupRuns)
		return nil
	}
	n, err := db.PurgeOldRuns(ctx, cleanupRuns)
	if err != nil {
		return fmt.Errorf("purge old runs: %w", err)
	}
	fmt.Printf("Purged %d run(s) older than %s.\n", n, cleanupRuns)
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	response, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
