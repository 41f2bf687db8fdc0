package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mosaic/internal/dispatch"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

var (
	planConcurrency int
	planStrictDeps  bool
	planJSON        bool
	planPlanner     string
)

var planCmd = &cobra.Command{
	Use:   "plan <source>",
	Short: "Show the tiers and batches a run would use",
	Long: `Analyze the design and print the schedule without building anything.

Shows each priority tier, how it would be split into batches at the current
concurrency limit, the shared design tokens and any dependency warnings.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().IntVar(&planConcurrency, "concurrency", 0, "Batch size to show (default from config)")
	planCmd.Flags().BoolVar(&planStrictDeps, "strict-deps", false, "Derive tiers from depends_on instead of priority")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the schedule as JSON")
	planCmd.Flags().StringVar(&planPlanner, "planner", plannerAuto, "Planner: auto, manifest or claude")
}

// schedule is the JSON form of a plan.
type schedule struct {
	Tiers    []scheduledTier     `json:"tiers"`
	Tokens   models.DesignTokens `json:"tokens"`
	Warnings []models.Warning    `json:"warnings,omitempty"`
}

type scheduledTier struct {
	Priority int        `json:"priority"`
	Batches  [][]string `json:"batches"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	source := args[0]
	limit := cfg.Dispatch.ConcurrencyLimit
	if cmd.Flags().Changed("concurrency") {
		limit = planConcurrency
	}
	if limit < 1 {
		limit = 1
	}
	strict := cfg.Dispatch.StrictDependencies
	if cmd.Flags().Changed("strict-deps") {
		strict = planStrictDeps
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	kind, err := choosePlanner(planPlanner, source, cwd)
	if err != nil {
		return err
	}

	plan, err := newPlanner(kind, &lazyMessenger{cfg: cfg}, cwd).Analyze(context.Background(), source)
	if err != nil {
		return err
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	s, err := buildSchedule(plan.Tasks, plan.SharedConfig, limit, strict)
	if err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrPlanningFailed, err)
	}
	s.Warnings = append(plan.Warnings, s.Warnings...)

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	printSchedule(os.Stdout, s, limit)
	return nil
}

func buildSchedule(tasks []models.TaskDescriptor, tokens models.DesignTokens, limit int, strict bool) (schedule, error) {
	var tiers []models.Tier
	s := schedule{Tokens: tokens}
	if strict {
		var err error
		if tiers, err = dispatch.GroupByDependencies(tasks); err != nil {
			return schedule{}, err
		}
	} else {
		tiers = dispatch.GroupByPriority(tasks)
		s.Warnings = dispatch.CheckDependencies(tasks)
	}

	for _, tier := range tiers {
		st := scheduledTier{Priority: tier.Priority}
		for _, batch := range tier.Batches(limit) {
			st.Batches = append(st.Batches, models.TaskNames(batch))
		}
		s.Tiers = append(s.Tiers, st)
	}
	return s, nil
}

func printSchedule(w io.Writer, s schedule, limit int) {
	total := 0
	for _, t := range s.Tiers {
		for _, b := range t.Batches {
			total += len(b)
		}
	}
	fmt.Fprintf(w, "%d components in %d tiers, at most %d at once\n\n", total, len(s.Tiers), limit)

	for _, t := range s.Tiers {
		fmt.Fprintln(w, bold(fmt.Sprintf("Tier %d", t.Priority)))
		for i, b := range t.Batches {
			fmt.Fprintf(w, "  batch %d: %s\n", i+1, strings.Join(b, ", "))
		}
	}

	if groups := s.Tokens.Groups(); len(groups) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold("Design tokens"))
		for _, g := range groups {
			fmt.Fprintf(w, "  %s: %d\n", g, len(s.Tokens.Group(g)))
		}
	}

	if len(s.Warnings) > 0 {
		fmt.Fprintln(w)
		for _, wn := range s.Warnings {
			fmt.Fprintf(w, "%s [%s] %s\n", partialMark, wn.Kind, wn.Message)
		}
	}
}
