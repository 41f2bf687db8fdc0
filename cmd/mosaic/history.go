package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mosaic/internal/state"
)

var (
	historyLimit int
	historyTask  string
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past runs",
	Long: `Show runs recorded in the project's run history.

Without arguments, lists recent runs. With a run ID, prints that run's
report. With --task, lists the outcomes of one component across runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of entries to show")
	historyCmd.Flags().StringVar(&historyTask, "task", "", "Show one component's outcomes across runs")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		root, _ = os.Getwd()
	}
	path := cfg.Audit.Path
	if path == "" {
		path = state.ProjectDBPath(root)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No runs recorded yet. Run 'mosaic run <source>' to start.")
		return nil
	}

	db, err := openAudit(context.Background(), cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	switch {
	case len(args) == 1:
		report, err := db.GetReport(args[0])
		if err != nil {
			return err
		}
		if report == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		if historyJSON {
			return printJSON(report)
		}
		printSummary(os.Stdout, report, nil)
		return nil

	case historyTask != "":
		records, err := db.TaskHistory(historyTask, historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return printJSON(records)
		}
		if len(records) == 0 {
			fmt.Printf("No outcomes recorded for %s.\n", historyTask)
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  %s\n", rec.RunID[:min(8, len(rec.RunID))], outcomeLine(rec.Outcome))
		}
		return nil

	default:
		runs, err := db.ListRuns(historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}
		for _, r := range runs {
			status := color.GreenString("ok    ")
			if !r.OK() {
				status = color.RedString("failed")
			}
			fmt.Printf("%s  %s  %s  %d/%d succeeded  %s  %s\n",
				r.ID, status, r.StartedAt.Local().Format("2006-01-02 15:04"),
				r.Succeeded+r.PartialSuccess, r.Total,
				(time.Duration(r.DurationMS) * time.Millisecond).Round(time.Second),
				truncate(firstLine(r.Source), 40))
		}
		return nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
