package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/mosaic/internal/api"
	"github.com/ShayCichocki/mosaic/internal/dispatch"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

var (
	okMark      = color.GreenString("✓")
	partialMark = color.YellowString("◐")
	failMark    = color.RedString("✗")
	dim         = color.New(color.Faint).SprintFunc()
	bold        = color.New(color.Bold).SprintFunc()
)

// printEvents writes one line per interesting engine event until the channel closes.
func printEvents(w io.Writer, events <-chan dispatch.Event) {
	for ev := range events {
		if line := eventLine(ev); line != "" {
			fmt.Fprintf(w, "%s %s\n", dim(ev.Timestamp.Format("15:04:05")), line)
		}
	}
}

func eventLine(ev dispatch.Event) string {
	switch ev.Type {
	case dispatch.EventPlanned:
		return fmt.Sprintf("planned %d components in %s", ev.Count, ev.Message)
	case dispatch.EventWorkspaceFailed:
		return color.YellowString("workspace for %s unavailable, using shared directory: %v", ev.TaskName, ev.Error)
	case dispatch.EventTierStarted:
		return bold(fmt.Sprintf("priority %d: %d components", ev.Priority, ev.Count))
	case dispatch.EventTaskStarted:
		return fmt.Sprintf("  started %s", ev.TaskName)
	case dispatch.EventTaskCompleted, dispatch.EventTaskFailed:
		if ev.Outcome == nil {
			return ""
		}
		return "  " + outcomeLine(*ev.Outcome)
	case dispatch.EventRunStopped:
		return color.YellowString("stop requested; remaining components will not start")
	default:
		return ""
	}
}

func outcomeLine(o models.TaskOutcome) string {
	mark := okMark
	detail := o.Summary
	switch o.Status {
	case models.OutcomePartialSuccess:
		mark = partialMark
	case models.OutcomeFailed:
		mark = failMark
		detail = o.Error
		if o.ErrorKind != models.ErrorKindNone {
			detail = fmt.Sprintf("[%s] %s", o.ErrorKind, o.Error)
		}
	}
	line := fmt.Sprintf("%s %s", mark, o.TaskName)
	if d := o.Duration(); d > 0 {
		line += dim(fmt.Sprintf(" (%s)", d.Round(100*time.Millisecond)))
	}
	if o.DegradedIsolation {
		line += color.YellowString(" [shared dir]")
	}
	if detail = firstLine(detail); detail != "" {
		line += " " + dim(truncate(detail, 100))
	}
	return line
}

// printSummary writes the human-readable run report.
func printSummary(w io.Writer, r *models.RunReport, tracker *api.TokenTracker) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", bold("Run"), r.RunID)
	if r.Source != "" {
		fmt.Fprintf(w, "Source: %s\n", truncate(firstLine(r.Source), 80))
	}
	fmt.Fprintln(w)

	for _, t := range r.Tiers {
		fmt.Fprintf(w, "%s %s\n", bold(fmt.Sprintf("Tier %d", t.Priority)),
			dim(fmt.Sprintf("%d components, %d batches, %s", t.Tasks, t.Batches, t.Duration().Round(time.Second))))
	}
	fmt.Fprintln(w)

	outcomes := append([]models.TaskOutcome(nil), r.Outcomes...)
	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].Priority != outcomes[j].Priority {
			return outcomes[i].Priority < outcomes[j].Priority
		}
		return outcomes[i].TaskName < outcomes[j].TaskName
	})
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %s\n", outcomeLine(o))
		if o.RevisionLine != "" && o.Succeeded() {
			fmt.Fprintf(w, "    %s\n", dim("branch "+o.RevisionLine))
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, color.YellowString("Warnings:"))
		for _, wn := range r.Warnings {
			if wn.TaskName != "" {
				fmt.Fprintf(w, "  - [%s] %s: %s\n", wn.Kind, wn.TaskName, wn.Message)
			} else {
				fmt.Fprintf(w, "  - [%s] %s\n", wn.Kind, wn.Message)
			}
		}
	}

	fmt.Fprintln(w)
	totals := fmt.Sprintf("%d components: %d succeeded, %d partial, %d failed in %s",
		r.Total, r.Succeeded, r.PartialSuccess, r.Failed, r.Duration().Round(time.Second))
	if r.OK() {
		fmt.Fprintln(w, color.GreenString(totals))
	} else {
		fmt.Fprintln(w, color.RedString(totals))
	}

	if tracker != nil && tracker.Calls() > 0 {
		in, out := tracker.Total()
		fmt.Fprintf(w, "%s\n", dim(fmt.Sprintf("API: %d calls, %d input / %d output tokens, ~$%.2f",
			tracker.Calls(), in, out, tracker.Cost())))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
