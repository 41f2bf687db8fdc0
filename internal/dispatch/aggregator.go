package dispatch

import (
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// Aggregator folds outcomes into a RunReport.
// It is not safe for concurrent use; only the dispatching goroutine calls it.
type Aggregator struct {
	report    models.RunReport
	index     map[string]int
	finalized bool
	now       func() time.Time
}

// NewAggregator starts a report for one run.
func NewAggregator(runID, source string, startedAt time.Time) *Aggregator {
	return &Aggregator{
		report: models.RunReport{
			RunID:     runID,
			Source:    source,
			Outcomes:  []models.TaskOutcome{},
			Tiers:     []models.TierTiming{},
			StartedAt: startedAt,
		},
		index: make(map[string]int),
		now:   time.Now,
	}
}

// Record appends an outcome and updates the counts. A second outcome for the
// same task replaces the first in place and adds a duplicate_outcome warning.
func (a *Aggregator) Record(o models.TaskOutcome) {
	if a.finalized {
		log.Printf("[dispatch] warning: outcome for %s recorded after finalize, ignored", o.TaskName)
		return
	}

	if i, dup := a.index[o.TaskName]; dup {
		prev := a.report.Outcomes[i]
		a.count(prev.Status, -1)
		a.report.Outcomes[i] = o
		a.count(o.Status, 1)
		a.warn(models.Warning{
			Kind:     models.WarningDuplicateOutcome,
			TaskName: o.TaskName,
			Message:  fmt.Sprintf("duplicate outcome for %s: %s replaced by %s", o.TaskName, prev.Status, o.Status),
		})
		return
	}

	a.index[o.TaskName] = len(a.report.Outcomes)
	a.report.Outcomes = append(a.report.Outcomes, o)
	a.report.Total++
	a.count(o.Status, 1)
}

// RecordTier appends a tier's timing.
func (a *Aggregator) RecordTier(t models.TierTiming) {
	if a.finalized {
		return
	}
	t.DurationMS = t.Duration().Milliseconds()
	a.report.Tiers = append(a.report.Tiers, t)
}

// Warn adds a non-fatal condition to the report.
func (a *Aggregator) Warn(w models.Warning) {
	if a.finalized {
		log.Printf("[dispatch] warning after finalize, ignored: %s", w.Message)
		return
	}
	a.warn(w)
}

func (a *Aggregator) warn(w models.Warning) {
	log.Printf("[dispatch] warning: %s", w.Message)
	a.report.Warnings = append(a.report.Warnings, w)
}

// Len returns the number of distinct tasks recorded so far.
func (a *Aggregator) Len() int {
	return len(a.report.Outcomes)
}

// Finalize stamps the finish time and returns a copy of the report.
// Later calls return the same report; later records are ignored.
func (a *Aggregator) Finalize() models.RunReport {
	if !a.finalized {
		a.finalized = true
		a.report.FinishedAt = a.now()
		a.report.DurationMS = a.report.Duration().Milliseconds()
	}
	return a.snapshot()
}

func (a *Aggregator) snapshot() models.RunReport {
	r := a.report
	r.Outcomes = make([]models.TaskOutcome, len(a.report.Outcomes))
	for i, o := range a.report.Outcomes {
		o.ArtifactPaths = append([]string{}, o.ArtifactPaths...)
		o.Notes = append([]string(nil), o.Notes...)
		r.Outcomes[i] = o
	}
	r.Tiers = append([]models.TierTiming{}, a.report.Tiers...)
	r.Warnings = append([]models.Warning(nil), a.report.Warnings...)
	return r
}

func (a *Aggregator) count(status models.OutcomeStatus, delta int) {
	switch status {
	case models.OutcomeSuccess:
		a.report.Succeeded += delta
	case models.OutcomePartialSuccess:
		a.report.PartialSuccess += delta
	default:
		a.report.Failed += delta
	}
}
