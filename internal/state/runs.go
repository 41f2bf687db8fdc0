package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// RunSummary is one row of the run history.
type RunSummary struct {
	ID             string
	Source         string
	Total          int
	Succeeded      int
	PartialSuccess int
	Failed         int
	StartedAt      time.Time
	DurationMS     int64
}

// OK reports whether the run had no failures.
func (s RunSummary) OK() bool {
	return s.Failed == 0
}

// TaskRecord is one task outcome with the run it belongs to.
type TaskRecord struct {
	RunID   string
	Outcome models.TaskOutcome
}

// SaveReport stores a finalized report. Saving the same run ID again
// replaces the earlier copy.
func (db *DB) SaveReport(ctx context.Context, r *models.RunReport) error {
	if r == nil || r.RunID == "" {
		return fmt.Errorf("save report: missing run id")
	}

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"outcomes", "tiers", "warnings"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", r.RunID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO runs (id, source, total, succeeded, partial_success, failed, started_at, finished_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.RunID, r.Source, r.Total, r.Succeeded, r.PartialSuccess, r.Failed,
			formatTime(r.StartedAt), formatTime(r.FinishedAt), r.DurationMS)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for i, o := range r.Outcomes {
			artifacts, _ := json.Marshal(o.ArtifactPaths)
			notes, _ := json.Marshal(o.Notes)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO outcomes (run_id, seq, task_name, priority, status, summary, artifact_paths, error,
					error_kind, working_dir, revision_line, degraded, notes, started_at, finished_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, r.RunID, i, o.TaskName, o.Priority, string(o.Status), o.Summary, string(artifacts), o.Error,
				string(o.ErrorKind), o.WorkingDir, o.RevisionLine, o.DegradedIsolation, string(notes),
				formatTime(o.StartedAt), formatTime(o.FinishedAt))
			if err != nil {
				return fmt.Errorf("insert outcome %s: %w", o.TaskName, err)
			}
		}

		for _, t := range r.Tiers {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tiers (run_id, priority, tasks, batches, started_at, finished_at, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, r.RunID, t.Priority, t.Tasks, t.Batches, formatTime(t.StartedAt), formatTime(t.FinishedAt), t.DurationMS)
			if err != nil {
				return fmt.Errorf("insert tier %d: %w", t.Priority, err)
			}
		}

		for i, w := range r.Warnings {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO warnings (run_id, seq, kind, task_name, message) VALUES (?, ?, ?, ?, ?)
			`, r.RunID, i, string(w.Kind), w.TaskName, w.Message)
			if err != nil {
				return fmt.Errorf("insert warning: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.RunID, err)
	}
	return nil
}

// HandleReport saves the report. It lets a DB serve as an engine report hook.
func (db *DB) HandleReport(ctx context.Context, r *models.RunReport) error {
	return db.SaveReport(ctx, r)
}

// GetReport loads a stored report. It returns nil, nil if the run is unknown.
func (db *DB) GetReport(id string) (*models.RunReport, error) {
	row := db.QueryRow(`
		SELECT id, source, total, succeeded, partial_success, failed, started_at, finished_at, duration_ms
		FROM runs WHERE id = ?
	`, id)

	var r models.RunReport
	var startedAt, finishedAt string
	err := row.Scan(&r.RunID, &r.Source, &r.Total, &r.Succeeded, &r.PartialSuccess, &r.Failed,
		&startedAt, &finishedAt, &r.DurationMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt, _ = parseTime(finishedAt)

	if r.Outcomes, err = db.listOutcomes("WHERE run_id = ? ORDER BY seq", id); err != nil {
		return nil, err
	}
	if r.Tiers, err = db.listTiers(id); err != nil {
		return nil, err
	}
	if r.Warnings, err = db.listWarnings(id); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]RunSummary, error) {
	query := `
		SELECT id, source, total, succeeded, partial_success, failed, started_at, duration_ms
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var s RunSummary
		var startedAt string
		if err := rows.Scan(&s.ID, &s.Source, &s.Total, &s.Succeeded, &s.PartialSuccess, &s.Failed, &startedAt, &s.DurationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		s.StartedAt, _ = parseTime(startedAt)
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// TaskHistory returns the recorded outcomes for a task name across runs,
// most recent first.
func (db *DB) TaskHistory(taskName string, limit int) ([]TaskRecord, error) {
	query := `
		SELECT o.run_id, o.task_name, o.priority, o.status, o.summary, o.artifact_paths, o.error, o.error_kind,
			o.working_dir, o.revision_line, o.degraded, o.notes, o.started_at, o.finished_at
		FROM outcomes o WHERE o.task_name = ? ORDER BY o.started_at DESC`
	args := []any{taskName}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("task history: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		o, err := scanOutcome(rows, &rec.RunID)
		if err != nil {
			return nil, err
		}
		rec.Outcome = o
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (db *DB) listOutcomes(where string, args ...any) ([]models.TaskOutcome, error) {
	rows, err := db.Query(`
		SELECT run_id, task_name, priority, status, summary, artifact_paths, error, error_kind,
			working_dir, revision_line, degraded, notes, started_at, finished_at
		FROM outcomes `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []models.TaskOutcome{}
	for rows.Next() {
		var runID string
		o, err := scanOutcome(rows, &runID)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func scanOutcome(rows *sql.Rows, runID *string) (models.TaskOutcome, error) {
	var o models.TaskOutcome
	var summary, artifacts, errMsg, errKind, workDir, line, notes, startedAt, finishedAt sql.NullString
	var status string
	err := rows.Scan(runID, &o.TaskName, &o.Priority, &status, &summary, &artifacts, &errMsg, &errKind,
		&workDir, &line, &o.DegradedIsolation, &notes, &startedAt, &finishedAt)
	if err != nil {
		return o, fmt.Errorf("scan outcome: %w", err)
	}
	o.Status = models.OutcomeStatus(status)
	o.Summary = summary.String
	o.Error = errMsg.String
	o.ErrorKind = models.ErrorKind(errKind.String)
	o.WorkingDir = workDir.String
	o.RevisionLine = line.String
	o.StartedAt = parseNullableTime(startedAt)
	o.FinishedAt = parseNullableTime(finishedAt)

	o.ArtifactPaths = []string{}
	if artifacts.Valid && artifacts.String != "" {
		_ = json.Unmarshal([]byte(artifacts.String), &o.ArtifactPaths)
	}
	if notes.Valid && notes.String != "" && notes.String != "null" {
		_ = json.Unmarshal([]byte(notes.String), &o.Notes)
	}
	return o, nil
}

func (db *DB) listTiers(runID string) ([]models.TierTiming, error) {
	rows, err := db.Query(`
		SELECT priority, tasks, batches, started_at, finished_at, duration_ms
		FROM tiers WHERE run_id = ? ORDER BY priority
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()

	tiers := []models.TierTiming{}
	for rows.Next() {
		var t models.TierTiming
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&t.Priority, &t.Tasks, &t.Batches, &startedAt, &finishedAt, &t.DurationMS); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		t.StartedAt = parseNullableTime(startedAt)
		t.FinishedAt = parseNullableTime(finishedAt)
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

func (db *DB) listWarnings(runID string) ([]models.Warning, error) {
	rows, err := db.Query(`
		SELECT kind, task_name, message FROM warnings WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list warnings: %w", err)
	}
	defer rows.Close()

	var warnings []models.Warning
	for rows.Next() {
		var w models.Warning
		var kind string
		var task sql.NullString
		if err := rows.Scan(&kind, &task, &w.Message); err != nil {
			return nil, fmt.Errorf("scan warning: %w", err)
		}
		w.Kind = models.WarningKind(kind)
		w.TaskName = task.String
		warnings = append(warnings, w)
	}
	return warnings, rows.Err()
}
