package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// RunStore persists and queries finalized run reports.
type RunStore interface {
	SaveReport(ctx context.Context, r *models.RunReport) error
	GetReport(id string) (*models.RunReport, error)
	ListRuns(limit int) ([]RunSummary, error)
	TaskHistory(taskName string, limit int) ([]TaskRecord, error)
}

// AuditStore is the full persistence surface used by the CLI.
type AuditStore interface {
	io.Closer
	Migrator
	RunStore
	HandleReport(ctx context.Context, r *models.RunReport) error
}

// Compile-time verification that DB implements all interfaces.
var (
	_ AuditStore = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
)
