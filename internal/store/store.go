package store

import (
	"context"

	"github.com/placekit/placekit/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	Command string          `json:"command,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// NewRun describes a batch about to start.
type NewRun struct {
	Command string `json:"command"`
	Input   string `json:"input"`
	Raster  string `json:"raster,omitempty"`
	Params  any    `json:"params,omitempty"`
}

// Store defines the persistence interface for the run ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run NewRun) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, counts model.RunCounts, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Rows
	RecordRows(ctx context.Context, runID string, rows []model.RunRow) error
	ListRows(ctx context.Context, runID string, status model.RowStatus) ([]model.RunRow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
