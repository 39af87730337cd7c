package storage

import (
	"context"

	"txn-anomaly-lab/internal/domain"
)

// TransactionStore provides access to transactions storage.
type TransactionStore interface {
	// InsertBulk appends records atomically in slice order. Fails entire batch
	// with ErrDuplicateKey if a non-empty tx_id already exists.
	InsertBulk(ctx context.Context, records []*domain.TransactionRecord) error

	// GetAll retrieves every record in arrival order (seq ASC).
	GetAll(ctx context.Context) ([]*domain.TransactionRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// FeatureStore provides access to feature_rows storage.
type FeatureStore interface {
	// InsertBulk adds rows for a run. Fails entire batch on duplicate (run_id, row_index).
	InsertBulk(ctx context.Context, rows []*domain.FeatureRow) error

	// GetByRunID retrieves all rows for a run, ordered by row_index ASC.
	GetByRunID(ctx context.Context, runID string) ([]*domain.FeatureRow, error)
}

// TrainingRunStore provides access to training_runs storage.
type TrainingRunStore interface {
	// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, run *domain.TrainingRun) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.TrainingRun, error)

	// GetByDatasetID retrieves all runs for a dataset, ordered by started_at ASC.
	GetByDatasetID(ctx context.Context, datasetID string) ([]*domain.TrainingRun, error)

	// GetLatestSucceeded retrieves the most recent successful run. Returns ErrNotFound if none.
	GetLatestSucceeded(ctx context.Context) (*domain.TrainingRun, error)
}
