package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/storage"
)

// TrainingRunStore implements storage.TrainingRunStore using PostgreSQL.
type TrainingRunStore struct {
	pool *Pool
}

// NewTrainingRunStore creates a new TrainingRunStore.
func NewTrainingRunStore(pool *Pool) *TrainingRunStore {
	return &TrainingRunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TrainingRunStore = (*TrainingRunStore)(nil)

const trainingRunSelect = `
	SELECT run_id, dataset_id, status, row_count, account_count,
		contamination, random_seed, window_seconds, n_estimators, max_samples,
		score_offset, flagged_count, artifact_path, artifact_fingerprint,
		error_message, started_at, finished_at
	FROM training_runs
`

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *TrainingRunStore) Insert(ctx context.Context, run *domain.TrainingRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO training_runs (
			run_id, dataset_id, status, row_count, account_count,
			contamination, random_seed, window_seconds, n_estimators, max_samples,
			score_offset, flagged_count, artifact_path, artifact_fingerprint,
			error_message, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := s.pool.Exec(ctx, query,
		run.RunID,
		run.DatasetID,
		string(run.Status),
		run.RowCount,
		run.AccountCount,
		run.Contamination,
		run.RandomSeed,
		run.WindowSeconds,
		run.NumEstimators,
		run.MaxSamples,
		run.Offset,
		run.FlaggedCount,
		run.ArtifactPath,
		run.ArtifactFingerprint,
		run.ErrorMessage,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return mapWriteError(err, "insert training run")
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *TrainingRunStore) GetByID(ctx context.Context, runID string) (*domain.TrainingRun, error) {
	row := s.pool.QueryRow(ctx, trainingRunSelect+`WHERE run_id = $1`, runID)
	run, err := scanTrainingRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get training run by id: %w", err)
	}
	return run, nil
}

// GetByDatasetID retrieves all runs for a dataset, ordered by started_at ASC.
func (s *TrainingRunStore) GetByDatasetID(ctx context.Context, datasetID string) ([]*domain.TrainingRun, error) {
	rows, err := s.pool.Query(ctx, trainingRunSelect+`WHERE dataset_id = $1 ORDER BY started_at ASC, run_id ASC`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("get training runs by dataset: %w", err)
	}
	defer rows.Close()

	var runs []*domain.TrainingRun
	for rows.Next() {
		run, err := scanTrainingRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan training run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training run rows: %w", err)
	}
	return runs, nil
}

// GetLatestSucceeded retrieves the most recent successful run. Returns ErrNotFound if none.
func (s *TrainingRunStore) GetLatestSucceeded(ctx context.Context) (*domain.TrainingRun, error) {
	row := s.pool.QueryRow(ctx,
		trainingRunSelect+`WHERE status = $1 ORDER BY started_at DESC, run_id DESC LIMIT 1`,
		string(domain.TrainingRunStatusSucceeded),
	)
	run, err := scanTrainingRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest succeeded run: %w", err)
	}
	return run, nil
}

// scanTrainingRun scans a single row. pgx.Rows satisfies pgx.Row.
func scanTrainingRun(row pgx.Row) (*domain.TrainingRun, error) {
	var run domain.TrainingRun
	var status string

	err := row.Scan(
		&run.RunID,
		&run.DatasetID,
		&status,
		&run.RowCount,
		&run.AccountCount,
		&run.Contamination,
		&run.RandomSeed,
		&run.WindowSeconds,
		&run.NumEstimators,
		&run.MaxSamples,
		&run.Offset,
		&run.FlaggedCount,
		&run.ArtifactPath,
		&run.ArtifactFingerprint,
		&run.ErrorMessage,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = domain.TrainingRunStatus(status)
	run.StartedAt = utc(run.StartedAt)
	run.FinishedAt = utc(run.FinishedAt)
	return &run, nil
}
