package memory

import (
	"context"
	"sort"
	"sync"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/storage"
)

// TrainingRunStore is an in-memory implementation of storage.TrainingRunStore.
type TrainingRunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TrainingRun // keyed by run_id
}

// NewTrainingRunStore creates a new in-memory training run store.
func NewTrainingRunStore() *TrainingRunStore {
	return &TrainingRunStore{
		data: make(map[string]*domain.TrainingRun),
	}
}

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *TrainingRunStore) Insert(_ context.Context, run *domain.TrainingRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[run.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[run.RunID] = copyTrainingRun(run)
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *TrainingRunStore) GetByID(_ context.Context, runID string) (*domain.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyTrainingRun(run), nil
}

// GetByDatasetID retrieves all runs for a dataset, ordered by started_at ASC.
func (s *TrainingRunStore) GetByDatasetID(_ context.Context, datasetID string) ([]*domain.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TrainingRun
	for _, run := range s.data {
		if run.DatasetID == datasetID {
			result = append(result, copyTrainingRun(run))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return result[i].RunID < result[j].RunID
	})
	return result, nil
}

// GetLatestSucceeded retrieves the most recent successful run. Returns ErrNotFound if none.
func (s *TrainingRunStore) GetLatestSucceeded(_ context.Context) (*domain.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.TrainingRun
	for _, run := range s.data {
		if run.Status != domain.TrainingRunStatusSucceeded {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) ||
			(run.StartedAt.Equal(latest.StartedAt) && run.RunID > latest.RunID) {
			latest = run
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return copyTrainingRun(latest), nil
}

func copyTrainingRun(run *domain.TrainingRun) *domain.TrainingRun {
	runCopy := *run
	if run.ErrorMessage != nil {
		msg := *run.ErrorMessage
		runCopy.ErrorMessage = &msg
	}
	return &runCopy
}

var _ storage.TrainingRunStore = (*TrainingRunStore)(nil)
