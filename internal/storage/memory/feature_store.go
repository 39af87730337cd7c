package memory

import (
	"context"
	"sort"
	"sync"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/storage"
)

type featureKey struct {
	runID    string
	rowIndex int
}

// FeatureStore is an in-memory implementation of storage.FeatureStore.
type FeatureStore struct {
	mu   sync.RWMutex
	data map[featureKey]*domain.FeatureRow
}

// NewFeatureStore creates a new in-memory feature row store.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{
		data: make(map[featureKey]*domain.FeatureRow),
	}
}

// InsertBulk adds rows for a run. Fails entire batch on duplicate (run_id, row_index).
func (s *FeatureStore) InsertBulk(_ context.Context, rows []*domain.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[featureKey]struct{}, len(rows))
	for _, r := range rows {
		if r == nil || r.RunID == "" || len(r.Values) != domain.FeatureCount {
			return storage.ErrInvalidInput
		}
		key := featureKey{r.RunID, r.RowIndex}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range rows {
		s.data[featureKey{r.RunID, r.RowIndex}] = copyFeatureRow(r)
	}
	return nil
}

// GetByRunID retrieves all rows for a run, ordered by row_index ASC.
func (s *FeatureStore) GetByRunID(_ context.Context, runID string) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRow
	for key, r := range s.data {
		if key.runID == runID {
			result = append(result, copyFeatureRow(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RowIndex < result[j].RowIndex
	})
	return result, nil
}

func copyFeatureRow(r *domain.FeatureRow) *domain.FeatureRow {
	rowCopy := *r
	rowCopy.Values = append([]float64(nil), r.Values...)
	return &rowCopy
}

var _ storage.FeatureStore = (*FeatureStore)(nil)
