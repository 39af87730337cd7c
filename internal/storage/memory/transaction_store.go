package memory

import (
	"context"
	"sync"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	mu    sync.RWMutex
	data  []*domain.TransactionRecord // arrival order
	txIDs map[string]struct{}
}

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		txIDs: make(map[string]struct{}),
	}
}

// InsertBulk appends records in slice order and assigns arrival sequence
// numbers. Fails entire batch on duplicate tx_id.
func (s *TransactionStore) InsertBulk(_ context.Context, records []*domain.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchIDs := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.AccountID == "" {
			return storage.ErrInvalidInput
		}
		if r.TxID == "" {
			continue
		}
		if _, exists := s.txIDs[r.TxID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchIDs[r.TxID]; exists {
			return storage.ErrDuplicateKey
		}
		batchIDs[r.TxID] = struct{}{}
	}

	for _, r := range records {
		recordCopy := *r
		recordCopy.Seq = int64(len(s.data) + 1)
		s.data = append(s.data, &recordCopy)
		if r.TxID != "" {
			s.txIDs[r.TxID] = struct{}{}
		}
	}
	return nil
}

// GetAll retrieves every record in arrival order.
func (s *TransactionStore) GetAll(_ context.Context) ([]*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TransactionRecord, len(s.data))
	for i, r := range s.data {
		recordCopy := *r
		result[i] = &recordCopy
	}
	return result, nil
}

// Count returns the number of stored records.
func (s *TransactionStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

var _ storage.TransactionStore = (*TransactionStore)(nil)
