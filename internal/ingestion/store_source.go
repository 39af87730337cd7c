package ingestion

import (
	"context"
	"errors"
	"fmt"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/storage"
)

// StoreSource loads the transaction log from a TransactionStore.
type StoreSource struct {
	store storage.TransactionStore
}

// Compile-time interface check.
var _ Source = (*StoreSource)(nil)

// NewStoreSource creates a source backed by store.
func NewStoreSource(store storage.TransactionStore) *StoreSource {
	return &StoreSource{store: store}
}

// Load returns all stored transactions in arrival order.
// Stored rows were validated on insert, but the required fields are
// re-checked so that a hand-edited table cannot slip past the loader.
func (s *StoreSource) Load(ctx context.Context) ([]*domain.TransactionRecord, error) {
	records, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	for i, r := range records {
		if err := ValidateRecord(r); err != nil {
			var me *MalformedInputError
			if errors.As(err, &me) {
				me.Row = i + 1
			}
			return nil, err
		}
	}

	return records, nil
}
