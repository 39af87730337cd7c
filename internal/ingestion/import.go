package ingestion

import (
	"context"
	"errors"
	"fmt"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/storage"
)

// DefaultImportBatchSize is the number of records per InsertBulk call.
const DefaultImportBatchSize = 5000

// Import writes records to store in batches of batchSize, preserving order.
// It returns the number of records stored. Batches are committed one at a
// time, so on error the first inserted records are already in the store and
// the error names the batch that failed.
func Import(ctx context.Context, store storage.TransactionStore, records []*domain.TransactionRecord, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultImportBatchSize
	}

	inserted := 0
	for lo := 0; lo < len(records); lo += batchSize {
		if err := ctx.Err(); err != nil {
			return inserted, fmt.Errorf("import stopped after %d records: %w", inserted, err)
		}
		hi := min(lo+batchSize, len(records))
		if err := store.InsertBulk(ctx, records[lo:hi]); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return inserted, fmt.Errorf("rows %d-%d contain a tx_id already stored, %d records imported before: %w", lo+1, hi, inserted, err)
			}
			return inserted, fmt.Errorf("insert rows %d-%d, %d records imported before: %w", lo+1, hi, inserted, err)
		}
		inserted += hi - lo
	}
	return inserted, nil
}
