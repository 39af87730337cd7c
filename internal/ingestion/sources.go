package ingestion

import (
	"context"

	"txn-anomaly-lab/internal/domain"
)

// Source provides the raw transaction log.
type Source interface {
	// Load returns all transaction records in arrival order.
	// Records are parsed to their semantic types; no features are computed here.
	Load(ctx context.Context) ([]*domain.TransactionRecord, error)
}
