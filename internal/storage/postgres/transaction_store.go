package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

var transactionColumns = []string{
	"tx_id", "account_id", "ts", "amount", "balance", "is_new_device", "is_new_ip",
}

// InsertBulk appends records atomically via COPY. seq follows slice order.
// Fails entire batch with ErrDuplicateKey on a repeated tx_id.
func (s *TransactionStore) InsertBulk(ctx context.Context, records []*domain.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.AccountID == "" {
			return storage.ErrInvalidInput
		}
	}

	return s.pool.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"transactions"},
			transactionColumns,
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{
					nullString(r.TxID),
					r.AccountID,
					r.Timestamp.UTC(),
					r.Amount,
					r.Balance,
					r.IsNewDevice,
					r.IsNewIP,
				}, nil
			}),
		)
		if err != nil {
			return mapWriteError(err, "copy transactions")
		}
		return nil
	})
}

// GetAll retrieves every record in arrival order (seq ASC).
func (s *TransactionStore) GetAll(ctx context.Context) ([]*domain.TransactionRecord, error) {
	query := `
		SELECT seq, COALESCE(tx_id, ''), account_id, ts, amount, balance, is_new_device, is_new_ip
		FROM transactions
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// Count returns the number of stored records.
func (s *TransactionStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return int(n), nil
}

// scanTransactions scans multiple rows into a slice of TransactionRecord.
func scanTransactions(rows pgx.Rows) ([]*domain.TransactionRecord, error) {
	var records []*domain.TransactionRecord

	for rows.Next() {
		var r domain.TransactionRecord
		err := rows.Scan(
			&r.Seq,
			&r.TxID,
			&r.AccountID,
			&r.Timestamp,
			&r.Amount,
			&r.Balance,
			&r.IsNewDevice,
			&r.IsNewIP,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		r.Timestamp = utc(r.Timestamp)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return records, nil
}
