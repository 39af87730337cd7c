package clickhouse

import (
	"context"
	"fmt"
	"time"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/storage"
)

// FeatureStore implements storage.FeatureStore using ClickHouse.
type FeatureStore struct {
	conn *Conn
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// InsertBulk adds rows for a run. Fails entire batch on duplicate (run_id, row_index).
// MergeTree does not enforce keys, so duplicates are checked before insert.
func (s *FeatureStore) InsertBulk(ctx context.Context, rows []*domain.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	type key struct {
		runID    string
		rowIndex int
	}
	seen := make(map[key]struct{}, len(rows))
	runs := make(map[string]struct{})
	for _, r := range rows {
		if r == nil || r.RunID == "" || r.RowIndex < 0 || len(r.Values) != domain.FeatureCount {
			return storage.ErrInvalidInput
		}
		k := key{r.RunID, r.RowIndex}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
		runs[r.RunID] = struct{}{}
	}

	for runID := range runs {
		existing, err := s.rowIndexes(ctx, runID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for idx := range existing {
			if _, dup := seen[key{runID, idx}]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO feature_rows (
			run_id, row_index, account_id, tx_id, ts,
			amount, time_since_last_tx, tx_count_last_5min, balance_ratio,
			is_new_device, is_new_ip, hour_of_day
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		args := make([]any, 0, 5+domain.FeatureCount)
		args = append(args, r.RunID, uint32(r.RowIndex), r.AccountID, r.TxID, r.Timestamp.UTC())
		for _, v := range r.Values {
			args = append(args, v)
		}
		if err := batch.Append(args...); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRunID retrieves all rows for a run, ordered by row_index ASC.
func (s *FeatureStore) GetByRunID(ctx context.Context, runID string) ([]*domain.FeatureRow, error) {
	query := `
		SELECT
			run_id, row_index, account_id, tx_id, ts,
			amount, time_since_last_tx, tx_count_last_5min, balance_ratio,
			is_new_device, is_new_ip, hour_of_day
		FROM feature_rows
		WHERE run_id = ?
		ORDER BY row_index ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query by run id: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// rowIndexes returns the stored row indexes of a run.
func (s *FeatureStore) rowIndexes(ctx context.Context, runID string) (map[int]struct{}, error) {
	rows, err := s.conn.Query(ctx, `SELECT row_index FROM feature_rows WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]struct{})
	for rows.Next() {
		var idx uint32
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out[int(idx)] = struct{}{}
	}
	return out, rows.Err()
}

func scanFeatureRows(rows chRows) ([]*domain.FeatureRow, error) {
	var result []*domain.FeatureRow

	for rows.Next() {
		var (
			r        domain.FeatureRow
			rowIndex uint32
			ts       time.Time
		)
		r.Values = make([]float64, domain.FeatureCount)

		err := rows.Scan(
			&r.RunID, &rowIndex, &r.AccountID, &r.TxID, &ts,
			&r.Values[0], &r.Values[1], &r.Values[2], &r.Values[3],
			&r.Values[4], &r.Values[5], &r.Values[6],
		)
		if err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}

		r.RowIndex = int(rowIndex)
		r.Timestamp = ts.UTC()
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature rows: %w", err)
	}

	return result, nil
}
