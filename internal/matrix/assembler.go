package matrix

import (
	"fmt"

	"txn-anomaly-lab/internal/domain"
)

// Assemble materialises vectors into a matrix with columns
// [amount, time_since_last_tx, tx_count_last_5min, balance_ratio,
// is_new_device, is_new_ip, hour_of_day]. NULL cells become FillValue and
// booleans become 0/1. Row i is vectors[i].
func Assemble(vectors []*domain.FeatureVector) (*FeatureMatrix, error) {
	m := New(len(vectors))

	for i, fv := range vectors {
		if fv == nil {
			return nil, fmt.Errorf("assemble row %d: %w", i, ErrNilVector)
		}
		row := m.Row(i)
		row[0] = fv.Amount
		row[1] = orFill(fv.TimeSinceLastTx)
		row[2] = float64(fv.TxCountLastWindow)
		row[3] = orFill(fv.BalanceRatio)
		row[4] = boolToFloat(fv.IsNewDevice)
		row[5] = boolToFloat(fv.IsNewIP)
		row[6] = float64(fv.HourOfDay)
	}

	return m, nil
}

// FeatureRows converts an assembled matrix into persisted rows for a run.
func FeatureRows(runID string, vectors []*domain.FeatureVector, m *FeatureMatrix) []*domain.FeatureRow {
	rows := make([]*domain.FeatureRow, m.Rows)
	for i := range rows {
		values := make([]float64, m.Cols())
		copy(values, m.Row(i))
		rows[i] = &domain.FeatureRow{
			RunID:     runID,
			RowIndex:  i,
			AccountID: vectors[i].AccountID,
			TxID:      vectors[i].TxID,
			Timestamp: vectors[i].Timestamp,
			Values:    values,
		}
	}
	return rows
}

func orFill(v *float64) float64 {
	if v == nil {
		return FillValue
	}
	return *v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
