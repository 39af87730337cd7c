package ingestion

import (
	"math"
	"strconv"

	"txn-anomaly-lab/internal/domain"
)

// ValidateRecord checks the structural invariants the loader guarantees for
// a record that did not come through a text parser.
func ValidateRecord(r *domain.TransactionRecord) error {
	if r == nil {
		return &MalformedInputError{Err: errEmptyValue}
	}
	if r.AccountID == "" {
		return &MalformedInputError{Field: colAccountID, Err: errEmptyValue}
	}
	if r.Timestamp.IsZero() {
		return &MalformedInputError{Field: colTimestamp, Err: errEmptyValue}
	}
	if !isFinite(r.Amount) {
		return &MalformedInputError{Field: colAmount, Value: strconv.FormatFloat(r.Amount, 'g', -1, 64), Err: errNonFinite}
	}
	if !isFinite(r.Balance) {
		return &MalformedInputError{Field: colBalance, Value: strconv.FormatFloat(r.Balance, 'g', -1, 64), Err: errNonFinite}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
