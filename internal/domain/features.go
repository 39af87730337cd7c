package domain

import "time"

// FeatureVector holds the derived features of a single transaction.
// Pointer fields are NULL when the value is undefined for that transaction.
type FeatureVector struct {
	AccountID         string    // owning account
	TxID              string    // upstream transaction identifier, may be empty
	Timestamp         time.Time // transaction time
	Amount            float64   // raw amount
	BalanceRatio      *float64  // amount / balance, NULL if balance is zero
	HourOfDay         int       // 0-23
	TimeSinceLastTx   *float64  // seconds since previous account tx, NULL if first
	TxCountLastWindow int       // account txs in (t - window, t], includes itself
	IsNewDevice       bool
	IsNewIP           bool
}

// FeatureRow is a null-filled matrix row persisted for a training run.
// Corresponds to feature_rows table in ClickHouse.
type FeatureRow struct {
	RunID     string    // training run identifier
	RowIndex  int       // position in the input log
	AccountID string    // owning account
	TxID      string    // upstream transaction identifier, may be empty
	Timestamp time.Time // transaction time
	Values    []float64 // values in FeatureColumns order
}
