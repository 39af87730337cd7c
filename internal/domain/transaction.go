package domain

import "time"

// TransactionRecord is one row of the raw transaction log.
// Corresponds to transactions table in PostgreSQL.
type TransactionRecord struct {
	Seq         int64     // arrival sequence assigned by the store (0 when loaded from file)
	TxID        string    // optional upstream transaction identifier
	AccountID   string    // account the transaction belongs to
	Timestamp   time.Time // UTC, zone-free instant
	Amount      float64   // transaction amount
	Balance     float64   // account balance at transaction time
	IsNewDevice bool      // first time this device was seen for the account
	IsNewIP     bool      // first time this IP was seen for the account
}
