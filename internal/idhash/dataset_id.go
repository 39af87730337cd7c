package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"txn-anomaly-lab/internal/domain"
)

// ComputeDatasetID computes a deterministic dataset_id using SHA256 over the
// records in input order. Each record contributes one line:
// account_id|tx_id|unix_nanos|amount|balance|is_new_device|is_new_ip
// Store-assigned sequence numbers are excluded so a CSV and its PostgreSQL
// import hash the same; this holds because the loaders keep timestamps at
// microsecond precision. Returns hex-encoded hash (64 characters).
func ComputeDatasetID(records []*domain.TransactionRecord) string {
	h := sha256.New()
	var buf []byte
	for _, r := range records {
		if r == nil {
			continue
		}
		buf = buf[:0]
		buf = append(buf, r.AccountID...)
		buf = append(buf, '|')
		buf = append(buf, r.TxID...)
		buf = append(buf, '|')
		buf = strconv.AppendInt(buf, r.Timestamp.UnixNano(), 10)
		buf = append(buf, '|')
		buf = strconv.AppendFloat(buf, r.Amount, 'g', -1, 64)
		buf = append(buf, '|')
		buf = strconv.AppendFloat(buf, r.Balance, 'g', -1, 64)
		buf = append(buf, '|')
		buf = strconv.AppendBool(buf, r.IsNewDevice)
		buf = append(buf, '|')
		buf = strconv.AppendBool(buf, r.IsNewIP)
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
