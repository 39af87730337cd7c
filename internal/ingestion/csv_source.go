package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"txn-anomaly-lab/internal/domain"
)

// CSV column names. The original training log names the account column
// user_id, so both spellings are accepted.
const (
	colAccountID   = "account_id"
	colUserID      = "user_id"
	colTxID        = "tx_id"
	colTxIDAlt     = "transaction_id"
	colTimestamp   = "timestamp"
	colAmount      = "amount"
	colBalance     = "balance"
	colIsNewDevice = "is_new_device"
	colIsNewIP     = "is_new_ip"
)

// CSVSource loads transaction records from a header-driven CSV file.
type CSVSource struct {
	path   string
	reader io.Reader
}

// Compile-time interface check.
var _ Source = (*CSVSource)(nil)

// NewCSVFileSource creates a source reading the CSV file at path.
func NewCSVFileSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// NewCSVSource creates a source reading CSV from r.
func NewCSVSource(r io.Reader) *CSVSource {
	return &CSVSource{reader: r}
}

// Load parses every data row. The first malformed row aborts the load.
func (s *CSVSource) Load(ctx context.Context) ([]*domain.TransactionRecord, error) {
	r := s.reader
	if r == nil {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("open transaction log %s: %w", s.path, err)
		}
		defer f.Close()
		r = f
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &MalformedInputError{Row: 0, Err: errors.New("missing header")}
	}
	if err != nil {
		return nil, &MalformedInputError{Row: 0, Err: err}
	}

	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	var records []*domain.TransactionRecord
	for row := 1; ; row++ {
		if row%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MalformedInputError{Row: row, Err: err}
		}

		rec, err := cols.parse(row, fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// columnIndex maps required fields to header positions. txID is -1 when absent.
type columnIndex struct {
	accountID, txID, timestamp, amount, balance, isNewDevice, isNewIP int
}

func resolveColumns(header []string) (*columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[name]; !dup {
			pos[name] = i
		}
	}

	lookup := func(names ...string) (int, error) {
		for _, n := range names {
			if i, ok := pos[n]; ok {
				return i, nil
			}
		}
		return -1, &MalformedInputError{Row: 0, Field: names[0], Err: errMissingColumn}
	}

	var (
		idx columnIndex
		err error
	)
	if idx.accountID, err = lookup(colAccountID, colUserID); err != nil {
		return nil, err
	}
	if idx.timestamp, err = lookup(colTimestamp); err != nil {
		return nil, err
	}
	if idx.amount, err = lookup(colAmount); err != nil {
		return nil, err
	}
	if idx.balance, err = lookup(colBalance); err != nil {
		return nil, err
	}
	if idx.isNewDevice, err = lookup(colIsNewDevice); err != nil {
		return nil, err
	}
	if idx.isNewIP, err = lookup(colIsNewIP); err != nil {
		return nil, err
	}
	if idx.txID, err = lookup(colTxID, colTxIDAlt); err != nil {
		idx.txID = -1
	}

	return &idx, nil
}

func (c *columnIndex) parse(row int, fields []string) (*domain.TransactionRecord, error) {
	get := func(i int, name string) (string, error) {
		if i >= len(fields) {
			return "", &MalformedInputError{Row: row, Field: name, Err: errMissingColumn}
		}
		return fields[i], nil
	}
	bad := func(name, value string, err error) error {
		return &MalformedInputError{Row: row, Field: name, Value: value, Err: err}
	}

	rec := &domain.TransactionRecord{}

	v, err := get(c.accountID, colAccountID)
	if err != nil {
		return nil, err
	}
	rec.AccountID = strings.TrimSpace(v)
	if rec.AccountID == "" {
		return nil, bad(colAccountID, v, errEmptyValue)
	}

	if c.txID >= 0 && c.txID < len(fields) {
		rec.TxID = strings.TrimSpace(fields[c.txID])
	}

	if v, err = get(c.timestamp, colTimestamp); err != nil {
		return nil, err
	}
	if rec.Timestamp, err = ParseTimestamp(v); err != nil {
		return nil, bad(colTimestamp, v, err)
	}

	if v, err = get(c.amount, colAmount); err != nil {
		return nil, err
	}
	if rec.Amount, err = ParseFloat(v); err != nil {
		return nil, bad(colAmount, v, err)
	}

	if v, err = get(c.balance, colBalance); err != nil {
		return nil, err
	}
	if rec.Balance, err = ParseFloat(v); err != nil {
		return nil, bad(colBalance, v, err)
	}

	if v, err = get(c.isNewDevice, colIsNewDevice); err != nil {
		return nil, err
	}
	if rec.IsNewDevice, err = ParseBool(v); err != nil {
		return nil, bad(colIsNewDevice, v, err)
	}

	if v, err = get(c.isNewIP, colIsNewIP); err != nil {
		return nil, err
	}
	if rec.IsNewIP, err = ParseBool(v); err != nil {
		return nil, bad(colIsNewIP, v, err)
	}

	return rec, nil
}
