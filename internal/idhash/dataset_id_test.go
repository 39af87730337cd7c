package idhash

import (
	"testing"
	"time"

	"txn-anomaly-lab/internal/domain"
)

func records() []*domain.TransactionRecord {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*domain.TransactionRecord{
		{AccountID: "a", TxID: "t1", Timestamp: ts, Amount: 10, Balance: 100},
		{AccountID: "b", Timestamp: ts.Add(time.Second), Amount: 2.5, Balance: 0, IsNewIP: true},
	}
}

func TestComputeDatasetID(t *testing.T) {
	got := ComputeDatasetID(records())
	if len(got) != 64 {
		t.Errorf("ComputeDatasetID() length = %d, want 64", len(got))
	}
	if again := ComputeDatasetID(records()); again != got {
		t.Errorf("ComputeDatasetID() not deterministic: %s != %s", got, again)
	}

	empty := ComputeDatasetID(nil)
	if empty != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("empty dataset should hash like empty input, got %s", empty)
	}
}

func TestComputeDatasetID_IgnoresSeq(t *testing.T) {
	a := records()
	b := records()
	b[0].Seq = 17
	b[1].Seq = 18
	if ComputeDatasetID(a) != ComputeDatasetID(b) {
		t.Error("store sequence numbers must not affect dataset ID")
	}
}

func TestComputeDatasetID_DifferentInputs(t *testing.T) {
	base := ComputeDatasetID(records())

	mutations := map[string]func(rs []*domain.TransactionRecord){
		"amount":    func(rs []*domain.TransactionRecord) { rs[0].Amount = 10.01 },
		"timestamp": func(rs []*domain.TransactionRecord) { rs[1].Timestamp = rs[1].Timestamp.Add(time.Nanosecond) },
		"flag":      func(rs []*domain.TransactionRecord) { rs[0].IsNewDevice = true },
		"order":     func(rs []*domain.TransactionRecord) { rs[0], rs[1] = rs[1], rs[0] },
		"account":   func(rs []*domain.TransactionRecord) { rs[1].AccountID = "c" },
	}
	for name, mutate := range mutations {
		rs := records()
		mutate(rs)
		if ComputeDatasetID(rs) == base {
			t.Errorf("changing %s should change dataset ID", name)
		}
	}
}
