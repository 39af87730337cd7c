package verification

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/ingestion"
	"txn-anomaly-lab/internal/model"
	"txn-anomaly-lab/internal/orchestrator"
	"txn-anomaly-lab/internal/storage"
	"txn-anomaly-lab/internal/storage/memory"
)

func TestCompareTrainingRuns_ExactMatch(t *testing.T) {
	stored := &domain.TrainingRun{
		RunID:               "run-1",
		DatasetID:           "abc",
		RowCount:            100,
		AccountCount:        5,
		MaxSamples:          100,
		Offset:              -0.61,
		FlaggedCount:        1,
		ArtifactPath:        "/models/a.onnx",
		ArtifactFingerprint: "fp",
		StartedAt:           time.Unix(1000, 0),
	}
	replayed := *stored
	replayed.ArtifactPath = "/tmp/other.onnx"
	replayed.StartedAt = time.Unix(2000, 0)

	if d := CompareTrainingRuns(stored, &replayed); len(d) != 0 {
		t.Errorf("expected no divergences, got %+v", d)
	}
}

func TestCompareTrainingRuns_Divergences(t *testing.T) {
	stored := &domain.TrainingRun{
		DatasetID:           "abc",
		RowCount:            100,
		Offset:              -0.61,
		FlaggedCount:        1,
		ArtifactFingerprint: "fp",
	}
	replayed := *stored
	replayed.DatasetID = "def"
	replayed.Offset = -0.62
	replayed.ArtifactFingerprint = "other"

	d := CompareTrainingRuns(stored, &replayed)
	if len(d) != 3 {
		t.Fatalf("expected 3 divergences, got %d: %+v", len(d), d)
	}
	want := []string{"DatasetID", "Offset", "ArtifactFingerprint"}
	for i, f := range want {
		if d[i].Field != f {
			t.Errorf("divergence %d: expected %s, got %s", i, f, d[i].Field)
		}
	}
	if d[1].Expected != -0.61 || d[1].Actual != -0.62 {
		t.Errorf("unexpected offset divergence values: %+v", d[1])
	}
}

func TestCompareFeatureRows(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	stored := []*domain.FeatureRow{
		{RunID: "r", RowIndex: 0, AccountID: "a", TxID: "t0", Timestamp: ts, Values: []float64{1, 2}},
		{RunID: "r", RowIndex: 1, AccountID: "b", TxID: "t1", Timestamp: ts, Values: []float64{3, 4}},
	}
	same := []*domain.FeatureRow{
		{RunID: "other", RowIndex: 0, AccountID: "a", TxID: "t0", Timestamp: ts.In(time.FixedZone("x", 3600)), Values: []float64{1, 2 + 1e-14}},
		{RunID: "other", RowIndex: 1, AccountID: "b", TxID: "t1", Timestamp: ts, Values: []float64{3, 4}},
	}
	if d := CompareFeatureRows(stored, same); len(d) != 0 {
		t.Errorf("expected no divergences, got %+v", d)
	}

	d := CompareFeatureRows(stored, same[:1])
	if len(d) != 1 || d[0].Field != "FeatureRows" || d[0].Expected != 2 || d[0].Actual != 1 {
		t.Errorf("expected row count divergence, got %+v", d)
	}

	changed := []*domain.FeatureRow{same[0], {RowIndex: 1, AccountID: "b", TxID: "t1", Timestamp: ts, Values: []float64{3, 5}}}
	d = CompareFeatureRows(stored, changed)
	if len(d) != 1 || d[0].Field != "FeatureRows[1]" {
		t.Errorf("expected divergence at row 1, got %+v", d)
	}
}

func TestFloatEquals(t *testing.T) {
	if !floatEquals(0.1, 0.1+1e-14) {
		t.Error("expected values within tolerance to be equal")
	}
	if floatEquals(0.1, 0.1+1e-9) {
		t.Error("expected values outside tolerance to differ")
	}
}

// writeLog writes a small transaction log and returns its path.
func writeLog(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("account_id,tx_id,timestamp,amount,balance,is_new_device,is_new_ip\n")
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		amount := 15 + float64(i%9)*2
		if i%40 == 7 {
			amount = 4000
		}
		fmt.Fprintf(&b, "a%d,tx-%03d,%s,%.1f,800,%t,false\n",
			i%6, i, base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), amount, i%40 == 7)
	}
	path := filepath.Join(t.TempDir(), "log.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

// trainRun runs the job once and returns the run store it recorded into.
// Feature rows go to rows when it is non-nil.
func trainRun(t *testing.T, logPath, runID string, rows storage.FeatureStore) *memory.TrainingRunStore {
	t.Helper()
	runs := memory.NewTrainingRunStore()
	params := model.DefaultParams()
	params.NumEstimators = 15

	_, err := orchestrator.New(orchestrator.Options{
		Source:          ingestion.NewCSVFileSource(logPath),
		OutputPath:      filepath.Join(t.TempDir(), "model.onnx"),
		RunStore:        runs,
		FeatureStore:    rows,
		Model:           params,
		ProducerVersion: "test",
		NewRunID:        func() string { return runID },
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	return runs
}

func TestReplayVerifier_VerifyRun_Match(t *testing.T) {
	logPath := writeLog(t)
	runs := trainRun(t, logPath, "run-1", nil)

	v := NewReplayVerifier(ReplayVerifierOptions{
		RunStore:        runs,
		Source:          ingestion.NewCSVFileSource(logPath),
		ProducerVersion: "test",
	})

	result, err := v.VerifyRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if !result.Match {
		t.Errorf("expected match, got divergences %+v", result.Divergences)
	}
	if result.StoredFingerprint == "" || result.StoredFingerprint != result.ReplayedFingerprint {
		t.Errorf("fingerprints differ: %s vs %s", result.StoredFingerprint, result.ReplayedFingerprint)
	}
}

func TestReplayVerifier_VerifyRun_ChangedInput(t *testing.T) {
	logPath := writeLog(t)
	runs := trainRun(t, logPath, "run-1", nil)

	// Append one transaction after training.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("a0,tx-999,2024-05-02T00:00:00Z,12.0,800,false,false\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	v := NewReplayVerifier(ReplayVerifierOptions{
		RunStore:        runs,
		Source:          ingestion.NewCSVFileSource(logPath),
		ProducerVersion: "test",
	})

	result, err := v.VerifyRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if result.Match {
		t.Fatal("expected divergence after input change")
	}
	fields := make(map[string]bool)
	for _, d := range result.Divergences {
		fields[d.Field] = true
	}
	if !fields["DatasetID"] || !fields["RowCount"] || !fields["ArtifactFingerprint"] {
		t.Errorf("expected DatasetID, RowCount, ArtifactFingerprint divergences, got %+v", result.Divergences)
	}
}

func TestReplayVerifier_VerifyRun_ProducerVersionMatters(t *testing.T) {
	logPath := writeLog(t)
	runs := trainRun(t, logPath, "run-1", nil)

	v := NewReplayVerifier(ReplayVerifierOptions{
		RunStore:        runs,
		Source:          ingestion.NewCSVFileSource(logPath),
		ProducerVersion: "other",
	})

	result, err := v.VerifyRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if result.Match {
		t.Fatal("expected fingerprint divergence")
	}
	if len(result.Divergences) != 1 || result.Divergences[0].Field != "ArtifactFingerprint" {
		t.Errorf("expected only ArtifactFingerprint divergence, got %+v", result.Divergences)
	}
}

func TestReplayVerifier_VerifyRun_Errors(t *testing.T) {
	ctx := context.Background()
	runs := memory.NewTrainingRunStore()
	msg := "phase 1 (load) failed"
	if err := runs.Insert(ctx, &domain.TrainingRun{
		RunID:        "failed",
		Status:       domain.TrainingRunStatusFailed,
		ErrorMessage: &msg,
		StartedAt:    time.Unix(0, 0),
		FinishedAt:   time.Unix(1, 0),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	v := NewReplayVerifier(ReplayVerifierOptions{
		RunStore: runs,
		Source:   ingestion.NewCSVSource(strings.NewReader("")),
	})

	if _, err := v.VerifyRun(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := v.VerifyRun(ctx, "failed"); !errors.Is(err, ErrRunNotSucceeded) {
		t.Errorf("expected ErrRunNotSucceeded, got %v", err)
	}
}

func TestReplayVerifier_VerifyRun_FeatureRows(t *testing.T) {
	ctx := context.Background()
	logPath := writeLog(t)
	rows := memory.NewFeatureStore()
	runs := trainRun(t, logPath, "run-1", rows)

	v := NewReplayVerifier(ReplayVerifierOptions{
		RunStore:        runs,
		FeatureStore:    rows,
		Source:          ingestion.NewCSVFileSource(logPath),
		ProducerVersion: "test",
	})
	result, err := v.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if !result.Match {
		t.Fatalf("expected match, got divergences %+v", result.Divergences)
	}

	// Copy the stored rows into a second store with one value altered.
	stored, err := rows.GetByRunID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByRunID: %v", err)
	}
	if len(stored) != 120 {
		t.Fatalf("expected 120 stored rows, got %d", len(stored))
	}
	stored[5].Values[0] += 1
	tampered := memory.NewFeatureStore()
	if err := tampered.InsertBulk(ctx, stored); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	v = NewReplayVerifier(ReplayVerifierOptions{
		RunStore:        runs,
		FeatureStore:    tampered,
		Source:          ingestion.NewCSVFileSource(logPath),
		ProducerVersion: "test",
	})
	result, err = v.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if result.Match {
		t.Fatal("expected divergence for altered feature row")
	}
	if len(result.Divergences) != 1 || result.Divergences[0].Field != "FeatureRows[5]" {
		t.Errorf("expected only FeatureRows[5] divergence, got %+v", result.Divergences)
	}
}

func TestReplayVerifier_VerifyLatest(t *testing.T) {
	ctx := context.Background()
	logPath := writeLog(t)

	empty := NewReplayVerifier(ReplayVerifierOptions{
		RunStore: memory.NewTrainingRunStore(),
		Source:   ingestion.NewCSVFileSource(logPath),
	})
	if _, err := empty.VerifyLatest(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	runs := trainRun(t, logPath, "run-1", nil)
	v := NewReplayVerifier(ReplayVerifierOptions{
		RunStore:        runs,
		Source:          ingestion.NewCSVFileSource(logPath),
		ProducerVersion: "test",
	})
	result, err := v.VerifyLatest(ctx)
	if err != nil {
		t.Fatalf("VerifyLatest: %v", err)
	}
	if result.RunID != "run-1" || !result.Match {
		t.Errorf("expected matching run-1, got %+v", result)
	}
}
