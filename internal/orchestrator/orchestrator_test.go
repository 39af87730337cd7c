package orchestrator

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
	"txn-anomaly-lab/internal/features"
	"txn-anomaly-lab/internal/idhash"
	"txn-anomaly-lab/internal/ingestion"
	"txn-anomaly-lab/internal/model"
	"txn-anomaly-lab/internal/observability"
	"txn-anomaly-lab/internal/onnx"
	"txn-anomaly-lab/internal/storage/memory"
)

const csvHeader = "user_id,timestamp,amount,balance,is_new_device,is_new_ip\n"

// syntheticLog builds a log of n transactions spread over a few accounts,
// with a handful of large transfers from new devices.
func syntheticLog(n int) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		account := fmt.Sprintf("acct-%02d", i%8)
		ts := base.Add(time.Duration(i*47) * time.Second)
		amount := 20 + float64(i%13)*3.5
		device, ip := "0", "0"
		if i%97 == 0 {
			amount = 9000 + float64(i)
			device, ip = "1", "1"
		}
		fmt.Fprintf(&b, "%s,%s,%.2f,%.2f,%s,%s\n",
			account, ts.Format(time.RFC3339), amount, 500+float64(i%5)*100, device, ip)
	}
	return b.String()
}

type testEnv struct {
	features *memory.FeatureStore
	runs     *memory.TrainingRunStore
	metrics  *observability.Metrics
	output   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		features: memory.NewFeatureStore(),
		runs:     memory.NewTrainingRunStore(),
		metrics:  observability.NewMetrics(""),
		output:   filepath.Join(t.TempDir(), "model.onnx"),
	}
}

func (e *testEnv) orchestrator(csv, runID string) *Orchestrator {
	params := model.DefaultParams()
	params.NumEstimators = 20
	return New(Options{
		Source:       ingestion.NewCSVSource(strings.NewReader(csv)),
		OutputPath:   e.output,
		FeatureStore: e.features,
		RunStore:     e.runs,
		Model:        params,
		Metrics:      e.metrics,
		NewRunID:     func() string { return runID },
	})
}

func TestOrchestrator_Run_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	result, err := env.orchestrator(syntheticLog(400), "run-1").Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.RunID != "run-1" {
		t.Errorf("expected run-1, got %s", result.RunID)
	}
	if result.Transactions != 400 || result.Rows != 400 {
		t.Errorf("expected 400 transactions and rows, got %d and %d", result.Transactions, result.Rows)
	}
	if result.Accounts != 8 {
		t.Errorf("expected 8 accounts, got %d", result.Accounts)
	}
	if result.Trees != 20 {
		t.Errorf("expected 20 trees, got %d", result.Trees)
	}
	if result.MaxSamples != 256 {
		t.Errorf("expected max samples 256, got %d", result.MaxSamples)
	}
	if result.Flagged < 1 || result.Flagged > 40 {
		t.Errorf("flagged count %d out of plausible range", result.Flagged)
	}
	if result.DatasetID == "" || result.Fingerprint == "" {
		t.Fatal("expected dataset id and fingerprint")
	}

	data, err := os.ReadFile(env.output)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) != result.ArtifactBytes {
		t.Errorf("expected %d bytes on disk, got %d", result.ArtifactBytes, len(data))
	}
	ok, err := idhash.MatchArtifactFingerprint(data, result.Fingerprint)
	if err != nil || !ok {
		t.Errorf("fingerprint does not match artifact: ok=%v err=%v", ok, err)
	}

	if result.Contract == nil {
		t.Fatal("expected contract")
	}
	if got := result.Contract.Metadata[onnx.MetaDatasetID]; got != result.DatasetID {
		t.Errorf("expected dataset_id %s in metadata, got %s", result.DatasetID, got)
	}
	if got := result.Contract.Metadata[onnx.MetaWindowSeconds]; got != "300" {
		t.Errorf("expected window_seconds 300, got %s", got)
	}

	rows, err := env.features.GetByRunID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByRunID: %v", err)
	}
	if len(rows) != 400 {
		t.Errorf("expected 400 persisted rows, got %d", len(rows))
	}

	run, err := env.runs.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if run.Status != domain.TrainingRunStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", run.Status)
	}
	if run.ErrorMessage != nil {
		t.Errorf("expected no error message, got %q", *run.ErrorMessage)
	}
	if run.ArtifactFingerprint != result.Fingerprint {
		t.Errorf("expected recorded fingerprint %s, got %s", result.Fingerprint, run.ArtifactFingerprint)
	}
	if run.Contamination != 0.01 || run.RandomSeed != 42 || run.WindowSeconds != 300 {
		t.Errorf("unexpected recorded params: %+v", run)
	}
	if run.Offset != result.Offset || run.FlaggedCount != result.Flagged {
		t.Errorf("recorded offset/flagged differ from result")
	}
}

func TestOrchestrator_Run_Deterministic(t *testing.T) {
	ctx := context.Background()
	csv := syntheticLog(300)

	first := newTestEnv(t)
	r1, err := first.orchestrator(csv, "run-a").Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second := newTestEnv(t)
	r2, err := second.orchestrator(csv, "run-b").Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if r1.DatasetID != r2.DatasetID {
		t.Errorf("dataset ids differ: %s vs %s", r1.DatasetID, r2.DatasetID)
	}
	if r1.Fingerprint != r2.Fingerprint {
		t.Errorf("fingerprints differ: %s vs %s", r1.Fingerprint, r2.Fingerprint)
	}
	if r1.Offset != r2.Offset || r1.Flagged != r2.Flagged {
		t.Errorf("model differs between runs")
	}

	a, _ := os.ReadFile(first.output)
	b, _ := os.ReadFile(second.output)
	if string(a) != string(b) {
		t.Error("artifact bytes differ between identical runs")
	}
}

func TestOrchestrator_Run_WindowFeatures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	csv := csvHeader +
		"u1,2024-01-01T00:00:00Z,10,100,0,0\n" +
		"u1,2024-01-01T00:01:40Z,20,100,0,0\n" +
		"u1,2024-01-01T00:04:50Z,30,100,0,0\n" +
		"u1,2024-01-01T00:05:01Z,40,0,1,0\n"

	if _, err := env.orchestrator(csv, "run-w").Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows, err := env.features.GetByRunID(ctx, "run-w")
	if err != nil {
		t.Fatalf("GetByRunID: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}

	wantCount := []float64{1, 2, 3, 3}
	wantGap := []float64{0, 100, 190, 11}
	for i, row := range rows {
		if row.Values[2] != wantCount[i] {
			t.Errorf("row %d: expected tx count %v, got %v", i, wantCount[i], row.Values[2])
		}
		if row.Values[1] != wantGap[i] {
			t.Errorf("row %d: expected gap %v, got %v", i, wantGap[i], row.Values[1])
		}
	}
	if rows[3].Values[3] != 0 {
		t.Errorf("expected zero balance ratio for zero balance, got %v", rows[3].Values[3])
	}
}

func TestOrchestrator_Run_MalformedInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	csv := csvHeader +
		"u1,2024-01-01T00:00:00Z,10,100,0,0\n" +
		"u1,not-a-time,20,100,0,0\n"

	_, err := env.orchestrator(csv, "run-bad").Run(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	var mErr *ingestion.MalformedInputError
	if !errors.As(err, &mErr) {
		t.Fatalf("expected MalformedInputError, got %v", err)
	}
	if mErr.Row != 2 {
		t.Errorf("expected row 2, got %d", mErr.Row)
	}
	if !strings.Contains(err.Error(), "phase 1 (load) failed") {
		t.Errorf("expected phase prefix, got %q", err.Error())
	}

	if _, statErr := os.Stat(env.output); !os.IsNotExist(statErr) {
		t.Errorf("expected no artifact, stat err = %v", statErr)
	}

	run, err := env.runs.GetByID(ctx, "run-bad")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if run.Status != domain.TrainingRunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
	if run.ErrorMessage == nil || !strings.Contains(*run.ErrorMessage, "malformed input") {
		t.Errorf("expected malformed input message, got %v", run.ErrorMessage)
	}
	if run.ArtifactFingerprint != "" {
		t.Errorf("expected empty fingerprint, got %s", run.ArtifactFingerprint)
	}
}

func TestOrchestrator_Run_EmptyInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.orchestrator(csvHeader, "run-empty").Run(ctx)
	if !errors.Is(err, model.ErrEmptyMatrix) {
		t.Fatalf("expected ErrEmptyMatrix, got %v", err)
	}
	var tErr *model.TrainingError
	if !errors.As(err, &tErr) {
		t.Errorf("expected TrainingError, got %T", err)
	}

	run, err := env.runs.GetByID(ctx, "run-empty")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if run.Status != domain.TrainingRunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
}

func TestOrchestrator_Run_UnwritableOutput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.output = filepath.Join(t.TempDir(), "missing", "dir", "model.onnx")

	_, err := env.orchestrator(syntheticLog(50), "run-io").Run(ctx)
	var ioErr *onnx.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if !strings.Contains(err.Error(), "phase 6 (export) failed") {
		t.Errorf("expected export phase prefix, got %q", err.Error())
	}

	run, err := env.runs.GetByID(ctx, "run-io")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if run.Status != domain.TrainingRunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
}

func TestOrchestrator_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := newTestEnv(t)

	_, err := env.orchestrator(syntheticLog(50), "run-cancel").Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Failure is recorded even though the job context is done.
	run, err := env.runs.GetByID(context.Background(), "run-cancel")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if run.Status != domain.TrainingRunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
}

func TestOrchestrator_Run_NoSource(t *testing.T) {
	_, err := New(Options{OutputPath: "unused"}).Run(context.Background())
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestOrchestrator_Run_WithoutStores(t *testing.T) {
	output := filepath.Join(t.TempDir(), "model.onnx")
	params := model.DefaultParams()
	params.NumEstimators = 10

	result, err := New(Options{
		Source:     ingestion.NewCSVSource(strings.NewReader(syntheticLog(60))),
		OutputPath: output,
		Model:      params,
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RunID == "" {
		t.Error("expected generated run id")
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("expected artifact: %v", err)
	}
}

func TestOrchestrator_Run_DatasetHistory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	csv := syntheticLog(200)

	first, err := env.orchestrator(csv, "run-1").Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.PriorRuns != 0 || first.PreviousFingerprint != "" {
		t.Errorf("expected no history on first run, got %d runs, fingerprint %q", first.PriorRuns, first.PreviousFingerprint)
	}

	second, err := env.orchestrator(csv, "run-2").Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.PriorRuns != 1 {
		t.Errorf("expected 1 prior run, got %d", second.PriorRuns)
	}
	if second.PreviousFingerprint != first.Fingerprint {
		t.Errorf("expected previous fingerprint %s, got %s", first.Fingerprint, second.PreviousFingerprint)
	}

	other, err := env.orchestrator(syntheticLog(150), "run-3").Run(ctx)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if other.PriorRuns != 0 {
		t.Errorf("expected no history for a different dataset, got %d", other.PriorRuns)
	}
}

func TestOrchestrator_Run_NegativeWindow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := New(Options{
		Source:     ingestion.NewCSVSource(strings.NewReader(syntheticLog(50))),
		OutputPath: env.output,
		RunStore:   env.runs,
		Features:   features.Options{Window: -time.Second},
		NewRunID:   func() string { return "run-neg" },
	}).Run(ctx)
	if !errors.Is(err, features.ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}

	run, err := env.runs.GetByID(ctx, "run-neg")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if run.Status != domain.TrainingRunStatusFailed {
		t.Errorf("expected FAILED, got %s", run.Status)
	}
	if _, err := os.Stat(env.output); !os.IsNotExist(err) {
		t.Errorf("expected no artifact, stat err %v", err)
	}
}
