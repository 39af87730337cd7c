package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/storage"
)

func trainingRun(id, dataset string, status domain.TrainingRunStatus, startOffset time.Duration) *domain.TrainingRun {
	return &domain.TrainingRun{
		RunID:         id,
		DatasetID:     dataset,
		Status:        status,
		RowCount:      100,
		Contamination: 0.01,
		RandomSeed:    42,
		WindowSeconds: 300,
		StartedAt:     base.Add(startOffset),
		FinishedAt:    base.Add(startOffset + time.Second),
	}
}

func TestTrainingRunStore_InsertAndGet(t *testing.T) {
	store := NewTrainingRunStore()
	ctx := context.Background()

	msg := "phase 3 (train) failed"
	run := trainingRun("run-1", "ds", domain.TrainingRunStatusFailed, 0)
	run.ErrorMessage = &msg

	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.DatasetID != "ds" || got.Status != domain.TrainingRunStatusFailed {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != msg {
		t.Errorf("ErrorMessage not preserved")
	}

	msg = "changed"
	again, _ := store.GetByID(ctx, "run-1")
	if *again.ErrorMessage != "phase 3 (train) failed" {
		t.Errorf("stored ErrorMessage must be copied, got %q", *again.ErrorMessage)
	}
}

func TestTrainingRunStore_Errors(t *testing.T) {
	store := NewTrainingRunStore()
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetLatestSucceeded(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on empty store, got %v", err)
	}
	if err := store.Insert(ctx, &domain.TrainingRun{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}

	run := trainingRun("run-1", "ds", domain.TrainingRunStatusSucceeded, 0)
	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, run); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestTrainingRunStore_GetByDatasetID(t *testing.T) {
	store := NewTrainingRunStore()
	ctx := context.Background()

	for _, run := range []*domain.TrainingRun{
		trainingRun("run-3", "ds", domain.TrainingRunStatusSucceeded, 3*time.Minute),
		trainingRun("run-1", "ds", domain.TrainingRunStatusFailed, time.Minute),
		trainingRun("run-x", "other", domain.TrainingRunStatusSucceeded, 2*time.Minute),
		trainingRun("run-2", "ds", domain.TrainingRunStatusSucceeded, 2*time.Minute),
	} {
		if err := store.Insert(ctx, run); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	runs, err := store.GetByDatasetID(ctx, "ds")
	if err != nil {
		t.Fatalf("GetByDatasetID failed: %v", err)
	}
	want := []string{"run-1", "run-2", "run-3"}
	if len(runs) != len(want) {
		t.Fatalf("Expected %d runs, got %d", len(want), len(runs))
	}
	for i, id := range want {
		if runs[i].RunID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, runs[i].RunID)
		}
	}
}

func TestTrainingRunStore_GetLatestSucceeded(t *testing.T) {
	store := NewTrainingRunStore()
	ctx := context.Background()

	for _, run := range []*domain.TrainingRun{
		trainingRun("old", "ds", domain.TrainingRunStatusSucceeded, time.Minute),
		trainingRun("newer-failed", "ds", domain.TrainingRunStatusFailed, 5*time.Minute),
		trainingRun("latest", "ds2", domain.TrainingRunStatusSucceeded, 3*time.Minute),
	} {
		if err := store.Insert(ctx, run); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetLatestSucceeded(ctx)
	if err != nil {
		t.Fatalf("GetLatestSucceeded failed: %v", err)
	}
	if got.RunID != "latest" {
		t.Errorf("Expected latest, got %s", got.RunID)
	}
}
