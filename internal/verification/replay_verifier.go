package verification

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/features"
	"txn-anomaly-lab/internal/ingestion"
	"txn-anomaly-lab/internal/model"
	"txn-anomaly-lab/internal/orchestrator"
	"txn-anomaly-lab/internal/storage"
	"txn-anomaly-lab/internal/storage/memory"
)

// Errors
var (
	ErrRunNotSucceeded = errors.New("run did not succeed")
)

// ReplayVerifier verifies runs by re-training from the transaction source.
type ReplayVerifier struct {
	runStore        storage.TrainingRunStore
	featureStore    storage.FeatureStore
	source          ingestion.Source
	producerVersion string
	logger          *zap.Logger
}

// Compile-time interface check.
var _ Verifier = (*ReplayVerifier)(nil)

// ReplayVerifierOptions configures a ReplayVerifier.
type ReplayVerifierOptions struct {
	RunStore storage.TrainingRunStore
	Source   ingestion.Source
	Logger   *zap.Logger

	// FeatureStore, when set, holds the feature rows persisted by the
	// original run. They are compared row by row with the replay.
	FeatureStore storage.FeatureStore

	// ProducerVersion must equal the version that produced the stored
	// artifact, since it is part of the serialized bytes.
	ProducerVersion string
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayVerifier{
		runStore:        opts.RunStore,
		featureStore:    opts.FeatureStore,
		source:          opts.Source,
		producerVersion: opts.ProducerVersion,
		logger:          logger.Named("verification"),
	}
}

// VerifyRun re-trains the stored run and compares the outcome.
func (v *ReplayVerifier) VerifyRun(ctx context.Context, runID string) (*VerificationResult, error) {
	stored, err := v.runStore.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if stored.Status != domain.TrainingRunStatusSucceeded {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunNotSucceeded, runID, stored.Status)
	}

	replayed, replayedRows, err := v.replay(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("replay run %s: %w", runID, err)
	}

	divergences := CompareTrainingRuns(stored, replayed)
	if v.featureStore != nil {
		storedRows, err := v.featureStore.GetByRunID(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("load feature rows for %s: %w", runID, err)
		}
		if len(storedRows) == 0 {
			v.logger.Info("no stored feature rows, skipping row comparison", zap.String("run_id", runID))
		} else {
			divergences = append(divergences, CompareFeatureRows(storedRows, replayedRows)...)
		}
	}
	result := &VerificationResult{
		RunID:               runID,
		Match:               len(divergences) == 0,
		Divergences:         divergences,
		StoredFingerprint:   stored.ArtifactFingerprint,
		ReplayedFingerprint: replayed.ArtifactFingerprint,
	}

	if result.Match {
		v.logger.Info("run verified", zap.String("run_id", runID))
	} else {
		v.logger.Warn("run diverged", zap.String("run_id", runID), zap.Int("divergences", len(divergences)))
	}
	return result, nil
}

// VerifyLatest verifies the most recent successful run.
func (v *ReplayVerifier) VerifyLatest(ctx context.Context) (*VerificationResult, error) {
	latest, err := v.runStore.GetLatestSucceeded(ctx)
	if err != nil {
		return nil, fmt.Errorf("find latest succeeded run: %w", err)
	}
	return v.VerifyRun(ctx, latest.RunID)
}

// replay re-executes training with the stored run's parameters into a
// scratch directory and returns the resulting run record and feature rows.
func (v *ReplayVerifier) replay(ctx context.Context, stored *domain.TrainingRun) (*domain.TrainingRun, []*domain.FeatureRow, error) {
	dir, err := os.MkdirTemp("", "txn-anomaly-verify-*")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(dir)

	runs := memory.NewTrainingRunStore()
	rows := memory.NewFeatureStore()
	orch := orchestrator.New(orchestrator.Options{
		Source:       v.source,
		OutputPath:   filepath.Join(dir, "model.onnx"),
		FeatureStore: rows,
		RunStore:     runs,
		Features: features.Options{
			Window: time.Duration(stored.WindowSeconds) * time.Second,
		},
		// The stored max_samples is the effective subsample size, which
		// reproduces the same forest when passed back in.
		Model: model.Params{
			NumEstimators: stored.NumEstimators,
			MaxSamples:    stored.MaxSamples,
			Contamination: stored.Contamination,
			Seed:          stored.RandomSeed,
		},
		ProducerVersion: v.producerVersion,
		Logger:          v.logger,
		NewRunID:        func() string { return stored.RunID },
	})

	if _, err := orch.Run(ctx); err != nil {
		return nil, nil, err
	}
	run, err := runs.GetByID(ctx, stored.RunID)
	if err != nil {
		return nil, nil, err
	}
	replayedRows, err := rows.GetByRunID(ctx, stored.RunID)
	if err != nil {
		return nil, nil, err
	}
	return run, replayedRows, nil
}
