// Package orchestrator runs the training job end to end.
// Flow: load → features → assemble → persist features → train → export →
// verify artifact → record run
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/features"
	"txn-anomaly-lab/internal/idhash"
	"txn-anomaly-lab/internal/ingestion"
	"txn-anomaly-lab/internal/matrix"
	"txn-anomaly-lab/internal/model"
	"txn-anomaly-lab/internal/observability"
	"txn-anomaly-lab/internal/onnx"
	"txn-anomaly-lab/internal/storage"
)

// ErrNoSource is returned by Run when Options.Source is nil.
var ErrNoSource = errors.New("no transaction source configured")

// Orchestrator coordinates one training job execution.
type Orchestrator struct {
	source       ingestion.Source
	featureStore storage.FeatureStore
	runStore     storage.TrainingRunStore

	builder  *features.Builder
	trainer  *model.IsolationForestTrainer
	params   model.Params
	exporter *onnx.Exporter

	outputPath string
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
	newRunID   func() string
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Source     ingestion.Source
	OutputPath string

	// Optional stores; nil skips persistence
	FeatureStore storage.FeatureStore
	RunStore     storage.TrainingRunStore

	Features        features.Options
	Model           model.Params
	ProducerVersion string

	Metrics *observability.Metrics
	Logger  *zap.Logger

	// Test hooks
	Now      func() time.Time
	NewRunID func() string
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Model == (model.Params{}) {
		opts.Model = model.DefaultParams()
	}
	o := &Orchestrator{
		source:       opts.Source,
		featureStore: opts.FeatureStore,
		runStore:     opts.RunStore,
		builder:      features.NewBuilder(opts.Features),
		trainer:      model.NewIsolationForestTrainer(opts.Model),
		params:       opts.Model,
		outputPath:   opts.OutputPath,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          opts.Now,
		newRunID:     opts.NewRunID,
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics("")
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("orchestrator")
	if o.now == nil {
		o.now = time.Now
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}

	window := o.builder.Window()
	o.exporter = onnx.NewExporter(onnx.Options{
		ProducerVersion: opts.ProducerVersion,
		Metadata: map[string]string{
			onnx.MetaWindowSeconds: strconv.FormatInt(int64(window/time.Second), 10),
		},
	})
	return o
}

// RunResult contains results from one execution.
type RunResult struct {
	RunID             string
	DatasetID         string
	Transactions      int
	Accounts          int
	ReorderedAccounts int
	Rows              int
	Trees             int
	MaxSamples        int
	Offset            float64
	Flagged           int
	ArtifactPath      string
	ArtifactBytes     int
	Fingerprint       string
	Contract          *onnx.Contract

	// Earlier runs recorded for the same dataset, and the fingerprint of
	// the latest successful one. Empty without a run store.
	PriorRuns           int
	PreviousFingerprint string
}

// Run executes the full pipeline. Every phase error is fatal. When a run
// store is configured, the run is recorded whether it succeeds or fails.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if o.source == nil {
		return nil, ErrNoSource
	}

	started := o.now().UTC()
	result := &RunResult{RunID: o.newRunID(), ArtifactPath: o.outputPath}
	o.logger.Info("training run started", zap.String("run_id", result.RunID), zap.String("output", o.outputPath))

	runErr := o.run(ctx, result)

	if err := o.recordRun(ctx, result, started, runErr); err != nil {
		if runErr == nil {
			return nil, fmt.Errorf("phase 8 (record run) failed: %w", err)
		}
		o.logger.Warn("could not record failed run", zap.String("run_id", result.RunID), zap.Error(err))
	}

	if runErr != nil {
		o.logger.Error("training run failed", zap.String("run_id", result.RunID), zap.Error(runErr))
		return nil, runErr
	}

	o.metrics.MarkSuccess(o.now())
	o.logger.Info("training run completed",
		zap.String("run_id", result.RunID),
		zap.String("dataset_id", result.DatasetID),
		zap.Int("rows", result.Rows),
		zap.Int("flagged", result.Flagged),
		zap.Float64("offset", result.Offset),
		zap.String("fingerprint", result.Fingerprint),
	)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, result *RunResult) error {
	var (
		records []*domain.TransactionRecord
		vectors []*domain.FeatureVector
		fm      *matrix.FeatureMatrix
		forest  *model.IsolationForest
		data    []byte
	)

	if err := o.phase(ctx, 1, "load", func() error {
		var err error
		records, err = o.source.Load(ctx)
		if err != nil {
			return err
		}
		result.Transactions = len(records)
		result.DatasetID = idhash.ComputeDatasetID(records)
		o.metrics.TransactionsLoaded.Set(float64(len(records)))
		return nil
	}); err != nil {
		return err
	}
	o.lookupDatasetHistory(ctx, result)

	if err := o.phase(ctx, 2, "features", func() error {
		var (
			stats *features.BuildStats
			err   error
		)
		vectors, stats, err = o.builder.Build(ctx, records)
		if err != nil {
			return err
		}
		result.Accounts = stats.Accounts
		result.ReorderedAccounts = stats.ReorderedAccounts
		o.metrics.AccountsSeen.Set(float64(stats.Accounts))
		o.metrics.ReorderedAccounts.Set(float64(stats.ReorderedAccounts))
		if stats.ReorderedAccounts > 0 {
			o.logger.Warn("accounts arrived out of time order and were sorted",
				zap.Int("accounts", stats.ReorderedAccounts))
		}
		return nil
	}); err != nil {
		return err
	}

	if err := o.phase(ctx, 3, "assemble", func() error {
		var err error
		fm, err = matrix.Assemble(vectors)
		if err != nil {
			return err
		}
		result.Rows = fm.Rows
		o.metrics.FeatureRows.Set(float64(fm.Rows))
		return nil
	}); err != nil {
		return err
	}

	if o.featureStore != nil && fm.Rows > 0 {
		if err := o.phase(ctx, 4, "persist features", func() error {
			start := time.Now()
			err := o.featureStore.InsertBulk(ctx, matrix.FeatureRows(result.RunID, vectors, fm))
			o.metrics.RecordDBQuery("feature_store", "insert_feature_rows", time.Since(start), err)
			return err
		}); err != nil {
			return err
		}
	}

	if err := o.phase(ctx, 5, "train", func() error {
		var err error
		forest, err = o.trainer.FitForest(ctx, fm)
		if err != nil {
			return err
		}
		result.Trees = len(forest.Trees)
		result.MaxSamples = forest.MaxSamples
		result.Offset = forest.Offset
		result.Flagged = model.CountAnomalies(forest.Predict(fm))
		o.metrics.TreesFitted.Set(float64(result.Trees))
		o.metrics.ScoreOffset.Set(forest.Offset)
		o.metrics.FlaggedTransactions.Set(float64(result.Flagged))
		return nil
	}); err != nil {
		return err
	}

	if err := o.phase(ctx, 6, "export", func() error {
		exp := o.exporter.WithMetadata(onnx.MetaDatasetID, result.DatasetID)
		res, err := exp.Export(ctx, forest, o.outputPath)
		if err != nil {
			return err
		}
		data = res.Data
		result.ArtifactBytes = len(data)
		result.Fingerprint = idhash.ComputeArtifactFingerprint(data)
		o.metrics.ArtifactBytes.Set(float64(len(data)))
		if result.PreviousFingerprint != "" && result.PreviousFingerprint != result.Fingerprint {
			o.logger.Warn("artifact differs from the previous run on this dataset",
				zap.String("previous_fingerprint", result.PreviousFingerprint),
				zap.String("fingerprint", result.Fingerprint))
		}
		return nil
	}); err != nil {
		return err
	}

	return o.phase(ctx, 7, "verify artifact", func() error {
		contract, err := onnx.Inspect(o.outputPath)
		if err != nil {
			return err
		}
		if contract.Size != len(data) {
			return fmt.Errorf("artifact on disk has %d bytes, wrote %d", contract.Size, len(data))
		}
		if err := contract.Check(domain.FeatureColumns); err != nil {
			return err
		}
		result.Contract = contract
		return nil
	})
}

// lookupDatasetHistory fills the prior run fields from the run store.
// Lookup failures are logged and do not fail the run.
func (o *Orchestrator) lookupDatasetHistory(ctx context.Context, result *RunResult) {
	if o.runStore == nil {
		return
	}
	start := time.Now()
	prior, err := o.runStore.GetByDatasetID(ctx, result.DatasetID)
	o.metrics.RecordDBQuery("run_store", "get_runs_by_dataset", time.Since(start), err)
	if err != nil {
		o.logger.Warn("dataset history lookup failed", zap.String("dataset_id", result.DatasetID), zap.Error(err))
		return
	}

	result.PriorRuns = len(prior)
	// Runs are ordered by started_at, so the last success is the latest.
	for _, run := range prior {
		if run.Status == domain.TrainingRunStatusSucceeded {
			result.PreviousFingerprint = run.ArtifactFingerprint
		}
	}
	if len(prior) > 0 {
		o.logger.Info("dataset trained before",
			zap.String("dataset_id", result.DatasetID),
			zap.Int("prior_runs", len(prior)),
			zap.String("previous_fingerprint", result.PreviousFingerprint))
	}
}

// phase runs fn as pipeline phase n, with timing, logging, and error wrapping.
func (o *Orchestrator) phase(ctx context.Context, n int, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("phase %d (%s) failed: %w", n, name, err)
	}

	start := time.Now()
	o.logger.Debug("phase started", zap.Int("phase", n), zap.String("name", name))
	err := fn()
	elapsed := time.Since(start)
	o.metrics.RecordPhase(name, elapsed, err)

	if err != nil {
		return fmt.Errorf("phase %d (%s) failed: %w", n, name, err)
	}
	o.logger.Info("phase completed", zap.Int("phase", n), zap.String("name", name), zap.Duration("elapsed", elapsed))
	return nil
}

// recordRun writes the run registry entry when a run store is configured.
func (o *Orchestrator) recordRun(ctx context.Context, result *RunResult, started time.Time, runErr error) error {
	if o.runStore == nil {
		return nil
	}

	run := &domain.TrainingRun{
		RunID:               result.RunID,
		DatasetID:           result.DatasetID,
		Status:              domain.TrainingRunStatusSucceeded,
		RowCount:            result.Rows,
		AccountCount:        result.Accounts,
		Contamination:       o.params.Contamination,
		RandomSeed:          o.params.Seed,
		WindowSeconds:       int64(o.builder.Window() / time.Second),
		NumEstimators:       o.params.NumEstimators,
		MaxSamples:          result.MaxSamples,
		Offset:              result.Offset,
		FlaggedCount:        result.Flagged,
		ArtifactPath:        result.ArtifactPath,
		ArtifactFingerprint: result.Fingerprint,
		StartedAt:           started,
		FinishedAt:          o.now().UTC(),
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Status = domain.TrainingRunStatusFailed
		run.ErrorMessage = &msg
		run.ArtifactFingerprint = ""
	}

	// A cancelled job still gets its failure recorded.
	recordCtx := context.WithoutCancel(ctx)
	start := time.Now()
	err := o.runStore.Insert(recordCtx, run)
	o.metrics.RecordDBQuery("run_store", "insert_training_run", time.Since(start), err)
	return err
}
