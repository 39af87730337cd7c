// Package main is the training job entry point.
// Executes: load → features → assemble → train → export
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"txn-anomaly-lab/internal/config"
	"txn-anomaly-lab/internal/features"
	"txn-anomaly-lab/internal/ingestion"
	"txn-anomaly-lab/internal/logging"
	"txn-anomaly-lab/internal/model"
	"txn-anomaly-lab/internal/observability"
	"txn-anomaly-lab/internal/onnx"
	"txn-anomaly-lab/internal/orchestrator"
	"txn-anomaly-lab/internal/storage"
	chstore "txn-anomaly-lab/internal/storage/clickhouse"
	"txn-anomaly-lab/internal/storage/memory"
	"txn-anomaly-lab/internal/storage/migrations"
	pgstore "txn-anomaly-lab/internal/storage/postgres"
	"txn-anomaly-lab/internal/verification"
)

var version = "dev"

// Exit codes
const (
	exitOK = iota
	exitUsage
	exitMalformedInput
	exitTraining
	exitExport
	exitIO
	exitOther
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "YAML config file (optional)")
	input := flag.String("input", "", "Transaction log CSV (overrides input_path)")
	output := flag.String("output", "", "ONNX artifact path (overrides output_path)")
	verifyRun := flag.String("verify-run", "", "Re-train a recorded run (or \"latest\") and compare instead of training")
	flag.Parse()

	cfg, err := config.LoadWithOverrides(*configPath, func(c *config.Config) {
		if *input != "" {
			c.InputPath = *input
		}
		if *output != "" {
			c.OutputPath = *output
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(exitUsage)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(exitUsage)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	if *verifyRun != "" {
		code = verify(ctx, cfg, *verifyRun, logger)
	} else {
		code = run(ctx, cfg, logger)
	}
	logging.Sync(logger)
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) int {
	metrics := observability.NewMetrics("")

	deps, closeDeps, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage setup failed", zap.Error(err))
		return exitOther
	}
	defer closeDeps()

	orch := orchestrator.New(orchestrator.Options{
		Source:       deps.source,
		OutputPath:   cfg.OutputPath,
		FeatureStore: deps.features,
		RunStore:     deps.runs,
		Features: features.Options{
			Window:   cfg.Window(),
			Workers:  cfg.Workers,
			Ordering: features.OrderingPolicy(cfg.Ordering),
		},
		Model: model.Params{
			NumEstimators: cfg.NumEstimators,
			MaxSamples:    cfg.MaxSamples,
			Contamination: cfg.Contamination,
			Seed:          cfg.RandomSeed,
			Workers:       cfg.Workers,
		},
		ProducerVersion: version,
		Metrics:         metrics,
		Logger:          logger,
	})

	result, runErr := orch.Run(ctx)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := metrics.Push(pushCtx, cfg.PushgatewayURL, "txn_anomaly_train"); err != nil {
			logger.Warn("pushgateway push failed", zap.Error(err))
		}
		cancel()
	}

	if runErr != nil {
		logger.Error("training failed", zap.Error(runErr))
		return exitCode(runErr)
	}

	fmt.Printf("Training completed:\n")
	fmt.Printf("  Run: %s\n", result.RunID)
	fmt.Printf("  Dataset: %s\n", result.DatasetID)
	fmt.Printf("  Transactions: %d (%d accounts)\n", result.Transactions, result.Accounts)
	fmt.Printf("  Trees: %d (max_samples %d)\n", result.Trees, result.MaxSamples)
	fmt.Printf("  Offset: %.6f\n", result.Offset)
	fmt.Printf("  Flagged: %d\n", result.Flagged)
	fmt.Printf("  Artifact: %s (%d bytes)\n", result.ArtifactPath, result.ArtifactBytes)
	fmt.Printf("  Fingerprint: %s\n", result.Fingerprint)
	if result.PriorRuns > 0 {
		fmt.Printf("  Prior runs on dataset: %d (previous fingerprint %s)\n", result.PriorRuns, result.PreviousFingerprint)
	}
	return exitOK
}

// latestRun selects the most recent successful run for -verify-run.
const latestRun = "latest"

// verify replays a recorded run. Only meaningful with a persistent run store.
func verify(ctx context.Context, cfg *config.Config, runID string, logger *zap.Logger) int {
	if cfg.PostgresDSN == "" {
		logger.Error("verify-run needs postgres_dsn for the run registry")
		return exitUsage
	}

	deps, closeDeps, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage setup failed", zap.Error(err))
		return exitOther
	}
	defer closeDeps()

	v := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		RunStore:        deps.runs,
		FeatureStore:    deps.features,
		Source:          deps.source,
		ProducerVersion: version,
		Logger:          logger,
	})

	var result *verification.VerificationResult
	if runID == latestRun {
		result, err = v.VerifyLatest(ctx)
	} else {
		result, err = v.VerifyRun(ctx, runID)
	}
	if err != nil {
		logger.Error("verification failed", zap.Error(err))
		return exitCode(err)
	}
	runID = result.RunID

	if result.Match {
		fmt.Printf("Run %s verified: %s\n", runID, result.StoredFingerprint)
		return exitOK
	}
	fmt.Printf("Run %s diverged:\n", runID)
	for _, d := range result.Divergences {
		fmt.Printf("  %s: stored=%v replayed=%v\n", d.Field, d.Expected, d.Actual)
	}
	return exitOther
}

// exitCode maps the failure category to a process exit status.
func exitCode(err error) int {
	var ioErr *onnx.IOError
	switch {
	case errors.Is(err, ingestion.ErrMalformedInput):
		return exitMalformedInput
	case errors.Is(err, model.ErrTraining):
		return exitTraining
	case errors.As(err, &ioErr):
		return exitIO
	case errors.Is(err, onnx.ErrExport), errors.Is(err, onnx.ErrContract):
		return exitExport
	default:
		return exitOther
	}
}

// stores holds the backends selected by configuration.
type stores struct {
	source   ingestion.Source
	features storage.FeatureStore
	runs     storage.TrainingRunStore
}

// openStores picks PostgreSQL and ClickHouse when their DSNs are set and
// in-memory stores otherwise. A CSV input path takes precedence over
// PostgreSQL as the transaction source.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, func(), error) {
	s := &stores{
		features: memory.NewFeatureStore(),
		runs:     memory.NewTrainingRunStore(),
	}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, pool.Close)

		applied, err := migrations.ApplyPostgres(ctx, pool)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("postgres ready", zap.Strings("migrations", applied))

		s.runs = pgstore.NewTrainingRunStore(pool)
		if cfg.InputPath == "" {
			s.source = ingestion.NewStoreSource(pgstore.NewTransactionStore(pool))
		}
	}

	if cfg.ClickhouseDSN != "" {
		if err := chstore.EnsureDatabase(ctx, cfg.ClickhouseDSN); err != nil {
			closeAll()
			return nil, func() {}, err
		}
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, func() { _ = conn.Close() })

		applied, err := migrations.ApplyClickhouse(ctx, conn)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("clickhouse migrations: %w", err)
		}
		logger.Info("clickhouse ready", zap.Strings("migrations", applied))

		s.features = chstore.NewFeatureStore(conn)
	}

	if cfg.InputPath != "" {
		s.source = ingestion.NewCSVFileSource(cfg.InputPath)
	}
	if s.source == nil {
		closeAll()
		return nil, func() {}, errors.New("no transaction source: set input_path or postgres_dsn")
	}

	return s, closeAll, nil
}
