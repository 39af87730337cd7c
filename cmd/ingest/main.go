// Package main loads a transaction log CSV into PostgreSQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"txn-anomaly-lab/internal/config"
	"txn-anomaly-lab/internal/ingestion"
	"txn-anomaly-lab/internal/logging"
	"txn-anomaly-lab/internal/storage/migrations"
	pgstore "txn-anomaly-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "YAML config file (optional)")
	input := flag.String("input", "", "Transaction log CSV (overrides input_path)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides postgres_dsn)")
	batchSize := flag.Int("batch-size", ingestion.DefaultImportBatchSize, "Records per COPY batch")
	flag.Parse()

	cfg, err := config.LoadWithOverrides(*configPath, func(c *config.Config) {
		if *input != "" {
			c.InputPath = *input
		}
		if *postgresDSN != "" {
			c.PostgresDSN = *postgresDSN
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.InputPath == "" || cfg.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "Both input_path and postgres_dsn are required")
		os.Exit(1)
	}
	if *batchSize < 1 {
		fmt.Fprintln(os.Stderr, "batch-size must be >= 1")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("ingest")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, *batchSize, logger)
	stop()
	if err != nil {
		logger.Error("ingest failed", zap.Error(err))
		logging.Sync(logger)
		os.Exit(1)
	}
	logging.Sync(logger)
}

func run(ctx context.Context, cfg *config.Config, batchSize int, logger *zap.Logger) error {
	start := time.Now()

	records, err := ingestion.NewCSVFileSource(cfg.InputPath).Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s: %w", cfg.InputPath, err)
	}
	logger.Info("parsed transaction log", zap.String("path", cfg.InputPath), zap.Int("records", len(records)))

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := migrations.ApplyPostgres(ctx, pool)
	if err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	logger.Info("migrations applied", zap.Strings("files", applied))

	store := pgstore.NewTransactionStore(pool)
	inserted, err := ingestion.Import(ctx, store, records, batchSize)
	if err != nil {
		logger.Error("import incomplete",
			zap.Int("inserted", inserted),
			zap.Int("remaining", len(records)-inserted),
		)
		return err
	}

	total, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count transactions: %w", err)
	}

	logger.Info("ingest completed",
		zap.Int("inserted", inserted),
		zap.Int("total", total),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
