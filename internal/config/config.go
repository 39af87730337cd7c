// Package config loads training job configuration from a YAML file, a .env
// file, and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all training job configuration.
type Config struct {
	Env string `yaml:"env"` // "development" or "production"

	// Model
	Contamination float64 `yaml:"contamination"`
	RandomSeed    int64   `yaml:"random_seed"`
	NumEstimators int     `yaml:"n_estimators"`
	MaxSamples    int     `yaml:"max_samples"` // 0 = min(256, rows)

	// Features
	WindowSeconds int64  `yaml:"window_seconds"`
	Ordering      string `yaml:"ordering"` // "sort" or "strict"
	Workers       int    `yaml:"workers"`  // 0 = GOMAXPROCS

	// IO
	InputPath  string `yaml:"input_path"`  // CSV file; empty reads from PostgreSQL
	OutputPath string `yaml:"output_path"` // ONNX artifact destination

	// Storage (optional, in-memory when empty)
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`

	// Observability
	PushgatewayURL string `yaml:"pushgateway_url"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // "json" or "console"
}

// Defaults
const (
	DefaultEnv           = "development"
	DefaultContamination = 0.01
	DefaultRandomSeed    = 42
	DefaultNumEstimators = 100
	DefaultWindowSeconds = 300
	DefaultOrdering      = "sort"
	DefaultOutputPath    = "fraud_model.onnx"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
)

// maxWindowSeconds is the largest window that fits in a time.Duration.
const maxWindowSeconds = math.MaxInt64 / int64(time.Second)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Env:           DefaultEnv,
		Contamination: DefaultContamination,
		RandomSeed:    DefaultRandomSeed,
		NumEstimators: DefaultNumEstimators,
		WindowSeconds: DefaultWindowSeconds,
		Ordering:      DefaultOrdering,
		OutputPath:    DefaultOutputPath,
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
	}
}

// Load builds a configuration from defaults, the optional YAML file at path,
// a .env file in the working directory if present, and environment variables.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with override applied after environment
// variables and before validation. Commands use it for flag values.
func LoadWithOverrides(path string, override func(*Config)) (*Config, error) {
	// .env is for local development; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto c. Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides overrides fields from environment variables that are set.
func (c *Config) ApplyEnvOverrides() error {
	var errs []error
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	setString("ENV", &c.Env)
	setFloat("CONTAMINATION", &c.Contamination)
	setInt64("RANDOM_SEED", &c.RandomSeed)
	setInt("N_ESTIMATORS", &c.NumEstimators)
	setInt("MAX_SAMPLES", &c.MaxSamples)
	setInt64("WINDOW_SECONDS", &c.WindowSeconds)
	setString("ORDERING", &c.Ordering)
	setInt("WORKERS", &c.Workers)
	setString("INPUT_PATH", &c.InputPath)
	setString("OUTPUT_PATH", &c.OutputPath)
	setString("POSTGRES_DSN", &c.PostgresDSN)
	setString("CLICKHOUSE_DSN", &c.ClickhouseDSN)
	setString("PUSHGATEWAY_URL", &c.PushgatewayURL)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("LOG_FORMAT", &c.LogFormat)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if !(c.Contamination > 0 && c.Contamination <= 0.5) {
		errs = append(errs, fmt.Errorf("contamination must be in (0, 0.5], got %v", c.Contamination))
	}
	if c.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("window_seconds must be positive, got %d", c.WindowSeconds))
	} else if c.WindowSeconds > maxWindowSeconds {
		errs = append(errs, fmt.Errorf("window_seconds must be at most %d, got %d", maxWindowSeconds, c.WindowSeconds))
	}
	if c.NumEstimators <= 0 {
		errs = append(errs, fmt.Errorf("n_estimators must be positive, got %d", c.NumEstimators))
	}
	if c.MaxSamples < 0 {
		errs = append(errs, fmt.Errorf("max_samples must be >= 0, got %d", c.MaxSamples))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if c.Ordering != "sort" && c.Ordering != "strict" {
		errs = append(errs, fmt.Errorf("ordering must be sort or strict, got %q", c.Ordering))
	}
	if c.OutputPath == "" {
		errs = append(errs, fmt.Errorf("output_path is required"))
	}
	if c.InputPath == "" && c.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("input_path or postgres_dsn is required"))
	}
	// Production runs must land in the persistent run registry.
	if c.IsProduction() && c.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("postgres_dsn is required in production"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Window returns the trailing transaction-count window.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
