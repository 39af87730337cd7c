package domain

import "time"

// TrainingRunStatus is the lifecycle state of a training run.
type TrainingRunStatus string

// Training run status constants
const (
	TrainingRunStatusSucceeded TrainingRunStatus = "SUCCEEDED"
	TrainingRunStatusFailed    TrainingRunStatus = "FAILED"
)

// TrainingRun records one execution of the training job.
// Corresponds to training_runs table in PostgreSQL.
type TrainingRun struct {
	RunID               string            // UUID
	DatasetID           string            // deterministic hash of the input records
	Status              TrainingRunStatus // SUCCEEDED | FAILED
	RowCount            int               // feature matrix rows
	AccountCount        int               // distinct accounts
	Contamination       float64           // expected anomaly fraction
	RandomSeed          int64             // RNG seed
	WindowSeconds       int64             // trailing window for tx count
	NumEstimators       int               // number of trees
	MaxSamples          int               // subsample size per tree
	Offset              float64           // decision threshold on score_samples
	FlaggedCount        int               // training rows labelled anomalous
	ArtifactPath        string            // exported model destination
	ArtifactFingerprint string            // base58 SHA256 of the artifact, empty on failure
	ErrorMessage        *string           // failure reason, NULL on success
	StartedAt           time.Time
	FinishedAt          time.Time
}
