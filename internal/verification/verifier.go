// Package verification re-trains recorded runs and checks that the result
// matches what was stored. Training is deterministic for a fixed dataset and
// parameters, so any divergence means the input or the code changed.
package verification

import (
	"context"
	"fmt"
	"math"

	"txn-anomaly-lab/internal/domain"
)

// FloatTolerance is the tolerance for float64 comparisons.
const FloatTolerance = 1e-12

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string // field name
	Expected any    // stored value
	Actual   any    // replayed value
}

// VerificationResult contains the result of verifying a single run.
type VerificationResult struct {
	RunID               string            // verified run ID
	Match               bool              // true if all fields match
	Divergences         []FieldDivergence // list of divergent fields
	StoredFingerprint   string            // fingerprint from stored run
	ReplayedFingerprint string            // fingerprint of the re-trained artifact
}

// Verifier interface for training run verification.
type Verifier interface {
	// VerifyRun loads the stored run, re-trains with the same parameters,
	// and compares the outcome.
	VerifyRun(ctx context.Context, runID string) (*VerificationResult, error)

	// VerifyLatest verifies the most recent successful run.
	VerifyLatest(ctx context.Context) (*VerificationResult, error)
}

// CompareTrainingRuns compares two training runs and returns divergences.
// Identity and timing fields (run ID, artifact path, timestamps) are ignored.
func CompareTrainingRuns(stored, replayed *domain.TrainingRun) []FieldDivergence {
	var divergences []FieldDivergence

	add := func(field string, expected, actual any) {
		divergences = append(divergences, FieldDivergence{Field: field, Expected: expected, Actual: actual})
	}

	if stored.DatasetID != replayed.DatasetID {
		add("DatasetID", stored.DatasetID, replayed.DatasetID)
	}
	if stored.RowCount != replayed.RowCount {
		add("RowCount", stored.RowCount, replayed.RowCount)
	}
	if stored.AccountCount != replayed.AccountCount {
		add("AccountCount", stored.AccountCount, replayed.AccountCount)
	}
	if stored.MaxSamples != replayed.MaxSamples {
		add("MaxSamples", stored.MaxSamples, replayed.MaxSamples)
	}
	if !floatEquals(stored.Offset, replayed.Offset) {
		add("Offset", stored.Offset, replayed.Offset)
	}
	if stored.FlaggedCount != replayed.FlaggedCount {
		add("FlaggedCount", stored.FlaggedCount, replayed.FlaggedCount)
	}
	if stored.ArtifactFingerprint != replayed.ArtifactFingerprint {
		add("ArtifactFingerprint", stored.ArtifactFingerprint, replayed.ArtifactFingerprint)
	}

	return divergences
}

// CompareFeatureRows compares stored and replayed feature rows. A length
// mismatch or the first differing row is reported as a single divergence.
func CompareFeatureRows(stored, replayed []*domain.FeatureRow) []FieldDivergence {
	if len(stored) != len(replayed) {
		return []FieldDivergence{{Field: "FeatureRows", Expected: len(stored), Actual: len(replayed)}}
	}
	for i := range stored {
		if !featureRowEquals(stored[i], replayed[i]) {
			return []FieldDivergence{{
				Field:    fmt.Sprintf("FeatureRows[%d]", i),
				Expected: stored[i].Values,
				Actual:   replayed[i].Values,
			}}
		}
	}
	return nil
}

func featureRowEquals(a, b *domain.FeatureRow) bool {
	if a.RowIndex != b.RowIndex || a.AccountID != b.AccountID || a.TxID != b.TxID ||
		!a.Timestamp.Equal(b.Timestamp) || len(a.Values) != len(b.Values) {
		return false
	}
	for j := range a.Values {
		if !floatEquals(a.Values[j], b.Values[j]) {
			return false
		}
	}
	return true
}

// floatEquals compares two float64 values with tolerance.
func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}
