// Package model fits unsupervised anomaly-scoring models over a feature matrix.
package model

import (
	"context"

	"txn-anomaly-lab/internal/matrix"
)

// Trainer fits a Model. Fitting consumes no labels.
type Trainer interface {
	Fit(ctx context.Context, m *matrix.FeatureMatrix) (Model, error)
}

// Model is a fitted outlier scorer. Implementations own their parameters
// and are immutable after Fit.
type Model interface {
	// NumFeatures is the width of the rows the model was fitted on.
	NumFeatures() int

	// ScoreSamples returns the raw anomaly score of each row. Lower is more abnormal.
	ScoreSamples(m *matrix.FeatureMatrix) []float64

	// DecisionFunction returns ScoreSamples shifted by the contamination
	// threshold. Negative values are anomalies.
	DecisionFunction(m *matrix.FeatureMatrix) []float64

	// Predict returns -1 for anomalies and 1 for inliers.
	Predict(m *matrix.FeatureMatrix) []int
}
