package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"txn-anomaly-lab/internal/matrix"
)

// Default isolation forest parameters.
const (
	DefaultNumEstimators = 100
	DefaultMaxSamples    = 256
	DefaultContamination = 0.01
	DefaultSeed          = 42
)

// Params configures an isolation forest.
type Params struct {
	NumEstimators int     // number of trees
	MaxSamples    int     // subsample size per tree, 0 = min(256, rows)
	Contamination float64 // expected anomaly fraction in (0, 0.5]
	Seed          int64   // RNG seed; equal seeds give identical forests
	Workers       int     // parallel tree builders, 0 = GOMAXPROCS
}

// DefaultParams returns the default parameters.
func DefaultParams() Params {
	return Params{
		NumEstimators: DefaultNumEstimators,
		Contamination: DefaultContamination,
		Seed:          DefaultSeed,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if p.NumEstimators < 1 {
		return fmt.Errorf("%w: n_estimators must be >= 1, got %d", ErrInvalidParams, p.NumEstimators)
	}
	if p.MaxSamples < 0 {
		return fmt.Errorf("%w: max_samples must be >= 0, got %d", ErrInvalidParams, p.MaxSamples)
	}
	if !(p.Contamination > 0 && p.Contamination <= 0.5) {
		return fmt.Errorf("%w: contamination must be in (0, 0.5], got %v", ErrInvalidParams, p.Contamination)
	}
	return nil
}

// IsolationForestTrainer fits IsolationForest models.
type IsolationForestTrainer struct {
	params Params
}

// Compile-time interface check.
var _ Trainer = (*IsolationForestTrainer)(nil)

// NewIsolationForestTrainer creates a trainer with params.
func NewIsolationForestTrainer(params Params) *IsolationForestTrainer {
	return &IsolationForestTrainer{params: params}
}

// Fit builds the forest and calibrates the decision offset so that roughly
// Contamination of the training rows score below it.
func (t *IsolationForestTrainer) Fit(ctx context.Context, m *matrix.FeatureMatrix) (Model, error) {
	f, err := t.FitForest(ctx, m)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FitForest is Fit with the concrete return type.
func (t *IsolationForestTrainer) FitForest(ctx context.Context, m *matrix.FeatureMatrix) (*IsolationForest, error) {
	p := t.params
	if err := p.Validate(); err != nil {
		return nil, &TrainingError{Reason: "parameters", Err: err}
	}
	if m == nil || m.Rows == 0 {
		return nil, &TrainingError{Reason: "input", Err: ErrEmptyMatrix}
	}
	if err := m.Validate(); err != nil {
		var cell *matrix.NonFiniteCell
		if errors.As(err, &cell) {
			return nil, &TrainingError{Reason: cell.Error(), Err: ErrNonFinite}
		}
		return nil, &TrainingError{Reason: "input", Err: err}
	}

	psi := p.MaxSamples
	if psi == 0 {
		psi = DefaultMaxSamples
	}
	if psi > m.Rows {
		psi = m.Rows
	}
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*Tree, p.NumEstimators)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// One independent stream per tree keeps the forest identical
			// regardless of scheduling.
			rng := rand.New(rand.NewPCG(uint64(p.Seed), uint64(i)))
			sample := sampleWithoutReplacement(rng, m.Rows, psi)
			trees[i] = growTree(m, sample, maxDepth, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f := &IsolationForest{
		Trees:       trees,
		MaxSamples:  psi,
		Params:      p,
		numFeatures: m.Cols(),
	}

	scores := f.ScoreSamples(m)
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	f.Offset = percentile(sorted, 100*p.Contamination)

	return f, nil
}

// sampleWithoutReplacement draws k distinct indexes from [0, n) using
// Floyd's algorithm. The result order depends only on rng.
func sampleWithoutReplacement(rng *rand.Rand, n, k int) []int {
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		rng.Shuffle(n, func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}

	selected := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for j := n - k; j < n; j++ {
		t := rng.IntN(j + 1)
		if _, dup := selected[t]; dup {
			t = j
		}
		selected[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// IsolationForest is a fitted ensemble of isolation trees.
type IsolationForest struct {
	Trees      []*Tree
	MaxSamples int     // effective subsample size used per tree
	Offset     float64 // decision threshold on ScoreSamples
	Params     Params

	numFeatures int
}

// Compile-time interface check.
var _ Model = (*IsolationForest)(nil)

// NumFeatures returns the training row width.
func (f *IsolationForest) NumFeatures() int {
	return f.numFeatures
}

// Normalizer is c(MaxSamples), the divisor applied to mean path lengths.
// A single-sample forest has no spread to normalise and uses 1.
func (f *IsolationForest) Normalizer() float64 {
	if c := averagePathLength(f.MaxSamples); c > 0 {
		return c
	}
	return 1
}

// MeanPathLength returns the average isolation depth of row across trees.
func (f *IsolationForest) MeanPathLength(row []float64) float64 {
	var sum float64
	for _, t := range f.Trees {
		sum += t.PathLength(row)
	}
	return sum / float64(len(f.Trees))
}

// ScoreSamples returns -2^(-E[h(x)]/c(psi)) per row, in [-1, 0).
// Rows isolated in fewer splits score lower.
func (f *IsolationForest) ScoreSamples(m *matrix.FeatureMatrix) []float64 {
	c := f.Normalizer()
	out := make([]float64, m.Rows)
	for i := range out {
		out[i] = -math.Pow(2, -f.MeanPathLength(m.Row(i))/c)
	}
	return out
}

// DecisionFunction returns ScoreSamples - Offset.
func (f *IsolationForest) DecisionFunction(m *matrix.FeatureMatrix) []float64 {
	scores := f.ScoreSamples(m)
	for i := range scores {
		scores[i] -= f.Offset
	}
	return scores
}

// Predict labels rows with a negative decision value as anomalies (-1).
func (f *IsolationForest) Predict(m *matrix.FeatureMatrix) []int {
	decisions := f.DecisionFunction(m)
	labels := make([]int, len(decisions))
	for i, d := range decisions {
		if d < 0 {
			labels[i] = -1
		} else {
			labels[i] = 1
		}
	}
	return labels
}

// CountAnomalies returns how many labels are -1.
func CountAnomalies(labels []int) int {
	n := 0
	for _, l := range labels {
		if l < 0 {
			n++
		}
	}
	return n
}
