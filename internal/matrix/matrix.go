// Package matrix materialises feature vectors into the fixed numeric
// training schema.
package matrix

import (
	"errors"
	"fmt"
	"math"

	"txn-anomaly-lab/internal/domain"
)

// FillValue replaces every undefined feature cell.
const FillValue = 0.0

// ErrNilVector is returned when a feature vector is missing from the input.
var ErrNilVector = errors.New("nil feature vector")

// FeatureMatrix is a dense row-major table. Rows follow input transaction
// order and columns follow Columns.
type FeatureMatrix struct {
	Columns []string
	Rows    int
	Data    []float64
}

// NonFiniteCell locates the first NaN or Inf in a matrix.
type NonFiniteCell struct {
	Row    int
	Column string
	Value  float64
}

func (c *NonFiniteCell) Error() string {
	return fmt.Sprintf("non-finite value %v at row %d, column %s", c.Value, c.Row, c.Column)
}

// New creates a zero-filled matrix with the default schema.
func New(rows int) *FeatureMatrix {
	return &FeatureMatrix{
		Columns: append([]string(nil), domain.FeatureColumns...),
		Rows:    rows,
		Data:    make([]float64, rows*domain.FeatureCount),
	}
}

// Cols returns the number of columns.
func (m *FeatureMatrix) Cols() int {
	return len(m.Columns)
}

// Row returns a view of row i. Writes go through to the matrix.
func (m *FeatureMatrix) Row(i int) []float64 {
	c := m.Cols()
	return m.Data[i*c : (i+1)*c : (i+1)*c]
}

// At returns the cell at row i, column j.
func (m *FeatureMatrix) At(i, j int) float64 {
	return m.Data[i*m.Cols()+j]
}

// Column returns a copy of column j.
func (m *FeatureMatrix) Column(j int) []float64 {
	out := make([]float64, m.Rows)
	for i := range out {
		out[i] = m.At(i, j)
	}
	return out
}

// Validate returns a *NonFiniteCell for the first NaN or Inf value.
func (m *FeatureMatrix) Validate() error {
	if len(m.Data) != m.Rows*m.Cols() {
		return fmt.Errorf("matrix shape mismatch: %d cells for %dx%d", len(m.Data), m.Rows, m.Cols())
	}
	for idx, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &NonFiniteCell{Row: idx / m.Cols(), Column: m.Columns[idx%m.Cols()], Value: v}
		}
	}
	return nil
}

// Float32 returns the matrix at inference precision, row-major.
func (m *FeatureMatrix) Float32() []float32 {
	out := make([]float32, len(m.Data))
	for i, v := range m.Data {
		out[i] = float32(v)
	}
	return out
}
