package onnx

import (
	"errors"
	"fmt"
)

var (
	// ErrExport matches every *ExportError.
	ErrExport = errors.New("export error")

	// ErrUnsupportedModel is returned for model types with no graph translation.
	ErrUnsupportedModel = errors.New("unsupported model type")

	// ErrSchemaMismatch is returned when the model's feature count differs
	// from the declared input columns.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrUnrepresentable is returned when a model value cannot be encoded
	// (non-finite weight, out-of-range index, empty tree).
	ErrUnrepresentable = errors.New("model not representable")

	// ErrContract is returned by CheckContract when an artifact's interface
	// differs from what the scoring side expects.
	ErrContract = errors.New("artifact contract violation")
)

// ExportError reports a model that cannot be translated to a graph.
type ExportError struct {
	Reason string
	Err    error
}

func (e *ExportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("export error: %s: %v", e.Reason, e.Err)
	}
	return "export error: " + e.Reason
}

func (e *ExportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExport) true for any ExportError.
func (e *ExportError) Is(target error) bool {
	return target == ErrExport
}

// IOError reports a failure writing or reading an artifact file.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func exportErrorf(sentinel error, format string, args ...any) error {
	return &ExportError{Reason: fmt.Sprintf(format, args...), Err: sentinel}
}
