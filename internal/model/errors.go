package model

import (
	"errors"
	"fmt"
)

// Training error causes.
var (
	// ErrEmptyMatrix is returned when the feature matrix has no rows.
	ErrEmptyMatrix = errors.New("feature matrix has no rows")

	// ErrNonFinite is returned when the feature matrix contains NaN or Inf.
	ErrNonFinite = errors.New("feature matrix contains non-finite values")

	// ErrInvalidParams is returned when trainer parameters are out of range.
	ErrInvalidParams = errors.New("invalid training parameters")
)

// ErrTraining is matched by every TrainingError.
var ErrTraining = errors.New("training failed")

// TrainingError reports why a model could not be fitted.
type TrainingError struct {
	Reason string
	Err    error
}

func (e *TrainingError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("training error: %v", e.Err)
	}
	return fmt.Sprintf("training error: %s: %v", e.Reason, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTraining) true for any TrainingError.
func (e *TrainingError) Is(target error) bool {
	return target == ErrTraining
}
