package ingestion

import (
	"errors"
	"fmt"
)

// ErrMalformedInput is matched by every MalformedInputError.
var ErrMalformedInput = errors.New("malformed input")

// MalformedInputError reports a required field that is absent or cannot be
// parsed to its semantic type. Row is 1-based and excludes the header.
type MalformedInputError struct {
	Row   int
	Field string
	Value string
	Err   error
}

func (e *MalformedInputError) Error() string {
	msg := fmt.Sprintf("malformed input at row %d", e.Row)
	if e.Field != "" {
		msg += fmt.Sprintf(", field %q", e.Field)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (value %q)", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedInput) true for any MalformedInputError.
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}
