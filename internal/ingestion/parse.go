package ingestion

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errEmptyValue    = errors.New("value is empty")
	errNonFinite     = errors.New("value is not finite")
	errBadBool       = errors.New("not a boolean")
	errBadInstant    = errors.New("not a recognised timestamp")
	errMissingColumn = errors.New("required column missing")
)

// Timestamp layouts accepted in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 style instant to a zone-free UTC time.
// Values carrying an offset are converted to UTC. Precision is truncated to
// the microsecond, the resolution of the PostgreSQL and ClickHouse columns.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyValue
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, errBadInstant
}

// ParseFloat parses a finite floating point number.
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errEmptyValue
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNonFinite
	}
	return v, nil
}

// ParseBool accepts strconv.ParseBool forms plus yes/no and 1.0/0.0.
func ParseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return false, errEmptyValue
	case "yes", "y", "1.0":
		return true, nil
	case "no", "n", "0.0":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, errBadBool
	}
	return v, nil
}
