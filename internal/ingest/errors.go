package ingest

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or malformed submission field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MetadataFetchError is recovered inside Ingest; the reading proceeds
// without metadata.
type MetadataFetchError struct {
	DeviceID string
	Err      error
}

func (e *MetadataFetchError) Error() string {
	return fmt.Sprintf("failed to fetch metadata for device %s: %v", e.DeviceID, e.Err)
}

func (e *MetadataFetchError) Unwrap() error { return e.Err }

// AggregationReadError is recovered inside Ingest; the prior daily total
// falls back to zero.
type AggregationReadError struct {
	DeviceID string
	Err      error
}

func (e *AggregationReadError) Error() string {
	return fmt.Sprintf("failed to read daily readings for device %s: %v", e.DeviceID, e.Err)
}

func (e *AggregationReadError) Unwrap() error { return e.Err }

// PersistenceWriteError means the reading was not ingested.
type PersistenceWriteError struct {
	DeviceID  string
	Timestamp int64
	Err       error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("failed to store reading %s/%d: %v", e.DeviceID, e.Timestamp, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }

// IsValidation reports whether err was caused by bad input.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
