package ingest

import "context"

// ReadingStore is the time-ordered per-device reading store.
type ReadingStore interface {
	// ReadingsBetween returns the device's readings with
	// from <= timestamp < to, in ascending timestamp order.
	ReadingsBetween(ctx context.Context, deviceID string, from, to int64) ([]Reading, error)

	// PutReading writes r at (r.DeviceID, r.Timestamp), replacing any
	// existing record at that key.
	PutReading(ctx context.Context, r *Reading) error
}

// MetadataSource looks up device metadata. Unknown devices yield empty
// metadata and no error.
type MetadataSource interface {
	DeviceMetadata(ctx context.Context, deviceID string) (DeviceMetadata, error)
}

// EventSink is notified after a reading has been stored.
type EventSink interface {
	ReadingIngested(ctx context.Context, r *Reading) error
}

type noMetadata struct{}

func (noMetadata) DeviceMetadata(context.Context, string) (DeviceMetadata, error) {
	return DeviceMetadata{}, nil
}
