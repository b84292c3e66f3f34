package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/water-ingest/internal/ingest"
	"github.com/smukkama/water-ingest/internal/protocol"
)

// Publisher sends keyed messages to a topic. *Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// ReadingPublisher publishes stored readings as ReadingEvents keyed by
// device ID, so one device's readings stay on one partition in order.
type ReadingPublisher struct {
	publisher Publisher
	now       func() time.Time
}

// NewReadingPublisher creates an ingest.EventSink backed by publisher
func NewReadingPublisher(publisher Publisher) *ReadingPublisher {
	return &ReadingPublisher{publisher: publisher, now: time.Now}
}

// ReadingIngested implements ingest.EventSink
func (p *ReadingPublisher) ReadingIngested(ctx context.Context, r *ingest.Reading) error {
	data, err := protocol.EncodeReadingEvent(protocol.NewReadingEvent(r, p.now()))
	if err != nil {
		return fmt.Errorf("failed to encode reading event: %w", err)
	}

	return p.publisher.Publish(ctx, r.DeviceID, data)
}
