package alarming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smukkama/water-ingest/internal/ingest"
	"github.com/smukkama/water-ingest/internal/protocol"
)

// Publisher sends keyed messages to a topic. *queue.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Tracker turns per-reading anomaly tags into raise and clear transitions
type Tracker struct {
	states    StateStore
	publisher Publisher
	now       func() time.Time
	log       *logrus.Entry
}

// NewTracker creates a new anomaly tracker
func NewTracker(states StateStore, publisher Publisher) *Tracker {
	return &Tracker{
		states:    states,
		publisher: publisher,
		now:       time.Now,
		log:       logrus.WithField("component", "anomaly-tracker"),
	}
}

// Evaluate compares a reading's tags with the tracked state of every tag in
// the vocabulary. Each tag is handled independently; the joined error names
// every tag that failed.
func (t *Tracker) Evaluate(ctx context.Context, event *protocol.ReadingEvent) error {
	r := &event.Reading

	var errs []error
	for _, tag := range ingest.Anomalies {
		if err := t.evaluateTag(ctx, r, tag); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tag, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Tracker) evaluateTag(ctx context.Context, r *ingest.Reading, tag ingest.Anomaly) error {
	state, err := t.states.GetState(ctx, r.DeviceID, tag)
	if err != nil {
		return err
	}

	now := t.now()
	fired := r.HasAnomaly(tag)

	switch {
	case fired && state.Status == StateActive:
		state.LastSeenAt = now
		state.FlowRate = r.FlowRate
		state.DailyTotal = r.DailyTotal
		return t.states.SetState(ctx, r.DeviceID, tag, state)

	case fired:
		return t.raise(ctx, r, tag, now)

	case state.Status == StateActive:
		return t.clear(ctx, r, tag, now)
	}

	return nil
}

func (t *Tracker) raise(ctx context.Context, r *ingest.Reading, tag ingest.Anomaly, now time.Time) error {
	t.log.WithFields(logrus.Fields{
		"device_id":   r.DeviceID,
		"anomaly":     tag,
		"flow_rate":   r.FlowRate,
		"daily_total": r.DailyTotal,
	}).Warn("Anomaly raised")

	state := &AnomalyState{
		Status:     StateActive,
		RaisedAt:   now,
		LastSeenAt: now,
		FlowRate:   r.FlowRate,
		DailyTotal: r.DailyTotal,
	}
	if err := t.states.SetState(ctx, r.DeviceID, tag, state); err != nil {
		return err
	}

	return t.notify(ctx, protocol.AnomalyTypeRaised, r, tag, now)
}

func (t *Tracker) clear(ctx context.Context, r *ingest.Reading, tag ingest.Anomaly, now time.Time) error {
	t.log.WithFields(logrus.Fields{
		"device_id": r.DeviceID,
		"anomaly":   tag,
	}).Info("Anomaly cleared")

	if err := t.states.DeleteState(ctx, r.DeviceID, tag); err != nil {
		return err
	}

	return t.notify(ctx, protocol.AnomalyTypeCleared, r, tag, now)
}

func (t *Tracker) notify(ctx context.Context, kind string, r *ingest.Reading, tag ingest.Anomaly, now time.Time) error {
	n := &protocol.AnomalyNotification{
		Type:       kind,
		DeviceID:   r.DeviceID,
		Anomaly:    tag,
		FlowRate:   r.FlowRate,
		DailyTotal: r.DailyTotal,
		Timestamp:  r.Timestamp,
		RaisedAt:   now,
	}
	if r.Location != nil {
		n.Location = *r.Location
	}
	if r.SensorType != nil {
		n.SensorType = *r.SensorType
	}

	data, err := protocol.EncodeAnomalyNotification(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	key := fmt.Sprintf("%s-%s", r.DeviceID, tag)
	return t.publisher.Publish(ctx, key, data)
}
