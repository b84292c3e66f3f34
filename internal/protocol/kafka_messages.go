package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/smukkama/water-ingest/internal/ingest"
)

// ReadingEvent is published for every stored reading
type ReadingEvent struct {
	EventID    string         `json:"event_id"`
	IngestedAt time.Time      `json:"ingested_at"`
	Reading    ingest.Reading `json:"reading"`
}

// NewReadingEvent wraps a stored reading with a fresh event ID
func NewReadingEvent(r *ingest.Reading, ingestedAt time.Time) *ReadingEvent {
	return &ReadingEvent{
		EventID:    uuid.New().String(),
		IngestedAt: ingestedAt,
		Reading:    *r,
	}
}

// AnomalyNotification is the message format for anomaly notifications
type AnomalyNotification struct {
	Type       string         `json:"type"` // ANOMALY_RAISED, ANOMALY_CLEARED
	DeviceID   string         `json:"device_id"`
	Location   string         `json:"location,omitempty"`
	SensorType string         `json:"sensor_type,omitempty"`
	Anomaly    ingest.Anomaly `json:"anomaly"`
	FlowRate   float64        `json:"flow_rate"`
	DailyTotal float64        `json:"daily_total"`
	Timestamp  int64          `json:"timestamp"`
	RaisedAt   time.Time      `json:"raised_at"`
}

const (
	AnomalyTypeRaised  = "ANOMALY_RAISED"
	AnomalyTypeCleared = "ANOMALY_CLEARED"
)

// EncodeReadingEvent encodes a ReadingEvent to JSON
func EncodeReadingEvent(event *ReadingEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeReadingEvent decodes JSON to ReadingEvent
func DecodeReadingEvent(data []byte) (*ReadingEvent, error) {
	var event ReadingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// EncodeAnomalyNotification encodes an AnomalyNotification to JSON
func EncodeAnomalyNotification(n *AnomalyNotification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeAnomalyNotification decodes JSON to AnomalyNotification
func DecodeAnomalyNotification(data []byte) (*AnomalyNotification, error) {
	var n AnomalyNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
