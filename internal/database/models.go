package database

import (
	"time"
)

// Device represents a metering device seen in the reading stream
type Device struct {
	DeviceID   string
	SensorType *string
	Location   *string
	LastSeenAt time.Time
}

// ReadingRow represents one archived reading
type ReadingRow struct {
	ID              int64
	DeviceID        string
	ReadingTS       int64 // seconds since epoch, the reading's key
	ReadingTime     time.Time
	FlowRate        float64
	PulseCount      *int64
	IntervalMs      float64
	LitersIncrement float64
	DailyTotal      float64
	Anomalies       []string
	SensorType      *string
	Location        *string
	CreatedAt       time.Time // server time the reading was stored
	IngestedAt      time.Time // time the event was published
}
