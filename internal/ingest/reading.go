package ingest

// DefaultIntervalMs is used when a submission carries no interval.
const DefaultIntervalMs = 5000

// Submission is one reading as received from a device.
// Pointer fields distinguish absent values from zero.
type Submission struct {
	DeviceID   string
	Timestamp  *float64
	FlowRate   *float64
	PulseCount *int64
	IntervalMs *float64
}

// DeviceMetadata annotates readings. Both fields are optional.
type DeviceMetadata struct {
	SensorType string `json:"sensorType,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Reading is the persisted record for one ingested sample.
type Reading struct {
	DeviceID        string    `json:"deviceId"`
	Timestamp       int64     `json:"timestamp"`
	TimestampISO    string    `json:"timestampISO"`
	FlowRate        float64   `json:"flowRate"`
	PulseCount      *int64    `json:"pulseCount"`
	IntervalMs      float64   `json:"interval"`
	LitersIncrement float64   `json:"litersIncrement"`
	DailyTotal      float64   `json:"dailyTotal"`
	SensorType      *string   `json:"sensorType"`
	Location        *string   `json:"location"`
	Anomalies       []Anomaly `json:"anomalies"`
	// CreatedAt is server time in epoch milliseconds.
	CreatedAt int64 `json:"createdAt"`
}

// HasAnomaly reports whether tag was raised for the reading.
func (r *Reading) HasAnomaly(tag Anomaly) bool {
	for _, a := range r.Anomalies {
		if a == tag {
			return true
		}
	}
	return false
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
