package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/smukkama/water-ingest/internal/ingest"
)

// IngestRequest is the JSON body a device posts for one reading.
type IngestRequest struct {
	DeviceID   string   `json:"deviceId"`
	Timestamp  *float64 `json:"timestamp"`
	FlowRate   *float64 `json:"flowRate"`
	PulseCount *int64   `json:"pulseCount,omitempty"`
	IntervalMs *float64 `json:"intervalMs,omitempty"`
	// Interval is the older name for IntervalMs; IntervalMs wins when both
	// are sent.
	Interval *float64 `json:"interval,omitempty"`
}

// Submission converts the request into the ingest input.
func (r *IngestRequest) Submission() ingest.Submission {
	interval := r.IntervalMs
	if interval == nil {
		interval = r.Interval
	}
	return ingest.Submission{
		DeviceID:   r.DeviceID,
		Timestamp:  r.Timestamp,
		FlowRate:   r.FlowRate,
		PulseCount: r.PulseCount,
		IntervalMs: interval,
	}
}

// DecodeIngestRequest decodes one JSON request body. Numbers that are not
// JSON numbers (strings, booleans) are reported as decode errors.
func DecodeIngestRequest(body io.Reader) (*IngestRequest, error) {
	var req IngestRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid JSON: trailing data after request body")
	}
	return &req, nil
}

// ReadingData is the success payload returned to the device.
type ReadingData struct {
	DeviceID        string           `json:"deviceId"`
	Timestamp       int64            `json:"timestamp"`
	FlowRate        float64          `json:"flowRate"`
	LitersIncrement float64          `json:"litersIncrement"`
	DailyTotal      float64          `json:"dailyTotal"`
	Anomalies       []ingest.Anomaly `json:"anomalies"`
	Path            string           `json:"path"`
}

// IngestResponse wraps ReadingData.
type IngestResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    ReadingData `json:"data"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewIngestResponse builds the success response for a stored reading.
func NewIngestResponse(r *ingest.Reading) *IngestResponse {
	return &IngestResponse{
		Success: true,
		Message: "Water data ingested successfully",
		Data: ReadingData{
			DeviceID:        r.DeviceID,
			Timestamp:       r.Timestamp,
			FlowRate:        r.FlowRate,
			LitersIncrement: r.LitersIncrement,
			DailyTotal:      r.DailyTotal,
			Anomalies:       r.Anomalies,
			Path:            ReadingPath(r.DeviceID, r.Timestamp),
		},
	}
}

// ReadingPath names the stored location of a reading.
func ReadingPath(deviceID string, timestamp int64) string {
	return fmt.Sprintf("water_readings/%s/%d", deviceID, timestamp)
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
