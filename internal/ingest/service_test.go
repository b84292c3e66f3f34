package ingest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

var testNow = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

func newTestService(store ReadingStore, opts ...Option) *Service {
	base := []Option{
		WithLocation(time.UTC),
		WithClock(testclock.NewClock(testNow)),
		WithRetryPolicy(fastRetry(3)),
		WithLogger(logrus.NewEntry(logrus.New())),
	}
	return NewService(store, append(base, opts...)...)
}

func submission(deviceID string, ts, flowRate, intervalMs float64) Submission {
	return Submission{
		DeviceID:   deviceID,
		Timestamp:  float(ts),
		FlowRate:   float(flowRate),
		IntervalMs: float(intervalMs),
	}
}

func TestService_IngestFirstReadingOfDay(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)

	ts := float64(testNow.Unix())
	reading, err := svc.Ingest(context.Background(), submission("D1", ts, 10, 60000))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if reading.LitersIncrement != 10.0 {
		t.Errorf("Expected increment 10.0, got %v", reading.LitersIncrement)
	}
	if reading.DailyTotal != 10.0 {
		t.Errorf("Expected daily total 10.0, got %v", reading.DailyTotal)
	}
	if reading.Anomalies != nil {
		t.Errorf("Expected no anomalies, got %v", reading.Anomalies)
	}
	if reading.TimestampISO != "2024-06-01T14:00:00.000Z" {
		t.Errorf("Expected ISO timestamp 2024-06-01T14:00:00.000Z, got %s", reading.TimestampISO)
	}
	if reading.CreatedAt != testNow.UnixMilli() {
		t.Errorf("Expected createdAt %d, got %d", testNow.UnixMilli(), reading.CreatedAt)
	}

	stored, ok := store.readings["D1"][int64(ts)]
	if !ok {
		t.Fatal("Reading was not stored")
	}
	if !reflect.DeepEqual(&stored, reading) {
		t.Errorf("Stored reading %+v differs from returned %+v", stored, *reading)
	}
}

func TestService_IngestCrossesDailyThreshold(t *testing.T) {
	store := newMemoryStore()
	store.seed("D2", testNow.Add(-2*time.Hour).Unix(), 495.0)
	svc := newTestService(store)

	reading, err := svc.Ingest(context.Background(), submission("D2", float64(testNow.Unix()), 6, 60000))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if reading.LitersIncrement != 6.0 {
		t.Errorf("Expected increment 6.0, got %v", reading.LitersIncrement)
	}
	if reading.DailyTotal != 501.0 {
		t.Errorf("Expected daily total 501.0, got %v", reading.DailyTotal)
	}
	want := []Anomaly{AnomalyHighDailyConsumption}
	if !reflect.DeepEqual(reading.Anomalies, want) {
		t.Errorf("Expected anomalies %v, got %v", want, reading.Anomalies)
	}
	if got := testutil.ToFloat64(svc.metrics.anomalies.WithLabelValues(string(AnomalyHighDailyConsumption))); got != 1 {
		t.Errorf("Expected 1 high_daily_consumption count, got %v", got)
	}
}

func TestService_IngestPossibleLeak(t *testing.T) {
	svc := newTestService(newMemoryStore())

	reading, err := svc.Ingest(context.Background(), submission("D3", float64(testNow.Unix()), 0.2, 60000))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	want := []Anomaly{AnomalyPossibleLeak}
	if !reflect.DeepEqual(reading.Anomalies, want) {
		t.Errorf("Expected anomalies %v, got %v", want, reading.Anomalies)
	}
}

func TestService_IngestDefaultsInterval(t *testing.T) {
	svc := newTestService(newMemoryStore())

	sub := Submission{
		DeviceID:  "D1",
		Timestamp: float(float64(testNow.Unix())),
		FlowRate:  float(12),
	}
	reading, err := svc.Ingest(context.Background(), sub)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if reading.IntervalMs != DefaultIntervalMs {
		t.Errorf("Expected interval %d, got %v", DefaultIntervalMs, reading.IntervalMs)
	}
	if reading.LitersIncrement != 1.0 {
		t.Errorf("Expected increment 1.0, got %v", reading.LitersIncrement)
	}
	if reading.PulseCount != nil {
		t.Errorf("Expected nil pulse count, got %v", *reading.PulseCount)
	}
}

func TestService_IngestPulseCount(t *testing.T) {
	svc := newTestService(newMemoryStore())
	ctx := context.Background()
	base := float64(testNow.Unix())

	zero := int64(0)
	reading, err := svc.Ingest(ctx, Submission{DeviceID: "D1", Timestamp: float(base), FlowRate: float(1), PulseCount: &zero})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if reading.PulseCount != nil {
		t.Errorf("Expected zero pulse count stored as nil, got %v", *reading.PulseCount)
	}

	pulses := int64(450)
	reading, err = svc.Ingest(ctx, Submission{DeviceID: "D1", Timestamp: float(base + 60), FlowRate: float(1), PulseCount: &pulses})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if reading.PulseCount == nil || *reading.PulseCount != 450 {
		t.Errorf("Expected pulse count 450, got %v", reading.PulseCount)
	}
}

func TestService_IngestAccumulatesWithinDay(t *testing.T) {
	svc := newTestService(newMemoryStore())
	ctx := context.Background()
	base := float64(testNow.Unix())

	var last *Reading
	for i := 0; i < 4; i++ {
		var err error
		last, err = svc.Ingest(ctx, submission("D1", base+float64(i*5), 3, 5000))
		if err != nil {
			t.Fatalf("Ingest %d failed: %v", i, err)
		}
	}

	if last.DailyTotal != 1.0 {
		t.Errorf("Expected daily total 1.0 after 4 readings of 0.25 L, got %v", last.DailyTotal)
	}
}

func TestService_IngestMidnightSplitsTotals(t *testing.T) {
	svc := newTestService(newMemoryStore())
	ctx := context.Background()

	late := time.Date(2024, 6, 1, 23, 59, 59, 0, time.UTC).Unix()
	early := time.Date(2024, 6, 2, 0, 0, 1, 0, time.UTC).Unix()

	if _, err := svc.Ingest(ctx, submission("D1", float64(early), 10, 60000)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	reading, err := svc.Ingest(ctx, submission("D1", float64(late), 5, 60000))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if reading.DailyTotal != 5.0 {
		t.Errorf("Expected previous-day total 5.0, got %v", reading.DailyTotal)
	}
}

func TestService_IngestReplayDoesNotDoubleCount(t *testing.T) {
	svc := newTestService(newMemoryStore())
	ctx := context.Background()
	sub := submission("D1", float64(testNow.Unix()), 10, 60000)

	first, err := svc.Ingest(ctx, sub)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	second, err := svc.Ingest(ctx, sub)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if first.LitersIncrement != second.LitersIncrement {
		t.Errorf("Expected equal increments, got %v and %v", first.LitersIncrement, second.LitersIncrement)
	}
	if second.DailyTotal != first.DailyTotal {
		t.Errorf("Expected replay daily total %v, got %v", first.DailyTotal, second.DailyTotal)
	}
}

func TestService_IngestValidation(t *testing.T) {
	ts := float64(testNow.Unix())
	tests := []struct {
		name  string
		sub   Submission
		field string
	}{
		{"missing device", Submission{Timestamp: float(ts), FlowRate: float(1)}, "deviceId"},
		{"blank device", Submission{DeviceID: "  ", Timestamp: float(ts), FlowRate: float(1)}, "deviceId"},
		{"missing timestamp", Submission{DeviceID: "D1", FlowRate: float(1)}, "timestamp"},
		{"fractional timestamp", Submission{DeviceID: "D1", Timestamp: float(ts + 0.5), FlowRate: float(1)}, "timestamp"},
		{"negative timestamp", Submission{DeviceID: "D1", Timestamp: float(-1), FlowRate: float(1)}, "timestamp"},
		{"missing flow", Submission{DeviceID: "D1", Timestamp: float(ts)}, "flowRate"},
		{"negative flow", Submission{DeviceID: "D1", Timestamp: float(ts), FlowRate: float(-1)}, "flowRate"},
		{"zero interval", submission("D1", ts, 1, 0), "intervalMs"},
		{"negative interval", submission("D1", ts, 1, -5000), "intervalMs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			svc := newTestService(store)

			_, err := svc.Ingest(context.Background(), tt.sub)
			if !IsValidation(err) {
				t.Fatalf("Expected validation error, got %v", err)
			}

			var verr *ValidationError
			errors.As(err, &verr)
			if verr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, verr.Field)
			}
			if store.reads != 0 || store.writes != 0 {
				t.Errorf("Expected no store access, got %d reads and %d writes", store.reads, store.writes)
			}
			if got := testutil.ToFloat64(svc.metrics.validationFailures.WithLabelValues(tt.field)); got != 1 {
				t.Errorf("Expected 1 validation failure for %s, got %v", tt.field, got)
			}
		})
	}
}

func TestService_IngestMetadata(t *testing.T) {
	metadata := &staticMetadata{metadata: map[string]DeviceMetadata{
		"D1": {SensorType: "YF-S201", Location: "kitchen"},
	}}
	svc := newTestService(newMemoryStore(), WithMetadataSource(metadata))

	reading, err := svc.Ingest(context.Background(), submission("D1", float64(testNow.Unix()), 1, 5000))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if reading.SensorType == nil || *reading.SensorType != "YF-S201" {
		t.Errorf("Expected sensor type YF-S201, got %v", reading.SensorType)
	}
	if reading.Location == nil || *reading.Location != "kitchen" {
		t.Errorf("Expected location kitchen, got %v", reading.Location)
	}

	unknown, err := svc.Ingest(context.Background(), submission("D9", float64(testNow.Unix()), 1, 5000))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if unknown.SensorType != nil || unknown.Location != nil {
		t.Errorf("Expected empty metadata for unknown device, got %v / %v", unknown.SensorType, unknown.Location)
	}
}

func TestService_IngestMetadataFailureDegrades(t *testing.T) {
	metadata := &staticMetadata{err: errors.New("timeout")}
	svc := newTestService(newMemoryStore(), WithMetadataSource(metadata))

	reading, err := svc.Ingest(context.Background(), submission("D1", float64(testNow.Unix()), 1, 5000))
	if err != nil {
		t.Fatalf("Expected ingestion to succeed, got %v", err)
	}
	if reading.SensorType != nil {
		t.Errorf("Expected nil sensor type, got %v", *reading.SensorType)
	}
	if got := testutil.ToFloat64(svc.metrics.degradedReads.WithLabelValues("metadata")); got != 1 {
		t.Errorf("Expected 1 degraded metadata read, got %v", got)
	}
}

func TestService_IngestReadFailureDegrades(t *testing.T) {
	store := newMemoryStore()
	store.seed("D1", testNow.Add(-time.Hour).Unix(), 400)
	store.readErr = errors.New("connection reset")
	svc := newTestService(store)

	reading, err := svc.Ingest(context.Background(), submission("D1", float64(testNow.Unix()), 10, 60000))
	if err != nil {
		t.Fatalf("Expected ingestion to succeed, got %v", err)
	}
	if reading.DailyTotal != 10.0 {
		t.Errorf("Expected daily total to restart at 10.0, got %v", reading.DailyTotal)
	}
	if got := testutil.ToFloat64(svc.metrics.degradedReads.WithLabelValues("aggregation")); got != 1 {
		t.Errorf("Expected 1 degraded aggregation read, got %v", got)
	}
	if store.writes != 1 {
		t.Errorf("Expected 1 write, got %d", store.writes)
	}
}

func TestService_IngestWriteFailure(t *testing.T) {
	store := newMemoryStore()
	store.writeErr = errors.New("READONLY replica")
	sink := &recordingSink{}
	svc := newTestService(store, WithEventSink(sink))

	reading, err := svc.Ingest(context.Background(), submission("D1", float64(testNow.Unix()), 10, 60000))
	if reading != nil {
		t.Errorf("Expected no reading, got %+v", reading)
	}

	var perr *PersistenceWriteError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected PersistenceWriteError, got %v", err)
	}
	if IsValidation(err) {
		t.Error("Write failure must not be reported as a validation error")
	}
	if store.writes != 3 {
		t.Errorf("Expected 3 write attempts, got %d", store.writes)
	}
	if len(sink.readings) != 0 {
		t.Errorf("Expected no events, got %d", len(sink.readings))
	}
	if got := testutil.ToFloat64(svc.metrics.persistenceFailures); got != 1 {
		t.Errorf("Expected 1 persistence failure, got %v", got)
	}
}

func TestService_IngestPublishesEvent(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestService(newMemoryStore(), WithEventSink(sink))

	reading, err := svc.Ingest(context.Background(), submission("D1", float64(testNow.Unix()), 10, 60000))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(sink.readings) != 1 || sink.readings[0] != reading {
		t.Errorf("Expected the stored reading to be published, got %v", sink.readings)
	}

	sink.err = errors.New("broker down")
	if _, err := svc.Ingest(context.Background(), submission("D1", float64(testNow.Unix()+5), 10, 5000)); err != nil {
		t.Fatalf("Expected publish failure to be tolerated, got %v", err)
	}
	if got := testutil.ToFloat64(svc.metrics.publishFailures); got != 1 {
		t.Errorf("Expected 1 publish failure, got %v", got)
	}
}
