package ingest

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// maxTimestamp is 9999-12-31T23:59:59Z.
const maxTimestamp = 253402300799

// Service turns submissions into stored readings.
type Service struct {
	store      ReadingStore
	metadata   MetadataSource
	events     EventSink
	aggregator *DailyAggregator
	metrics    *Collector
	retry      RetryPolicy
	loc        *time.Location
	clock      clock.Clock
	intervalMs float64
	log        *logrus.Entry
}

// Option configures a Service.
type Option func(*Service)

// WithMetadataSource sets where device metadata is looked up.
func WithMetadataSource(m MetadataSource) Option {
	return func(s *Service) {
		s.metadata = m
	}
}

// WithEventSink sets the sink notified after each stored reading.
func WithEventSink(e EventSink) Option {
	return func(s *Service) {
		s.events = e
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c *Collector) Option {
	return func(s *Service) {
		s.metrics = c
	}
}

// WithRetryPolicy sets the retry policy for store calls.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) {
		s.retry = p
	}
}

// WithLocation sets the calendar used for local day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock sets the clock used for createdAt.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		s.clock = clk
	}
}

// WithDefaultInterval sets the interval assumed when a submission has none.
func WithDefaultInterval(ms float64) Option {
	return func(s *Service) {
		if ms > 0 {
			s.intervalMs = ms
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) {
		s.log = log
	}
}

// NewService creates an ingest service writing to store.
func NewService(store ReadingStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		metadata:   noMetadata{},
		metrics:    NewCollector(),
		retry:      DefaultRetryPolicy(),
		loc:        time.Local,
		clock:      clock.WallClock,
		intervalMs: DefaultIntervalMs,
		log:        logrus.WithField("component", "ingest"),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.aggregator = NewDailyAggregator(store, s.loc, s.retry, s.log)
	return s
}

// Collector returns the service's metrics collector.
func (s *Service) Collector() *Collector {
	return s.metrics
}

// Ingest validates sub, derives its increment, daily total and anomalies,
// and stores the resulting reading.
//
// Only validation failures (*ValidationError) and store write failures
// (*PersistenceWriteError) are returned. Metadata and daily-total read
// failures are logged and ingestion continues with empty metadata and a
// zero prior total.
//
// The daily-total read and the write are not atomic: concurrent readings
// for the same device can each miss the other's increment.
func (s *Service) Ingest(ctx context.Context, sub Submission) (*Reading, error) {
	timer := prometheus.NewTimer(s.metrics.ingestDuration)
	defer timer.ObserveDuration()

	in, verr := s.validate(sub)
	if verr != nil {
		s.metrics.validationFailures.WithLabelValues(verr.Field).Inc()
		return nil, verr
	}

	log := s.log.WithFields(logrus.Fields{
		"device_id": in.deviceID,
		"timestamp": in.timestamp,
	})

	metadata := s.fetchMetadata(ctx, in.deviceID, log)

	increment := ComputeIncrement(in.flowRate, in.intervalMs)

	prior, err := s.aggregator.PriorTotal(ctx, in.deviceID, in.timestamp)
	if err != nil {
		s.metrics.degradedReads.WithLabelValues("aggregation").Inc()
		log.WithError(err).Warn("Daily total unavailable, treating day as empty")
	}
	dailyTotal := prior + increment

	anomalies := DetectAnomalies(in.flowRate, dailyTotal)

	reading := &Reading{
		DeviceID:        in.deviceID,
		Timestamp:       in.timestamp,
		TimestampISO:    time.Unix(in.timestamp, 0).UTC().Format("2006-01-02T15:04:05.000Z"),
		FlowRate:        in.flowRate,
		PulseCount:      in.pulseCount,
		IntervalMs:      in.intervalMs,
		LitersIncrement: roundTo(increment, incrementPlaces),
		DailyTotal:      roundTo(dailyTotal, dailyTotalPlaces),
		SensorType:      optionalString(metadata.SensorType),
		Location:        optionalString(metadata.Location),
		Anomalies:       anomalies,
		CreatedAt:       s.clock.Now().UnixMilli(),
	}

	err = s.retry.do(ctx, log, "reading write", func() error {
		return s.store.PutReading(ctx, reading)
	})
	if err != nil {
		s.metrics.persistenceFailures.Inc()
		return nil, &PersistenceWriteError{
			DeviceID:  reading.DeviceID,
			Timestamp: reading.Timestamp,
			Err:       err,
		}
	}

	s.metrics.recordIngested(reading)
	log.WithFields(logrus.Fields{
		"liters":      reading.LitersIncrement,
		"daily_total": reading.DailyTotal,
		"anomalies":   reading.Anomalies,
	}).Debug("Reading stored")

	if s.events != nil {
		if err := s.events.ReadingIngested(ctx, reading); err != nil {
			s.metrics.publishFailures.Inc()
			log.WithError(err).Warn("Failed to publish reading event")
		}
	}

	return reading, nil
}

func (s *Service) fetchMetadata(ctx context.Context, deviceID string, log *logrus.Entry) DeviceMetadata {
	metadata, err := s.metadata.DeviceMetadata(ctx, deviceID)
	if err != nil {
		s.metrics.degradedReads.WithLabelValues("metadata").Inc()
		log.WithError(&MetadataFetchError{DeviceID: deviceID, Err: err}).
			Warn("Device metadata unavailable, continuing without it")
		return DeviceMetadata{}
	}
	return metadata
}

type validSubmission struct {
	deviceID   string
	timestamp  int64
	flowRate   float64
	intervalMs float64
	pulseCount *int64
}

func (s *Service) validate(sub Submission) (validSubmission, *ValidationError) {
	var v validSubmission

	if strings.TrimSpace(sub.DeviceID) == "" {
		return v, &ValidationError{Field: "deviceId", Reason: "is required"}
	}
	v.deviceID = sub.DeviceID

	switch ts := sub.Timestamp; {
	case ts == nil:
		return v, &ValidationError{Field: "timestamp", Reason: "is required"}
	case !isFinite(*ts):
		return v, &ValidationError{Field: "timestamp", Reason: "must be a finite number"}
	case *ts != math.Trunc(*ts):
		return v, &ValidationError{Field: "timestamp", Reason: "must be whole seconds"}
	case *ts < 0 || *ts > maxTimestamp:
		return v, &ValidationError{Field: "timestamp", Reason: "is out of range"}
	default:
		v.timestamp = int64(*ts)
	}

	switch fr := sub.FlowRate; {
	case fr == nil:
		return v, &ValidationError{Field: "flowRate", Reason: "is required"}
	case !isFinite(*fr):
		return v, &ValidationError{Field: "flowRate", Reason: "must be a finite number"}
	case *fr < 0:
		return v, &ValidationError{Field: "flowRate", Reason: "must not be negative"}
	default:
		v.flowRate = *fr
	}

	v.intervalMs = s.intervalMs
	if iv := sub.IntervalMs; iv != nil {
		if !isFinite(*iv) || *iv <= 0 {
			return v, &ValidationError{Field: "intervalMs", Reason: "must be a positive number"}
		}
		v.intervalMs = *iv
	}

	// A zero pulse count is stored as absent.
	if pc := sub.PulseCount; pc != nil && *pc != 0 {
		v.pulseCount = pc
	}
	return v, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
