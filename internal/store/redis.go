package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/smukkama/water-ingest/internal/ingest"
)

// ReadingStore keeps readings in Redis. Each device has a sorted set
// index scored by timestamp and one JSON string key per reading.
type ReadingStore struct {
	redis *redis.Client
}

// NewReadingStore creates a Redis-backed reading store
func NewReadingStore(redisClient *redis.Client) *ReadingStore {
	return &ReadingStore{redis: redisClient}
}

func indexKey(deviceID string) string {
	return fmt.Sprintf("water_readings:%s", deviceID)
}

func readingKey(deviceID string, timestamp int64) string {
	return fmt.Sprintf("water_readings:%s:%d", deviceID, timestamp)
}

func metadataKey(deviceID string) string {
	return fmt.Sprintf("devices:%s:metadata", deviceID)
}

// ReadingsBetween returns the device's readings with from <= timestamp < to
func (s *ReadingStore) ReadingsBetween(ctx context.Context, deviceID string, from, to int64) ([]ingest.Reading, error) {
	members, err := s.redis.ZRangeByScore(ctx, indexKey(deviceID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from, 10),
		Max: "(" + strconv.FormatInt(to, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range reading index: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		ts, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, readingKey(deviceID, ts))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}

	return decodeReadings(values), nil
}

// decodeReadings skips keys that vanished between the index scan and the
// MGET, and records that fail to decode.
func decodeReadings(values []interface{}) []ingest.Reading {
	readings := make([]ingest.Reading, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}

		var r ingest.Reading
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			continue
		}
		readings = append(readings, r)
	}
	return readings
}

// PutReading writes the record and its index entry in one MULTI/EXEC
func (s *ReadingStore) PutReading(ctx context.Context, r *ingest.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, readingKey(r.DeviceID, r.Timestamp), data, 0)
		pipe.ZAdd(ctx, indexKey(r.DeviceID), redis.Z{
			Score:  float64(r.Timestamp),
			Member: strconv.FormatInt(r.Timestamp, 10),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write reading: %w", err)
	}

	return nil
}

// MetadataStore reads device metadata hashes
type MetadataStore struct {
	redis *redis.Client
}

// NewMetadataStore creates a Redis-backed metadata source
func NewMetadataStore(redisClient *redis.Client) *MetadataStore {
	return &MetadataStore{redis: redisClient}
}

// DeviceMetadata returns the device's metadata; unknown devices yield an
// empty value
func (m *MetadataStore) DeviceMetadata(ctx context.Context, deviceID string) (ingest.DeviceMetadata, error) {
	fields, err := m.redis.HGetAll(ctx, metadataKey(deviceID)).Result()
	if err != nil {
		return ingest.DeviceMetadata{}, fmt.Errorf("failed to get device metadata: %w", err)
	}

	return ingest.DeviceMetadata{
		SensorType: fields["sensorType"],
		Location:   fields["location"],
	}, nil
}
