package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
)

type memoryStore struct {
	mu       sync.Mutex
	readings map[string]map[int64]Reading
	readErr  error
	writeErr error
	reads    int
	writes   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{readings: make(map[string]map[int64]Reading)}
}

func (m *memoryStore) ReadingsBetween(ctx context.Context, deviceID string, from, to int64) ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}

	var result []Reading
	for ts, r := range m.readings[deviceID] {
		if ts >= from && ts < to {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp < result[j].Timestamp })
	return result, nil
}

func (m *memoryStore) PutReading(ctx context.Context, r *Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}

	if m.readings[r.DeviceID] == nil {
		m.readings[r.DeviceID] = make(map[int64]Reading)
	}
	m.readings[r.DeviceID][r.Timestamp] = *r
	return nil
}

func (m *memoryStore) seed(deviceID string, ts int64, liters float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readings[deviceID] == nil {
		m.readings[deviceID] = make(map[int64]Reading)
	}
	m.readings[deviceID][ts] = Reading{DeviceID: deviceID, Timestamp: ts, LitersIncrement: liters}
}

type staticMetadata struct {
	metadata map[string]DeviceMetadata
	err      error
}

func (s *staticMetadata) DeviceMetadata(ctx context.Context, deviceID string) (DeviceMetadata, error) {
	if s.err != nil {
		return DeviceMetadata{}, s.err
	}
	return s.metadata[deviceID], nil
}

type recordingSink struct {
	mu       sync.Mutex
	readings []*Reading
	err      error
}

func (r *recordingSink) ReadingIngested(ctx context.Context, reading *Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
	return r.err
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		Attempts: attempts,
		Delay:    time.Millisecond,
		MaxDelay: 2 * time.Millisecond,
		Clock:    clock.WallClock,
	}
}

func float(v float64) *float64 { return &v }
