package alarming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smukkama/water-ingest/internal/ingest"
)

// AnomalyState is the tracked state of one anomaly tag on one device
type AnomalyState struct {
	Status     string    `json:"status"` // CLEAR, ACTIVE
	RaisedAt   time.Time `json:"raised_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	FlowRate   float64   `json:"flow_rate"`
	DailyTotal float64   `json:"daily_total"`
}

const (
	StateClear  = "CLEAR"
	StateActive = "ACTIVE"
)

// stateTTL expires states of devices that stopped reporting
const stateTTL = 7 * 24 * time.Hour

// StateStore persists anomaly states
type StateStore interface {
	GetState(ctx context.Context, deviceID string, tag ingest.Anomaly) (*AnomalyState, error)
	SetState(ctx context.Context, deviceID string, tag ingest.Anomaly, state *AnomalyState) error
	DeleteState(ctx context.Context, deviceID string, tag ingest.Anomaly) error
}

// StateManager keeps anomaly states in Redis
type StateManager struct {
	redis *redis.Client
}

// NewStateManager creates a new state manager
func NewStateManager(redisClient *redis.Client) *StateManager {
	return &StateManager{redis: redisClient}
}

func stateKey(deviceID string, tag ingest.Anomaly) string {
	return fmt.Sprintf("anomaly_state:%s:%s", deviceID, tag)
}

// GetState returns the state for a device and tag. Missing state is CLEAR.
func (sm *StateManager) GetState(ctx context.Context, deviceID string, tag ingest.Anomaly) (*AnomalyState, error) {
	data, err := sm.redis.Get(ctx, stateKey(deviceID, tag)).Result()
	if err == redis.Nil {
		return &AnomalyState{Status: StateClear}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state AnomalyState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// SetState saves the state for a device and tag
func (sm *StateManager) SetState(ctx context.Context, deviceID string, tag ingest.Anomaly, state *AnomalyState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := sm.redis.Set(ctx, stateKey(deviceID, tag), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}
	return nil
}

// DeleteState returns a device and tag to CLEAR
func (sm *StateManager) DeleteState(ctx context.Context, deviceID string, tag ingest.Anomaly) error {
	return sm.redis.Del(ctx, stateKey(deviceID, tag)).Err()
}

// ActiveStates lists every ACTIVE state keyed by its Redis key
func (sm *StateManager) ActiveStates(ctx context.Context) (map[string]*AnomalyState, error) {
	states := make(map[string]*AnomalyState)

	iter := sm.redis.Scan(ctx, 0, "anomaly_state:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := sm.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var state AnomalyState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			continue
		}
		if state.Status == StateActive {
			states[key] = &state
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan states: %w", err)
	}

	return states, nil
}
