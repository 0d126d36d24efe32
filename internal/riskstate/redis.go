package riskstate

import (
	"context"
	"fmt"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// DefaultRedisKey is where the latest RiskState snapshot is mirrored
const DefaultRedisKey = "niftyrun:risk_state"

// RedisMirror keeps the latest published RiskState in redis so a restarted
// process resumes with the same open positions and halts.
type RedisMirror struct {
	client *redis.Client
	key    string
}

// NewRedisMirror connects to addr and verifies the connection
func NewRedisMirror(addr, password string, db int, key string) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisMirrorWithClient(rdb, key), nil
}

// NewRedisMirrorWithClient wraps an existing client
func NewRedisMirrorWithClient(client *redis.Client, key string) *RedisMirror {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisMirror{client: client, key: key}
}

// Save stores state under the mirror key without expiry
func (m *RedisMirror) Save(ctx context.Context, state domain.RiskState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal risk state: %w", err)
	}
	if err := m.client.Set(ctx, m.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load returns the mirrored state; ok is false when nothing was mirrored yet
func (m *RedisMirror) Load(ctx context.Context) (domain.RiskState, bool, error) {
	data, err := m.client.Get(ctx, m.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.RiskState{}, false, nil
		}
		return domain.RiskState{}, false, fmt.Errorf("redis get: %w", err)
	}

	var state domain.RiskState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.RiskState{}, false, fmt.Errorf("failed to decode mirrored risk state: %w", err)
	}
	return state, true, nil
}

// Close releases the redis connection pool
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
