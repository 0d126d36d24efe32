package persistence

import (
	"context"
	"time"
)

// TimeRange represents a time window for audit queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// AuditRecord is one persisted cycle outcome. Payload holds the full audit
// snapshot and Record the trade decision or no-trade body.
type AuditRecord struct {
	ID        int64                  `json:"id" db:"id"`
	CycleID   string                 `json:"cycle_id" db:"cycle_id"`
	Timestamp time.Time              `json:"ts" db:"ts"`
	Index     string                 `json:"index" db:"index_symbol"`
	LTP       float64                `json:"ltp" db:"ltp"`
	Outcome   string                 `json:"outcome" db:"outcome"`
	Backtest  bool                   `json:"backtest" db:"backtest"`
	Payload   map[string]interface{} `json:"payload" db:"payload"`
	Record    map[string]interface{} `json:"record,omitempty" db:"record"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// EventRecord is a persisted broker or agent event
type EventRecord struct {
	ID        int64     `json:"id" db:"id"`
	Timestamp time.Time `json:"ts" db:"ts"`
	Kind      string    `json:"kind" db:"kind"`
	Type      string    `json:"type" db:"type"`
	Status    *string   `json:"status,omitempty" db:"status"`
	Details   string    `json:"details" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Event kinds
const (
	KindBroker = "broker"
	KindAgent  = "agent"
)

// AuditRepo persists one row per decision cycle
type AuditRepo interface {
	// Insert stores a record; a second insert for the same cycle id is a duplicate error
	Insert(ctx context.Context, rec AuditRecord) error

	// GetByCycleID returns the record of one cycle or nil when absent
	GetByCycleID(ctx context.Context, cycleID string) (*AuditRecord, error)

	// ListByIndex returns records for an index within the range, newest first
	ListByIndex(ctx context.Context, index string, tr TimeRange, limit int) ([]AuditRecord, error)

	// GetLatest returns the most recent records across indices
	GetLatest(ctx context.Context, limit int) ([]AuditRecord, error)

	// CountByOutcome groups cycles in the range by outcome
	CountByOutcome(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// EventRepo persists broker and agent events
type EventRepo interface {
	Insert(ctx context.Context, ev EventRecord) error
	ListByKind(ctx context.Context, kind string, tr TimeRange, limit int) ([]EventRecord, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Audit  AuditRepo
	Events EventRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error

	// Stats returns connection pool and query statistics
	Stats(ctx context.Context) map[string]interface{}
}
