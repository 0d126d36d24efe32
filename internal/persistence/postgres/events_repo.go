package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/niftyrun/internal/persistence"
)

// eventsRepo implements EventRepo for PostgreSQL
type eventsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEventsRepo creates a new PostgreSQL broker/agent event repository
func NewEventsRepo(db *sqlx.DB, timeout time.Duration) persistence.EventRepo {
	return &eventsRepo{db: db, timeout: timeout}
}

// Insert stores one event
func (r *eventsRepo) Insert(ctx context.Context, ev persistence.EventRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if ev.Kind != persistence.KindBroker && ev.Kind != persistence.KindAgent {
		return fmt.Errorf("invalid event kind: %s", ev.Kind)
	}

	query := `
		INSERT INTO events (ts, kind, type, status, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query, ev.Timestamp, ev.Kind, ev.Type, ev.Status, ev.Details).
		Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", ev.Kind, err)
	}
	return nil
}

// ListByKind returns events of one kind within the range, newest first
func (r *eventsRepo) ListByKind(ctx context.Context, kind string, tr persistence.TimeRange, limit int) ([]persistence.EventRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, kind, type, status, details, created_at
		FROM events
		WHERE kind = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	var events []persistence.EventRecord
	if err := r.db.SelectContext(ctx, &events, query, kind, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("failed to query %s events: %w", kind, err)
	}
	return events, nil
}
