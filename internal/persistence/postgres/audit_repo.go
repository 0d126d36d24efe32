package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/niftyrun/internal/instruments"
	"github.com/sawpanic/niftyrun/internal/persistence"
)

// ErrDuplicateCycle is returned when a cycle id has already been recorded
var ErrDuplicateCycle = errors.New("duplicate audit cycle")

// auditRepo implements AuditRepo for PostgreSQL
type auditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAuditRepo creates a new PostgreSQL audit repository
func NewAuditRepo(db *sqlx.DB, timeout time.Duration) persistence.AuditRepo {
	return &auditRepo{
		db:      db,
		timeout: timeout,
	}
}

const auditColumns = `id, cycle_id, ts, index_symbol, ltp, outcome, backtest, payload, record, created_at`

// Insert stores one cycle outcome
func (r *auditRepo) Insert(ctx context.Context, rec persistence.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !instruments.IsKnown(rec.Index) {
		return fmt.Errorf("invalid index: %s", rec.Index)
	}
	if rec.CycleID == "" {
		return fmt.Errorf("audit record requires a cycle id")
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	recordJSON, err := json.Marshal(rec.Record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	query := `
		INSERT INTO audit_snapshots (cycle_id, ts, index_symbol, ltp, outcome, backtest, payload, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		rec.CycleID, rec.Timestamp, rec.Index, rec.LTP,
		rec.Outcome, rec.Backtest, payloadJSON, recordJSON).
		Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w %s: %v", ErrDuplicateCycle, rec.CycleID, err)
		}
		return fmt.Errorf("failed to insert audit snapshot: %w", err)
	}

	return nil
}

// GetByCycleID returns the record for a cycle or nil
func (r *auditRepo) GetByCycleID(ctx context.Context, cycleID string) (*persistence.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx,
		`SELECT `+auditColumns+` FROM audit_snapshots WHERE cycle_id = $1`, cycleID)

	rec, err := scanAudit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get audit snapshot: %w", err)
	}
	return rec, nil
}

// ListByIndex retrieves records for an index within time range, newest first
func (r *auditRepo) ListByIndex(ctx context.Context, index string, tr persistence.TimeRange, limit int) ([]persistence.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + auditColumns + `
		FROM audit_snapshots
		WHERE index_symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, index, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit snapshots by index: %w", err)
	}
	defer rows.Close()

	return scanAudits(rows)
}

// GetLatest returns the most recent records
func (r *auditRepo) GetLatest(ctx context.Context, limit int) ([]persistence.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+auditColumns+` FROM audit_snapshots ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest audit snapshots: %w", err)
	}
	defer rows.Close()

	return scanAudits(rows)
}

// CountByOutcome returns cycle counts grouped by outcome
func (r *auditRepo) CountByOutcome(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT outcome, COUNT(*)
		FROM audit_snapshots
		WHERE ts >= $1 AND ts <= $2
		GROUP BY outcome`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAudits(rows *sqlx.Rows) ([]persistence.AuditRecord, error) {
	var records []persistence.AuditRecord

	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

func scanAudit(row rowScanner) (*persistence.AuditRecord, error) {
	var rec persistence.AuditRecord
	var payloadJSON, recordJSON []byte

	err := row.Scan(
		&rec.ID, &rec.CycleID, &rec.Timestamp, &rec.Index, &rec.LTP,
		&rec.Outcome, &rec.Backtest, &payloadJSON, &recordJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	rec.Payload = make(map[string]interface{})
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	if len(recordJSON) > 0 && string(recordJSON) != "null" {
		if err := json.Unmarshal(recordJSON, &rec.Record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
	}

	return &rec, nil
}
