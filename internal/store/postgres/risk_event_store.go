package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// RiskEventStore implements domain.RiskEventStore using PostgreSQL.
type RiskEventStore struct {
	pool *pgxpool.Pool
}

// NewRiskEventStore creates a RiskEventStore backed by the given pool.
func NewRiskEventStore(pool *pgxpool.Pool) *RiskEventStore {
	return &RiskEventStore{pool: pool}
}

// Append inserts a risk event. The log is append-only: replaying the same
// event ID is a no-op.
func (s *RiskEventStore) Append(ctx context.Context, ev domain.RiskEvent) error {
	const query = `
		INSERT INTO risk_events (id, level, type, description, position_id, handled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, string(ev.Level), ev.Type, ev.Description, ev.PositionID, ev.Handled, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append risk event %s: %w", ev.ID, err)
	}
	return nil
}

// ListSince returns events created at or after since, oldest first.
func (s *RiskEventStore) ListSince(ctx context.Context, since time.Time) ([]domain.RiskEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, level, type, description, position_id, handled, created_at
		 FROM risk_events WHERE created_at >= $1 ORDER BY created_at`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk events: %w", err)
	}
	defer rows.Close()
	return scanRiskEventRows(rows)
}

// ListUnhandled returns the oldest unhandled events.
func (s *RiskEventStore) ListUnhandled(ctx context.Context, limit int) ([]domain.RiskEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, level, type, description, position_id, handled, created_at
		 FROM risk_events WHERE NOT handled ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unhandled risk events: %w", err)
	}
	defer rows.Close()
	return scanRiskEventRows(rows)
}

// MarkHandled flags one event as handled.
func (s *RiskEventStore) MarkHandled(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE risk_events SET handled = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark risk event %s handled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanRiskEventRows(rows pgx.Rows) ([]domain.RiskEvent, error) {
	var events []domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		var level string
		if err := rows.Scan(&ev.ID, &level, &ev.Type, &ev.Description, &ev.PositionID, &ev.Handled, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Level = domain.RiskEventLevel(level)
		events = append(events, ev)
	}
	return events, rows.Err()
}

var _ domain.RiskEventStore = (*RiskEventStore)(nil)
