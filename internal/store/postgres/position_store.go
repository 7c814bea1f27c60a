package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Legs are
// stored as a JSONB document alongside the scalar columns.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, kind, symbol, venues, legs, size, direction,
	entry_price, entry_basis, entry_funding_diff,
	unrealized_pnl, realized_pnl, funding_collected, funding_periods, fees_paid,
	next_funding_at, status, close_reason, opened_at, closed_at,
	trailing_activated, best_price, activation_price, close_attempts`

// Open inserts a new position. Reapplying with the same ID is a no-op, so
// a retried open never duplicates the row.
func (s *PositionStore) Open(ctx context.Context, p domain.Position) error {
	legs, err := json.Marshal(p.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal legs for %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (` + positionCols + `, updated_at)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24, NOW()
		)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query, s.args(p, legs)...)
	if err != nil {
		return fmt.Errorf("postgres: open position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	legs, err := json.Marshal(p.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal legs for %s: %w", p.ID, err)
	}

	const query = `
		UPDATE positions SET
			legs = $5, size = $6, direction = $7,
			entry_price = $8, entry_basis = $9, entry_funding_diff = $10,
			unrealized_pnl = $11, realized_pnl = $12,
			funding_collected = $13, funding_periods = $14, fees_paid = $15,
			next_funding_at = $16, status = $17, close_reason = $18,
			opened_at = $19, closed_at = $20,
			trailing_activated = $21, best_price = $22, activation_price = $23,
			close_attempts = $24, updated_at = NOW()
		WHERE id = $1`

	args := s.args(p, legs)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close persists a terminal position. The update is idempotent: closing an
// already-closed position reapplies the same terminal state.
func (s *PositionStore) Close(ctx context.Context, p domain.Position) error {
	return s.Update(ctx, p)
}

// GetByID fetches one position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPositionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every non-terminal position.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE status NOT IN ('closed', 'open_failed')
		 ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()
	return scanPositionRows(rows)
}

// ListClosedSince returns positions closed at or after since.
func (s *PositionStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE status = 'closed' AND closed_at >= $1
		 ORDER BY closed_at`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()
	return scanPositionRows(rows)
}

func (s *PositionStore) args(p domain.Position, legs []byte) []any {
	return []any{
		p.ID, string(p.Kind), p.Symbol, p.Venues, legs, p.Size, string(p.Direction),
		p.EntryPrice, p.EntryBasis, p.EntryFundingDiff,
		p.UnrealizedPnL, p.RealizedPnL, p.FundingCollected, p.FundingPeriods, p.FeesPaid,
		nullTime(p.NextFundingAt), string(p.Status), string(p.CloseReason),
		p.OpenedAt, p.ClosedAt,
		p.TrailingActivated, p.BestPrice, p.ActivationPrice, p.CloseAttempts,
	}
}

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var kind, status string
	var direction, closeReason *string
	var legs []byte
	var nextFunding *time.Time

	err := row.Scan(
		&p.ID, &kind, &p.Symbol, &p.Venues, &legs, &p.Size, &direction,
		&p.EntryPrice, &p.EntryBasis, &p.EntryFundingDiff,
		&p.UnrealizedPnL, &p.RealizedPnL, &p.FundingCollected, &p.FundingPeriods, &p.FeesPaid,
		&nextFunding, &status, &closeReason, &p.OpenedAt, &p.ClosedAt,
		&p.TrailingActivated, &p.BestPrice, &p.ActivationPrice, &p.CloseAttempts,
	)
	if err != nil {
		return domain.Position{}, err
	}

	if err := json.Unmarshal(legs, &p.Legs); err != nil {
		return domain.Position{}, fmt.Errorf("unmarshal legs for %s: %w", p.ID, err)
	}
	p.Kind = domain.StrategyKind(kind)
	p.Status = domain.PositionStatus(status)
	if direction != nil {
		p.Direction = domain.Side(*direction)
	}
	if closeReason != nil {
		p.CloseReason = domain.CloseReason(*closeReason)
	}
	if nextFunding != nil {
		p.NextFundingAt = *nextFunding
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ domain.PositionStore = (*PositionStore)(nil)
