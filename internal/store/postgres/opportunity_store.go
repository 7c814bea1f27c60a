package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Record upserts an opportunity on its stable ID. Repeated detection of
// the same setup refreshes the row instead of duplicating it.
func (s *OpportunityStore) Record(ctx context.Context, opp domain.Opportunity) error {
	detail, err := json.Marshal(opp.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal detail for %s: %w", opp.ID, err)
	}

	const query = `
		INSERT INTO opportunities (
			id, kind, risk_level, symbol, venues, size,
			expected_return, expected_return_pct, score, detail,
			status, detected_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			risk_level = EXCLUDED.risk_level,
			size = EXCLUDED.size,
			expected_return = EXCLUDED.expected_return,
			expected_return_pct = EXCLUDED.expected_return_pct,
			score = EXCLUDED.score,
			detail = EXCLUDED.detail,
			status = EXCLUDED.status,
			detected_at = EXCLUDED.detected_at,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, string(opp.Kind), string(opp.RiskLevel), opp.Symbol, opp.Venues, opp.Size,
		opp.ExpectedReturn, opp.ExpectedReturnPct, opp.Score, detail,
		string(opp.Status), opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// UpdateStatus moves an opportunity to a new status.
func (s *OpportunityStore) UpdateStatus(ctx context.Context, id string, status domain.OpportunityStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: update opportunity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	const query = `
		SELECT id, kind, risk_level, symbol, venues, size,
			expected_return, expected_return_pct, score, detail,
			status, detected_at
		FROM opportunities
		ORDER BY detected_at DESC, score DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	return scanOpportunityRows(rows)
}

func scanOpportunityRows(rows pgx.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		var kind, riskLevel, status string
		var detail []byte

		if err := rows.Scan(
			&o.ID, &kind, &riskLevel, &o.Symbol, &o.Venues, &o.Size,
			&o.ExpectedReturn, &o.ExpectedReturnPct, &o.Score, &detail,
			&status, &o.DetectedAt,
		); err != nil {
			return nil, err
		}
		o.Kind = domain.StrategyKind(kind)
		o.RiskLevel = domain.RiskLevel(riskLevel)
		o.Status = domain.OpportunityStatus(status)

		d, err := domain.DecodeDetail(o.Kind, detail)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode detail for %s: %w", o.ID, err)
		}
		o.Detail = d
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
