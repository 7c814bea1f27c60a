package domain

import (
	"context"
	"time"
)

// OpportunityStore persists scored opportunities. Record is an idempotent
// upsert keyed on the opportunity's stable ID.
type OpportunityStore interface {
	Record(ctx context.Context, opp Opportunity) error
	UpdateStatus(ctx context.Context, id string, status OpportunityStatus) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// PositionStore persists positions. Open and Close are idempotent under
// retry with the same logical key.
type PositionStore interface {
	Open(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	Close(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListClosedSince(ctx context.Context, since time.Time) ([]Position, error)
}

// RiskEventStore persists the append-only risk event log.
type RiskEventStore interface {
	Append(ctx context.Context, ev RiskEvent) error
	ListSince(ctx context.Context, since time.Time) ([]RiskEvent, error)
	ListUnhandled(ctx context.Context, limit int) ([]RiskEvent, error)
	MarkHandled(ctx context.Context, id string) error
}

// Lease is an exclusive claim on a position key. It must be renewed while
// the position is alive and released exactly once on a terminal state.
type Lease interface {
	Renew(ctx context.Context, ttl time.Duration) error
	Release()
}

// LeaseManager grants exclusive leases. Acquire returns ErrLockHeld when
// another holder owns the key.
type LeaseManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
