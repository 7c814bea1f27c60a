// Package memory provides in-process implementations of the domain store
// interfaces. They back simulated mode and tests, where durability is not
// required.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// OpportunityStore is an in-memory domain.OpportunityStore.
type OpportunityStore struct {
	mu   sync.RWMutex
	opps map[string]domain.Opportunity
}

// NewOpportunityStore creates an empty OpportunityStore.
func NewOpportunityStore() *OpportunityStore {
	return &OpportunityStore{opps: make(map[string]domain.Opportunity)}
}

// Record upserts on the opportunity's stable ID.
func (s *OpportunityStore) Record(ctx context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps[opp.ID] = opp
	return nil
}

// UpdateStatus moves an opportunity to a new status.
func (s *OpportunityStore) UpdateStatus(ctx context.Context, id string, status domain.OpportunityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opps[id]
	if !ok {
		return domain.ErrNotFound
	}
	opp.Status = status
	s.opps[id] = opp
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Opportunity, 0, len(s.opps))
	for _, opp := range s.opps {
		out = append(out, opp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

// Open inserts a position; reapplying the same ID is a no-op.
func (s *PositionStore) Open(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; ok {
		return nil
	}
	s.positions[pos.ID] = pos
	return nil
}

// Update replaces a position.
func (s *PositionStore) Update(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[pos.ID] = pos
	return nil
}

// Close persists a terminal position.
func (s *PositionStore) Close(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

// GetByID fetches one position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// ListOpen returns every non-terminal position, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if !pos.Status.Terminal() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// ListClosedSince returns positions closed at or after since.
func (s *PositionStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Status == domain.PositionClosed && pos.ClosedAt != nil && !pos.ClosedAt.Before(since) {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	return out, nil
}

// RiskEventStore is an in-memory domain.RiskEventStore.
type RiskEventStore struct {
	mu     sync.RWMutex
	events []domain.RiskEvent
}

// NewRiskEventStore creates an empty RiskEventStore.
func NewRiskEventStore() *RiskEventStore {
	return &RiskEventStore{}
}

// Append records a risk event.
func (s *RiskEventStore) Append(ctx context.Context, ev domain.RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events {
		if existing.ID == ev.ID {
			return nil
		}
	}
	s.events = append(s.events, ev)
	return nil
}

// ListSince returns events created at or after since.
func (s *RiskEventStore) ListSince(ctx context.Context, since time.Time) ([]domain.RiskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RiskEvent
	for _, ev := range s.events {
		if !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ListUnhandled returns the oldest unhandled events.
func (s *RiskEventStore) ListUnhandled(ctx context.Context, limit int) ([]domain.RiskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RiskEvent
	for _, ev := range s.events {
		if !ev.Handled {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// MarkHandled flags one event as handled.
func (s *RiskEventStore) MarkHandled(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Handled = true
			return nil
		}
	}
	return domain.ErrNotFound
}

var (
	_ domain.OpportunityStore = (*OpportunityStore)(nil)
	_ domain.PositionStore    = (*PositionStore)(nil)
	_ domain.RiskEventStore   = (*RiskEventStore)(nil)
)
