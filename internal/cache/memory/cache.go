// Package memory provides in-process implementations of the snapshot store
// and the lease manager for simulated mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// SnapshotStore is an in-memory domain.SnapshotStore.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]map[string]domain.MarketSnapshot // symbol -> exchange -> snapshot
}

// NewSnapshotStore creates an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]map[string]domain.MarketSnapshot)}
}

// Put stores or replaces a snapshot.
func (s *SnapshotStore) Put(snap domain.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byExchange, ok := s.snaps[snap.Symbol]
	if !ok {
		byExchange = make(map[string]domain.MarketSnapshot)
		s.snaps[snap.Symbol] = byExchange
	}
	byExchange[snap.Exchange] = snap
}

// Delete removes a snapshot, simulating data loss for that venue.
func (s *SnapshotStore) Delete(exchange, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byExchange, ok := s.snaps[symbol]; ok {
		delete(byExchange, exchange)
	}
}

// Get implements domain.SnapshotStore.
func (s *SnapshotStore) Get(ctx context.Context, exchange, symbol string) (domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[symbol][exchange]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrDataUnavailable
	}
	return snap, nil
}

// Symbols implements domain.SnapshotStore.
func (s *SnapshotStore) Symbols(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.snaps))
	for symbol, byExchange := range s.snaps {
		if len(byExchange) > 0 {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Exchanges implements domain.SnapshotStore.
func (s *SnapshotStore) Exchanges(ctx context.Context, symbol string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byExchange := s.snaps[symbol]
	out := make([]string, 0, len(byExchange))
	for exchange := range byExchange {
		out = append(out, exchange)
	}
	sort.Strings(out)
	return out, nil
}

// LeaseManager is an in-memory domain.LeaseManager with the same
// exclusivity semantics as the Redis implementation.
type LeaseManager struct {
	mu   sync.Mutex
	held map[string]*memLease
}

// NewLeaseManager creates an empty LeaseManager.
func NewLeaseManager() *LeaseManager {
	return &LeaseManager{held: make(map[string]*memLease)}
}

// Acquire implements domain.LeaseManager.
func (lm *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	if cur, ok := lm.held[key]; ok && cur.expiresAt.After(now) {
		return nil, domain.ErrLockHeld
	}
	l := &memLease{lm: lm, key: key, expiresAt: now.Add(ttl)}
	lm.held[key] = l
	return l, nil
}

type memLease struct {
	lm        *LeaseManager
	key       string
	expiresAt time.Time
	released  bool
}

func (l *memLease) Renew(ctx context.Context, ttl time.Duration) error {
	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()
	if l.released || l.lm.held[l.key] != l {
		return domain.ErrLockHeld
	}
	l.expiresAt = time.Now().Add(ttl)
	return nil
}

func (l *memLease) Release() {
	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	if l.lm.held[l.key] == l {
		delete(l.lm.held, l.key)
	}
}

var (
	_ domain.SnapshotStore = (*SnapshotStore)(nil)
	_ domain.LeaseManager  = (*LeaseManager)(nil)
)
