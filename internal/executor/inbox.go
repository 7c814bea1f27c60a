package executor

import (
	"sync"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// Inbox is the bounded handoff queue between the scanner and the execution
// loop. When full, the oldest not-yet-acted-upon opportunity is dropped to
// make room: fresh opportunities are worth more than stale ones, and the
// queue must never grow without bound.
type Inbox struct {
	mu       sync.Mutex
	items    []domain.Opportunity
	capacity int
	dropped  uint64
	wake     chan struct{}
}

// NewInbox creates an Inbox holding at most capacity opportunities.
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Inbox{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Submit enqueues an opportunity, evicting the oldest entry when full.
// The evicted entry, if any, is handed back so the caller can retire its
// record instead of leaving it pending forever.
func (b *Inbox) Submit(opp domain.Opportunity) (domain.Opportunity, bool) {
	b.mu.Lock()
	var evicted domain.Opportunity
	var full bool
	if len(b.items) >= b.capacity {
		evicted, full = b.items[0], true
		b.items = b.items[1:]
		b.dropped++
	}
	b.items = append(b.items, opp)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return evicted, full
}

// Pop dequeues the oldest opportunity, if any.
func (b *Inbox) Pop() (domain.Opportunity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return domain.Opportunity{}, false
	}
	opp := b.items[0]
	b.items = b.items[1:]
	return opp, true
}

// Wait returns a channel that receives a signal when new work may be
// available.
func (b *Inbox) Wait() <-chan struct{} {
	return b.wake
}

// Len returns the number of queued opportunities.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns how many opportunities were evicted under backlog.
func (b *Inbox) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
