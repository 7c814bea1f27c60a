// Package executor drains the opportunity inbox, runs each candidate
// through the risk gate, and hands approved ones to the position state
// machine. Deferred opportunities wait here for explicit confirmation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// confirmTTL bounds how long a deferred opportunity stays confirmable.
const confirmTTL = 15 * time.Minute

// Machine is the position-opening surface the executor drives.
type Machine interface {
	Open(ctx context.Context, opp domain.Opportunity, size float64) (*domain.Position, error)
	HasOpen(key string) bool
	Portfolio() domain.PortfolioState
}

// Gate is the admission-control surface.
type Gate interface {
	Evaluate(opp domain.Opportunity, portfolio domain.PortfolioState) domain.Decision
}

// Availability reports whether a venue is currently usable.
type Availability interface {
	Available(exchange string) bool
}

// Notifier delivers operator-facing messages.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Freshness returns the maximum age before a queued opportunity expires.
type Freshness func() time.Duration

type pendingConfirm struct {
	opp       domain.Opportunity
	size      float64
	expiresAt time.Time
}

// Executor is the execution loop.
type Executor struct {
	inbox    *Inbox
	gate     Gate
	machine  Machine
	opps     domain.OpportunityStore
	avail    Availability
	notifier Notifier
	maxAge   Freshness
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]pendingConfirm
}

// New creates an Executor. avail and notifier may be nil.
func New(
	inbox *Inbox,
	gate Gate,
	machine Machine,
	opps domain.OpportunityStore,
	avail Availability,
	notifier Notifier,
	maxAge Freshness,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		inbox:    inbox,
		gate:     gate,
		machine:  machine,
		opps:     opps,
		avail:    avail,
		notifier: notifier,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "executor")),
		now:      time.Now,
		pending:  make(map[string]pendingConfirm),
	}
}

// Run drains the inbox until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.inbox.Wait():
		}
		e.Drain(ctx)
	}
}

// Drain processes every queued opportunity.
func (e *Executor) Drain(ctx context.Context) {
	e.expirePending()
	for {
		if ctx.Err() != nil {
			return
		}
		opp, ok := e.inbox.Pop()
		if !ok {
			return
		}
		e.process(ctx, opp)
	}
}

// process runs one opportunity through freshness, dedup, availability, and
// the risk gate.
func (e *Executor) process(ctx context.Context, opp domain.Opportunity) {
	if age := e.now().Sub(opp.DetectedAt); age > e.maxAge() {
		e.setStatus(ctx, opp.ID, domain.OpportunityExpired)
		return
	}

	if e.machine.HasOpen(opp.Key()) {
		e.setStatus(ctx, opp.ID, domain.OpportunityIgnored)
		return
	}

	if e.avail != nil {
		for _, venue := range opp.Venues {
			if !e.avail.Available(venue) {
				e.logger.Info("skipping opportunity, venue unavailable",
					slog.String("opportunity", opp.ID),
					slog.String("venue", venue),
				)
				return
			}
		}
	}

	decision := e.gate.Evaluate(opp, e.machine.Portfolio())
	switch decision.Action {
	case domain.DecisionReject:
		e.logger.Info("opportunity rejected",
			slog.String("opportunity", opp.ID),
			slog.String("reason", decision.Reason),
		)
		e.setStatus(ctx, opp.ID, domain.OpportunityIgnored)

	case domain.DecisionDeferManual:
		e.park(ctx, opp, decision)

	case domain.DecisionApprove:
		e.open(ctx, opp, decision.Size)
	}
}

// park holds the opportunity until Confirm or expiry.
func (e *Executor) park(ctx context.Context, opp domain.Opportunity, decision domain.Decision) {
	e.mu.Lock()
	_, already := e.pending[opp.ID]
	e.pending[opp.ID] = pendingConfirm{
		opp:       opp,
		size:      decision.Size,
		expiresAt: e.now().Add(confirmTTL),
	}
	e.mu.Unlock()

	if already {
		return
	}
	e.logger.Info("opportunity awaiting confirmation",
		slog.String("opportunity", opp.ID),
		slog.String("reason", decision.Reason),
	)
	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, "confirmation required",
			fmt.Sprintf("%s %s on %v, size %.2f, score %.1f (%s)",
				opp.Kind, opp.Symbol, opp.Venues, decision.Size, opp.Score, decision.Reason))
	}
}

// Confirm executes a previously deferred opportunity.
func (e *Executor) Confirm(ctx context.Context, opportunityID string) error {
	e.mu.Lock()
	pc, ok := e.pending[opportunityID]
	delete(e.pending, opportunityID)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("executor: no pending confirmation for %s: %w", opportunityID, domain.ErrNotFound)
	}
	if e.now().After(pc.expiresAt) {
		e.setStatus(ctx, opportunityID, domain.OpportunityExpired)
		return fmt.Errorf("executor: confirmation for %s expired: %w", opportunityID, domain.ErrNotFound)
	}
	e.open(ctx, pc.opp, pc.size)
	return nil
}

// Pending lists opportunities awaiting confirmation.
func (e *Executor) Pending() []domain.Opportunity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Opportunity, 0, len(e.pending))
	for _, pc := range e.pending {
		out = append(out, pc.opp)
	}
	return out
}

func (e *Executor) open(ctx context.Context, opp domain.Opportunity, size float64) {
	e.setStatus(ctx, opp.ID, domain.OpportunityExecuting)

	if _, err := e.machine.Open(ctx, opp, size); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			// Another open for the same key won the race.
			e.logger.Info("open skipped, lease held",
				slog.String("opportunity", opp.ID),
			)
			e.setStatus(ctx, opp.ID, domain.OpportunityIgnored)
			return
		}
		e.logger.Error("open failed",
			slog.String("opportunity", opp.ID),
			slog.String("error", err.Error()),
		)
		e.setStatus(ctx, opp.ID, domain.OpportunityExpired)
	}
}

func (e *Executor) expirePending() {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, pc := range e.pending {
		if now.After(pc.expiresAt) {
			delete(e.pending, id)
		}
	}
}

func (e *Executor) setStatus(ctx context.Context, id string, status domain.OpportunityStatus) {
	if e.opps == nil {
		return
	}
	if err := e.opps.UpdateStatus(ctx, id, status); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("update opportunity status",
			slog.String("opportunity", id),
			slog.String("error", err.Error()),
		)
	}
}
