// Package position owns the lifecycle of every position: the transactional
// multi-leg open, the periodic exit evaluation, and the bounded-retry
// close. Nothing else mutates a Position after creation.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbd/internal/config"
	"github.com/alanyoungcy/arbd/internal/domain"
	"github.com/alanyoungcy/arbd/internal/exchange"
)

// Venues resolves an exchange name to its trading client.
type Venues interface {
	Get(name string) (exchange.Client, error)
}

// Notifier delivers operator-facing alerts.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// EventPublisher receives position lifecycle events for read-only
// consumers.
type EventPublisher interface {
	PublishPositionEvent(ev domain.PositionEvent)
}

// Machine is the position state machine and the single writer for all
// position state. Open is called from the execution loop, Run drives the
// monitor loop, and manual closes arrive from the API; writers serialize
// per position through checkout/commit so network waits never hold the
// machine lock.
type Machine struct {
	cfg       *config.Provider
	snapshots domain.SnapshotStore
	venues    Venues
	store     domain.PositionStore
	risks     domain.RiskEventStore
	leases    domain.LeaseManager
	notifier  Notifier
	feed      EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	orderTimeout time.Duration
	pollInterval time.Duration

	// open holds the last committed state per position ID. Writers check a
	// position out (marking it busy), mutate a private clone, and commit it
	// back; readers only ever see committed copies.
	mu            sync.Mutex
	open          map[string]*domain.Position // by position ID
	busy          map[string]bool             // checked out by a writer
	closeAsked    map[string]bool             // manual close pending pickup
	held          map[string]domain.Lease     // by position key
	lossAlerted   map[string]domain.RiskEventLevel
	manualAlerted map[string]bool
}

// NewMachine creates a Machine. notifier and feed may be nil.
func NewMachine(
	cfg *config.Provider,
	snapshots domain.SnapshotStore,
	venues Venues,
	store domain.PositionStore,
	risks domain.RiskEventStore,
	leases domain.LeaseManager,
	notifier Notifier,
	feed EventPublisher,
	logger *slog.Logger,
) *Machine {
	return &Machine{
		cfg:           cfg,
		snapshots:     snapshots,
		venues:        venues,
		store:         store,
		risks:         risks,
		leases:        leases,
		notifier:      notifier,
		feed:          feed,
		logger:        logger.With(slog.String("component", "position_machine")),
		now:           time.Now,
		orderTimeout:  2 * time.Minute,
		pollInterval:  500 * time.Millisecond,
		open:          make(map[string]*domain.Position),
		busy:          make(map[string]bool),
		closeAsked:    make(map[string]bool),
		held:          make(map[string]domain.Lease),
		lossAlerted:   make(map[string]domain.RiskEventLevel),
		manualAlerted: make(map[string]bool),
	}
}

// Restore reloads non-terminal positions from the store after a restart
// and re-acquires their leases. Positions whose lease is held elsewhere
// are left alone: another instance owns them.
func (m *Machine) Restore(ctx context.Context) error {
	positions, err := m.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("position: restore: %w", err)
	}

	ttl := m.cfg.Current().Config.Global.LeaseTTL.Duration

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range positions {
		pos := positions[i]
		lease, err := m.leases.Acquire(ctx, pos.Key(), ttl)
		if err != nil {
			m.logger.Warn("restore skipped, lease held elsewhere",
				slog.String("position", pos.ID),
				slog.String("key", pos.Key()),
			)
			continue
		}
		m.open[pos.ID] = &pos
		m.held[pos.Key()] = lease
		m.logger.Info("position restored",
			slog.String("position", pos.ID),
			slog.String("status", string(pos.Status)),
		)
	}
	return nil
}

// Portfolio returns the current portfolio state for risk evaluation.
// The returned positions are copies.
func (m *Machine) Portfolio() domain.PortfolioState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := domain.PortfolioState{
		TotalCapital: m.cfg.Current().Config.Global.TotalCapital,
		Open:         make([]domain.Position, 0, len(m.open)),
	}
	for _, pos := range m.open {
		out.Open = append(out.Open, *pos)
	}
	return out
}

// HasOpen reports whether a non-terminal position exists for the key.
func (m *Machine) HasOpen(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.open {
		if pos.Key() == key {
			return true
		}
	}
	return false
}

// Open drives the transactional open for an approved opportunity at the
// decided size. It acquires the exclusive key lease first; a second
// concurrent open for the same key fails with ErrLockHeld. On any leg
// failure all filled legs are unwound and the position terminates as
// OpenFailed.
func (m *Machine) Open(ctx context.Context, opp domain.Opportunity, size float64) (*domain.Position, error) {
	snap := m.cfg.Current()
	lease, err := m.leases.Acquire(ctx, opp.Key(), snap.Config.Global.LeaseTTL.Duration)
	if err != nil {
		return nil, fmt.Errorf("position: acquire lease %s: %w", opp.Key(), err)
	}

	legs, err := legPlan(opp, size)
	if err != nil {
		lease.Release()
		return nil, err
	}

	now := m.now().UTC()
	pos := &domain.Position{
		ID:            uuid.NewString(),
		Kind:          opp.Kind,
		Symbol:        opp.Symbol,
		Venues:        append([]string(nil), opp.Venues...),
		Legs:          legs,
		Size:          size,
		Status:        domain.PositionOpening,
		OpenedAt:      now,
		NextFundingAt: m.nextFunding(ctx, opp.Venues[0], opp.Symbol, now),
	}
	switch d := opp.Detail.(type) {
	case domain.CrossExchangeDetail:
		pos.EntryFundingDiff = d.FundingDiff
	case domain.BasisDetail:
		pos.EntryBasis = d.Basis
	case domain.DirectionalDetail:
		pos.Direction = d.Direction
	}

	if err := m.store.Open(ctx, *pos); err != nil {
		lease.Release()
		return nil, fmt.Errorf("position: persist opening: %w", err)
	}

	if err := m.executeOpen(ctx, pos); err != nil {
		m.transition(pos, domain.PositionOpenFailed)
		if serr := m.store.Close(ctx, *pos); serr != nil {
			m.logger.Error("persist open_failed",
				slog.String("position", pos.ID),
				slog.String("error", serr.Error()),
			)
		}
		lease.Release()
		m.alert(ctx, domain.RiskEventCritical, "execution_failed", pos.ID,
			fmt.Sprintf("open of %s %s failed, filled legs unwound: %v", pos.Symbol, pos.Kind, err))
		m.publish(domain.PositionEventClosed, *pos, "open_failed")
		return nil, err
	}

	pos.EntryPrice = referencePrice(*pos)
	m.transition(pos, domain.PositionOpen)
	if err := m.store.Update(ctx, *pos); err != nil {
		m.logger.Error("persist open", slog.String("position", pos.ID), slog.String("error", err.Error()))
	}

	tracked := pos.Clone()
	m.mu.Lock()
	m.open[pos.ID] = &tracked
	m.held[pos.Key()] = lease
	m.mu.Unlock()

	m.logger.Info("position opened",
		slog.String("position", pos.ID),
		slog.String("kind", string(pos.Kind)),
		slog.String("symbol", pos.Symbol),
		slog.Float64("size", pos.Size),
	)
	m.publish(domain.PositionEventOpened, *pos, "")
	return pos, nil
}

// RequestClose asks for a manual close of an open position. If the
// monitor currently holds the position, the request is queued and the
// monitor picks it up on its next tick.
func (m *Machine) RequestClose(ctx context.Context, positionID string) error {
	m.mu.Lock()
	tracked, ok := m.open[positionID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if tracked.Status != domain.PositionOpen {
		status := tracked.Status
		m.mu.Unlock()
		return fmt.Errorf("position: %s is %s: %w", positionID, status, domain.ErrInvalidTransition)
	}
	if m.busy[positionID] {
		m.closeAsked[positionID] = true
		m.mu.Unlock()
		return nil
	}
	m.busy[positionID] = true
	pos := tracked.Clone()
	m.mu.Unlock()

	m.beginClose(ctx, &pos, domain.CloseManual)
	m.commit(&pos)
	return nil
}

// checkout hands the caller a private clone of a tracked position and
// marks it busy. It fails when the position is gone or another writer
// holds it.
func (m *Machine) checkout(id string) (*domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracked, ok := m.open[id]
	if !ok || m.busy[id] {
		return nil, false
	}
	m.busy[id] = true
	pos := tracked.Clone()
	return &pos, true
}

// commit publishes a writer's clone as the committed state and releases
// the busy mark. A position finalize removed while checked out stays
// removed.
func (m *Machine) commit(pos *domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, pos.ID)
	if _, ok := m.open[pos.ID]; ok {
		m.open[pos.ID] = pos
	}
}

// Run drives the monitor loop: every tick it renews leases, re-evaluates
// exits for Open positions against fresh snapshots, and retries pending
// closes.
func (m *Machine) Run(ctx context.Context) error {
	m.logger.Info("position monitor started")
	defer m.logger.Info("position monitor stopped")

	for {
		interval := m.cfg.Current().Config.Global.MonitorInterval.Duration
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		m.Tick(ctx)
	}
}

// Tick runs one monitor pass over every tracked position. Each position
// is checked out for the duration of its pass, so a concurrent manual
// close request on the same position is queued rather than racing it.
func (m *Machine) Tick(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	ttl := m.cfg.Current().Config.Global.LeaseTTL.Duration
	for _, id := range ids {
		pos, ok := m.checkout(id)
		if !ok {
			continue
		}
		m.renewLease(ctx, pos.Key(), ttl)

		m.mu.Lock()
		manual := m.closeAsked[id]
		delete(m.closeAsked, id)
		m.mu.Unlock()

		switch {
		case manual && pos.Status == domain.PositionOpen:
			m.beginClose(ctx, pos, domain.CloseManual)
		case pos.Status == domain.PositionOpen:
			m.evaluate(ctx, pos)
		case pos.Status == domain.PositionClosing:
			m.retryClose(ctx, pos)
		}
		m.commit(pos)
	}
}

// evaluate refreshes pnl and funding for one Open position and runs the
// exit checks in strict priority order. The first matching check wins and
// the rest are skipped for this tick.
func (m *Machine) evaluate(ctx context.Context, pos *domain.Position) {
	snap := m.cfg.Current()
	params := snap.Pair(pos.Kind, pos.Symbol, pos.Venues[0])

	marks, ok := m.collectSnapshots(ctx, pos)
	if !ok {
		// Stale or missing data: skip this tick, no alert.
		return
	}

	m.refreshPnL(pos, marks)
	m.accrueFunding(pos, marks)
	m.lossLadder(ctx, pos, snap.Config.Risk)

	// Exit check 1: stop loss.
	stop := params.StopLossPct
	if stop == 0 {
		stop = snap.Config.Risk.MaxDrawdown
	}
	if stop > 0 && pos.PnLPct() <= -stop {
		m.beginClose(ctx, pos, domain.CloseStopLoss)
		return
	}

	// Exit check 2: funding reversal.
	if reason, hit := m.fundingReversal(pos, params, marks); hit {
		m.beginClose(ctx, pos, reason)
		return
	}

	// Exit check 3: trailing take-profit, directional positions only.
	if pos.Kind.Directional() && params.TrailingEnabled {
		if closed := m.trailing(ctx, pos, params, marks); closed {
			return
		}
	}

	// Exit check 4: target and expiry, hedged positions only.
	if !pos.Kind.Directional() {
		if reason, hit := m.targetOrExpiry(pos, params, marks); hit {
			m.beginClose(ctx, pos, reason)
			return
		}
	}

	if err := m.store.Update(ctx, *pos); err != nil {
		m.logger.Error("persist update", slog.String("position", pos.ID), slog.String("error", err.Error()))
	}
	m.publish(domain.PositionEventUpdated, *pos, "")
}

// collectSnapshots fetches a fresh snapshot per venue. Any missing venue
// aborts the evaluation for this tick.
func (m *Machine) collectSnapshots(ctx context.Context, pos *domain.Position) (map[string]domain.MarketSnapshot, bool) {
	marks := make(map[string]domain.MarketSnapshot, len(pos.Venues))
	for _, venue := range pos.Venues {
		snap, err := m.snapshots.Get(ctx, venue, pos.Symbol)
		if err != nil {
			return nil, false
		}
		marks[venue] = snap
	}
	return marks, true
}

// refreshPnL marks every leg to the current price and folds in funding and
// fees.
func (m *Machine) refreshPnL(pos *domain.Position, marks map[string]domain.MarketSnapshot) {
	var legPnL float64
	for _, leg := range pos.Legs {
		snap, ok := marks[leg.Exchange]
		if !ok || leg.EntryPrice <= 0 {
			continue
		}
		price := markPrice(snap, leg.Market)
		if price <= 0 {
			continue
		}
		move := (price - leg.EntryPrice) * leg.Amount
		if leg.Side == domain.SideSell {
			move = -move
		}
		legPnL += move
	}
	pos.UnrealizedPnL = legPnL + pos.FundingCollected - pos.FeesPaid
}

// accrueFunding credits one funding settlement when the settlement time
// has passed. Long perp legs pay a positive rate, short legs receive it.
func (m *Machine) accrueFunding(pos *domain.Position, marks map[string]domain.MarketSnapshot) {
	if pos.NextFundingAt.IsZero() || m.now().Before(pos.NextFundingAt) {
		return
	}

	var income float64
	var interval time.Duration = 8 * time.Hour
	for _, leg := range pos.Legs {
		if leg.Market != domain.MarketPerp {
			continue
		}
		snap, ok := marks[leg.Exchange]
		if !ok {
			continue
		}
		rate := snap.FundingRate
		if leg.Side == domain.SideSell {
			income += rate * pos.Size
		} else {
			income -= rate * pos.Size
		}
		if h := snap.FundingIntervalHours; h > 0 {
			interval = time.Duration(h) * time.Hour
		}
	}

	pos.FundingCollected += income
	pos.FundingPeriods++
	pos.NextFundingAt = pos.NextFundingAt.Add(interval)
	m.logger.Info("funding settled",
		slog.String("position", pos.ID),
		slog.Float64("income", income),
		slog.Int("periods", pos.FundingPeriods),
	)
}

// lossLadder emits escalating risk events as the unrealized loss deepens.
// Each level fires once per position.
func (m *Machine) lossLadder(ctx context.Context, pos *domain.Position, risk config.RiskConfig) {
	loss := -pos.PnLPct()

	var level domain.RiskEventLevel
	switch {
	case risk.CriticalThreshold > 0 && loss >= risk.CriticalThreshold:
		level = domain.RiskEventCritical
	case risk.WarningThreshold > 0 && loss >= risk.WarningThreshold:
		level = domain.RiskEventWarning
	default:
		return
	}

	m.mu.Lock()
	prev := m.lossAlerted[pos.ID]
	if prev == level || (prev == domain.RiskEventCritical) {
		m.mu.Unlock()
		return
	}
	m.lossAlerted[pos.ID] = level
	m.mu.Unlock()

	m.alert(ctx, level, "drawdown", pos.ID,
		fmt.Sprintf("position %s %s down %.2f%%", pos.Symbol, pos.Kind, loss*100))
	m.publish(domain.PositionEventRiskAlert, *pos, string(level))
}

// fundingReversal decides whether the funding edge that justified the
// position has flipped or decayed below its floor.
func (m *Machine) fundingReversal(pos *domain.Position, params config.Params, marks map[string]domain.MarketSnapshot) (domain.CloseReason, bool) {
	switch pos.Kind {
	case domain.KindCrossExchangeFunding:
		var long, short float64
		for _, leg := range pos.Legs {
			snap, ok := marks[leg.Exchange]
			if !ok {
				return "", false
			}
			if leg.Side == domain.SideBuy {
				long = snap.FundingRate
			} else {
				short = snap.FundingRate
			}
		}
		if short-long <= params.ReversalThreshold {
			return domain.CloseFundingReversal, true
		}

	case domain.KindSpotFuturesFunding:
		rate := perpRate(pos, marks)
		if rate <= params.ReversalThreshold {
			return domain.CloseFundingReversal, true
		}

	case domain.KindDirectionalFunding:
		rate := perpRate(pos, marks)
		if pos.Direction == domain.SideSell && rate <= params.ShortExitThreshold {
			return domain.CloseFundingReversal, true
		}
		if pos.Direction == domain.SideBuy && rate >= params.LongExitThreshold {
			return domain.CloseFundingReversal, true
		}
	}
	return "", false
}

// trailing runs the two-phase trailing take-profit. Phase one activates
// once unrealized pnl clears the activation threshold and records the best
// price atomically. Phase two ratchets the best price in the favorable
// direction only and exits when the retracement from it reaches the
// callback. Returns true when the position entered Closing.
func (m *Machine) trailing(ctx context.Context, pos *domain.Position, params config.Params, marks map[string]domain.MarketSnapshot) bool {
	var ref float64
	for _, leg := range pos.Legs {
		if snap, ok := marks[leg.Exchange]; ok {
			ref = markPrice(snap, domain.MarketPerp)
		}
	}
	if ref <= 0 {
		return false
	}

	if !pos.TrailingActivated {
		if pos.PnLPct() >= params.TrailingActivationPct {
			pos.TrailingActivated = true
			pos.BestPrice = ref
			pos.ActivationPrice = ref
			if err := m.store.Update(ctx, *pos); err != nil {
				m.logger.Error("persist trailing activation",
					slog.String("position", pos.ID),
					slog.String("error", err.Error()),
				)
			}
			m.logger.Info("trailing stop activated",
				slog.String("position", pos.ID),
				slog.Float64("best_price", pos.BestPrice),
			)
		}
		return false
	}

	short := pos.Direction == domain.SideSell
	if short && ref < pos.BestPrice {
		pos.BestPrice = ref
	}
	if !short && ref > pos.BestPrice {
		pos.BestPrice = ref
	}

	var retrace float64
	if short {
		retrace = (ref - pos.BestPrice) / pos.BestPrice
	} else {
		retrace = (pos.BestPrice - ref) / pos.BestPrice
	}
	if retrace >= params.TrailingCallbackPct {
		m.beginClose(ctx, pos, domain.CloseTrailingStopProfit)
		return true
	}
	return false
}

// targetOrExpiry runs the hedged-position exits: holding ceiling, funding
// target, and the basis convergence/divergence pair.
func (m *Machine) targetOrExpiry(pos *domain.Position, params config.Params, marks map[string]domain.MarketSnapshot) (domain.CloseReason, bool) {
	if params.MaxHoldPeriods > 0 {
		interval := 8 * time.Hour
		if snap, ok := marks[pos.Venues[0]]; ok && snap.FundingIntervalHours > 0 {
			interval = time.Duration(snap.FundingIntervalHours) * time.Hour
		}
		if m.now().Sub(pos.OpenedAt) >= time.Duration(params.MaxHoldPeriods)*interval {
			return domain.CloseMaxHolding, true
		}
	}

	if params.MaxFundingPeriods > 0 && pos.FundingPeriods >= params.MaxFundingPeriods {
		return domain.CloseFundingTarget, true
	}

	if pos.Kind == domain.KindBasisArbitrage {
		snap, ok := marks[pos.Venues[0]]
		if !ok {
			return "", false
		}
		basis := snap.Basis()
		if basis <= params.BasisCloseTarget {
			return domain.CloseBasisConverged, true
		}
		if params.BasisAbort > 0 && basis >= params.BasisAbort {
			return domain.CloseBasisDiverged, true
		}
	}
	return "", false
}

// beginClose transitions a position into Closing and runs the first close
// attempt.
func (m *Machine) beginClose(ctx context.Context, pos *domain.Position, reason domain.CloseReason) {
	m.transition(pos, domain.PositionClosing)
	pos.CloseReason = reason
	if err := m.store.Update(ctx, *pos); err != nil {
		m.logger.Error("persist closing", slog.String("position", pos.ID), slog.String("error", err.Error()))
	}
	m.logger.Info("closing position",
		slog.String("position", pos.ID),
		slog.String("reason", string(reason)),
	)
	m.retryClose(ctx, pos)
}

// retryClose attempts to close the remaining legs. Attempts are bounded:
// once exhausted a manual-intervention alert fires and the position stays
// Closing until an operator resolves it. It is never reverted to Open and
// never marked Closed without confirmed fills on every leg.
func (m *Machine) retryClose(ctx context.Context, pos *domain.Position) {
	maxAttempts := m.cfg.Current().Config.Global.MaxCloseAttempts

	if pos.CloseAttempts >= maxAttempts {
		m.mu.Lock()
		alerted := m.manualAlerted[pos.ID]
		m.manualAlerted[pos.ID] = true
		m.mu.Unlock()
		if !alerted {
			m.alert(ctx, domain.RiskEventCritical, "partial_close_failed", pos.ID,
				fmt.Sprintf("position %s %s stuck in closing after %d attempts, manual intervention required",
					pos.Symbol, pos.Kind, pos.CloseAttempts))
		}
		return
	}

	pos.CloseAttempts++
	err := m.executeClose(ctx, pos)
	if err != nil || !pos.AllLegsClosed() {
		if err != nil {
			m.logger.Warn("close attempt failed",
				slog.String("position", pos.ID),
				slog.Int("attempt", pos.CloseAttempts),
				slog.String("error", err.Error()),
			)
		}
		if serr := m.store.Update(ctx, *pos); serr != nil {
			m.logger.Error("persist close attempt", slog.String("position", pos.ID), slog.String("error", serr.Error()))
		}
		return
	}

	m.finalize(ctx, pos)
}

// finalize settles a fully-closed position: realized pnl from the actual
// close fills, terminal transition, persistence, lease release.
func (m *Machine) finalize(ctx context.Context, pos *domain.Position) {
	var legPnL float64
	for _, leg := range pos.Legs {
		move := (leg.ClosePrice - leg.EntryPrice) * leg.Amount
		if leg.Side == domain.SideSell {
			move = -move
		}
		legPnL += move
	}
	pos.RealizedPnL = legPnL + pos.FundingCollected - pos.FeesPaid
	pos.UnrealizedPnL = 0

	m.transition(pos, domain.PositionClosed)
	now := m.now().UTC()
	pos.ClosedAt = &now
	if err := m.store.Close(ctx, *pos); err != nil {
		m.logger.Error("persist close", slog.String("position", pos.ID), slog.String("error", err.Error()))
	}

	m.mu.Lock()
	delete(m.open, pos.ID)
	delete(m.closeAsked, pos.ID)
	delete(m.lossAlerted, pos.ID)
	delete(m.manualAlerted, pos.ID)
	if lease, ok := m.held[pos.Key()]; ok {
		lease.Release()
		delete(m.held, pos.Key())
	}
	m.mu.Unlock()

	m.logger.Info("position closed",
		slog.String("position", pos.ID),
		slog.String("reason", string(pos.CloseReason)),
		slog.Float64("realized_pnl", pos.RealizedPnL),
	)
	m.publish(domain.PositionEventClosed, *pos, string(pos.CloseReason))
	if m.notifier != nil {
		_ = m.notifier.Notify(ctx, "position closed",
			fmt.Sprintf("%s %s closed (%s), pnl %.2f", pos.Symbol, pos.Kind, pos.CloseReason, pos.RealizedPnL))
	}
}

func (m *Machine) transition(pos *domain.Position, next domain.PositionStatus) {
	if !pos.Status.CanTransition(next) {
		m.logger.Error("invalid transition blocked",
			slog.String("position", pos.ID),
			slog.String("from", string(pos.Status)),
			slog.String("to", string(next)),
		)
		return
	}
	pos.Status = next
}

func (m *Machine) renewLease(ctx context.Context, key string, ttl time.Duration) {
	m.mu.Lock()
	lease, ok := m.held[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := lease.Renew(ctx, ttl); err != nil {
		m.logger.Warn("lease renewal failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// alert appends a risk event and pushes critical ones to the operator.
func (m *Machine) alert(ctx context.Context, level domain.RiskEventLevel, typ, positionID, description string) {
	ev := domain.RiskEvent{
		ID:          uuid.NewString(),
		Level:       level,
		Type:        typ,
		Description: description,
		PositionID:  positionID,
		CreatedAt:   m.now().UTC(),
	}
	if m.risks != nil {
		if err := m.risks.Append(ctx, ev); err != nil {
			m.logger.Error("append risk event", slog.String("error", err.Error()))
		}
	}
	m.logger.Warn("risk event",
		slog.String("level", string(level)),
		slog.String("type", typ),
		slog.String("description", description),
	)
	if level == domain.RiskEventCritical && m.notifier != nil {
		_ = m.notifier.Notify(ctx, "risk alert", description)
	}
}

func (m *Machine) publish(typ domain.PositionEventType, pos domain.Position, reason string) {
	if m.feed == nil {
		return
	}
	m.feed.PublishPositionEvent(domain.PositionEvent{
		Type:     typ,
		Position: pos,
		Reason:   reason,
		At:       m.now().UTC(),
	})
}

// nextFunding reads the venue's next settlement time, falling back to one
// standard period from now.
func (m *Machine) nextFunding(ctx context.Context, venue, symbol string, now time.Time) time.Time {
	snap, err := m.snapshots.Get(ctx, venue, symbol)
	if err == nil && snap.NextFundingTime.After(now) {
		return snap.NextFundingTime
	}
	return now.Add(8 * time.Hour)
}

// referencePrice picks the price used for pnl percentage and trailing: the
// perp entry for directional positions, the first leg otherwise.
func referencePrice(pos domain.Position) float64 {
	for _, leg := range pos.Legs {
		if leg.Market == domain.MarketPerp {
			return leg.EntryPrice
		}
	}
	if len(pos.Legs) > 0 {
		return pos.Legs[0].EntryPrice
	}
	return 0
}

// markPrice returns the current reference price for a market, preferring
// the venue's mark and falling back to the book midpoint.
func markPrice(snap domain.MarketSnapshot, market domain.MarketType) float64 {
	if market == domain.MarketSpot {
		if snap.SpotPrice > 0 {
			return snap.SpotPrice
		}
		return (snap.SpotBid + snap.SpotAsk) / 2
	}
	if snap.FuturesPrice > 0 {
		return snap.FuturesPrice
	}
	return (snap.FuturesBid + snap.FuturesAsk) / 2
}

func perpRate(pos *domain.Position, marks map[string]domain.MarketSnapshot) float64 {
	for _, leg := range pos.Legs {
		if leg.Market != domain.MarketPerp {
			continue
		}
		if snap, ok := marks[leg.Exchange]; ok {
			return snap.FundingRate
		}
	}
	return 0
}
