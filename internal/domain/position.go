package domain

import "time"

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the closing direction for a side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// MarketType distinguishes the spot book from the perpetual book.
type MarketType string

const (
	MarketSpot MarketType = "spot"
	MarketPerp MarketType = "perp"
)

// PositionStatus is the lifecycle state of a position. Transitions are
// monotonic: a position never moves back toward Open once it has started
// closing.
type PositionStatus string

const (
	PositionOpening    PositionStatus = "opening"
	PositionOpen       PositionStatus = "open"
	PositionClosing    PositionStatus = "closing"
	PositionClosed     PositionStatus = "closed"
	PositionOpenFailed PositionStatus = "open_failed"
)

// statusRank orders the lifecycle for monotonicity checks. Terminal states
// share the highest rank.
var statusRank = map[PositionStatus]int{
	PositionOpening:    0,
	PositionOpen:       1,
	PositionClosing:    2,
	PositionClosed:     3,
	PositionOpenFailed: 3,
}

// CanTransition reports whether moving from s to next respects the
// monotonic lifecycle. OpenFailed is reachable only from Opening.
func (s PositionStatus) CanTransition(next PositionStatus) bool {
	if next == PositionOpenFailed {
		return s == PositionOpening
	}
	return statusRank[next] > statusRank[s]
}

// Terminal reports whether the status is an end state.
func (s PositionStatus) Terminal() bool {
	return s == PositionClosed || s == PositionOpenFailed
}

// CloseReason records which exit fired.
type CloseReason string

const (
	CloseStopLoss           CloseReason = "stop_loss"
	CloseFundingReversal    CloseReason = "funding_reversal"
	CloseTrailingStopProfit CloseReason = "trailing_stop_profit"
	CloseMaxHolding         CloseReason = "max_holding_reached"
	CloseFundingTarget      CloseReason = "funding_target_reached"
	CloseBasisConverged     CloseReason = "basis_converged"
	CloseBasisDiverged      CloseReason = "basis_diverged"
	CloseManual             CloseReason = "manual"
)

// Leg is one side of a multi-venue/multi-instrument position.
type Leg struct {
	Exchange   string     `json:"exchange"`
	Market     MarketType `json:"market"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	Amount     float64    `json:"amount"` // base units
	OrderID    string     `json:"order_id,omitempty"`
	Filled     bool       `json:"filled"`
	CloseID    string     `json:"close_order_id,omitempty"`
	ClosePrice float64    `json:"close_price,omitempty"`
	Closed     bool       `json:"closed"`
}

// Position is an open or historical arbitrage position. Only the position
// state machine mutates it after creation.
type Position struct {
	ID        string
	Kind      StrategyKind
	Symbol    string
	Venues    []string
	Legs      []Leg
	Size      float64 // notional
	Direction Side    // directional kinds only

	EntryPrice       float64 // reference price used for pnl and trailing
	EntryBasis       float64 // basis at entry, basis kind only
	EntryFundingDiff float64 // rate differential at entry, cross-exchange kind

	UnrealizedPnL    float64
	RealizedPnL      float64
	FundingCollected float64
	FundingPeriods   int
	FeesPaid         float64
	NextFundingAt    time.Time

	Status      PositionStatus
	CloseReason CloseReason
	OpenedAt    time.Time
	ClosedAt    *time.Time

	// Trailing take-profit state. Once activated, BestPrice only moves in
	// the favorable direction.
	TrailingActivated bool
	BestPrice         float64
	ActivationPrice   float64

	CloseAttempts int
}

// Clone returns a deep copy sharing no mutable state with the receiver.
func (p Position) Clone() Position {
	p.Venues = append([]string(nil), p.Venues...)
	p.Legs = append([]Leg(nil), p.Legs...)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		p.ClosedAt = &t
	}
	return p
}

// Key is the exclusive-lease identity of the position.
func (p Position) Key() string {
	return PositionKey(p.Symbol, p.Venues, p.Kind)
}

// PnLPct returns unrealized pnl as a fraction of position size.
func (p Position) PnLPct() float64 {
	if p.Size <= 0 {
		return 0
	}
	return p.UnrealizedPnL / p.Size
}

// AllLegsFilled reports whether every leg confirmed its entry fill.
func (p Position) AllLegsFilled() bool {
	for _, leg := range p.Legs {
		if !leg.Filled {
			return false
		}
	}
	return len(p.Legs) > 0
}

// AllLegsClosed reports whether every leg confirmed its closing fill.
func (p Position) AllLegsClosed() bool {
	for _, leg := range p.Legs {
		if !leg.Closed {
			return false
		}
	}
	return len(p.Legs) > 0
}
