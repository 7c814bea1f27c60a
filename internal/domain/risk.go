package domain

import "time"

// RiskEventLevel grades the severity of a risk event.
type RiskEventLevel string

const (
	RiskEventWarning  RiskEventLevel = "warning"
	RiskEventSevere   RiskEventLevel = "severe"
	RiskEventCritical RiskEventLevel = "critical"
)

// RiskEvent is an append-only record of a risk condition. Critical events
// are always surfaced to the operator.
type RiskEvent struct {
	ID          string
	Level       RiskEventLevel
	Type        string
	Description string
	PositionID  string
	Handled     bool
	CreatedAt   time.Time
}

// DecisionAction is the outcome of a risk-gate evaluation.
type DecisionAction string

const (
	DecisionApprove     DecisionAction = "approve"
	DecisionReject      DecisionAction = "reject"
	DecisionDeferManual DecisionAction = "defer_manual"
)

// Decision is the risk gate's verdict on an opportunity. Size carries the
// (possibly rescaled) notional to execute when the action is approve.
type Decision struct {
	Action DecisionAction
	Reason string
	Size   float64
}

// PortfolioState is the read-only view of open positions the risk gate
// evaluates against. TotalCapital is the configured capital pool.
type PortfolioState struct {
	TotalCapital float64
	Open         []Position
}

// UsedCapital sums the notional committed to open positions.
func (ps PortfolioState) UsedCapital() float64 {
	var used float64
	for _, p := range ps.Open {
		used += p.Size
	}
	return used
}

// TotalUnrealizedPnL sums unrealized pnl across open positions.
func (ps PortfolioState) TotalUnrealizedPnL() float64 {
	var pnl float64
	for _, p := range ps.Open {
		pnl += p.UnrealizedPnL
	}
	return pnl
}

// ExchangeExposure returns the notional committed per exchange. A position
// contributes its full size to every venue it touches.
func (ps PortfolioState) ExchangeExposure() map[string]float64 {
	out := make(map[string]float64)
	for _, p := range ps.Open {
		for _, v := range p.Venues {
			out[v] += p.Size
		}
	}
	return out
}

// StrategyAllocation returns the notional committed per strategy kind.
func (ps PortfolioState) StrategyAllocation() map[StrategyKind]float64 {
	out := make(map[StrategyKind]float64)
	for _, p := range ps.Open {
		out[p.Kind] += p.Size
	}
	return out
}
