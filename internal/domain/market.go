package domain

import (
	"context"
	"time"
)

// MarketSnapshot is one exchange's view of one symbol at a point in time.
// It is produced by the market-data collector and is read-only to the
// decision engine. Depth fields are the notional value resting on the near
// top-of-book levels; fees are fractional rates.
type MarketSnapshot struct {
	Exchange string
	Symbol   string

	SpotBid      float64
	SpotAsk      float64
	SpotPrice    float64
	FuturesBid   float64
	FuturesAsk   float64
	FuturesPrice float64

	FundingRate          float64
	PredictedFundingRate float64
	NextFundingTime      time.Time
	FundingIntervalHours int // 0 means unknown; callers default to 8

	SpotDepth    float64
	FuturesDepth float64

	MakerFee float64
	TakerFee float64

	Timestamp time.Time
}

// HasSpot reports whether the snapshot carries a usable spot book.
func (s MarketSnapshot) HasSpot() bool {
	return s.SpotBid > 0 && s.SpotAsk > 0
}

// HasFutures reports whether the snapshot carries a usable perpetual book.
func (s MarketSnapshot) HasFutures() bool {
	return s.FuturesBid > 0 && s.FuturesAsk > 0
}

// Basis returns the futures premium relative to spot, computed from the
// prices a hedged entry would actually trade at (short futures at the bid,
// buy spot at the ask).
func (s MarketSnapshot) Basis() float64 {
	if s.SpotAsk <= 0 {
		return 0
	}
	return (s.FuturesBid - s.SpotAsk) / s.SpotAsk
}

// FundingPeriodsPerDay derives settlement frequency from the snapshot's
// funding interval, defaulting to the common 8-hour cycle.
func (s MarketSnapshot) FundingPeriodsPerDay() float64 {
	hours := s.FundingIntervalHours
	if hours <= 0 {
		hours = 8
	}
	return 24.0 / float64(hours)
}

// SnapshotStore supplies market snapshots to the core. Implementations are
// expected to return ErrDataUnavailable when no fresh data exists for the
// requested (exchange, symbol); the caller skips that combination for the
// cycle rather than treating it as a failure.
type SnapshotStore interface {
	Get(ctx context.Context, exchange, symbol string) (MarketSnapshot, error)
	// Symbols lists every symbol with at least one fresh snapshot, sorted.
	Symbols(ctx context.Context) ([]string, error)
	// Exchanges lists the exchanges quoting symbol, sorted.
	Exchanges(ctx context.Context, symbol string) ([]string, error)
}
