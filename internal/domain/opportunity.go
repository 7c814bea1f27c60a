package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StrategyKind identifies one of the closed set of arbitrage strategies.
type StrategyKind string

const (
	// KindCrossExchangeFunding longs the perp on the low-funding venue and
	// shorts it on the high-funding venue, collecting the rate differential.
	KindCrossExchangeFunding StrategyKind = "funding_rate_cross_exchange"
	// KindSpotFuturesFunding buys spot and shorts the perp on the same
	// venue, collecting the funding rate while fully hedged.
	KindSpotFuturesFunding StrategyKind = "funding_rate_spot_futures"
	// KindBasisArbitrage buys spot and shorts the perp when the futures
	// premium is wide, profiting from basis convergence.
	KindBasisArbitrage StrategyKind = "basis_arbitrage"
	// KindDirectionalFunding takes a single unhedged perp leg in the
	// direction that collects funding. The only kind with price exposure.
	KindDirectionalFunding StrategyKind = "directional_funding"
)

// Directional reports whether the kind carries open price exposure. Only
// directional positions run the trailing take-profit exit.
func (k StrategyKind) Directional() bool {
	return k == KindDirectionalFunding
}

// Valid reports whether k is a known strategy kind.
func (k StrategyKind) Valid() bool {
	switch k {
	case KindCrossExchangeFunding, KindSpotFuturesFunding, KindBasisArbitrage, KindDirectionalFunding:
		return true
	}
	return false
}

// RiskLevel classifies how much residual risk an opportunity carries.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// OpportunityStatus tracks an opportunity through one scan cycle.
type OpportunityStatus string

const (
	OpportunityPending   OpportunityStatus = "pending"
	OpportunityExecuting OpportunityStatus = "executing"
	OpportunityExpired   OpportunityStatus = "expired"
	OpportunityIgnored   OpportunityStatus = "ignored"
)

// OpportunityDetail is the per-kind payload attached to an Opportunity.
// The set of implementations is closed; consumers dispatch with a type
// switch over the four concrete types.
type OpportunityDetail interface {
	detail()
}

// CrossExchangeDetail describes a funding-rate differential between two
// perp venues.
type CrossExchangeDetail struct {
	LongExchange      string  `json:"long_exchange"`
	ShortExchange     string  `json:"short_exchange"`
	FundingDiff       float64 `json:"funding_diff"`
	AnnualFundingDiff float64 `json:"funding_diff_annual"`
	LongEntryPrice    float64 `json:"long_entry_price"`
	ShortEntryPrice   float64 `json:"short_entry_price"`
	PriceDiffPct      float64 `json:"price_diff_pct"`
	Breakdown         CostBreakdown `json:"breakdown"`
}

// SpotFuturesDetail describes a same-venue spot/perp funding carry.
type SpotFuturesDetail struct {
	Exchange          string  `json:"exchange"`
	AnnualFundingRate float64 `json:"annual_funding_rate"`
	Basis             float64 `json:"basis"`
	SpotEntryPrice    float64 `json:"spot_entry_price"`
	FuturesEntryPrice float64 `json:"futures_entry_price"`
	Breakdown         CostBreakdown `json:"breakdown"`
}

// BasisDetail describes a basis-convergence trade.
type BasisDetail struct {
	Exchange          string  `json:"exchange"`
	Basis             float64 `json:"basis"`
	FundingRate       float64 `json:"funding_rate"`
	HoldPeriods       int     `json:"hold_periods"`
	SpotEntryPrice    float64 `json:"spot_entry_price"`
	FuturesEntryPrice float64 `json:"futures_entry_price"`
	Breakdown         CostBreakdown `json:"breakdown"`
}

// DirectionalDetail describes a single-leg funding momentum trade.
type DirectionalDetail struct {
	Exchange    string  `json:"exchange"`
	Direction   Side    `json:"direction"`
	FundingRate float64 `json:"funding_rate"`
	AnnualRate  float64 `json:"annual_rate"`
	EntryPrice  float64 `json:"entry_price"`
	Breakdown   CostBreakdown `json:"breakdown"`
}

func (CrossExchangeDetail) detail() {}
func (SpotFuturesDetail) detail()   {}
func (BasisDetail) detail()         {}
func (DirectionalDetail) detail()   {}

// CostBreakdown itemizes the cost model behind an expected return. All
// amounts are in notional (quote) units.
type CostBreakdown struct {
	FundingIncome float64 `json:"funding_income"`
	BasisIncome   float64 `json:"basis_income,omitempty"`
	OpenFees      float64 `json:"open_fees"`
	CloseFees     float64 `json:"close_fees"`
	Slippage      float64 `json:"slippage"`
	TotalCost     float64 `json:"total_cost"`
	NetProfit     float64 `json:"net_profit"`
	NetProfitPct  float64 `json:"net_profit_pct"`
}

// DecodeDetail unmarshals a serialized detail payload into the concrete
// type for the given kind.
func DecodeDetail(kind StrategyKind, data []byte) (OpportunityDetail, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch kind {
	case KindCrossExchangeFunding:
		var d CrossExchangeDetail
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case KindSpotFuturesFunding:
		var d SpotFuturesDetail
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case KindBasisArbitrage:
		var d BasisDetail
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case KindDirectionalFunding:
		var d DirectionalDetail
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown strategy kind %q", kind)
}

// Opportunity is one cost-adjusted, scored trade candidate produced by a
// scan cycle. IDs are stable across cycles for the same (kind, symbol,
// venue set) so repeated detection upserts rather than duplicates.
type Opportunity struct {
	ID                string
	Kind              StrategyKind
	RiskLevel         RiskLevel
	Symbol            string
	Venues            []string
	Size              float64
	ExpectedReturn    float64
	ExpectedReturnPct float64
	Score             float64
	Detail            OpportunityDetail
	DetectedAt        time.Time
	Status            OpportunityStatus
}

// Key is the exclusive-lease and dedup key: no two positions may be open
// concurrently for the same key unless explicitly configured otherwise.
func (o Opportunity) Key() string {
	return PositionKey(o.Symbol, o.Venues, o.Kind)
}

// PositionKey builds the (symbol, venue-set, strategy kind) identity shared
// by opportunities and positions.
func PositionKey(symbol string, venues []string, kind StrategyKind) string {
	return symbol + "|" + strings.Join(venues, ",") + "|" + string(kind)
}
