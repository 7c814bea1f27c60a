package scanner

import "github.com/alanyoungcy/arbd/internal/domain"

// SlippageEstimator models the execution cost of crossing the book. All
// amounts are notional. Implementations must be monotonically
// non-decreasing in size/depth and approach zero as the ratio does.
type SlippageEstimator interface {
	// Estimate returns the expected slippage cost for an order of the
	// given notional size against the given resting notional depth.
	Estimate(depth, size float64) float64
}

// TieredSlippage is the default estimator: free while the order is small
// relative to the near-top-of-book depth, then two widening cost tiers.
type TieredSlippage struct{}

// Estimate implements SlippageEstimator.
func (TieredSlippage) Estimate(depth, size float64) float64 {
	if size <= 0 {
		return 0
	}
	if depth <= 0 {
		return size * 0.0005
	}
	switch {
	case size < depth*0.1:
		return 0
	case size < depth*0.5:
		return size * 0.0001
	default:
		return size * 0.0005
	}
}

// crossExchangeProfit computes the single-period economics of collecting
// the funding differential between two perp venues: long the low-rate
// venue, short the high-rate venue. Entries cross the spread (taker), the
// eventual unwind rests (maker).
func crossExchangeProfit(size, shortRate, longRate, longTaker, shortTaker, longMaker, shortMaker, longSlip, shortSlip float64) domain.CostBreakdown {
	b := domain.CostBreakdown{
		FundingIncome: size * (shortRate - longRate),
		OpenFees:      size*longTaker + size*shortTaker,
		CloseFees:     size*longMaker + size*shortMaker,
		Slippage:      longSlip + shortSlip,
	}
	return finish(size, b)
}

// spotFuturesProfit computes the single-period economics of the hedged
// funding carry: buy spot, short the perp, collect the funding rate.
func spotFuturesProfit(size, fundingRate, spotTaker, futTaker, spotMaker, futMaker, spotSlip, futSlip float64) domain.CostBreakdown {
	b := domain.CostBreakdown{
		FundingIncome: size * fundingRate,
		OpenFees:      size*spotTaker + size*futTaker,
		CloseFees:     size*spotMaker + size*futMaker,
		Slippage:      spotSlip + futSlip,
	}
	return finish(size, b)
}

// basisProfit computes the economics of a basis-convergence trade held for
// holdPeriods funding periods. The convergence payoff assumes the basis
// fully closes; funding collected (or paid, when the rate is negative)
// over the holding window is added on top.
func basisProfit(size, basis, fundingRate float64, holdPeriods int, spotTaker, futTaker, spotMaker, futMaker, spotSlip, futSlip float64) domain.CostBreakdown {
	b := domain.CostBreakdown{
		BasisIncome:   size * abs(basis),
		FundingIncome: size * fundingRate * float64(holdPeriods),
		OpenFees:      size*spotTaker + size*futTaker,
		CloseFees:     size*spotMaker + size*futMaker,
		Slippage:      spotSlip + futSlip,
	}
	return finish(size, b)
}

// directionalProfit computes the single-period economics of an unhedged
// perp leg taken to collect funding.
func directionalProfit(size, fundingRate, taker, maker, slip float64) domain.CostBreakdown {
	b := domain.CostBreakdown{
		FundingIncome: size * abs(fundingRate),
		OpenFees:      size * taker,
		CloseFees:     size * maker,
		Slippage:      slip,
	}
	return finish(size, b)
}

func finish(size float64, b domain.CostBreakdown) domain.CostBreakdown {
	b.TotalCost = b.OpenFees + b.CloseFees + b.Slippage
	b.NetProfit = b.FundingIncome + b.BasisIncome - b.TotalCost
	if size > 0 {
		b.NetProfitPct = b.NetProfit / size
	}
	return b
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
