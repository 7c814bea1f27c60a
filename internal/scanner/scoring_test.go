package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/arbd/internal/domain"
)

func TestScoreComponents(t *testing.T) {
	// 0.1% net return maps to 25 profit points; zero risk keeps the full
	// 30-point risk component.
	assert.InDelta(t, 55.0, Score(0.001, 0, 0), 1e-9)

	// Profit saturates at 50 regardless of how large the return gets.
	assert.InDelta(t, 80.0, Score(10, 0, 0), 1e-9)

	// Risk factor of 5% burns the whole risk component.
	assert.InDelta(t, 25.0, Score(0.001, 0.05, 0), 1e-9)

	// Bonus saturates at 20.
	assert.InDelta(t, 75.0, Score(0.001, 0, 10_000), 1e-9)

	// Zero or negative profit contributes nothing.
	assert.InDelta(t, 30.0, Score(0, 0, 0), 1e-9)
	assert.InDelta(t, 30.0, Score(-0.01, 0, 0), 1e-9)
}

func TestScoreBounds(t *testing.T) {
	cases := []struct {
		profit, risk, bonus float64
	}{
		{0, 0, 0},
		{-1, 1, -1},
		{100, 0, 1e9},
		{1e-9, 0.5, 0},
		{0.001, 0.002, 120},
	}
	for _, tc := range cases {
		got := Score(tc.profit, tc.risk, tc.bonus)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 100.0)
	}
}

func TestRankOrdering(t *testing.T) {
	early := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Minute)

	opps := []domain.Opportunity{
		{ID: "d", Score: 50, ExpectedReturnPct: 0.001, DetectedAt: late},
		{ID: "c", Score: 50, ExpectedReturnPct: 0.001, DetectedAt: early},
		{ID: "a", Score: 80, ExpectedReturnPct: 0.001, DetectedAt: late},
		{ID: "b", Score: 50, ExpectedReturnPct: 0.002, DetectedAt: late},
		{ID: "e", Score: 50, ExpectedReturnPct: 0.001, DetectedAt: late},
	}
	Rank(opps)

	ids := make([]string, len(opps))
	for i, o := range opps {
		ids[i] = o.ID
	}
	// Score desc, then return desc, then earliest detection, then ID.
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
}

func TestTieredSlippage(t *testing.T) {
	est := TieredSlippage{}

	// Small orders relative to depth are free.
	assert.Zero(t, est.Estimate(100_000, 5_000))
	// Mid tier charges one basis point of size.
	assert.InDelta(t, 2.0, est.Estimate(100_000, 20_000), 1e-9)
	// Large orders pay five basis points.
	assert.InDelta(t, 30.0, est.Estimate(100_000, 60_000), 1e-9)
	// Unknown depth is priced like a large order.
	assert.InDelta(t, 5.0, est.Estimate(0, 10_000), 1e-9)
	// Zero size costs nothing.
	assert.Zero(t, est.Estimate(100_000, 0))
}

func TestCostBreakdownNetting(t *testing.T) {
	b := crossExchangeProfit(10_000, 0.0025, 0.0001, 0.0005, 0.0005, 0.0002, 0.0002, 0, 0)
	assert.InDelta(t, 24.0, b.FundingIncome, 1e-9)
	assert.InDelta(t, 10.0, b.OpenFees, 1e-9)
	assert.InDelta(t, 4.0, b.CloseFees, 1e-9)
	assert.InDelta(t, 10.0, b.NetProfit, 1e-9)
	assert.InDelta(t, 0.001, b.NetProfitPct, 1e-9)

	// Basis convergence pays the basis once plus funding per held period;
	// a negative rate is a cost.
	bb := basisProfit(8_000, 0.03, -0.003, 3, 0.0005, 0.0005, 0.0002, 0.0002, 0, 0)
	assert.InDelta(t, 240.0, bb.BasisIncome, 1e-9)
	assert.InDelta(t, -72.0, bb.FundingIncome, 1e-9)
	assert.InDelta(t, 156.8, bb.NetProfit, 1e-6)
}
