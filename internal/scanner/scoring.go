package scanner

import (
	"math"
	"sort"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// Score combines net profitability, divergence risk, and a
// strategy-specific bonus signal into a single 0-100 ranking number.
//
// The profit component maps net return through a log10 curve so that
// returns across several orders of magnitude stay distinguishable
// (0.01% ≈ 5, 0.1% ≈ 25, 1% ≈ 45, 10% = 50). Each component saturates at
// its ceiling: profit 50, risk 30, bonus 20.
func Score(netProfitPct, riskFactor, bonusFactor float64) float64 {
	var profit float64
	if netProfitPct > 0 {
		profit = clamp(10+15*math.Log10(netProfitPct*10_000), 0, 50)
	}
	risk := clamp(30-riskFactor*1000, 0, 30)
	bonus := clamp(bonusFactor/10, 0, 20)
	return clamp(profit+risk+bonus, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Rank orders opportunities for consumption: score descending, then net
// return descending, then earliest detection. The final ID tie-break keeps
// the output a pure function of the inputs.
func Rank(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ExpectedReturnPct != b.ExpectedReturnPct {
			return a.ExpectedReturnPct > b.ExpectedReturnPct
		}
		if !a.DetectedAt.Equal(b.DetectedAt) {
			return a.DetectedAt.Before(b.DetectedAt)
		}
		return a.ID < b.ID
	})
}
