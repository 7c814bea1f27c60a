// Package service holds the admission-control layer between the scanner
// and the position state machine.
package service

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbd/internal/config"
	"github.com/alanyoungcy/arbd/internal/domain"
)

// RiskGate decides whether an opportunity may open a position. Evaluation
// is a pure function of (opportunity, portfolio state, config snapshot):
// the gate keeps no state of its own, so the same inputs always produce
// the same decision.
type RiskGate struct {
	cfg    *config.Provider
	logger *slog.Logger
}

// NewRiskGate creates a RiskGate reading limits from the config provider.
func NewRiskGate(cfg *config.Provider, logger *slog.Logger) *RiskGate {
	return &RiskGate{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_gate")),
	}
}

// Evaluate runs the ordered admission checks against the portfolio. Checks
// run in a fixed order and the first failure becomes the rejection reason:
//
//  1. per-trade size ceiling
//  2. per-exchange exposure ceiling
//  3. aggregate capital utilization (with downsizing when headroom is
//     positive but smaller than the request)
//  4. per-strategy capital allocation
//  5. execution-mode routing
//
// Approved auto trades are rescaled by a score multiplier and the rescaled
// size is re-validated against checks 1-4; the final size never exceeds
// any configured ceiling.
func (g *RiskGate) Evaluate(opp domain.Opportunity, portfolio domain.PortfolioState) domain.Decision {
	snap := g.cfg.Current()
	cfg := snap.Config
	size := opp.Size

	reject := func(reason string) domain.Decision {
		g.logger.Warn("opportunity rejected",
			slog.String("opportunity", opp.ID),
			slog.String("reason", reason),
		)
		return domain.Decision{Action: domain.DecisionReject, Reason: reason}
	}

	// Check 1: per-trade size ceiling.
	if max := cfg.Risk.MaxTradeSize; max > 0 && size > max {
		return reject(fmt.Sprintf("trade size %.2f exceeds max %.2f", size, max))
	}

	// Check 2: per-exchange exposure ceiling.
	if max := cfg.Risk.MaxExchangeExposure; max > 0 {
		exposure := portfolio.ExchangeExposure()
		for _, venue := range opp.Venues {
			if exposure[venue]+size > max {
				return reject(fmt.Sprintf("exposure on %s would reach %.2f, max %.2f",
					venue, exposure[venue]+size, max))
			}
		}
	}

	// Check 3: aggregate capital utilization. A positive but insufficient
	// headroom downsizes the trade rather than rejecting it outright.
	if cfg.Global.MaxPositions > 0 && len(portfolio.Open) >= cfg.Global.MaxPositions {
		return reject(fmt.Sprintf("max open positions reached (%d)", cfg.Global.MaxPositions))
	}
	budget := portfolio.TotalCapital * cfg.Global.MaxCapitalUsage
	headroom := budget - portfolio.UsedCapital()
	if headroom <= 0 {
		return reject(fmt.Sprintf("capital budget exhausted (%.2f of %.2f used)",
			portfolio.UsedCapital(), budget))
	}
	if size > headroom {
		g.logger.Info("downsizing to capital headroom",
			slog.String("opportunity", opp.ID),
			slog.Float64("requested", size),
			slog.Float64("headroom", headroom),
		)
		size = headroom
	}

	// Check 4: per-strategy capital allocation.
	if pct, ok := cfg.Risk.AllocationPct[string(opp.Kind)]; ok && pct > 0 {
		allocated := portfolio.StrategyAllocation()[opp.Kind]
		limit := portfolio.TotalCapital * pct
		if allocated+size > limit {
			return reject(fmt.Sprintf("%s allocation would reach %.2f, limit %.2f",
				opp.Kind, allocated+size, limit))
		}
	}

	// Check 5: execution-mode routing. High-risk opportunities always need
	// explicit confirmation, as does everything while trading is disabled.
	params := snap.Pair(opp.Kind, opp.Symbol, firstVenue(opp.Venues))
	if opp.RiskLevel == domain.RiskHigh || opp.Kind == domain.KindBasisArbitrage {
		return domain.Decision{
			Action: domain.DecisionDeferManual,
			Reason: "high-risk strategy requires confirmation",
			Size:   size,
		}
	}
	if !cfg.Global.TradingEnabled {
		return domain.Decision{
			Action: domain.DecisionDeferManual,
			Reason: "trading disabled",
			Size:   size,
		}
	}
	if !params.Auto() {
		return domain.Decision{
			Action: domain.DecisionDeferManual,
			Reason: "execution mode is manual",
			Size:   size,
		}
	}

	// Score-based sizing, then re-validation so the rescaled size cannot
	// breach a ceiling the original size passed.
	size = g.capSize(size*scoreMultiplier(opp.Score), opp, portfolio, cfg)
	if size <= 0 {
		return reject("no executable size after rescaling")
	}

	return domain.Decision{Action: domain.DecisionApprove, Size: size}
}

// scoreMultiplier scales conviction with score: strong setups size up,
// marginal ones size down.
func scoreMultiplier(score float64) float64 {
	switch {
	case score > 85:
		return 1.5
	case score > 60:
		return 1.0
	default:
		return 0.5
	}
}

// capSize clamps size to every ceiling from checks 1-4 and returns the
// largest size all of them admit.
func (g *RiskGate) capSize(size float64, opp domain.Opportunity, portfolio domain.PortfolioState, cfg config.Config) float64 {
	if max := cfg.Risk.MaxTradeSize; max > 0 && size > max {
		size = max
	}
	if max := cfg.Risk.MaxExchangeExposure; max > 0 {
		exposure := portfolio.ExchangeExposure()
		for _, venue := range opp.Venues {
			if room := max - exposure[venue]; size > room {
				size = room
			}
		}
	}
	budget := portfolio.TotalCapital * cfg.Global.MaxCapitalUsage
	if room := budget - portfolio.UsedCapital(); size > room {
		size = room
	}
	if pct, ok := cfg.Risk.AllocationPct[string(opp.Kind)]; ok && pct > 0 {
		room := portfolio.TotalCapital*pct - portfolio.StrategyAllocation()[opp.Kind]
		if size > room {
			size = room
		}
	}
	if size < 0 {
		return 0
	}
	return size
}

func firstVenue(venues []string) string {
	if len(venues) == 0 {
		return ""
	}
	return venues[0]
}
