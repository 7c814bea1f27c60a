// Package scanner turns market snapshots into cost-adjusted, scored, and
// ranked arbitrage opportunities. A scan cycle is a pure function of the
// snapshot set and the active config snapshot: identical inputs produce
// identical ranked output, which keeps live scanning and backtests in
// parity.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbd/internal/config"
	"github.com/alanyoungcy/arbd/internal/domain"
)

// Sink receives opportunities promoted toward execution. Implementations
// apply their own backpressure policy; an entry displaced under backlog is
// handed back so the scanner can expire its record.
type Sink interface {
	Submit(opp domain.Opportunity) (evicted domain.Opportunity, ok bool)
}

// FeedPublisher receives the full ranked result of each scan cycle for
// read-only consumers (dashboard, bot).
type FeedPublisher interface {
	PublishOpportunities(opps []domain.Opportunity)
}

// Availability reports whether an exchange is currently usable. Exchanges
// behind an open circuit breaker are excluded from scanning.
type Availability interface {
	Available(exchange string) bool
}

// Scanner enumerates venue/strategy combinations on a fixed interval and
// emits scored opportunities.
type Scanner struct {
	snapshots domain.SnapshotStore
	cfg       *config.Provider
	slip      SlippageEstimator
	opps      domain.OpportunityStore
	sink      Sink
	feed      FeedPublisher
	avail     Availability
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Scanner. feed and avail may be nil; slip defaults to the
// tiered estimator when nil.
func New(
	snapshots domain.SnapshotStore,
	cfg *config.Provider,
	opps domain.OpportunityStore,
	sink Sink,
	feed FeedPublisher,
	avail Availability,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		snapshots: snapshots,
		cfg:       cfg,
		slip:      TieredSlippage{},
		opps:      opps,
		sink:      sink,
		feed:      feed,
		avail:     avail,
		logger:    logger.With(slog.String("component", "scanner")),
		now:       time.Now,
	}
}

// SetSlippageEstimator replaces the slippage model. Must be called before
// Run.
func (s *Scanner) SetSlippageEstimator(est SlippageEstimator) {
	s.slip = est
}

// Run executes scan cycles until the context is cancelled. The interval is
// re-read from the config provider each cycle so hot reloads take effect.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("scanner started")
	defer s.logger.Info("scanner stopped")

	for {
		interval := s.cfg.Current().Config.Global.ScanInterval.Duration
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		opps, err := s.Scan(ctx)
		if err != nil {
			s.logger.Error("scan cycle failed", slog.String("error", err.Error()))
			continue
		}

		s.logger.Info("scan cycle complete", slog.Int("opportunities", len(opps)))
		s.dispatch(ctx, opps)
	}
}

// dispatch records one cycle's output, hands it to the execution sink, and
// publishes the ranked list to the feed. An opportunity the sink displaces
// under backlog is marked expired; it was never acted on and its pricing
// is already stale.
func (s *Scanner) dispatch(ctx context.Context, opps []domain.Opportunity) {
	for _, opp := range opps {
		if s.opps != nil {
			if err := s.opps.Record(ctx, opp); err != nil {
				s.logger.Warn("record opportunity failed",
					slog.String("id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if s.sink == nil {
			continue
		}
		evicted, ok := s.sink.Submit(opp)
		if !ok || s.opps == nil {
			continue
		}
		if err := s.opps.UpdateStatus(ctx, evicted.ID, domain.OpportunityExpired); err != nil {
			s.logger.Warn("expire evicted opportunity failed",
				slog.String("id", evicted.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.feed != nil {
		s.feed.PublishOpportunities(opps)
	}
}

// Scan runs one cycle: enumerate, filter, cost, score, rank. It does not
// publish or persist; Run does that around it.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Opportunity, error) {
	snap := s.cfg.Current()
	detectedAt := s.now().UTC()

	symbols, err := s.snapshots.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: list symbols: %w", err)
	}

	var out []domain.Opportunity
	for _, symbol := range symbols {
		exchanges, err := s.snapshots.Exchanges(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("scanner: list exchanges for %s: %w", symbol, err)
		}

		names := make([]string, 0, len(exchanges))
		data := make(map[string]domain.MarketSnapshot, len(exchanges))
		for _, ex := range exchanges {
			if s.avail != nil && !s.avail.Available(ex) {
				continue
			}
			ms, err := s.snapshots.Get(ctx, ex, symbol)
			if err != nil {
				if errors.Is(err, domain.ErrDataUnavailable) {
					continue
				}
				return nil, fmt.Errorf("scanner: snapshot %s/%s: %w", ex, symbol, err)
			}
			names = append(names, ex)
			data[ex] = ms
		}
		if len(names) == 0 {
			continue
		}

		out = append(out, s.crossExchange(snap, symbol, names, data, detectedAt)...)
		out = append(out, s.spotFutures(snap, symbol, names, data, detectedAt)...)
		out = append(out, s.basis(snap, symbol, names, data, detectedAt)...)
		out = append(out, s.directional(snap, symbol, names, data, detectedAt)...)
	}

	Rank(out)
	return out, nil
}

// crossExchange finds funding-rate differentials across every unordered
// pair of perp venues. The low-rate venue is taken long, the high-rate
// venue short.
func (s *Scanner) crossExchange(snap *config.Snapshot, symbol string, names []string, data map[string]domain.MarketSnapshot, detectedAt time.Time) []domain.Opportunity {
	var opps []domain.Opportunity
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := data[names[i]], data[names[j]]
			if !a.HasFutures() || !b.HasFutures() {
				continue
			}

			long, short := a, b
			if long.FundingRate > short.FundingRate {
				long, short = short, long
			}

			params := snap.Pair(domain.KindCrossExchangeFunding, symbol, "")
			if !params.Enabled {
				continue
			}

			diff := short.FundingRate - long.FundingRate
			if diff < params.MinFundingDiff {
				continue
			}

			longPrice := long.FuturesAsk
			shortPrice := short.FuturesBid
			if longPrice <= 0 {
				continue
			}
			priceDiffPct := abs(longPrice-shortPrice) / longPrice
			if priceDiffPct > params.MaxPriceDiff {
				continue
			}

			size := params.PositionSize
			if !s.liquid(size, params.LiquidityMultiple, long.FuturesDepth, short.FuturesDepth) {
				continue
			}

			breakdown := crossExchangeProfit(size,
				short.FundingRate, long.FundingRate,
				long.TakerFee, short.TakerFee,
				long.MakerFee, short.MakerFee,
				s.slip.Estimate(long.FuturesDepth, size),
				s.slip.Estimate(short.FuturesDepth, size),
			)
			if breakdown.NetProfitPct < params.MinProfitRate {
				continue
			}

			annualDiff := diff * long.FundingPeriodsPerDay() * 365

			opps = append(opps, domain.Opportunity{
				ID:                fmt.Sprintf("s1_%s_%s_%s", symbol, long.Exchange, short.Exchange),
				Kind:              domain.KindCrossExchangeFunding,
				RiskLevel:         domain.RiskLow,
				Symbol:            symbol,
				Venues:            []string{long.Exchange, short.Exchange},
				Size:              size,
				ExpectedReturn:    breakdown.NetProfit,
				ExpectedReturnPct: breakdown.NetProfitPct,
				Score:             Score(breakdown.NetProfitPct, priceDiffPct, annualDiff),
				Detail: domain.CrossExchangeDetail{
					LongExchange:      long.Exchange,
					ShortExchange:     short.Exchange,
					FundingDiff:       diff,
					AnnualFundingDiff: annualDiff,
					LongEntryPrice:    longPrice,
					ShortEntryPrice:   shortPrice,
					PriceDiffPct:      priceDiffPct,
					Breakdown:         breakdown,
				},
				DetectedAt: detectedAt,
				Status:     domain.OpportunityPending,
			})
		}
	}
	return opps
}

// spotFutures finds same-venue funding carries: buy spot, short the perp.
func (s *Scanner) spotFutures(snap *config.Snapshot, symbol string, names []string, data map[string]domain.MarketSnapshot, detectedAt time.Time) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, ex := range names {
		ms := data[ex]
		if !ms.HasSpot() || !ms.HasFutures() {
			continue
		}

		params := snap.Pair(domain.KindSpotFuturesFunding, symbol, ex)
		if !params.Enabled {
			continue
		}

		annual := ms.FundingRate * ms.FundingPeriodsPerDay() * 365
		if annual < params.MinAnnualFunding {
			continue
		}

		basis := ms.Basis()
		if abs(basis) > params.MaxBasisDeviation {
			continue
		}

		size := params.PositionSize
		if !s.liquid(size, params.LiquidityMultiple, ms.SpotDepth, ms.FuturesDepth) {
			continue
		}

		breakdown := spotFuturesProfit(size,
			ms.FundingRate,
			ms.TakerFee, ms.TakerFee,
			ms.MakerFee, ms.MakerFee,
			s.slip.Estimate(ms.SpotDepth, size),
			s.slip.Estimate(ms.FuturesDepth, size),
		)
		if breakdown.NetProfitPct <= 0 {
			continue
		}

		opps = append(opps, domain.Opportunity{
			ID:                fmt.Sprintf("s2a_%s_%s", symbol, ex),
			Kind:              domain.KindSpotFuturesFunding,
			RiskLevel:         domain.RiskLow,
			Symbol:            symbol,
			Venues:            []string{ex},
			Size:              size,
			ExpectedReturn:    breakdown.NetProfit,
			ExpectedReturnPct: breakdown.NetProfitPct,
			Score:             Score(breakdown.NetProfitPct, abs(basis), annual),
			Detail: domain.SpotFuturesDetail{
				Exchange:          ex,
				AnnualFundingRate: annual,
				Basis:             basis,
				SpotEntryPrice:    ms.SpotAsk,
				FuturesEntryPrice: ms.FuturesBid,
				Breakdown:         breakdown,
			},
			DetectedAt: detectedAt,
			Status:     domain.OpportunityPending,
		})
	}
	return opps
}

// basis finds futures-premium convergence trades. Only a positive basis
// (futures over spot) qualifies; discounts would require the inverse
// structure.
func (s *Scanner) basis(snap *config.Snapshot, symbol string, names []string, data map[string]domain.MarketSnapshot, detectedAt time.Time) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, ex := range names {
		ms := data[ex]
		if !ms.HasSpot() || !ms.HasFutures() {
			continue
		}

		params := snap.Pair(domain.KindBasisArbitrage, symbol, ex)
		if !params.Enabled {
			continue
		}

		basis := ms.Basis()
		if basis < params.MinBasis {
			continue
		}

		size := params.PositionSize
		if !s.liquid(size, params.LiquidityMultiple, ms.SpotDepth, ms.FuturesDepth) {
			continue
		}

		breakdown := basisProfit(size,
			basis, ms.FundingRate, params.HoldPeriods,
			ms.TakerFee, ms.TakerFee,
			ms.MakerFee, ms.MakerFee,
			s.slip.Estimate(ms.SpotDepth, size),
			s.slip.Estimate(ms.FuturesDepth, size),
		)
		if breakdown.NetProfitPct <= 0 {
			continue
		}

		risk := domain.RiskHigh
		if abs(basis) < 0.03 {
			risk = domain.RiskMedium
		}

		opps = append(opps, domain.Opportunity{
			ID:                fmt.Sprintf("s2b_%s_%s", symbol, ex),
			Kind:              domain.KindBasisArbitrage,
			RiskLevel:         risk,
			Symbol:            symbol,
			Venues:            []string{ex},
			Size:              size,
			ExpectedReturn:    breakdown.NetProfit,
			ExpectedReturnPct: breakdown.NetProfitPct,
			Score:             Score(breakdown.NetProfitPct, abs(basis), 0),
			Detail: domain.BasisDetail{
				Exchange:          ex,
				Basis:             basis,
				FundingRate:       ms.FundingRate,
				HoldPeriods:       params.HoldPeriods,
				SpotEntryPrice:    ms.SpotAsk,
				FuturesEntryPrice: ms.FuturesBid,
				Breakdown:         breakdown,
			},
			DetectedAt: detectedAt,
			Status:     domain.OpportunityPending,
		})
	}
	return opps
}

// directional finds unhedged funding momentum trades: short when the rate
// is positive enough, long when negative enough.
func (s *Scanner) directional(snap *config.Snapshot, symbol string, names []string, data map[string]domain.MarketSnapshot, detectedAt time.Time) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, ex := range names {
		ms := data[ex]
		if !ms.HasFutures() {
			continue
		}

		params := snap.Pair(domain.KindDirectionalFunding, symbol, ex)
		if !params.Enabled {
			continue
		}

		if abs(ms.FundingRate) < params.MinFundingRate {
			continue
		}

		direction := domain.SideSell
		entry := ms.FuturesBid
		if ms.FundingRate < 0 {
			direction = domain.SideBuy
			entry = ms.FuturesAsk
		}

		size := params.PositionSize
		if !s.liquid(size, params.LiquidityMultiple, ms.FuturesDepth) {
			continue
		}

		breakdown := directionalProfit(size,
			ms.FundingRate, ms.TakerFee, ms.MakerFee,
			s.slip.Estimate(ms.FuturesDepth, size),
		)
		if breakdown.NetProfitPct <= 0 {
			continue
		}

		annual := abs(ms.FundingRate) * ms.FundingPeriodsPerDay() * 365

		opps = append(opps, domain.Opportunity{
			ID:                fmt.Sprintf("s3_%s_%s", symbol, ex),
			Kind:              domain.KindDirectionalFunding,
			RiskLevel:         domain.RiskMedium,
			Symbol:            symbol,
			Venues:            []string{ex},
			Size:              size,
			ExpectedReturn:    breakdown.NetProfit,
			ExpectedReturnPct: breakdown.NetProfitPct,
			Score:             Score(breakdown.NetProfitPct, 0, annual),
			Detail: domain.DirectionalDetail{
				Exchange:    ex,
				Direction:   direction,
				FundingRate: ms.FundingRate,
				AnnualRate:  annual,
				EntryPrice:  entry,
				Breakdown:   breakdown,
			},
			DetectedAt: detectedAt,
			Status:     domain.OpportunityPending,
		})
	}
	return opps
}

// liquid applies the depth filter: every leg must have at least
// size×multiple notional resting near the top of book.
func (s *Scanner) liquid(size, multiple float64, depths ...float64) bool {
	for _, d := range depths {
		if d < size*multiple {
			return false
		}
	}
	return true
}
