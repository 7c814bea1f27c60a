package config

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// Params is the resolved parameter set for one (strategy kind, symbol,
// exchange) combination after three-tier resolution: pair override >
// strategy default > global default. Fields not relevant to a kind keep
// their zero value.
type Params struct {
	Enabled       bool
	ExecutionMode string
	PositionSize  float64

	MinFundingDiff    float64
	MinProfitRate     float64
	MaxPriceDiff      float64
	MinAnnualFunding  float64
	MaxBasisDeviation float64
	MinBasis          float64
	MinFundingRate    float64

	ReversalThreshold  float64
	ShortExitThreshold float64
	LongExitThreshold  float64
	StopLossPct        float64

	TrailingEnabled       bool
	TrailingActivationPct float64
	TrailingCallbackPct   float64

	HoldPeriods       int
	MaxHoldPeriods    int
	MaxFundingPeriods int
	BasisCloseTarget  float64
	BasisAbort        float64

	LiquidityMultiple float64
}

// Auto reports whether the execution mode routes approved opportunities to
// automatic execution.
func (p Params) Auto() bool { return p.ExecutionMode == "auto" }

// Snapshot is one immutable, validated view of the configuration. Readers
// obtain a snapshot once per operation and never observe a partial reload.
type Snapshot struct {
	Version int64
	Config  Config
}

// Strategy resolves the default parameters for a strategy kind.
func (s *Snapshot) Strategy(kind domain.StrategyKind) Params {
	c := s.Config
	p := Params{LiquidityMultiple: c.Global.LiquidityMultiple}
	switch kind {
	case domain.KindCrossExchangeFunding:
		sc := c.Strategy.CrossExchange
		p.Enabled = sc.Enabled
		p.ExecutionMode = sc.ExecutionMode
		p.PositionSize = sc.PositionSize
		p.MinFundingDiff = sc.MinFundingDiff
		p.MinProfitRate = sc.MinProfitRate
		p.MaxPriceDiff = sc.MaxPriceDiff
		p.ReversalThreshold = sc.ReversalThreshold
		p.MaxHoldPeriods = sc.MaxHoldPeriods
		p.MaxFundingPeriods = sc.MaxFundingPeriods
	case domain.KindSpotFuturesFunding:
		sc := c.Strategy.SpotFutures
		p.Enabled = sc.Enabled
		p.ExecutionMode = sc.ExecutionMode
		p.PositionSize = sc.PositionSize
		p.MinAnnualFunding = sc.MinAnnualFunding
		p.MaxBasisDeviation = sc.MaxBasisDeviation
		p.ReversalThreshold = sc.ReversalThreshold
		p.MaxHoldPeriods = sc.MaxHoldPeriods
		p.MaxFundingPeriods = sc.MaxFundingPeriods
	case domain.KindBasisArbitrage:
		sc := c.Strategy.Basis
		p.Enabled = sc.Enabled
		// Basis-convergence trades always require explicit confirmation.
		p.ExecutionMode = "manual"
		p.PositionSize = sc.PositionSize
		p.MinBasis = sc.MinBasis
		p.HoldPeriods = sc.HoldPeriods
		p.MaxHoldPeriods = sc.MaxHoldPeriods
		p.BasisCloseTarget = sc.CloseTarget
		p.BasisAbort = sc.AbortThreshold
	case domain.KindDirectionalFunding:
		sc := c.Strategy.Directional
		p.Enabled = sc.Enabled
		p.ExecutionMode = sc.ExecutionMode
		p.PositionSize = sc.PositionSize
		p.MinFundingRate = sc.MinFundingRate
		p.StopLossPct = sc.StopLossPct
		p.ShortExitThreshold = sc.ShortExitThreshold
		p.LongExitThreshold = sc.LongExitThreshold
		p.TrailingEnabled = sc.TrailingEnabled
		p.TrailingActivationPct = sc.TrailingActivationPct
		p.TrailingCallbackPct = sc.TrailingCallbackPct
	}
	return p
}

// Pair resolves parameters for a (kind, symbol, exchange) combination.
// Overrides scoped to both symbol and exchange win over symbol-only
// overrides, which win over the strategy defaults.
func (s *Snapshot) Pair(kind domain.StrategyKind, symbol, exchange string) Params {
	p := s.Strategy(kind)

	apply := func(o PairOverride) {
		if o.Enabled != nil {
			p.Enabled = *o.Enabled
		}
		if o.ExecutionMode != nil && kind != domain.KindBasisArbitrage {
			p.ExecutionMode = *o.ExecutionMode
		}
		if o.PositionSize != nil {
			p.PositionSize = *o.PositionSize
		}
		if o.MinFundingDiff != nil {
			p.MinFundingDiff = *o.MinFundingDiff
		}
		if o.MinAnnualFunding != nil {
			p.MinAnnualFunding = *o.MinAnnualFunding
		}
		if o.MinBasis != nil {
			p.MinBasis = *o.MinBasis
		}
		if o.StopLossPct != nil {
			p.StopLossPct = *o.StopLossPct
		}
		if o.TrailingActivationPct != nil {
			p.TrailingActivationPct = *o.TrailingActivationPct
		}
		if o.TrailingCallbackPct != nil {
			p.TrailingCallbackPct = *o.TrailingCallbackPct
		}
	}

	// Symbol-wide overrides first, then the more specific symbol+exchange.
	for _, o := range s.Config.Pairs {
		if o.Symbol != symbol || o.Exchange != "" {
			continue
		}
		if o.Strategy == "" || o.Strategy == string(kind) {
			apply(o)
		}
	}
	for _, o := range s.Config.Pairs {
		if o.Symbol != symbol || o.Exchange == "" || o.Exchange != exchange {
			continue
		}
		if o.Strategy == "" || o.Strategy == string(kind) {
			apply(o)
		}
	}
	return p
}

// Provider owns the current configuration snapshot and swaps it atomically
// on hot reload. An invalid reload keeps the last-known-good snapshot in
// place and reports ErrConfigInconsistent.
type Provider struct {
	cur    atomic.Pointer[Snapshot]
	logger *slog.Logger

	mu   sync.Mutex
	subs []func(*Snapshot)
	next int64
}

// NewProvider creates a Provider seeded with cfg. The config must already
// be validated.
func NewProvider(cfg *Config, logger *slog.Logger) *Provider {
	p := &Provider{
		logger: logger.With(slog.String("component", "config_provider")),
		next:   1,
	}
	p.cur.Store(&Snapshot{Version: 1, Config: *cfg})
	return p
}

// Current returns the active snapshot. The returned value is immutable;
// callers must not retain it across loop iterations if they want to pick
// up reloads.
func (p *Provider) Current() *Snapshot {
	return p.cur.Load()
}

// Subscribe registers fn to be called with each new snapshot after a
// successful reload. Callbacks run synchronously on the reloading
// goroutine and must be fast.
func (p *Provider) Subscribe(fn func(*Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

// Reload validates cfg and, if consistent, publishes it as the new
// snapshot. On validation failure the previous snapshot stays active.
func (p *Provider) Reload(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		p.logger.Error("config reload rejected, keeping last known good",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", domain.ErrConfigInconsistent, err)
	}

	p.mu.Lock()
	p.next++
	snap := &Snapshot{Version: p.next, Config: *cfg}
	p.cur.Store(snap)
	subs := make([]func(*Snapshot), len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	p.logger.Info("config reloaded",
		slog.Int64("version", snap.Version),
		slog.Time("at", time.Now().UTC()),
	)
	for _, fn := range subs {
		fn(snap)
	}
	return nil
}
