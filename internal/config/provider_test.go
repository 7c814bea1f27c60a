package config

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestPairResolutionTiers(t *testing.T) {
	symbolSize := 5_000.0
	venueSize := 3_000.0
	cfg := validConfig(t)
	cfg.Pairs = []PairOverride{
		{Symbol: "BTCUSDT", Strategy: string(domain.KindCrossExchangeFunding), PositionSize: &symbolSize},
		{Symbol: "BTCUSDT", Exchange: "binance", Strategy: string(domain.KindCrossExchangeFunding), PositionSize: &venueSize},
	}
	snap := &Snapshot{Version: 1, Config: cfg}

	// Symbol+exchange beats symbol-only beats the strategy default.
	assert.Equal(t, 3_000.0, snap.Pair(domain.KindCrossExchangeFunding, "BTCUSDT", "binance").PositionSize)
	assert.Equal(t, 5_000.0, snap.Pair(domain.KindCrossExchangeFunding, "BTCUSDT", "okx").PositionSize)
	assert.Equal(t, cfg.Strategy.CrossExchange.PositionSize,
		snap.Pair(domain.KindCrossExchangeFunding, "ETHUSDT", "binance").PositionSize)

	// Overrides scoped to one strategy leave the others alone.
	assert.Equal(t, cfg.Strategy.Directional.PositionSize,
		snap.Pair(domain.KindDirectionalFunding, "BTCUSDT", "binance").PositionSize)
}

func TestPairOverrideDisablesSymbol(t *testing.T) {
	disabled := false
	cfg := validConfig(t)
	cfg.Pairs = []PairOverride{{Symbol: "DOGEUSDT", Enabled: &disabled}}
	snap := &Snapshot{Version: 1, Config: cfg}

	// An override with no strategy scope applies to every kind.
	assert.False(t, snap.Pair(domain.KindCrossExchangeFunding, "DOGEUSDT", "binance").Enabled)
	assert.False(t, snap.Pair(domain.KindDirectionalFunding, "DOGEUSDT", "binance").Enabled)
	assert.True(t, snap.Pair(domain.KindCrossExchangeFunding, "BTCUSDT", "binance").Enabled)
}

func TestBasisExecutionModeIsAlwaysManual(t *testing.T) {
	auto := "auto"
	cfg := validConfig(t)
	cfg.Pairs = []PairOverride{
		{Symbol: "BTCUSDT", Strategy: string(domain.KindBasisArbitrage), ExecutionMode: &auto},
	}
	snap := &Snapshot{Version: 1, Config: cfg}

	assert.Equal(t, "manual", snap.Strategy(domain.KindBasisArbitrage).ExecutionMode)
	// Even an explicit per-pair override cannot promote basis to auto.
	assert.Equal(t, "manual", snap.Pair(domain.KindBasisArbitrage, "BTCUSDT", "okx").ExecutionMode)
}

func TestProviderReloadSwapsAtomically(t *testing.T) {
	cfg := validConfig(t)
	p := NewProvider(&cfg, testLogger())
	require.EqualValues(t, 1, p.Current().Version)

	var notified int64
	p.Subscribe(func(s *Snapshot) { notified = s.Version })

	next := validConfig(t)
	next.Global.MaxPositions = 3
	require.NoError(t, p.Reload(&next))

	cur := p.Current()
	assert.EqualValues(t, 2, cur.Version)
	assert.Equal(t, 3, cur.Config.Global.MaxPositions)
	assert.EqualValues(t, 2, notified)
}

func TestProviderReloadKeepsLastKnownGood(t *testing.T) {
	cfg := validConfig(t)
	p := NewProvider(&cfg, testLogger())

	bad := validConfig(t)
	bad.Global.TotalCapital = -1
	err := p.Reload(&bad)
	require.ErrorIs(t, err, domain.ErrConfigInconsistent)

	cur := p.Current()
	assert.EqualValues(t, 1, cur.Version)
	assert.Equal(t, cfg.Global.TotalCapital, cur.Config.Global.TotalCapital)
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative capital", func(c *Config) { c.Global.TotalCapital = -1 }},
		{"capital usage above one", func(c *Config) { c.Global.MaxCapitalUsage = 1.5 }},
		{"zero scan interval", func(c *Config) { c.Global.ScanInterval.Duration = 0 }},
		{"bad execution mode", func(c *Config) { c.Strategy.CrossExchange.ExecutionMode = "yolo" }},
		{"allocation above one", func(c *Config) { c.Risk.AllocationPct[string(domain.KindBasisArbitrage)] = 1.2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
