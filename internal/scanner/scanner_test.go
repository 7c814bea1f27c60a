package scanner

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/arbd/internal/cache/memory"
	"github.com/alanyoungcy/arbd/internal/config"
	"github.com/alanyoungcy/arbd/internal/domain"
	storemem "github.com/alanyoungcy/arbd/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProvider(t *testing.T, mutate func(*config.Config)) *config.Provider {
	t.Helper()
	cfg := config.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())
	return config.NewProvider(&cfg, testLogger())
}

// fixtureSnapshots builds a three-venue book for one symbol:
//   - binance: perp only, low funding
//   - bybit: spot+perp, high funding, tight basis
//   - okx: spot+perp, negative funding, wide basis
func fixtureSnapshots() *cachemem.SnapshotStore {
	snaps := cachemem.NewSnapshotStore()
	snaps.Put(domain.MarketSnapshot{
		Exchange:     "binance",
		Symbol:       "BTCUSDT",
		FuturesBid:   49990,
		FuturesAsk:   50000,
		FundingRate:  0.0001,
		FuturesDepth: 200_000,
		MakerFee:     0.0002,
		TakerFee:     0.0005,
	})
	snaps.Put(domain.MarketSnapshot{
		Exchange:     "bybit",
		Symbol:       "BTCUSDT",
		SpotBid:      50000,
		SpotAsk:      50005,
		FuturesBid:   50010,
		FuturesAsk:   50020,
		FundingRate:  0.0025,
		SpotDepth:    200_000,
		FuturesDepth: 200_000,
		MakerFee:     0.0002,
		TakerFee:     0.0005,
	})
	snaps.Put(domain.MarketSnapshot{
		Exchange:     "okx",
		Symbol:       "BTCUSDT",
		SpotBid:      49995,
		SpotAsk:      50000,
		FuturesBid:   51500,
		FuturesAsk:   51510,
		FundingRate:  -0.003,
		SpotDepth:    200_000,
		FuturesDepth: 200_000,
		MakerFee:     0.0002,
		TakerFee:     0.0005,
	})
	return snaps
}

func TestScanDetectsEveryStrategyKind(t *testing.T) {
	s := New(fixtureSnapshots(), testProvider(t, nil), nil, nil, nil, nil, testLogger())

	opps, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opps)

	byID := make(map[string]domain.Opportunity, len(opps))
	kinds := make(map[domain.StrategyKind]int)
	for _, o := range opps {
		byID[o.ID] = o
		kinds[o.Kind]++
	}

	require.Contains(t, byID, "s1_BTCUSDT_binance_bybit")
	require.Contains(t, byID, "s2a_BTCUSDT_bybit")
	require.Contains(t, byID, "s2b_BTCUSDT_okx")
	require.Contains(t, byID, "s3_BTCUSDT_bybit")
	require.Contains(t, byID, "s3_BTCUSDT_okx")

	cross := byID["s1_BTCUSDT_binance_bybit"]
	assert.Equal(t, []string{"binance", "bybit"}, cross.Venues)
	assert.Equal(t, domain.RiskLow, cross.RiskLevel)
	detail, ok := cross.Detail.(domain.CrossExchangeDetail)
	require.True(t, ok)
	// binance carries the lower rate, so it is the long venue.
	assert.Equal(t, "binance", detail.LongExchange)
	assert.Equal(t, "bybit", detail.ShortExchange)
	assert.InDelta(t, 0.0024, detail.FundingDiff, 1e-12)

	// Positive funding shorts the perp, negative funding longs it.
	short := byID["s3_BTCUSDT_bybit"].Detail.(domain.DirectionalDetail)
	assert.Equal(t, domain.SideSell, short.Direction)
	assert.Equal(t, 50010.0, short.EntryPrice)
	long := byID["s3_BTCUSDT_okx"].Detail.(domain.DirectionalDetail)
	assert.Equal(t, domain.SideBuy, long.Direction)
	assert.Equal(t, 51510.0, long.EntryPrice)

	// Basis at okx is ~3%, wide enough to grade high risk.
	basis := byID["s2b_BTCUSDT_okx"]
	assert.Equal(t, domain.RiskHigh, basis.RiskLevel)

	for _, o := range opps {
		assert.Equal(t, domain.OpportunityPending, o.Status)
		assert.GreaterOrEqual(t, o.Score, 0.0)
		assert.LessOrEqual(t, o.Score, 100.0)
	}
	_ = kinds
}

func TestScanIsDeterministic(t *testing.T) {
	snaps := fixtureSnapshots()
	s := New(snaps, testProvider(t, nil), nil, nil, nil, nil, testLogger())

	first, err := s.Scan(context.Background())
	require.NoError(t, err)
	second, err := s.Scan(context.Background())
	require.NoError(t, err)

	normalize := func(opps []domain.Opportunity) []domain.Opportunity {
		out := make([]domain.Opportunity, len(opps))
		copy(out, opps)
		for i := range out {
			out[i].DetectedAt = time.Time{}
		}
		return out
	}
	assert.Equal(t, normalize(first), normalize(second))
}

func TestScanFilters(t *testing.T) {
	t.Run("funding diff below minimum", func(t *testing.T) {
		p := testProvider(t, func(c *config.Config) {
			c.Strategy.CrossExchange.MinFundingDiff = 0.01
		})
		s := New(fixtureSnapshots(), p, nil, nil, nil, nil, testLogger())
		opps, err := s.Scan(context.Background())
		require.NoError(t, err)
		for _, o := range opps {
			assert.NotEqual(t, domain.KindCrossExchangeFunding, o.Kind)
		}
	})

	t.Run("price divergence above maximum", func(t *testing.T) {
		p := testProvider(t, func(c *config.Config) {
			c.Strategy.CrossExchange.MaxPriceDiff = 0.0001
		})
		s := New(fixtureSnapshots(), p, nil, nil, nil, nil, testLogger())
		opps, err := s.Scan(context.Background())
		require.NoError(t, err)
		for _, o := range opps {
			if o.Kind != domain.KindCrossExchangeFunding {
				continue
			}
			d := o.Detail.(domain.CrossExchangeDetail)
			assert.LessOrEqual(t, d.PriceDiffPct, 0.0001)
		}
	})

	t.Run("insufficient depth", func(t *testing.T) {
		p := testProvider(t, func(c *config.Config) {
			c.Global.LiquidityMultiple = 500
		})
		s := New(fixtureSnapshots(), p, nil, nil, nil, nil, testLogger())
		opps, err := s.Scan(context.Background())
		require.NoError(t, err)
		assert.Empty(t, opps)
	})

	t.Run("disabled strategy produces nothing", func(t *testing.T) {
		p := testProvider(t, func(c *config.Config) {
			c.Strategy.CrossExchange.Enabled = false
			c.Strategy.SpotFutures.Enabled = false
			c.Strategy.Basis.Enabled = false
			c.Strategy.Directional.Enabled = false
		})
		s := New(fixtureSnapshots(), p, nil, nil, nil, nil, testLogger())
		opps, err := s.Scan(context.Background())
		require.NoError(t, err)
		assert.Empty(t, opps)
	})
}

func TestScanSkipsUnavailableVenue(t *testing.T) {
	avail := availFunc(func(ex string) bool { return ex != "bybit" })
	s := New(fixtureSnapshots(), testProvider(t, nil), nil, nil, nil, avail, testLogger())

	opps, err := s.Scan(context.Background())
	require.NoError(t, err)
	for _, o := range opps {
		assert.NotContains(t, o.Venues, "bybit")
	}
}

func TestScanSkipsMissingData(t *testing.T) {
	snaps := fixtureSnapshots()
	snaps.Delete("bybit", "BTCUSDT")
	s := New(snaps, testProvider(t, nil), nil, nil, nil, nil, testLogger())

	opps, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opps)
	for _, o := range opps {
		assert.NotContains(t, o.Venues, "bybit")
	}
}

func TestPairOverrideChangesScanResult(t *testing.T) {
	enabled := false
	p := testProvider(t, func(c *config.Config) {
		c.Pairs = []config.PairOverride{{
			Symbol:   "BTCUSDT",
			Strategy: string(domain.KindCrossExchangeFunding),
			Enabled:  &enabled,
		}}
	})
	s := New(fixtureSnapshots(), p, nil, nil, nil, nil, testLogger())

	opps, err := s.Scan(context.Background())
	require.NoError(t, err)
	for _, o := range opps {
		assert.NotEqual(t, domain.KindCrossExchangeFunding, o.Kind)
	}
}

type availFunc func(string) bool

func (f availFunc) Available(ex string) bool { return f(ex) }

// evictingSink accepts every submit and reports the scripted entries as
// displaced, one per call.
type evictingSink struct {
	evict []domain.Opportunity
}

func (s *evictingSink) Submit(opp domain.Opportunity) (domain.Opportunity, bool) {
	if len(s.evict) == 0 {
		return domain.Opportunity{}, false
	}
	ev := s.evict[0]
	s.evict = s.evict[1:]
	return ev, true
}

func TestDispatchExpiresEvictedOpportunities(t *testing.T) {
	ctx := context.Background()
	store := storemem.NewOpportunityStore()

	stale := domain.Opportunity{
		ID:         "s1_ETHUSDT_binance_bybit",
		Kind:       domain.KindCrossExchangeFunding,
		Symbol:     "ETHUSDT",
		Status:     domain.OpportunityPending,
		DetectedAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.Record(ctx, stale))

	sink := &evictingSink{evict: []domain.Opportunity{stale}}
	s := New(fixtureSnapshots(), testProvider(t, nil), store, sink, nil, nil, testLogger())

	opps, err := s.Scan(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, opps)
	s.dispatch(ctx, opps[:1])

	// The entry the sink displaced is retired instead of lingering as
	// pending; the freshly submitted one is recorded as pending.
	recorded, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	byID := make(map[string]domain.Opportunity, len(recorded))
	for _, o := range recorded {
		byID[o.ID] = o
	}
	require.Contains(t, byID, stale.ID)
	assert.Equal(t, domain.OpportunityExpired, byID[stale.ID].Status)
	require.Contains(t, byID, opps[0].ID)
	assert.Equal(t, domain.OpportunityPending, byID[opps[0].ID].Status)
}
