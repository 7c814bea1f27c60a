package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/arbd/internal/cache/memory"
	"github.com/alanyoungcy/arbd/internal/config"
	"github.com/alanyoungcy/arbd/internal/domain"
	"github.com/alanyoungcy/arbd/internal/exchange"
	storemem "github.com/alanyoungcy/arbd/internal/store/memory"
)

// venueMap is a mutable Venues implementation so tests can swap a healthy
// client for a failing one mid-lifecycle.
type venueMap map[string]exchange.Client

func (v venueMap) Get(name string) (exchange.Client, error) {
	c, ok := v[name]
	if !ok {
		return nil, errors.New("unknown venue " + name)
	}
	return c, nil
}

// failingClient rejects every call with a fixed error.
type failingClient struct {
	name string
	err  error
}

func (f *failingClient) Name() string { return f.name }
func (f *failingClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	return exchange.Order{}, f.err
}
func (f *failingClient) CancelOrder(ctx context.Context, orderID string) error { return f.err }
func (f *failingClient) GetOrderStatus(ctx context.Context, orderID string) (exchange.Order, error) {
	return exchange.Order{}, f.err
}

// countingClient counts orders placed through the wrapped client.
type countingClient struct {
	exchange.Client
	mu     sync.Mutex
	placed int
}

func (c *countingClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	c.mu.Lock()
	c.placed++
	c.mu.Unlock()
	return c.Client.PlaceOrder(ctx, req)
}

func (c *countingClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placed
}

type fixture struct {
	machine *Machine
	snaps   *cachemem.SnapshotStore
	venues  venueMap
	store   *storemem.PositionStore
	risks   *storemem.RiskEventStore
}

func newFixture(t *testing.T, venues ...string) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Global.TradingEnabled = true
	require.NoError(t, cfg.Validate())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		snaps:  cachemem.NewSnapshotStore(),
		venues: venueMap{},
		store:  storemem.NewPositionStore(),
		risks:  storemem.NewRiskEventStore(),
	}
	for _, v := range venues {
		f.venues[v] = exchange.NewSimClient(v, f.snaps)
	}
	f.machine = NewMachine(
		config.NewProvider(&cfg, logger),
		f.snaps, f.venues, f.store, f.risks,
		cachemem.NewLeaseManager(), nil, nil, logger,
	)
	return f
}

// mustGet reads the persisted state of a position; monitor ticks work on
// private copies, so the store is where their results land.
func mustGet(t *testing.T, f *fixture, id string) domain.Position {
	t.Helper()
	pos, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return pos
}

// flatSnapshot prices every book level at px so spreads contribute no pnl.
func flatSnapshot(venue string, px, fundingRate float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Exchange:        venue,
		Symbol:          "BTCUSDT",
		SpotBid:         px,
		SpotAsk:         px,
		SpotPrice:       px,
		FuturesBid:      px,
		FuturesAsk:      px,
		FuturesPrice:    px,
		FundingRate:     fundingRate,
		NextFundingTime: time.Now().Add(100 * time.Hour),
	}
}

func directionalOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:     "s3_BTCUSDT_sim",
		Kind:   domain.KindDirectionalFunding,
		Symbol: "BTCUSDT",
		Venues: []string{"sim"},
		Size:   100,
		Detail: domain.DirectionalDetail{
			Exchange:    "sim",
			Direction:   domain.SideSell,
			FundingRate: 0.001,
			EntryPrice:  100,
		},
	}
}

func spotFuturesOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:     "s2a_BTCUSDT_sim",
		Kind:   domain.KindSpotFuturesFunding,
		Symbol: "BTCUSDT",
		Venues: []string{"sim"},
		Size:   100,
		Detail: domain.SpotFuturesDetail{
			Exchange:          "sim",
			SpotEntryPrice:    100,
			FuturesEntryPrice: 100,
		},
	}
}

func TestOpenFillsAllLegs(t *testing.T) {
	f := newFixture(t, "sim")
	f.snaps.Put(flatSnapshot("sim", 100, 0.001))

	pos, err := f.machine.Open(context.Background(), spotFuturesOpp(), 100)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.True(t, pos.AllLegsFilled())
	assert.Len(t, pos.Legs, 2)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.True(t, f.machine.HasOpen(pos.Key()))

	stored, err := f.store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, stored.Status)
}

func TestOpenUnwindsOnLegFailure(t *testing.T) {
	f := newFixture(t, "alpha", "beta")
	f.snaps.Put(flatSnapshot("alpha", 100, 0.0001))
	f.snaps.Put(flatSnapshot("beta", 100, 0.0025))
	f.venues["beta"].(*exchange.SimClient).FailNext = domain.ErrOrderRejected

	opp := domain.Opportunity{
		ID:     "s1_BTCUSDT_alpha_beta",
		Kind:   domain.KindCrossExchangeFunding,
		Symbol: "BTCUSDT",
		Venues: []string{"alpha", "beta"},
		Size:   100,
		Detail: domain.CrossExchangeDetail{
			LongExchange:    "alpha",
			ShortExchange:   "beta",
			LongEntryPrice:  100,
			ShortEntryPrice: 100,
		},
	}

	_, err := f.machine.Open(context.Background(), opp, 100)
	require.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.False(t, f.machine.HasOpen(opp.Key()))

	// The failure is recorded as a critical risk event pointing at the
	// terminal position.
	events, err := f.risks.ListSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.RiskEventCritical, events[0].Level)
	assert.Equal(t, "execution_failed", events[0].Type)

	stored, err := f.store.GetByID(context.Background(), events[0].PositionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpenFailed, stored.Status)
	// The first leg filled and was unwound.
	assert.False(t, stored.Legs[0].Filled)

	// The lease was released: a retry can open cleanly.
	pos, err := f.machine.Open(context.Background(), opp, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, pos.Status)
}

func TestOpenConcurrentSameKeySingleWinner(t *testing.T) {
	f := newFixture(t, "sim")
	f.snaps.Put(flatSnapshot("sim", 100, 0.001))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.machine.Open(context.Background(), directionalOpp(), 100)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, domain.ErrLockHeld)
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
}

func TestTrailingStopLifecycle(t *testing.T) {
	f := newFixture(t, "sim")
	f.snaps.Put(flatSnapshot("sim", 100, 0.001))

	pos, err := f.machine.Open(context.Background(), directionalOpp(), 100)
	require.NoError(t, err)
	require.Equal(t, 100.0, pos.EntryPrice)

	ctx := context.Background()

	// Price drops to 95: a short is up 5%, clearing the 4% activation.
	f.snaps.Put(flatSnapshot("sim", 95, 0.001))
	f.machine.Tick(ctx)
	cur := mustGet(t, f, pos.ID)
	assert.Equal(t, domain.PositionOpen, cur.Status)
	assert.True(t, cur.TrailingActivated)
	assert.Equal(t, 95.0, cur.BestPrice)

	// Rebound to 96.5 is a 1.58% retracement, below the 4% callback.
	f.snaps.Put(flatSnapshot("sim", 96.5, 0.001))
	f.machine.Tick(ctx)
	cur = mustGet(t, f, pos.ID)
	assert.Equal(t, domain.PositionOpen, cur.Status)
	assert.Equal(t, 95.0, cur.BestPrice)

	// Rebound to 99.5 retraces 4.7% from the best price: take profit.
	f.snaps.Put(flatSnapshot("sim", 99.5, 0.001))
	f.machine.Tick(ctx)
	cur = mustGet(t, f, pos.ID)
	assert.Equal(t, domain.PositionClosed, cur.Status)
	assert.Equal(t, domain.CloseTrailingStopProfit, cur.CloseReason)
	assert.True(t, cur.AllLegsClosed())
	// Short from 100, closed at 99.5.
	assert.InDelta(t, 0.5, cur.RealizedPnL, 1e-9)
	assert.False(t, f.machine.HasOpen(pos.Key()))
}

func TestStopLossBeatsTrailing(t *testing.T) {
	f := newFixture(t, "sim")
	f.snaps.Put(flatSnapshot("sim", 100, 0.001))

	pos, err := f.machine.Open(context.Background(), directionalOpp(), 100)
	require.NoError(t, err)

	ctx := context.Background()

	f.snaps.Put(flatSnapshot("sim", 95, 0.001))
	f.machine.Tick(ctx)
	require.True(t, mustGet(t, f, pos.ID).TrailingActivated)

	// A violent reversal through the entry: the 6% loss trips the stop
	// before the trailing retracement is even considered.
	f.snaps.Put(flatSnapshot("sim", 106, 0.001))
	f.machine.Tick(ctx)
	cur := mustGet(t, f, pos.ID)
	assert.Equal(t, domain.PositionClosed, cur.Status)
	assert.Equal(t, domain.CloseStopLoss, cur.CloseReason)
}

func TestFundingReversalCloses(t *testing.T) {
	f := newFixture(t, "sim")
	f.snaps.Put(flatSnapshot("sim", 100, 0.001))

	pos, err := f.machine.Open(context.Background(), spotFuturesOpp(), 100)
	require.NoError(t, err)

	// The rate flips negative: the carry now pays the market.
	f.snaps.Put(flatSnapshot("sim", 100, -0.001))
	f.machine.Tick(context.Background())

	cur := mustGet(t, f, pos.ID)
	assert.Equal(t, domain.PositionClosed, cur.Status)
	assert.Equal(t, domain.CloseFundingReversal, cur.CloseReason)
}

func TestFundingAccrual(t *testing.T) {
	f := newFixture(t, "sim")
	snap := flatSnapshot("sim", 100, 0.001)
	snap.NextFundingTime = time.Now().Add(150 * time.Millisecond)
	f.snaps.Put(snap)

	pos, err := f.machine.Open(context.Background(), spotFuturesOpp(), 100)
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	f.machine.Tick(context.Background())

	// The short perp leg collects rate x size once per settlement.
	cur := mustGet(t, f, pos.ID)
	assert.Equal(t, 1, cur.FundingPeriods)
	assert.InDelta(t, 0.1, cur.FundingCollected, 1e-9)
	assert.Equal(t, domain.PositionOpen, cur.Status)
	assert.True(t, cur.NextFundingAt.After(time.Now()))
}

func TestCloseRetriesAreBounded(t *testing.T) {
	f := newFixture(t, "sim")
	f.snaps.Put(flatSnapshot("sim", 100, 0.001))

	pos, err := f.machine.Open(context.Background(), spotFuturesOpp(), 100)
	require.NoError(t, err)

	ctx := context.Background()

	// The venue goes dark before the close.
	f.venues["sim"] = &failingClient{name: "sim", err: domain.ErrNetwork}

	require.NoError(t, f.machine.RequestClose(ctx, pos.ID))
	cur := mustGet(t, f, pos.ID)
	assert.Equal(t, domain.PositionClosing, cur.Status)
	assert.Equal(t, 1, cur.CloseAttempts)

	maxAttempts := config.Defaults().Global.MaxCloseAttempts
	for i := 0; i < maxAttempts+2; i++ {
		f.machine.Tick(ctx)
	}

	// Attempts stop at the bound, the position never reaches Closed, and
	// exactly one manual-intervention alert fires.
	cur = mustGet(t, f, pos.ID)
	assert.Equal(t, maxAttempts, cur.CloseAttempts)
	assert.Equal(t, domain.PositionClosing, cur.Status)
	assert.False(t, cur.AllLegsClosed())

	events, err := f.risks.ListSince(ctx, time.Time{})
	require.NoError(t, err)
	var manual int
	for _, ev := range events {
		if ev.Type == "partial_close_failed" {
			manual++
			assert.Equal(t, domain.RiskEventCritical, ev.Level)
		}
	}
	assert.Equal(t, 1, manual)
}

func TestPortfolioReadsDuringMonitorTicks(t *testing.T) {
	f := newFixture(t, "sim")
	f.snaps.Put(flatSnapshot("sim", 100, 0.001))

	_, err := f.machine.Open(context.Background(), spotFuturesOpp(), 100)
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			f.machine.Tick(ctx)
		}
	}()
	var open int
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			open = len(f.machine.Portfolio().Open)
		}
	}()
	wg.Wait()

	assert.Equal(t, 1, open)
}

func TestManualCloseDuringTickClosesOnce(t *testing.T) {
	f := newFixture(t, "sim")
	f.snaps.Put(flatSnapshot("sim", 100, 0.001))
	counter := &countingClient{Client: f.venues["sim"]}
	f.venues["sim"] = counter

	ctx := context.Background()
	pos, err := f.machine.Open(ctx, spotFuturesOpp(), 100)
	require.NoError(t, err)

	// A manual close racing the monitor must submit each closing order
	// exactly once, whichever path wins the position.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.machine.Tick(ctx)
	}()
	var closeErr error
	go func() {
		defer wg.Done()
		closeErr = f.machine.RequestClose(ctx, pos.ID)
	}()
	wg.Wait()
	require.NoError(t, closeErr)
	// Pick up the request if the monitor held the position when it landed.
	f.machine.Tick(ctx)

	cur := mustGet(t, f, pos.ID)
	assert.Equal(t, domain.PositionClosed, cur.Status)
	assert.Equal(t, domain.CloseManual, cur.CloseReason)
	// Two entry legs, two closing legs.
	assert.Equal(t, 4, counter.count())
}

func TestRequestCloseUnknownPosition(t *testing.T) {
	f := newFixture(t, "sim")
	err := f.machine.RequestClose(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRestoreReacquiresLeases(t *testing.T) {
	f := newFixture(t, "sim")
	f.snaps.Put(flatSnapshot("sim", 100, 0.001))

	pos, err := f.machine.Open(context.Background(), spotFuturesOpp(), 100)
	require.NoError(t, err)

	// A second machine sharing the store but with its own lease manager
	// picks the position back up after a restart.
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	restarted := NewMachine(
		config.NewProvider(&cfg, logger),
		f.snaps, f.venues, f.store, f.risks,
		cachemem.NewLeaseManager(), nil, nil, logger,
	)
	require.NoError(t, restarted.Restore(context.Background()))
	assert.True(t, restarted.HasOpen(pos.Key()))
}
