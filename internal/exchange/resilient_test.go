package exchange

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/arbd/internal/cache/memory"
	"github.com/alanyoungcy/arbd/internal/domain"
)

// scriptedClient fails the first n attempts with err, then fills.
type scriptedClient struct {
	mu       sync.Mutex
	failures int
	err      error
	attempts int
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.failures < 0 || c.attempts <= c.failures {
		return Order{}, c.err
	}
	return Order{ID: "ok", Symbol: req.Symbol, Status: OrderFilled, AvgPrice: 100}, nil
}

func (c *scriptedClient) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (c *scriptedClient) GetOrderStatus(ctx context.Context, orderID string) (Order, error) {
	return Order{ID: orderID, Status: OrderFilled}, nil
}

func (c *scriptedClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func fastOptions() ResilienceOptions {
	return ResilienceOptions{
		BackoffMin:     time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		RequestsPerSec: 1000,
	}
}

func testReq() OrderRequest {
	return OrderRequest{Symbol: "BTCUSDT", Market: domain.MarketPerp, Side: domain.SideBuy, Amount: 1}
}

func TestResilientRetriesTransientErrors(t *testing.T) {
	inner := &scriptedClient{failures: 2, err: domain.ErrNetwork}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewResilientClient(inner, fastOptions(), logger)

	order, err := c.PlaceOrder(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, order.Status)
	assert.Equal(t, 3, inner.count())
}

func TestResilientDoesNotRetryRejections(t *testing.T) {
	inner := &scriptedClient{failures: -1, err: domain.ErrOrderRejected}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewResilientClient(inner, fastOptions(), logger)

	_, err := c.PlaceOrder(context.Background(), testReq())
	require.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Equal(t, 1, inner.count())
}

func TestResilientBreakerOpensUnderPersistentFailure(t *testing.T) {
	inner := &scriptedClient{failures: -1, err: domain.ErrNetwork}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewResilientClient(inner, fastOptions(), logger)

	ctx := context.Background()
	require.True(t, c.Available())

	// Each call burns through the retry budget; the failure window fills
	// and the breaker opens.
	for i := 0; i < 3; i++ {
		_, err := c.PlaceOrder(ctx, testReq())
		require.Error(t, err)
	}

	assert.False(t, c.Available())
	attempts := inner.count()

	// An open breaker sheds load without touching the venue.
	_, err := c.PlaceOrder(ctx, testReq())
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
	assert.Equal(t, attempts, inner.count())
}

func TestResilientStaysClosedOnSuccess(t *testing.T) {
	inner := &scriptedClient{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewResilientClient(inner, fastOptions(), logger)

	for i := 0; i < 5; i++ {
		_, err := c.PlaceOrder(context.Background(), testReq())
		require.NoError(t, err)
	}
	assert.True(t, c.Available())
}

func simSnapshots() *cachemem.SnapshotStore {
	snaps := cachemem.NewSnapshotStore()
	snaps.Put(domain.MarketSnapshot{
		Exchange:   "sim",
		Symbol:     "BTCUSDT",
		SpotBid:    49_990,
		SpotAsk:    50_010,
		FuturesBid: 50_090,
		FuturesAsk: 50_110,
	})
	return snaps
}

func TestSimClientFillsAtTouch(t *testing.T) {
	c := NewSimClient("sim", simSnapshots())
	ctx := context.Background()

	cases := []struct {
		market domain.MarketType
		side   domain.Side
		want   float64
	}{
		{domain.MarketSpot, domain.SideBuy, 50_010},
		{domain.MarketSpot, domain.SideSell, 49_990},
		{domain.MarketPerp, domain.SideBuy, 50_110},
		{domain.MarketPerp, domain.SideSell, 50_090},
	}
	for _, tc := range cases {
		order, err := c.PlaceOrder(ctx, OrderRequest{
			Symbol: "BTCUSDT", Market: tc.market, Side: tc.side, Amount: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, OrderFilled, order.Status)
		assert.Equal(t, tc.want, order.AvgPrice)
		assert.NotEmpty(t, order.ID)
	}
}

func TestSimClientFailNextIsOneShot(t *testing.T) {
	c := NewSimClient("sim", simSnapshots())
	c.FailNext = domain.ErrOrderRejected

	_, err := c.PlaceOrder(context.Background(), testReq())
	require.ErrorIs(t, err, domain.ErrOrderRejected)

	order, err := c.PlaceOrder(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, order.Status)
}

func TestSimClientUnknownSymbol(t *testing.T) {
	c := NewSimClient("sim", simSnapshots())
	_, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "ETHUSDT", Market: domain.MarketSpot, Side: domain.SideBuy, Amount: 1,
	})
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestSimClientCancelFilledOrder(t *testing.T) {
	c := NewSimClient("sim", simSnapshots())
	order, err := c.PlaceOrder(context.Background(), testReq())
	require.NoError(t, err)

	err = c.CancelOrder(context.Background(), order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)

	got, err := c.GetOrderStatus(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, got.Status)

	assert.ErrorIs(t, c.CancelOrder(context.Background(), "missing"), domain.ErrNotFound)
}
