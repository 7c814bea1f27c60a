package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// SimClient is an in-process venue used in simulated execution mode and in
// tests. Orders fill immediately at the snapshot's touch price.
type SimClient struct {
	name      string
	snapshots domain.SnapshotStore

	mu     sync.Mutex
	orders map[string]Order

	// FailNext, when set, makes the next PlaceOrder return the given error
	// once. Used to exercise unwind paths.
	FailNext error
}

// NewSimClient creates a simulated venue pricing against snapshots.
func NewSimClient(name string, snapshots domain.SnapshotStore) *SimClient {
	return &SimClient{
		name:      name,
		snapshots: snapshots,
		orders:    make(map[string]Order),
	}
}

// Name implements Client.
func (c *SimClient) Name() string { return c.name }

// PlaceOrder implements Client. Fills are instantaneous at the crossing
// side of the book.
func (c *SimClient) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	c.mu.Lock()
	if err := c.FailNext; err != nil {
		c.FailNext = nil
		c.mu.Unlock()
		return Order{}, err
	}
	c.mu.Unlock()

	snap, err := c.snapshots.Get(ctx, c.name, req.Symbol)
	if err != nil {
		return Order{}, fmt.Errorf("sim %s: %w", c.name, domain.ErrDataUnavailable)
	}

	price := c.fillPrice(snap, req)
	if price <= 0 {
		return Order{}, fmt.Errorf("sim %s: no quote for %s %s: %w", c.name, req.Symbol, req.Market, domain.ErrOrderRejected)
	}

	order := Order{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Market:    req.Market,
		Side:      req.Side,
		Amount:    req.Amount,
		AvgPrice:  price,
		Status:    OrderFilled,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.orders[order.ID] = order
	c.mu.Unlock()
	return order, nil
}

func (c *SimClient) fillPrice(snap domain.MarketSnapshot, req OrderRequest) float64 {
	if req.Market == domain.MarketSpot {
		if req.Side == domain.SideBuy {
			return snap.SpotAsk
		}
		return snap.SpotBid
	}
	if req.Side == domain.SideBuy {
		return snap.FuturesAsk
	}
	return snap.FuturesBid
}

// CancelOrder implements Client. Simulated fills are immediate, so there
// is never anything left to cancel.
func (c *SimClient) CancelOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if order.Status == OrderFilled {
		return fmt.Errorf("sim %s: order %s already filled: %w", c.name, orderID, domain.ErrOrderRejected)
	}
	order.Status = OrderCancelled
	c.orders[orderID] = order
	return nil
}

// GetOrderStatus implements Client.
func (c *SimClient) GetOrderStatus(ctx context.Context, orderID string) (Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[orderID]
	if !ok {
		return Order{}, domain.ErrNotFound
	}
	return order, nil
}

var _ Client = (*SimClient)(nil)
