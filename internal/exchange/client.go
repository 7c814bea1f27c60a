// Package exchange defines the trading-venue client surface and the
// resilience wrapper every outbound call goes through.
package exchange

import (
	"context"
	"time"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// OrderStatus is the terminal/non-terminal state of an exchange order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderRejected  OrderStatus = "rejected"
	OrderCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the order has reached a final state.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCancelled
}

// OrderRequest describes one order to place.
type OrderRequest struct {
	Symbol   string
	Market   domain.MarketType
	Side     domain.Side
	Amount   float64 // base units
	Notional float64 // quote units, informational
}

// Order is the exchange's view of a placed order.
type Order struct {
	ID        string
	Symbol    string
	Market    domain.MarketType
	Side      domain.Side
	Amount    float64
	AvgPrice  float64
	Status    OrderStatus
	CreatedAt time.Time
}

// Client is the minimal per-venue trading surface. Implementations fail
// with domain.ErrNetwork for transient transport problems,
// domain.ErrOrderRejected for venue-side rejections, and
// domain.ErrInsufficientBalance when the account cannot cover the order.
type Client interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (Order, error)
}
