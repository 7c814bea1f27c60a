package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// ResilientClient wraps a Client with bounded exponential-backoff retry, a
// circuit breaker, and a request rate limit. Retries apply only to
// transient network errors; venue rejections and balance errors pass
// through untouched so the caller sees them on the first attempt.
type ResilientClient struct {
	inner   Client
	breaker circuitbreaker.CircuitBreaker[Order]
	exec    failsafe.Executor[Order]
	limiter *rate.Limiter
	logger  *slog.Logger
}

// ResilienceOptions tunes the wrapper. Zero values select the defaults.
type ResilienceOptions struct {
	MaxRetries     int           // default 3
	BackoffMin     time.Duration // default 100ms
	BackoffMax     time.Duration // default 2s
	BreakerDelay   time.Duration // default 30s cooldown once open
	RequestsPerSec float64       // default 10
}

func (o *ResilienceOptions) defaults() {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BackoffMin == 0 {
		o.BackoffMin = 100 * time.Millisecond
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BreakerDelay == 0 {
		o.BreakerDelay = 30 * time.Second
	}
	if o.RequestsPerSec == 0 {
		o.RequestsPerSec = 10
	}
}

// NewResilientClient wraps inner with the retry, breaker, and rate-limit
// policies.
func NewResilientClient(inner Client, opts ResilienceOptions, logger *slog.Logger) *ResilientClient {
	opts.defaults()

	transient := func(_ Order, err error) bool {
		return errors.Is(err, domain.ErrNetwork)
	}

	retry := retrypolicy.Builder[Order]().
		HandleIf(transient).
		WithBackoff(opts.BackoffMin, opts.BackoffMax).
		WithMaxRetries(opts.MaxRetries).
		Build()

	breaker := circuitbreaker.Builder[Order]().
		HandleIf(transient).
		WithFailureThresholdRatio(5, 10).
		WithDelay(opts.BreakerDelay).
		Build()

	return &ResilientClient{
		inner:   inner,
		breaker: breaker,
		exec:    failsafe.NewExecutor[Order](retry, breaker),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		logger: logger.With(
			slog.String("component", "exchange_client"),
			slog.String("exchange", inner.Name()),
		),
	}
}

// Name returns the wrapped venue name.
func (c *ResilientClient) Name() string { return c.inner.Name() }

// Available reports whether the venue is currently usable. While the
// breaker is open the venue is excluded from scanning and execution.
func (c *ResilientClient) Available() bool {
	return !c.breaker.IsOpen()
}

// PlaceOrder implements Client.
func (c *ResilientClient) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	order, err := c.call(ctx, func() (Order, error) {
		return c.inner.PlaceOrder(ctx, req)
	})
	if err != nil {
		return Order{}, fmt.Errorf("exchange %s: place order: %w", c.inner.Name(), err)
	}
	return order, nil
}

// CancelOrder implements Client.
func (c *ResilientClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.call(ctx, func() (Order, error) {
		return Order{}, c.inner.CancelOrder(ctx, orderID)
	})
	if err != nil {
		return fmt.Errorf("exchange %s: cancel order: %w", c.inner.Name(), err)
	}
	return nil
}

// GetOrderStatus implements Client.
func (c *ResilientClient) GetOrderStatus(ctx context.Context, orderID string) (Order, error) {
	order, err := c.call(ctx, func() (Order, error) {
		return c.inner.GetOrderStatus(ctx, orderID)
	})
	if err != nil {
		return Order{}, fmt.Errorf("exchange %s: order status: %w", c.inner.Name(), err)
	}
	return order, nil
}

func (c *ResilientClient) call(ctx context.Context, fn func() (Order, error)) (Order, error) {
	if c.breaker.IsOpen() {
		return Order{}, domain.ErrBreakerOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Order{}, err
	}

	order, err := c.exec.WithContext(ctx).Get(fn)
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			c.logger.Warn("circuit breaker open")
			return Order{}, domain.ErrBreakerOpen
		}
		return Order{}, err
	}
	return order, nil
}

var _ Client = (*ResilientClient)(nil)
