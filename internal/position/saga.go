package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbd/internal/domain"
	"github.com/alanyoungcy/arbd/internal/exchange"
)

// legPlan derives the ordered leg list for an opportunity at the approved
// size. Leg amounts are base units converted at the detail's entry prices.
func legPlan(opp domain.Opportunity, size float64) ([]domain.Leg, error) {
	baseAmount := func(price float64) (float64, error) {
		if price <= 0 {
			return 0, fmt.Errorf("position: non-positive entry price for %s", opp.ID)
		}
		return size / price, nil
	}

	switch d := opp.Detail.(type) {
	case domain.CrossExchangeDetail:
		longAmt, err := baseAmount(d.LongEntryPrice)
		if err != nil {
			return nil, err
		}
		shortAmt, err := baseAmount(d.ShortEntryPrice)
		if err != nil {
			return nil, err
		}
		return []domain.Leg{
			{Exchange: d.LongExchange, Market: domain.MarketPerp, Side: domain.SideBuy, Amount: longAmt},
			{Exchange: d.ShortExchange, Market: domain.MarketPerp, Side: domain.SideSell, Amount: shortAmt},
		}, nil

	case domain.SpotFuturesDetail:
		spotAmt, err := baseAmount(d.SpotEntryPrice)
		if err != nil {
			return nil, err
		}
		futAmt, err := baseAmount(d.FuturesEntryPrice)
		if err != nil {
			return nil, err
		}
		return []domain.Leg{
			{Exchange: d.Exchange, Market: domain.MarketSpot, Side: domain.SideBuy, Amount: spotAmt},
			{Exchange: d.Exchange, Market: domain.MarketPerp, Side: domain.SideSell, Amount: futAmt},
		}, nil

	case domain.BasisDetail:
		spotAmt, err := baseAmount(d.SpotEntryPrice)
		if err != nil {
			return nil, err
		}
		futAmt, err := baseAmount(d.FuturesEntryPrice)
		if err != nil {
			return nil, err
		}
		return []domain.Leg{
			{Exchange: d.Exchange, Market: domain.MarketSpot, Side: domain.SideBuy, Amount: spotAmt},
			{Exchange: d.Exchange, Market: domain.MarketPerp, Side: domain.SideSell, Amount: futAmt},
		}, nil

	case domain.DirectionalDetail:
		amt, err := baseAmount(d.EntryPrice)
		if err != nil {
			return nil, err
		}
		return []domain.Leg{
			{Exchange: d.Exchange, Market: domain.MarketPerp, Side: d.Direction, Amount: amt},
		}, nil
	}

	return nil, fmt.Errorf("position: opportunity %s has no detail payload", opp.ID)
}

// executeOpen places every leg in order. Opening is all-or-none: the first
// leg that fails to fill triggers an unwind of every already-filled leg and
// the whole open is reported failed. Cancellation is honored only between
// legs; a submitted order is always awaited to a terminal status.
func (m *Machine) executeOpen(ctx context.Context, pos *domain.Position) error {
	for i := range pos.Legs {
		if err := ctx.Err(); err != nil {
			m.unwind(pos, i)
			return fmt.Errorf("position: open cancelled before leg %d: %w", i, err)
		}

		leg := &pos.Legs[i]
		client, err := m.venues.Get(leg.Exchange)
		if err != nil {
			m.unwind(pos, i)
			return err
		}

		order, err := client.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:   pos.Symbol,
			Market:   leg.Market,
			Side:     leg.Side,
			Amount:   leg.Amount,
			Notional: pos.Size,
		})
		if err != nil {
			m.unwind(pos, i)
			return fmt.Errorf("position: leg %d on %s: %w", i, leg.Exchange, err)
		}

		order, err = m.awaitTerminal(ctx, client, order)
		if err != nil || order.Status != exchange.OrderFilled {
			m.unwind(pos, i)
			if err == nil {
				err = fmt.Errorf("order %s ended %s: %w", order.ID, order.Status, domain.ErrOrderRejected)
			}
			return fmt.Errorf("position: leg %d on %s: %w", i, leg.Exchange, err)
		}

		leg.OrderID = order.ID
		leg.EntryPrice = order.AvgPrice
		leg.Filled = true
		pos.FeesPaid += pos.Size * m.takerFee(ctx, leg.Exchange, pos.Symbol)
	}
	return nil
}

// unwind closes the first n legs of a failed open with opposite orders.
// Unwind runs on a detached context: once we hold inventory we get out of
// it even while shutting down.
func (m *Machine) unwind(pos *domain.Position, n int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), 2*time.Minute)
	defer cancel()

	for i := 0; i < n; i++ {
		leg := &pos.Legs[i]
		if !leg.Filled {
			continue
		}
		client, err := m.venues.Get(leg.Exchange)
		if err != nil {
			m.logger.Error("unwind leg skipped, venue unavailable",
				slog.String("position", pos.ID), slog.String("exchange", leg.Exchange))
			continue
		}
		order, err := client.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol: pos.Symbol,
			Market: leg.Market,
			Side:   leg.Side.Opposite(),
			Amount: leg.Amount,
		})
		if err != nil {
			m.logger.Error("unwind leg failed",
				slog.String("position", pos.ID),
				slog.String("exchange", leg.Exchange),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := m.awaitTerminal(ctx, client, order); err != nil {
			m.logger.Error("unwind order not confirmed",
				slog.String("position", pos.ID),
				slog.String("order", order.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		leg.Filled = false
	}
}

// executeClose places closing orders for every leg not yet confirmed
// closed. Already-closed legs are skipped so a retry only touches the
// remainder. The position reaches Closed only when every leg confirms.
func (m *Machine) executeClose(ctx context.Context, pos *domain.Position) error {
	var firstErr error
	for i := range pos.Legs {
		leg := &pos.Legs[i]
		if leg.Closed || !leg.Filled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		client, err := m.venues.Get(leg.Exchange)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		order, err := client.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol: pos.Symbol,
			Market: leg.Market,
			Side:   leg.Side.Opposite(),
			Amount: leg.Amount,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("position: close leg %d on %s: %w", i, leg.Exchange, err)
			}
			continue
		}

		order, err = m.awaitTerminal(ctx, client, order)
		if err != nil || order.Status != exchange.OrderFilled {
			if firstErr == nil {
				if err == nil {
					err = fmt.Errorf("close order %s ended %s: %w", order.ID, order.Status, domain.ErrOrderRejected)
				}
				firstErr = err
			}
			continue
		}

		leg.CloseID = order.ID
		leg.ClosePrice = order.AvgPrice
		leg.Closed = true
		pos.FeesPaid += pos.Size * m.makerFee(ctx, leg.Exchange, pos.Symbol)
	}
	return firstErr
}

// awaitTerminal polls an order until it reaches a terminal status. The
// caller's cancellation is deliberately not honored here: a submitted
// order must resolve before the state machine moves on.
func (m *Machine) awaitTerminal(ctx context.Context, client exchange.Client, order exchange.Order) (exchange.Order, error) {
	if order.Status.Terminal() {
		return order, nil
	}

	wait, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.orderTimeout)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wait.Done():
			return order, fmt.Errorf("position: order %s unresolved after %s: %w", order.ID, m.orderTimeout, domain.ErrNetwork)
		case <-ticker.C:
		}

		latest, err := client.GetOrderStatus(wait, order.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNetwork) || errors.Is(err, domain.ErrBreakerOpen) {
				continue
			}
			return order, err
		}
		if latest.Status.Terminal() {
			return latest, nil
		}
	}
}

func (m *Machine) takerFee(ctx context.Context, venue, symbol string) float64 {
	snap, err := m.snapshots.Get(ctx, venue, symbol)
	if err != nil {
		return 0
	}
	return snap.TakerFee
}

func (m *Machine) makerFee(ctx context.Context, venue, symbol string) float64 {
	snap, err := m.snapshots.Get(ctx, venue, symbol)
	if err != nil {
		return 0
	}
	return snap.MakerFee
}
