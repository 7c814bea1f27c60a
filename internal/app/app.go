// Package app wires the arbitrage engine together and supervises its
// loops: scan, execution, position monitoring, the operator API, and the
// archiver. One App is one engine instance.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbd/internal/config"
	"github.com/alanyoungcy/arbd/internal/domain"
	"github.com/alanyoungcy/arbd/internal/executor"
	"github.com/alanyoungcy/arbd/internal/position"
	"github.com/alanyoungcy/arbd/internal/scanner"
	"github.com/alanyoungcy/arbd/internal/server"
	"github.com/alanyoungcy/arbd/internal/server/handler"
	"github.com/alanyoungcy/arbd/internal/server/ws"
	"github.com/alanyoungcy/arbd/internal/service"
)

// App is the root application object. It owns the config provider, the
// logger, and the cleanup functions run in reverse order on shutdown.
type App struct {
	provider *config.Provider
	logger   *slog.Logger

	mu      sync.Mutex
	risks   domain.RiskEventStore
	closers []func()
}

// New creates an App from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		provider: config.NewProvider(cfg, logger),
		logger:   logger.With(slog.String("component", "app")),
	}
}

// Reload swaps in a new configuration. Invalid configs are rejected, the
// running snapshot stays in place, and the rejection lands in the risk
// event log so it is visible beyond the process logs.
func (a *App) Reload(cfg *config.Config) error {
	err := a.provider.Reload(cfg)
	if err == nil {
		return nil
	}

	a.mu.Lock()
	risks := a.risks
	a.mu.Unlock()
	if risks != nil {
		_ = risks.Append(context.Background(), domain.RiskEvent{
			ID:          uuid.NewString(),
			Level:       domain.RiskEventWarning,
			Type:        "config_inconsistent",
			Description: err.Error(),
			CreatedAt:   time.Now().UTC(),
		})
	}
	return err
}

// Run wires dependencies, restores open positions, and drives all loops
// until the context is cancelled or one loop fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.provider.Current().Config

	a.logger.InfoContext(ctx, "starting engine",
		slog.Bool("trading_enabled", cfg.Global.TradingEnabled),
		slog.Any("exchanges", cfg.Exchanges),
	)

	deps, cleanup, err := Wire(ctx, &cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.mu.Lock()
	a.risks = deps.RiskEvents
	a.closers = append(a.closers, cleanup)
	a.mu.Unlock()

	var hub *ws.Hub
	if cfg.Server.Enabled {
		hub = ws.NewHub(a.logger)
	}
	var oppFeed scanner.FeedPublisher
	var posFeed position.EventPublisher
	if hub != nil {
		oppFeed = hub
		posFeed = hub
	}

	machine := position.NewMachine(
		a.provider, deps.Snapshots, deps.Venues,
		deps.Positions, deps.RiskEvents, deps.Leases,
		deps.Notifier, posFeed, a.logger,
	)
	if err := machine.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore positions: %w", err)
	}

	inbox := executor.NewInbox(cfg.Global.InboxCapacity)
	scan := scanner.New(
		deps.Snapshots, a.provider, deps.Opportunities,
		inbox, oppFeed, deps.Venues, a.logger,
	)
	gate := service.NewRiskGate(a.provider, a.logger)

	// An opportunity older than two scan cycles was priced on data the
	// scanner has since replaced.
	maxAge := func() time.Duration {
		return 2 * a.provider.Current().Config.Global.ScanInterval.Duration
	}
	exec := executor.New(
		inbox, gate, machine, deps.Opportunities,
		deps.Venues, deps.Notifier, maxAge, a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scan.Run(ctx) })
	g.Go(func() error { return machine.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, server.Handlers{
			Health:        handler.NewHealthHandler(),
			Opportunities: handler.NewOpportunityHandler(deps.Opportunities, exec),
			Positions:     handler.NewPositionHandler(deps.Positions, machine),
			Risk:          handler.NewRiskHandler(deps.RiskEvents),
		}, hub, a.logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	return g.Wait()
}

// Close tears down wired resources in reverse registration order. Safe to
// call more than once.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
