package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/arbd/internal/blob/s3"
	cachemem "github.com/alanyoungcy/arbd/internal/cache/memory"
	cacheredis "github.com/alanyoungcy/arbd/internal/cache/redis"
	"github.com/alanyoungcy/arbd/internal/config"
	"github.com/alanyoungcy/arbd/internal/domain"
	"github.com/alanyoungcy/arbd/internal/exchange"
	"github.com/alanyoungcy/arbd/internal/notify"
	storemem "github.com/alanyoungcy/arbd/internal/store/memory"
	"github.com/alanyoungcy/arbd/internal/store/postgres"
)

// Dependencies bundles the infrastructure the engine loops run against. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Snapshots domain.SnapshotStore
	Leases    domain.LeaseManager

	Opportunities domain.OpportunityStore
	Positions     domain.PositionStore
	RiskEvents    domain.RiskEventStore

	Venues   *exchange.Registry
	Notifier *notify.Notifier
	Archiver *s3blob.Archiver
}

// Wire builds concrete implementations from the configuration. Postgres
// and Redis are used when configured and replaced by in-memory equivalents
// when not, which is how the simulation and test profiles run. The cleanup
// function releases connections in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Postgres.DSN != "" {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		pool := pg.Pool()
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.RiskEvents = postgres.NewRiskEventStore(pool)
	} else {
		logger.Warn("postgres dsn not set, using in-memory stores")
		deps.Opportunities = storemem.NewOpportunityStore()
		deps.Positions = storemem.NewPositionStore()
		deps.RiskEvents = storemem.NewRiskEventStore()
	}

	if cfg.Redis.Addr != "" {
		rdb, err := cacheredis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })

		// Snapshots older than two scan cycles are useless for a decision.
		snapTTL := 2 * cfg.Global.ScanInterval.Duration
		deps.Snapshots = cacheredis.NewSnapshotCache(rdb, snapTTL)
		deps.Leases = cacheredis.NewLeaseManager(rdb)
	} else {
		logger.Warn("redis addr not set, using in-memory snapshot store and leases")
		deps.Snapshots = cachemem.NewSnapshotStore()
		deps.Leases = cachemem.NewLeaseManager()
	}

	// Venue clients. The simulated client fills against cached snapshots;
	// a live connector plugs in here by implementing exchange.Client.
	resilience := exchange.ResilienceOptions{}
	clients := make([]*exchange.ResilientClient, 0, len(cfg.Exchanges))
	for _, name := range cfg.Exchanges {
		sim := exchange.NewSimClient(name, deps.Snapshots)
		clients = append(clients, exchange.NewResilientClient(sim, resilience, logger))
	}
	deps.Venues = exchange.NewRegistry(clients...)

	if cfg.S3.Bucket != "" {
		blob, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			blob, deps.Positions, deps.RiskEvents, cfg.S3.Interval.Duration, logger,
		)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
