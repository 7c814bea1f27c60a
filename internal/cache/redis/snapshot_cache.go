package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// SnapshotCache implements domain.SnapshotStore on Redis. The market-data
// collector writes one JSON document per (symbol, exchange) at
// "snap:{symbol}:{exchange}" with a freshness TTL, and maintains the index
// sets "snap:symbols" and "snap:exchanges:{symbol}". An expired document
// reads as ErrDataUnavailable, which the scanner treats as skip-this-cycle.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache. ttl bounds snapshot freshness
// on write; zero disables expiry.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapKey(symbol, exchange string) string {
	return "snap:" + symbol + ":" + exchange
}

// Put stores a snapshot and maintains the symbol/exchange indexes.
func (sc *SnapshotCache) Put(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s/%s: %w", snap.Exchange, snap.Symbol, err)
	}

	pipe := sc.rdb.Pipeline()
	pipe.Set(ctx, snapKey(snap.Symbol, snap.Exchange), data, sc.ttl)
	pipe.SAdd(ctx, "snap:symbols", snap.Symbol)
	pipe.SAdd(ctx, "snap:exchanges:"+snap.Symbol, snap.Exchange)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put snapshot %s/%s: %w", snap.Exchange, snap.Symbol, err)
	}
	return nil
}

// Get implements domain.SnapshotStore.
func (sc *SnapshotCache) Get(ctx context.Context, exchange, symbol string) (domain.MarketSnapshot, error) {
	data, err := sc.rdb.Get(ctx, snapKey(symbol, exchange)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketSnapshot{}, domain.ErrDataUnavailable
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s/%s: %w", exchange, symbol, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s/%s: %w", exchange, symbol, err)
	}
	return snap, nil
}

// Symbols implements domain.SnapshotStore.
func (sc *SnapshotCache) Symbols(ctx context.Context) ([]string, error) {
	symbols, err := sc.rdb.SMembers(ctx, "snap:symbols").Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list symbols: %w", err)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Exchanges implements domain.SnapshotStore.
func (sc *SnapshotCache) Exchanges(ctx context.Context, symbol string) ([]string, error) {
	exchanges, err := sc.rdb.SMembers(ctx, "snap:exchanges:"+symbol).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list exchanges for %s: %w", symbol, err)
	}
	sort.Strings(exchanges)
	return exchanges, nil
}

var _ domain.SnapshotStore = (*SnapshotCache)(nil)
