package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// releaseLua deletes a lease key only if its value matches the caller's
// unique token, so one holder can never release another holder's lease.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends a lease's TTL only while the caller still holds it.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LeaseManager implements domain.LeaseManager on Redis using SETNX with a
// TTL, a Lua-based conditional release, and a conditional renew. The lease
// survives holder restarts only for the TTL, so an instance that dies
// without releasing eventually frees the key.
type LeaseManager struct {
	rdb       *redis.Client
	releaseSc *redis.Script
	renewSc   *redis.Script
}

// NewLeaseManager creates a LeaseManager backed by the given Client.
func NewLeaseManager(c *Client) *LeaseManager {
	return &LeaseManager{
		rdb:       c.Underlying(),
		releaseSc: redis.NewScript(releaseLua),
		renewSc:   redis.NewScript(renewLua),
	}
}

func leaseKey(key string) string {
	return "lease:" + key
}

// Acquire obtains the exclusive lease for key with the given TTL. It
// returns domain.ErrLockHeld when another party holds it.
func (lm *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	lk := leaseKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return &lease{lm: lm, key: lk, token: token}, nil
}

type lease struct {
	lm       *LeaseManager
	key      string
	token    string
	released bool
}

// Renew extends the lease while it is still held.
func (l *lease) Renew(ctx context.Context, ttl time.Duration) error {
	if l.released {
		return domain.ErrLockHeld
	}
	n, err := l.lm.renewSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: lease %s no longer held: %w", l.key, domain.ErrLockHeld)
	}
	return nil
}

// Release frees the lease. Safe to call more than once. A background
// context is used so release succeeds even when the caller's context is
// already cancelled.
func (l *lease) Release() {
	if l.released {
		return
	}
	l.released = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.lm.releaseSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
}

var _ domain.LeaseManager = (*LeaseManager)(nil)
