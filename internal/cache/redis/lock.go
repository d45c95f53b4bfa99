package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// Both scripts act only while the key still holds the caller's token, so a
// holder whose lease expired cannot release or extend a successor's lock.
const (
	unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
	extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`
)

var (
	unlockScript = redis.NewScript(unlockLua)
	extendScript = redis.NewScript(extendLua)
)

// LockManager hands out leases on named locks.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Lease is a held lock.
type Lease struct {
	c     *Client
	key   string
	token string
	ttl   time.Duration

	once sync.Once
}

// Acquire takes the lock named key for ttl. It returns domain.ErrLockHeld
// when another holder has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	l := &Lease{c: lm.c, key: lm.c.key("lock", key), token: uuid.NewString(), ttl: ttl}
	ok, err := lm.c.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	return l, nil
}

// Extend pushes the expiry out by the lease TTL. It returns
// domain.ErrLockHeld when the lease was lost.
func (l *Lease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.c.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: extend lock %s: %w", l.key, domain.ErrLockHeld)
	}
	return nil
}

// Keep extends the lease every ttl/3 until ctx is done, then releases it.
// It returns an error wrapping domain.ErrLockHeld if the lease is lost.
func (l *Lease) Keep(ctx context.Context, logger *slog.Logger) error {
	defer l.Release()
	every := l.ttl / 3
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			err := l.Extend(ctx)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, domain.ErrLockHeld) {
				return err
			}
			logger.WarnContext(ctx, "lock extend failed", slog.String("key", l.key), slog.String("error", err.Error()))
		}
	}
}

// Release deletes the lock if it is still held by this lease. Safe to call
// more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.c.rdb, []string{l.key}, l.token).Err()
	})
}
