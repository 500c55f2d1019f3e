// Package lock provides the per-key mutual exclusion used to serialise
// payroll period transitions.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lock: already held")

// Release frees a lock obtained from a Locker.
type Release func(ctx context.Context) error

// Locker acquires exclusive, expiring locks. Acquire never blocks waiting for
// the current holder; it fails fast with ErrHeld.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("lock: redis client not configured")
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		return nil
	}, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("lock: token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// MemoryLocker implements Locker in process, for single-instance deployments
// and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryHold
	now   func() time.Time
	nonce uint64
}

type memoryHold struct {
	nonce   uint64
	expires time.Time
}

// NewMemoryLocker constructs an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryHold), now: time.Now}
}

// WithNow overrides the clock.
func (l *MemoryLocker) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	l.nonce++
	nonce := l.nonce
	l.held[key] = memoryHold{nonce: nonce, expires: now.Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[key]; ok && h.nonce == nonce {
			delete(l.held, key)
		}
		return nil
	}, nil
}
