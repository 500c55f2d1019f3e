package novelties

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/payroll/internal/platform/keyedcache"
)

// TotalsKey identifies one cached aggregation.
type TotalsKey struct {
	EmployeeID uuid.UUID
	PeriodID   uuid.UUID
	Variant    Variant
}

func (k TotalsKey) scope() string {
	return k.PeriodID.String() + ":" + k.EmployeeID.String()
}

func (k TotalsKey) String() string {
	return k.scope() + ":" + string(k.Variant)
}

// CachedTotals is a cache hit along with the time it was computed.
// Generation is also set on a miss and names the scope version a later Put
// must carry.
type CachedTotals struct {
	Totals     Totals    `json:"totals"`
	FetchedAt  time.Time `json:"fetched_at"`
	Generation int64     `json:"-"`
}

// TotalsCache memoises Aggregate results per employee, period and variant.
type TotalsCache interface {
	Get(ctx context.Context, key TotalsKey) (CachedTotals, bool, error)
	// Put stores totals read while the scope was at generation. Totals from a
	// generation that has since been invalidated are never served.
	Put(ctx context.Context, key TotalsKey, generation int64, totals Totals) error
	// Invalidate drops every variant cached for the employee and period.
	Invalidate(ctx context.Context, employeeID, periodID uuid.UUID) error
}

// MemoryTotalsCache keeps totals in process.
type MemoryTotalsCache struct {
	mu      sync.Mutex
	gens    map[string]int64
	entries *keyedcache.Cache[Totals]
}

// NewMemoryTotalsCache constructs an in-process cache bounded by ttl.
func NewMemoryTotalsCache(ttl time.Duration) *MemoryTotalsCache {
	return &MemoryTotalsCache{gens: make(map[string]int64), entries: keyedcache.New[Totals](ttl)}
}

// WithNow overrides the clock.
func (c *MemoryTotalsCache) WithNow(now func() time.Time) {
	c.entries.WithNow(now)
}

func (c *MemoryTotalsCache) generation(key TotalsKey) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key.scope()]
}

func generationKey(key TotalsKey, gen int64) string {
	return fmt.Sprintf("%s:%d", key.String(), gen)
}

// Get implements TotalsCache.
func (c *MemoryTotalsCache) Get(_ context.Context, key TotalsKey) (CachedTotals, bool, error) {
	gen := c.generation(key)
	entry, ok := c.entries.Get(generationKey(key, gen))
	if !ok {
		return CachedTotals{Generation: gen}, false, nil
	}
	return CachedTotals{Totals: entry.Value, FetchedAt: entry.FetchedAt, Generation: gen}, true, nil
}

// Put implements TotalsCache.
func (c *MemoryTotalsCache) Put(_ context.Context, key TotalsKey, generation int64, totals Totals) error {
	if c.generation(key) != generation {
		return nil
	}
	c.entries.Put(generationKey(key, generation), totals)
	return nil
}

// Invalidate implements TotalsCache.
func (c *MemoryTotalsCache) Invalidate(_ context.Context, employeeID, periodID uuid.UUID) error {
	scope := TotalsKey{EmployeeID: employeeID, PeriodID: periodID}.scope()
	c.mu.Lock()
	c.gens[scope]++
	c.mu.Unlock()
	c.entries.InvalidatePrefix(scope + ":")
	return nil
}

const (
	redisTotalsPrefix      = "payroll:totals"
	totalsInvalidatedTopic = "payroll.totals.invalidated"
)

// RedisTotalsCache stores totals in Redis under a per employee+period version
// so a single INCR invalidates every variant at once.
type RedisTotalsCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisTotalsCache constructs the Redis cache.
func NewRedisTotalsCache(client *redis.Client, ttl time.Duration) *RedisTotalsCache {
	return &RedisTotalsCache{client: client, ttl: ttl, now: time.Now}
}

// WithNow overrides the clock.
func (c *RedisTotalsCache) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func versionKey(employeeID, periodID uuid.UUID) string {
	return fmt.Sprintf("%s:ver:%s", redisTotalsPrefix, TotalsKey{EmployeeID: employeeID, PeriodID: periodID}.scope())
}

func redisEntryKey(key TotalsKey, gen int64) string {
	return fmt.Sprintf("%s:%s:%d", redisTotalsPrefix, key.String(), gen)
}

// Get implements TotalsCache.
func (c *RedisTotalsCache) Get(ctx context.Context, key TotalsKey) (CachedTotals, bool, error) {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return CachedTotals{}, false, nil
	}
	gen, err := c.client.Get(ctx, versionKey(key.EmployeeID, key.PeriodID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return CachedTotals{}, false, err
	}
	miss := CachedTotals{Generation: gen}
	payload, err := c.client.Get(ctx, redisEntryKey(key, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return miss, false, nil
	}
	if err != nil {
		return CachedTotals{}, false, err
	}
	var cached CachedTotals
	if err := json.Unmarshal(payload, &cached); err != nil {
		return miss, false, nil
	}
	if c.now().Sub(cached.FetchedAt) > c.ttl {
		return miss, false, nil
	}
	cached.Generation = gen
	return cached, true, nil
}

// Put implements TotalsCache. The entry lives under the generation it was
// read at, so after an invalidation it is unreachable and expires with its TTL.
func (c *RedisTotalsCache) Put(ctx context.Context, key TotalsKey, generation int64, totals Totals) error {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(CachedTotals{Totals: totals, FetchedAt: c.now().UTC()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisEntryKey(key, generation), raw, c.ttl).Err()
}

// Invalidate implements TotalsCache by bumping the scope version and
// announcing it to other instances.
func (c *RedisTotalsCache) Invalidate(ctx context.Context, employeeID, periodID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	vk := versionKey(employeeID, periodID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, vk)
	pipe.Expire(ctx, vk, 24*time.Hour)
	pipe.Publish(ctx, totalsInvalidatedTopic, TotalsKey{EmployeeID: employeeID, PeriodID: periodID}.scope())
	_, err := pipe.Exec(ctx)
	return err
}

// CacheInvalidator is the listener that drops cached totals on change.
type CacheInvalidator struct {
	Cache TotalsCache
}

// Name implements Listener.
func (CacheInvalidator) Name() string { return "totals_cache" }

// OnNoveltyChanged implements Listener.
func (l CacheInvalidator) OnNoveltyChanged(ctx context.Context, event ChangeEvent) ([]SideEffect, error) {
	if l.Cache == nil {
		return nil, nil
	}
	if err := l.Cache.Invalidate(ctx, event.EmployeeID, event.PeriodID); err != nil {
		return nil, err
	}
	return []SideEffect{{
		Action:     ActionTotalsInvalidated,
		EmployeeID: event.EmployeeID,
		PeriodID:   event.PeriodID,
	}}, nil
}
