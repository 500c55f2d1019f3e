package companyconfig

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/payroll/internal/platform/keyedcache"
)

// CachedProvider memoises another Provider per company. Concurrent misses for
// the same company share one upstream load.
type CachedProvider struct {
	next  Provider
	cache *keyedcache.Cache[PayrollConfig]
	group singleflight.Group
}

// NewCachedProvider wraps next with a per-company cache bounded by ttl.
func NewCachedProvider(next Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, cache: keyedcache.New[PayrollConfig](ttl)}
}

// WithNow overrides the cache clock for deterministic tests.
func (p *CachedProvider) WithNow(now func() time.Time) {
	p.cache.WithNow(now)
}

// PayrollConfig implements Provider.
func (p *CachedProvider) PayrollConfig(ctx context.Context, companyID uuid.UUID) (PayrollConfig, error) {
	key := cacheKey(companyID)
	if entry, ok := p.cache.Get(key); ok {
		return entry.Value, nil
	}
	v, err, _ := p.group.Do(key, func() (any, error) {
		cfg, err := p.next.PayrollConfig(ctx, companyID)
		if err != nil {
			return PayrollConfig{}, err
		}
		p.cache.Put(key, cfg)
		return cfg, nil
	})
	if err != nil {
		return PayrollConfig{}, err
	}
	return v.(PayrollConfig), nil
}

// Invalidate drops the cached configuration of a company.
func (p *CachedProvider) Invalidate(companyID uuid.UUID) {
	p.cache.Invalidate(cacheKey(companyID))
}

func cacheKey(companyID uuid.UUID) string {
	return "company:" + companyID.String()
}
