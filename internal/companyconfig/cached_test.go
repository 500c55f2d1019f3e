package companyconfig

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls atomic.Int32
	delay time.Duration
}

func (p *countingProvider) PayrollConfig(_ context.Context, companyID uuid.UUID) (PayrollConfig, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return Default(companyID, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), nil
}

func TestCachedProviderServesFreshEntries(t *testing.T) {
	upstream := &countingProvider{}
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	provider := NewCachedProvider(upstream, time.Minute)
	provider.WithNow(func() time.Time { return now })
	company := uuid.New()

	for i := 0; i < 3; i++ {
		cfg, err := provider.PayrollConfig(context.Background(), company)
		require.NoError(t, err)
		assert.Equal(t, company, cfg.CompanyID)
	}
	assert.EqualValues(t, 1, upstream.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err := provider.PayrollConfig(context.Background(), company)
	require.NoError(t, err)
	assert.EqualValues(t, 2, upstream.calls.Load())

	provider.Invalidate(company)
	_, err = provider.PayrollConfig(context.Background(), company)
	require.NoError(t, err)
	assert.EqualValues(t, 3, upstream.calls.Load())
}

func TestCachedProviderKeysByCompany(t *testing.T) {
	upstream := &countingProvider{}
	provider := NewCachedProvider(upstream, time.Minute)

	_, err := provider.PayrollConfig(context.Background(), uuid.New())
	require.NoError(t, err)
	_, err = provider.PayrollConfig(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCachedProviderCollapsesConcurrentMisses(t *testing.T) {
	upstream := &countingProvider{delay: 20 * time.Millisecond}
	provider := NewCachedProvider(upstream, time.Minute)
	company := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = provider.PayrollConfig(context.Background(), company)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, upstream.calls.Load(), int32(2))
}

func TestDefaultUsesClosestPublishedYear(t *testing.T) {
	cfg := Default(uuid.Nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, decimal.NewFromInt(1_423_500).Equal(cfg.MinimumWage))
	assert.True(t, decimal.NewFromInt(200_000).Equal(cfg.TransportAllowance))

	older := Default(uuid.Nil, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, decimal.NewFromInt(1_300_000).Equal(older.MinimumWage))

	later := Default(uuid.Nil, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, cfg.MinimumWage.Equal(later.MinimumWage))

	require.NoError(t, cfg.Validate())
}

func TestTransportEligibilityIsInclusive(t *testing.T) {
	cfg := Default(uuid.Nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, cfg.TransportEligible(decimal.NewFromInt(2_847_000)))
	assert.False(t, cfg.TransportEligible(decimal.NewFromInt(2_847_001)))
}
