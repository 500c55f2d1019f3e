package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "payroll:period:1:lock", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "payroll:period:1:lock", time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	other, err := locker.Acquire(ctx, "payroll:period:2:lock", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := locker.Acquire(ctx, "payroll:period:1:lock", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLockerExpiredReleaseKeepsNewHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("k"), "stale release must not drop the new holder")
	require.NoError(t, fresh(ctx))
	assert.False(t, mr.Exists("k"))
}

func TestMemoryLockerExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	locker := NewMemoryLocker()
	locker.WithNow(func() time.Time { return now })
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = locker.Acquire(ctx, "k", time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	now = now.Add(2 * time.Minute)
	fresh, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	_, err = locker.Acquire(ctx, "k", time.Minute)
	require.ErrorIs(t, err, ErrHeld, "expired holder release must not free the new lock")
	require.NoError(t, fresh(ctx))
}
