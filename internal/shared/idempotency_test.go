package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStoreScopesKeysByModule(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k1", "payroll.period.close"))
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "payroll.period.reopen"))
	assert.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "payroll.period.close"), ErrIdempotencyConflict)

	require.NoError(t, store.Delete(ctx, "k1", "payroll.period.reopen"))
	assert.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "payroll.period.close"), ErrIdempotencyConflict)
	assert.NoError(t, store.CheckAndInsert(ctx, "k1", "payroll.period.reopen"))
}

func TestIdempotencyArgsRequired(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	assert.Error(t, store.CheckAndInsert(context.Background(), "", "m"))
	assert.Error(t, store.CheckAndInsert(context.Background(), "k", ""))
}
