package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/payroll/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	t.Setenv(guard.Env, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(guard.Env, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}
