package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinBurst(t *testing.T) {
	r := NewRegistry(Config{
		MaxRequestsPerWindow: 10,
		Window:               time.Minute,
		BurstAllowance:       3,
	})

	for i := 0; i < 3; i++ {
		ok, retryAfter := r.Allow("t1")
		assert.True(t, ok, "request %d should pass", i)
		assert.Zero(t, retryAfter)
	}

	ok, retryAfter := r.Allow("t1")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, 0)
}

func TestTenantsAreIndependent(t *testing.T) {
	r := NewRegistry(Config{
		MaxRequestsPerWindow: 1,
		Window:               time.Hour,
		BurstAllowance:       1,
	})

	ok, _ := r.Allow("t1")
	require.True(t, ok)
	ok, _ = r.Allow("t1")
	require.False(t, ok)

	// A second tenant still has its full budget.
	ok, _ = r.Allow("t2")
	assert.True(t, ok)
}

func TestRejectionDoesNotConsumeTokens(t *testing.T) {
	r := NewRegistry(Config{
		MaxRequestsPerWindow: 60,
		Window:               time.Minute,
		BurstAllowance:       1,
	})

	ok, _ := r.Allow("t1")
	require.True(t, ok)

	// Rejected reservations are cancelled; the retry-after stays near one
	// token interval instead of growing with each rejected call.
	_, first := r.Allow("t1")
	_, second := r.Allow("t1")
	assert.Equal(t, first, second)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxRequestsPerWindow = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Window = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BurstAllowance = 0
	assert.Error(t, cfg.Validate())
}
