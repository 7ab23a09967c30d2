// Package ratelimit provides per-tenant request throttling.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stratahq/strata/internal/models"
)

// Config shapes the per-tenant limiter.
type Config struct {
	MaxRequestsPerWindow int           `json:"maxRequestsPerWindow" yaml:"maxRequestsPerWindow"`
	Window               time.Duration `json:"window" yaml:"window"`
	BurstAllowance       int           `json:"burstAllowance" yaml:"burstAllowance"`
}

// DefaultConfig returns default limiter settings.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerWindow: 60,
		Window:               time.Minute,
		BurstAllowance:       10,
	}
}

// Validate checks limiter settings.
func (c Config) Validate() error {
	if c.MaxRequestsPerWindow < 1 {
		return models.NewValidationError("maxRequestsPerWindow must be positive, got %d", c.MaxRequestsPerWindow)
	}
	if c.Window <= 0 {
		return models.NewValidationError("window must be positive, got %v", c.Window)
	}
	if c.BurstAllowance < 1 {
		return models.NewValidationError("burstAllowance must be positive, got %d", c.BurstAllowance)
	}
	return nil
}

// Registry hands out one token-bucket limiter per tenant.
type Registry struct {
	config   Config
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRegistry creates a registry with the given settings.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the tenant's limiter, creating it on first use.
func (r *Registry) limiter(tenantID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[tenantID]
	if !ok {
		perSecond := float64(r.config.MaxRequestsPerWindow) / r.config.Window.Seconds()
		limiter = rate.NewLimiter(rate.Limit(perSecond), r.config.BurstAllowance)
		r.limiters[tenantID] = limiter
	}
	return limiter
}

// Allow consumes one token for the tenant. When exhausted it reports the
// seconds a caller should wait before retrying.
func (r *Registry) Allow(tenantID string) (bool, int) {
	reservation := r.limiter(tenantID).Reserve()
	delay := reservation.Delay()
	if delay == 0 {
		return true, 0
	}
	reservation.Cancel()
	return false, int(math.Ceil(delay.Seconds()))
}
