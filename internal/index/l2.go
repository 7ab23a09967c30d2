package index

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// RedisCacheConfig holds L2 cache configuration.
type RedisCacheConfig struct {
	// TTL is how long an entry stays fresh.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// StaleTTL extends the redis key lifetime past TTL. Entries in the stale
	// window are still served, flagged stale, so callers can revalidate in
	// the background instead of stampeding the store.
	StaleTTL time.Duration `json:"staleTTL" yaml:"staleTTL"`
}

// DefaultRedisCacheConfig returns default L2 cache configuration.
func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		TTL:      5 * time.Minute,
		StaleTTL: 10 * time.Minute,
	}
}

// Validate checks config invariants.
func (c RedisCacheConfig) Validate() error {
	if c.TTL <= 0 {
		return models.NewValidationError("redis cache TTL must be positive, got %v", c.TTL)
	}
	if c.StaleTTL < 0 {
		return models.NewValidationError("redis cache StaleTTL must not be negative, got %v", c.StaleTTL)
	}
	return nil
}

// redisEnvelope is the stored payload. StoredAt lets the reader decide
// freshness without a second key.
type redisEnvelope struct {
	Entries  []IndexEntry `json:"entries"`
	StoredAt int64        `json:"storedAt"` // Unix nanoseconds
}

// RedisCache is the shared L2 index cache. Keys follow
// strata:idx:<tenant>:<refHash> so per-tenant invalidation is a prefix scan.
type RedisCache struct {
	client redis.UniversalClient
	config RedisCacheConfig
	logger *logging.Logger
}

// NewRedisCache creates an L2 cache over an existing redis client.
func NewRedisCache(client redis.UniversalClient, config RedisCacheConfig) (*RedisCache, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RedisCache{
		client: client,
		config: config,
		logger: logging.GetLogger("index.l2"),
	}, nil
}

func redisKey(tenantID, hash string) string {
	return "strata:idx:" + tenantID + ":" + hash
}

// Get retrieves cached entries. found reports key presence; stale reports
// that the entry outlived its TTL and should be revalidated.
func (c *RedisCache) Get(ctx context.Context, tenantID, hash string) (entries []IndexEntry, found, stale bool, err error) {
	raw, err := c.client.Get(ctx, redisKey(tenantID, hash)).Bytes()
	if err == redis.Nil {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, rollerrors.Wrap(rollerrors.CodeInfraCache, err, "redis get failed")
	}

	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// A corrupt entry is a miss, not a failure. Drop it.
		c.logger.Warn("Dropping corrupt L2 entry: tenant=%s hash=%s: %v", tenantID, hash, err)
		c.client.Del(ctx, redisKey(tenantID, hash))
		return nil, false, false, nil
	}

	age := time.Since(time.Unix(0, env.StoredAt))
	return env.Entries, true, age > c.config.TTL, nil
}

// Put stores a lookup result under its TTL plus the stale window.
func (c *RedisCache) Put(ctx context.Context, tenantID, hash string, entries []IndexEntry) error {
	env := redisEnvelope{Entries: entries, StoredAt: time.Now().UnixNano()}
	raw, err := json.Marshal(env)
	if err != nil {
		return rollerrors.Wrap(rollerrors.CodeInfraCache, err, "encode L2 entry")
	}

	expiry := c.config.TTL + c.config.StaleTTL
	if err := c.client.Set(ctx, redisKey(tenantID, hash), raw, expiry).Err(); err != nil {
		return rollerrors.Wrap(rollerrors.CodeInfraCache, err, "redis set failed")
	}
	return nil
}

// Invalidate removes one tenant's cached hash.
func (c *RedisCache) Invalidate(ctx context.Context, tenantID, hash string) error {
	if err := c.client.Del(ctx, redisKey(tenantID, hash)).Err(); err != nil {
		return rollerrors.Wrap(rollerrors.CodeInfraCache, err, "redis del failed")
	}
	return nil
}

// InvalidateTenant removes every cached key of one tenant via a cursor scan.
func (c *RedisCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	pattern := "strata:idx:" + tenantID + ":*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return rollerrors.Wrap(rollerrors.CodeInfraCache, err, "redis scan failed")
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return rollerrors.Wrap(rollerrors.CodeInfraCache, err, "redis del failed")
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
