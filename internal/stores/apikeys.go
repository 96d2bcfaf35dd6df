package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyCacheUnavailable indicates the API-key cache backend is unreachable.
var ErrKeyCacheUnavailable = errors.New("api key cache backend unavailable")

// APIKeySnapshot is the cached DTO for one API key. It carries the SHA-256
// digest of the secret, never the secret itself, and never the live store
// record. ExpiresAt is zero for keys that do not expire.
type APIKeySnapshot struct {
	ID          int64    `json:"id"`
	ValueDigest string   `json:"value_digest"`
	IsActive    bool     `json:"is_active"`
	ExpiresAt   int64    `json:"expires_at,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Expired reports whether the snapshot is past its expiry at the given time.
func (s APIKeySnapshot) Expired(now time.Time) bool {
	return s.ExpiresAt != 0 && now.Unix() >= s.ExpiresAt
}

// APIKeyCache holds two snapshots: the active/non-expired subset used on the
// hot validation path, and the full key list. Both are invalidated together
// on any key mutation.
type APIKeyCache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewAPIKeyCache(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *APIKeyCache {
	if prefix == "" {
		prefix = "ak"
	}
	return &APIKeyCache{redis: redisClient, prefix: prefix, ttl: ttl}
}

func (c *APIKeyCache) activeKey() string { return c.prefix + ":active" }
func (c *APIKeyCache) allKey() string    { return c.prefix + ":all" }

func (c *APIKeyCache) GetActive(ctx context.Context) ([]APIKeySnapshot, error) {
	return c.get(ctx, c.activeKey())
}

func (c *APIKeyCache) SetActive(ctx context.Context, snaps []APIKeySnapshot) error {
	return c.set(ctx, c.activeKey(), snaps)
}

func (c *APIKeyCache) GetAll(ctx context.Context) ([]APIKeySnapshot, error) {
	return c.get(ctx, c.allKey())
}

func (c *APIKeyCache) SetAll(ctx context.Context, snaps []APIKeySnapshot) error {
	return c.set(ctx, c.allKey(), snaps)
}

// Invalidate drops both snapshots.
func (c *APIKeyCache) Invalidate(ctx context.Context) error {
	if err := c.redis.Del(ctx, c.activeKey(), c.allKey()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyCacheUnavailable, err)
	}
	return nil
}

func (c *APIKeyCache) get(ctx context.Context, key string) ([]APIKeySnapshot, error) {
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyCacheUnavailable, err)
	}

	var snaps []APIKeySnapshot
	if err := json.Unmarshal([]byte(raw), &snaps); err != nil {
		return nil, fmt.Errorf("%w: corrupt snapshot", ErrKeyCacheUnavailable)
	}
	return snaps, nil
}

func (c *APIKeyCache) set(ctx context.Context, key string, snaps []APIKeySnapshot) error {
	payload, err := json.Marshal(snaps)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyCacheUnavailable, err)
	}
	if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyCacheUnavailable, err)
	}
	return nil
}
