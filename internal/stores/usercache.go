package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss        = errors.New("cache entry absent")
	ErrCacheUnavailable = errors.New("user cache backend unavailable")
)

// UserSnapshot is the denormalized user record held in the cache. It is a
// serialized copy, never the live store record.
type UserSnapshot struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	Username        string     `json:"username"`
	Role            string     `json:"role"`
	IsActive        bool       `json:"is_active"`
	IsDeleted       bool       `json:"is_deleted"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// UserCache holds per-user snapshots and one list-level snapshot of all
// non-deleted users. Entries are deleted on mutation, never updated in
// place, so a stale write can at worst cause an extra load from the source
// of truth.
type UserCache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewUserCache(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *UserCache {
	if prefix == "" {
		prefix = "uc"
	}
	return &UserCache{redis: redisClient, prefix: prefix, ttl: ttl}
}

func (c *UserCache) userKey(id int64) string {
	return c.prefix + ":user:" + strconv.FormatInt(id, 10)
}

func (c *UserCache) listKey() string {
	return c.prefix + ":users"
}

// Get returns the cached snapshot or ErrCacheMiss.
func (c *UserCache) Get(ctx context.Context, id int64) (*UserSnapshot, error) {
	raw, err := c.redis.Get(ctx, c.userKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var snap UserSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("%w: corrupt snapshot", ErrCacheUnavailable)
	}
	return &snap, nil
}

func (c *UserCache) Set(ctx context.Context, snap *UserSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if err := c.redis.Set(ctx, c.userKey(snap.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// GetList returns the cached list snapshot or ErrCacheMiss.
func (c *UserCache) GetList(ctx context.Context) ([]UserSnapshot, error) {
	raw, err := c.redis.Get(ctx, c.listKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var snaps []UserSnapshot
	if err := json.Unmarshal([]byte(raw), &snaps); err != nil {
		return nil, fmt.Errorf("%w: corrupt list snapshot", ErrCacheUnavailable)
	}
	return snaps, nil
}

func (c *UserCache) SetList(ctx context.Context, snaps []UserSnapshot) error {
	payload, err := json.Marshal(snaps)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if err := c.redis.Set(ctx, c.listKey(), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Invalidate deletes the per-user entry and the list entry. Every mutation
// path goes through here before reporting success to its caller.
func (c *UserCache) Invalidate(ctx context.Context, id int64) error {
	if err := c.redis.Del(ctx, c.userKey(id), c.listKey()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
