package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockConfig tunes the extended-block state machine for one guarded scope.
type LockConfig struct {
	Threshold     int           // failures before the block engages
	CountWindow   time.Duration // rolling window for the failure counter
	BlockDuration time.Duration // how long the identifier stays blocked
}

// ErrLockUnavailable indicates the lock backend is unreachable.
var ErrLockUnavailable = errors.New("account lock backend unavailable")

// AccountLock tracks failures per identifier and escalates to a punitive
// timeout. The block is independent of any windowed limiter state: a
// successful authentication clears the counter but never the block itself.
type AccountLock struct {
	redis  redis.UniversalClient
	prefix string
	config LockConfig
	now    func() time.Time
}

// NewAccountLock creates a lock with the given key prefix (for example
// "ab" for login accounts, "akb" for API keys).
func NewAccountLock(redisClient redis.UniversalClient, prefix string, cfg LockConfig) *AccountLock {
	if prefix == "" {
		prefix = "ab"
	}
	return &AccountLock{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
		now:    time.Now,
	}
}

func (l *AccountLock) blockKey(identifier string) string {
	return l.prefix + ":blk:" + identifier
}

func (l *AccountLock) counterKey(identifier string) string {
	return l.prefix + ":cnt:" + identifier
}

// BlockedUntil reports whether the identifier is currently blocked.
func (l *AccountLock) BlockedUntil(ctx context.Context, identifier string) (time.Time, bool, error) {
	raw, err := l.redis.Get(ctx, l.blockKey(identifier)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: corrupt block value", ErrLockUnavailable)
	}

	until := time.Unix(unix, 0)
	if !l.now().Before(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// RecordFailure counts one failure for the identifier. When the counter
// reaches the threshold it sets the block, deletes the counter, and returns
// the block deadline with triggered=true.
func (l *AccountLock) RecordFailure(ctx context.Context, identifier string) (time.Time, bool, error) {
	if identifier == "" {
		return time.Time{}, false, nil
	}

	key := l.counterKey(identifier)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.CountWindow).Err(); err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
		}
	}

	if count < int64(l.config.Threshold) {
		return time.Time{}, false, nil
	}

	until := l.now().Add(l.config.BlockDuration)
	if err := l.redis.Set(ctx, l.blockKey(identifier), until.Unix(), l.config.BlockDuration).Err(); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	return until, true, nil
}

// ResetCounter clears the failure counter after a success. The block key, if
// set, is left to expire on its own.
func (l *AccountLock) ResetCounter(ctx context.Context, identifier string) error {
	if identifier == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.counterKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	return nil
}
