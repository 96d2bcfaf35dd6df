package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the tuning parameters of a single limiter instance.
// Limiters are injected per scope; there is no process-wide state.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// Result is the outcome of a Check or RecordAttempt call.
type Result struct {
	Allowed      bool
	Remaining    int
	BlockedUntil time.Time
}

// Limiter is a windowed attempt counter with an escalating block, keyed by
// (scope, identifier, ip). State lives entirely in Redis: a counter key that
// expires with the window and a block key that expires with the block.
// Expiry is lazy; nothing is actively swept.
type Limiter struct {
	redis  redis.UniversalClient
	scope  string
	prefix string
	config Config
	now    func() time.Time
}

// New creates a limiter for one scope backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix, scope string, cfg Config) *Limiter {
	if prefix == "" {
		prefix = "ac"
	}
	return &Limiter{
		redis:  redisClient,
		scope:  scope,
		prefix: prefix,
		config: cfg,
		now:    time.Now,
	}
}

func (l *Limiter) attemptKey(identifier, ip string) string {
	return l.prefix + ":" + l.scope + ":att:" + identifier + ":" + ip
}

func (l *Limiter) blockKey(identifier, ip string) string {
	return l.prefix + ":" + l.scope + ":blk:" + identifier + ":" + ip
}

// Check reports whether another attempt is currently allowed. An active
// block short-circuits the counter; an expired counter key reads as zero.
func (l *Limiter) Check(ctx context.Context, identifier, ip string) (Result, error) {
	if until, blocked, err := l.blockedUntil(ctx, identifier, ip); err != nil {
		return Result{}, err
	} else if blocked {
		return Result{Allowed: false, BlockedUntil: until}, nil
	}

	count, err := l.redis.Get(ctx, l.attemptKey(identifier, ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Result{Allowed: true, Remaining: l.config.MaxAttempts}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	remaining := l.config.MaxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count < int64(l.config.MaxAttempts), Remaining: remaining}, nil
}

// RecordAttempt counts one attempt. Reaching MaxAttempts sets the block key
// and extends the counter's TTL to the block duration so the stale window
// cannot outlive the block.
func (l *Limiter) RecordAttempt(ctx context.Context, identifier, ip string) (Result, error) {
	key := l.attemptKey(identifier, ip)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// First hit in the window owns the TTL.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if count >= int64(l.config.MaxAttempts) {
		until := l.now().Add(l.config.Block)
		if err := l.redis.Set(ctx, l.blockKey(identifier, ip), until.Unix(), l.config.Block).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err := l.redis.Expire(ctx, key, l.config.Block).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Result{Allowed: false, BlockedUntil: until}, nil
	}

	return Result{Allowed: true, Remaining: l.config.MaxAttempts - int(count)}, nil
}

// ClearAttempts deletes all limiter state for the key. Called on successful
// authentication or successful token consumption.
func (l *Limiter) ClearAttempts(ctx context.Context, identifier, ip string) error {
	keys := []string{l.attemptKey(identifier, ip), l.blockKey(identifier, ip)}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *Limiter) blockedUntil(ctx context.Context, identifier, ip string) (time.Time, bool, error) {
	raw, err := l.redis.Get(ctx, l.blockKey(identifier, ip)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: corrupt block value", ErrUnavailable)
	}

	until := time.Unix(unix, 0)
	if !l.now().Before(until) {
		// Key TTL and the stored timestamp can disagree by clock skew; treat as expired.
		return time.Time{}, false, nil
	}
	return until, true, nil
}
