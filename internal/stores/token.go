package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenNotFound    = errors.New("token record not found")
	ErrTokenMismatch    = errors.New("token digest mismatch")
	ErrTokenUnavailable = errors.New("token store unavailable")
)

// consumeTokenLua atomically performs GET→compare→DEL on a stored digest so
// two racing confirmations cannot both spend the same token.
// KEYS[1] = record key, ARGV[1] = provided digest.
// Returns the stored digest on match; error strings otherwise.
var consumeTokenLua = redis.NewScript(`
local stored = redis.call('GET', KEYS[1])
if not stored then
  return {err='not_found'}
end
if stored ~= ARGV[1] then
  return {err='mismatch'}
end
redis.call('DEL', KEYS[1])
return stored
`)

// TokenStore persists secret-token digests keyed by (purpose, identifier).
// The plaintext never reaches this store. Saving overwrites any pending
// digest for the same key, so only the newest issued token is valid.
type TokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTokenStore(redisClient redis.UniversalClient, prefix string) *TokenStore {
	if prefix == "" {
		prefix = "tok"
	}
	return &TokenStore{redis: redisClient, prefix: prefix}
}

func (s *TokenStore) key(purpose, identifier string) string {
	return s.prefix + ":" + purpose + ":" + identifier
}

// Save stores the digest with the given TTL, superseding any prior token
// for the same purpose and identifier.
func (s *TokenStore) Save(ctx context.Context, purpose, identifier, digest string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(purpose, identifier), digest, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	return nil
}

// Consume compares providedDigest against the stored digest and deletes the
// record in the same Redis round trip. Absent and mismatched records return
// distinct internal errors; callers collapse both before surfacing them.
func (s *TokenStore) Consume(ctx context.Context, purpose, identifier, providedDigest string) error {
	result, err := consumeTokenLua.Run(ctx, s.redis, []string{s.key(purpose, identifier)}, providedDigest).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return ErrTokenNotFound
		case "mismatch":
			return ErrTokenMismatch
		default:
			return fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
		}
	}

	stored, ok := result.(string)
	if !ok {
		return fmt.Errorf("%w: unexpected lua result type", ErrTokenUnavailable)
	}

	// Lua string comparison is not constant-time; re-check in Go as
	// defense-in-depth before reporting success.
	if subtle.ConstantTimeCompare([]byte(stored), []byte(providedDigest)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

// Delete drops any pending token without consuming it.
func (s *TokenStore) Delete(ctx context.Context, purpose, identifier string) error {
	if err := s.redis.Del(ctx, s.key(purpose, identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	return nil
}
