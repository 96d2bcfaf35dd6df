package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLogUnavailable indicates the attempt log backend is unreachable.
var ErrLogUnavailable = errors.New("attempt log backend unavailable")

// AttemptEntry is one record in the append-only API-key attempt log.
// KeyID is zero when the presented secret matched no known key.
type AttemptEntry struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	IP      string    `json:"ip,omitempty"`
	KeyID   int64     `json:"key_id,omitempty"`
	Event   string    `json:"event"`
	Success bool      `json:"success"`
	Reason  string    `json:"reason,omitempty"`
}

// AttemptLog is a time-ordered log in two Redis sorted sets (score = unix
// nanos): failures in one, successes in the other, so failures can be kept
// for the long retention window while successes age out quickly. Old entries
// are pruned on every write; there is no background sweeper.
type AttemptLog struct {
	redis            redis.UniversalClient
	prefix           string
	failRetention    time.Duration
	successRetention time.Duration
	now              func() time.Time
}

func NewAttemptLog(redisClient redis.UniversalClient, prefix string, failRetention, successRetention time.Duration) *AttemptLog {
	if prefix == "" {
		prefix = "aklog"
	}
	return &AttemptLog{
		redis:            redisClient,
		prefix:           prefix,
		failRetention:    failRetention,
		successRetention: successRetention,
		now:              time.Now,
	}
}

func (s *AttemptLog) failKey() string    { return s.prefix + ":fail" }
func (s *AttemptLog) successKey() string { return s.prefix + ":ok" }

// Append writes one entry and prunes both sets past their retention windows.
func (s *AttemptLog) Append(ctx context.Context, entry AttemptEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = s.now()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}

	key := s.failKey()
	if entry.Success {
		key = s.successKey()
	}

	member := redis.Z{Score: float64(entry.At.UnixNano()), Member: string(payload)}
	if err := s.redis.ZAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}

	now := s.now()
	if err := s.prune(ctx, s.failKey(), now.Add(-s.failRetention)); err != nil {
		return err
	}
	return s.prune(ctx, s.successKey(), now.Add(-s.successRetention))
}

func (s *AttemptLog) prune(ctx context.Context, key string, cutoff time.Time) error {
	max := strconv.FormatInt(cutoff.UnixNano(), 10)
	if err := s.redis.ZRemRangeByScore(ctx, key, "-inf", "("+max).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	return nil
}

// Since returns all retained entries at or after t, oldest first, failures
// and successes merged.
func (s *AttemptLog) Since(ctx context.Context, t time.Time) ([]AttemptEntry, error) {
	rng := &redis.ZRangeBy{Min: strconv.FormatInt(t.UnixNano(), 10), Max: "+inf"}

	var entries []AttemptEntry
	for _, key := range []string{s.failKey(), s.successKey()} {
		raw, err := s.redis.ZRangeByScore(ctx, key, rng).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
		}
		decoded, err := decodeEntries(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, decoded...)
	}

	sortEntries(entries)
	return entries, nil
}

// RecentFailures returns up to n failed attempts, newest first.
func (s *AttemptLog) RecentFailures(ctx context.Context, n int64) ([]AttemptEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	raw, err := s.redis.ZRevRange(ctx, s.failKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	return decodeEntries(raw)
}

func decodeEntries(raw []string) ([]AttemptEntry, error) {
	entries := make([]AttemptEntry, 0, len(raw))
	for _, member := range raw {
		var entry AttemptEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			return nil, fmt.Errorf("%w: corrupt log entry", ErrLogUnavailable)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func sortEntries(entries []AttemptEntry) {
	// Insertion sort: merged result sets are small and mostly ordered.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].At.Before(entries[j-1].At); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
