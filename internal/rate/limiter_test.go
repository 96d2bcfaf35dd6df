package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, New(rdb, "ac", "login", cfg)
}

func TestCheckFreshKeyIsAllowed(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 3, Window: time.Minute, Block: 5 * time.Minute})

	res, err := l.Check(context.Background(), "alice", "1.2.3.4")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !res.Allowed || res.Remaining != 3 {
		t.Fatalf("fresh key: got %+v", res)
	}
}

func TestRecordAttemptBlocksAtThreshold(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 3, Window: time.Minute, Block: 5 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.RecordAttempt(ctx, "alice", "1.2.3.4")
		if err != nil {
			t.Fatalf("RecordAttempt %d failed: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d should not block yet", i)
		}
	}

	res, err := l.RecordAttempt(ctx, "alice", "1.2.3.4")
	if err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("third attempt should trigger the block")
	}
	if res.BlockedUntil.IsZero() || time.Until(res.BlockedUntil) > 5*time.Minute+time.Second {
		t.Fatalf("unexpected BlockedUntil: %v", res.BlockedUntil)
	}

	check, err := l.Check(ctx, "alice", "1.2.3.4")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if check.Allowed {
		t.Fatal("blocked key must not be allowed")
	}
	if check.BlockedUntil.IsZero() {
		t.Fatal("Check on a blocked key must carry BlockedUntil")
	}
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	mr, l := newTestLimiter(t, Config{MaxAttempts: 3, Window: time.Minute, Block: 5 * time.Minute})
	ctx := context.Background()

	if _, err := l.RecordAttempt(ctx, "alice", "1.2.3.4"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if _, err := l.RecordAttempt(ctx, "alice", "1.2.3.4"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	res, err := l.Check(ctx, "alice", "1.2.3.4")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !res.Allowed || res.Remaining != 3 {
		t.Fatalf("expired window should read fresh, got %+v", res)
	}
}

func TestBlockExpiryReopensWithFreshCounter(t *testing.T) {
	mr, l := newTestLimiter(t, Config{MaxAttempts: 2, Window: time.Minute, Block: 5 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.RecordAttempt(ctx, "alice", "1.2.3.4"); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}

	check, err := l.Check(ctx, "alice", "1.2.3.4")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if check.Allowed {
		t.Fatal("expected blocked state")
	}

	mr.FastForward(6 * time.Minute)

	check, err = l.Check(ctx, "alice", "1.2.3.4")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !check.Allowed || check.Remaining != 2 {
		t.Fatalf("expired block should read fresh, got %+v", check)
	}
}

func TestClearAttempts(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 2, Window: time.Minute, Block: 5 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.RecordAttempt(ctx, "alice", "1.2.3.4"); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}
	if err := l.ClearAttempts(ctx, "alice", "1.2.3.4"); err != nil {
		t.Fatalf("ClearAttempts failed: %v", err)
	}

	res, err := l.Check(ctx, "alice", "1.2.3.4")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !res.Allowed || res.Remaining != 2 {
		t.Fatalf("cleared key should read fresh, got %+v", res)
	}
}

func TestKeysAreIsolatedByIP(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 2, Window: time.Minute, Block: 5 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.RecordAttempt(ctx, "alice", "1.2.3.4"); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}

	res, err := l.Check(ctx, "alice", "5.6.7.8")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("block on one ip must not spill to another")
	}
}
