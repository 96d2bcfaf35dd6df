package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func apiKey(id int64, value string) APIKeyRecord {
	return APIKeyRecord{ID: id, Value: value, IsActive: true, Permissions: []string{"read"}}
}

func newKeyEngine(t *testing.T, keys *mockAPIKeyStore) (*Engine, *mockAPIKeyStore) {
	t.Helper()
	engine, _ := newTestEngine(t, newMockUserStore(), func(b *Builder) {
		b.WithAPIKeyStore(keys)
	})
	return engine, keys
}

func TestValidateAPIKey(t *testing.T) {
	engine, _ := newKeyEngine(t, newMockAPIKeyStore(
		apiKey(1, "key-one-secret-value"),
		apiKey(2, "key-two-secret-value"),
	))
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	identity, err := engine.ValidateAPIKey(ctx, "key-two-secret-value")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.ID != 2 {
		t.Fatalf("key id = %d, want 2", identity.ID)
	}
	if len(identity.Permissions) != 1 || identity.Permissions[0] != "read" {
		t.Fatalf("permissions = %v, want [read]", identity.Permissions)
	}
}

func TestValidateAPIKeyUnknownSecret(t *testing.T) {
	engine, _ := newKeyEngine(t, newMockAPIKeyStore(apiKey(1, "key-one-secret-value")))
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	if _, err := engine.ValidateAPIKey(ctx, "not-a-real-key"); !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("err = %v, want ErrAPIKeyInvalid", err)
	}

	entries, err := engine.RecentAPIKeyFailures(ctx, 10)
	if err != nil {
		t.Fatalf("recent failures: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("failure log entries = %d, want 1", len(entries))
	}
	if entries[0].KeyID != 0 || entries[0].Reason != "unknown_key" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestValidateAPIKeyInactive(t *testing.T) {
	inactive := apiKey(1, "key-one-secret-value")
	inactive.IsActive = false
	engine, _ := newKeyEngine(t, newMockAPIKeyStore(inactive))
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	// Inactive keys never enter the active snapshot, so the secret reads as
	// unknown rather than as a disabled key.
	if _, err := engine.ValidateAPIKey(ctx, "key-one-secret-value"); !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("err = %v, want ErrAPIKeyInvalid", err)
	}
}

func TestValidateAPIKeyExpiredSweptLazily(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	expired := apiKey(1, "key-one-secret-value")
	expired.ExpiresAt = &past

	engine, store := newKeyEngine(t, newMockAPIKeyStore(expired))
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	if _, err := engine.ValidateAPIKey(ctx, "key-one-secret-value"); !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("err = %v, want ErrAPIKeyInvalid", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.deactivateCalls == 0 {
		t.Fatal("cache rebuild should sweep expired keys in the store")
	}
	if store.keys[0].IsActive {
		t.Fatal("expired key should have been deactivated")
	}
}

func TestValidateAPIKeyRateLimited(t *testing.T) {
	engine, _ := newKeyEngine(t, newMockAPIKeyStore(apiKey(1, "key-one-secret-value")))
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	limit := engine.config.APIKey.RequestLimit.MaxAttempts
	for i := 0; i < limit; i++ {
		if _, err := engine.ValidateAPIKey(ctx, "wrong-guess"); !errors.Is(err, ErrAPIKeyInvalid) {
			t.Fatalf("validate %d: err = %v, want ErrAPIKeyInvalid", i, err)
		}
	}

	_, err := engine.ValidateAPIKey(ctx, "key-one-secret-value")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// A different IP is unaffected.
	other := WithClientIP(context.Background(), "10.0.0.2")
	if _, err := engine.ValidateAPIKey(other, "key-one-secret-value"); err != nil {
		t.Fatalf("other ip: %v", err)
	}
}

func TestListActiveAPIKeysCached(t *testing.T) {
	engine, store := newKeyEngine(t, newMockAPIKeyStore(
		apiKey(1, "key-one-secret-value"),
		apiKey(2, "key-two-secret-value"),
	))
	ctx := context.Background()

	first, err := engine.ListActiveAPIKeys(ctx)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("keys = %d, want 2", len(first))
	}
	for _, rec := range first {
		if rec.Value != "" {
			t.Fatal("listing must not expose key secrets")
		}
	}

	if _, err := engine.ListActiveAPIKeys(ctx); err != nil {
		t.Fatalf("second list: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.listActiveCalls != 1 {
		t.Fatalf("store list calls = %d, want 1 (second read from cache)", store.listActiveCalls)
	}
}

func TestInvalidateAPIKeyCache(t *testing.T) {
	engine, store := newKeyEngine(t, newMockAPIKeyStore(apiKey(1, "key-one-secret-value")))
	ctx := context.Background()

	if _, err := engine.ListActiveAPIKeys(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := engine.InvalidateAPIKeyCache(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := engine.ListActiveAPIKeys(ctx); err != nil {
		t.Fatalf("list after invalidate: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.listActiveCalls != 2 {
		t.Fatalf("store list calls = %d, want 2 after invalidation", store.listActiveCalls)
	}
}

func TestAPIKeyAttemptLog(t *testing.T) {
	engine, _ := newKeyEngine(t, newMockAPIKeyStore(apiKey(1, "key-one-secret-value")))
	ctx := WithClientIP(context.Background(), "10.0.0.1")
	start := time.Now().Add(-time.Minute)

	if _, err := engine.ValidateAPIKey(ctx, "key-one-secret-value"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := engine.ValidateAPIKey(ctx, "wrong-secret"); !errors.Is(err, ErrAPIKeyInvalid) {
		t.Fatalf("err = %v, want ErrAPIKeyInvalid", err)
	}

	entries, err := engine.APIKeyAttemptsSince(ctx, start)
	if err != nil {
		t.Fatalf("attempts since: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	var successes, failures int
	for _, entry := range entries {
		if entry.IP != "10.0.0.1" {
			t.Fatalf("entry ip = %q, want 10.0.0.1", entry.IP)
		}
		if entry.Success {
			successes++
		} else {
			failures++
		}
	}
	if successes != 1 || failures != 1 {
		t.Fatalf("successes=%d failures=%d, want 1/1", successes, failures)
	}
}

func TestListAPIKeysIncludesInactive(t *testing.T) {
	disabled := apiKey(2, "key-two-secret-value")
	disabled.IsActive = false
	engine, _ := newKeyEngine(t, newMockAPIKeyStore(apiKey(1, "key-one-secret-value"), disabled))
	ctx := context.Background()

	keys, err := engine.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %d, want 2", len(keys))
	}

	active, err := engine.ListActiveAPIKeys(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != 1 {
		t.Fatalf("active keys = %+v, want only key 1", active)
	}
}

func TestValidateAPIKeyWithoutStore(t *testing.T) {
	engine, _ := newTestEngine(t, newMockUserStore())

	if _, err := engine.ValidateAPIKey(context.Background(), "any"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("err = %v, want ErrEngineNotReady", err)
	}
}
