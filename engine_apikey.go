package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/mlenahan/authcore/internal/secret"
	"github.com/mlenahan/authcore/internal/stores"
)

// ValidateAPIKey checks a presented secret against the active key set and
// returns the matching key's identity. The comparison runs over the full
// snapshot in constant time per entry regardless of where the match sits.
// Per-IP validations are rate limited, and a key that keeps being presented
// while inactive, expired, or blocked accrues failures toward an extended
// key-level block. Every outcome lands in the attempt log.
func (e *Engine) ValidateAPIKey(ctx context.Context, presented string) (APIKeyIdentity, error) {
	if e.apiKeyStore == nil {
		return APIKeyIdentity{}, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	result, err := e.apiKeyLimiter.Check(ctx, "", ip)
	if err != nil {
		return APIKeyIdentity{}, dependencyFailure(err)
	}
	if !result.Allowed {
		e.metrics.Inc(MetricAPIKeyRateLimited)
		e.logKeyAttempt(ctx, ip, 0, false, "rate_limited")
		return APIKeyIdentity{}, &RateLimitError{RetryAfter: retryAfter(e.now(), result.BlockedUntil, e.config.APIKey.RequestLimit.Window)}
	}
	if _, err := e.apiKeyLimiter.RecordAttempt(ctx, "", ip); err != nil {
		return APIKeyIdentity{}, dependencyFailure(err)
	}

	snapshots, err := e.activeKeySnapshots(ctx)
	if err != nil {
		return APIKeyIdentity{}, err
	}

	// Scan the entire set even after a hit so response time does not reveal
	// the position of the matching key.
	now := e.now()
	var match *stores.APIKeySnapshot
	for i := range snapshots {
		if secret.Verify(presented, snapshots[i].ValueDigest) && match == nil {
			match = &snapshots[i]
		}
	}

	if match == nil {
		e.metrics.Inc(MetricAPIKeyRejected)
		e.logKeyAttempt(ctx, ip, 0, false, "unknown_key")
		e.emitAudit(AuditEvent{EventType: "api_key_validated", IP: ip, Success: false, Error: "unknown key"})
		return APIKeyIdentity{}, ErrAPIKeyInvalid
	}

	keyID := match.ID
	if !match.IsActive || match.Expired(now) {
		e.metrics.Inc(MetricAPIKeyRejected)
		e.logKeyAttempt(ctx, ip, keyID, false, "unusable_key")
		e.recordKeyFailure(ctx, keyID, ip)
		return APIKeyIdentity{}, ErrAPIKeyInvalid
	}

	until, blocked, err := e.keyLock.BlockedUntil(ctx, keyLockIdentifier(keyID))
	if err != nil {
		return APIKeyIdentity{}, dependencyFailure(err)
	}
	if blocked {
		e.metrics.Inc(MetricAPIKeyBlocked)
		e.logKeyAttempt(ctx, ip, keyID, false, "key_blocked")
		return APIKeyIdentity{}, &AccountBlockError{Until: until}
	}

	// A valid presentation resets the caller's window so legitimate clients
	// never ratchet toward the block.
	if err := e.apiKeyLimiter.ClearAttempts(ctx, "", ip); err != nil {
		return APIKeyIdentity{}, dependencyFailure(err)
	}

	e.metrics.Inc(MetricAPIKeyValidated)
	e.logKeyAttempt(ctx, ip, keyID, true, "")
	e.emitAudit(AuditEvent{EventType: "api_key_validated", KeyID: keyID, IP: ip, Success: true})
	return APIKeyIdentity{ID: keyID, Permissions: append([]string(nil), match.Permissions...)}, nil
}

// ListActiveAPIKeys returns the usable key set as records with the secret
// stripped. Reads go through the snapshot cache; a miss first sweeps expired
// keys in the durable store so the rebuilt snapshot is already clean.
func (e *Engine) ListActiveAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	if e.apiKeyStore == nil {
		return nil, ErrEngineNotReady
	}

	snapshots, err := e.activeKeySnapshots(ctx)
	if err != nil {
		return nil, err
	}
	return keyRecordsFromSnapshots(snapshots), nil
}

// ListAPIKeys returns every key, active or not, with the secret stripped.
// Reads go through the all-keys snapshot.
func (e *Engine) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	if e.apiKeyStore == nil {
		return nil, ErrEngineNotReady
	}

	snapshots, err := e.keyCache.GetAll(ctx)
	if err != nil {
		if !errors.Is(err, stores.ErrCacheMiss) {
			return nil, dependencyFailure(err)
		}
		records, err := e.apiKeyStore.ListKeys(ctx)
		if err != nil {
			return nil, dependencyFailure(err)
		}
		snapshots = keySnapshots(records)
		if err := e.keyCache.SetAll(ctx, snapshots); err != nil {
			return nil, dependencyFailure(err)
		}
	}
	return keyRecordsFromSnapshots(snapshots), nil
}

// InvalidateAPIKeyCache drops both key snapshots. Hosts call this after any
// key mutation in their own store, before reporting success upstream.
func (e *Engine) InvalidateAPIKeyCache(ctx context.Context) error {
	if err := e.keyCache.Invalidate(ctx); err != nil {
		return dependencyFailure(err)
	}
	return nil
}

// APIKeyAttemptsSince returns retained attempt-log entries at or after t,
// oldest first.
func (e *Engine) APIKeyAttemptsSince(ctx context.Context, t time.Time) ([]AttemptLogEntry, error) {
	entries, err := e.attemptLog.Since(ctx, t)
	if err != nil {
		return nil, dependencyFailure(err)
	}
	return convertLogEntries(entries), nil
}

// RecentAPIKeyFailures returns up to n failed attempts, newest first.
func (e *Engine) RecentAPIKeyFailures(ctx context.Context, n int64) ([]AttemptLogEntry, error) {
	entries, err := e.attemptLog.RecentFailures(ctx, n)
	if err != nil {
		return nil, dependencyFailure(err)
	}
	return convertLogEntries(entries), nil
}

func (e *Engine) activeKeySnapshots(ctx context.Context) ([]stores.APIKeySnapshot, error) {
	snapshots, err := e.keyCache.GetActive(ctx)
	if err == nil {
		return snapshots, nil
	}
	if !errors.Is(err, stores.ErrCacheMiss) {
		return nil, dependencyFailure(err)
	}

	if _, err := e.apiKeyStore.DeactivateExpired(ctx, e.now()); err != nil {
		return nil, dependencyFailure(err)
	}
	records, err := e.apiKeyStore.ListActiveKeys(ctx)
	if err != nil {
		return nil, dependencyFailure(err)
	}

	snapshots = keySnapshots(records)
	if err := e.keyCache.SetActive(ctx, snapshots); err != nil {
		return nil, dependencyFailure(err)
	}
	return snapshots, nil
}

// keySnapshots digests the secrets and drops them from the cached shape.
func keySnapshots(records []APIKeyRecord) []stores.APIKeySnapshot {
	snapshots := make([]stores.APIKeySnapshot, 0, len(records))
	for _, rec := range records {
		snap := stores.APIKeySnapshot{
			ID:          rec.ID,
			ValueDigest: secret.Digest(rec.Value),
			IsActive:    rec.IsActive,
			Permissions: append([]string(nil), rec.Permissions...),
		}
		if rec.ExpiresAt != nil {
			snap.ExpiresAt = rec.ExpiresAt.Unix()
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

func keyRecordsFromSnapshots(snapshots []stores.APIKeySnapshot) []APIKeyRecord {
	records := make([]APIKeyRecord, 0, len(snapshots))
	for _, snap := range snapshots {
		rec := APIKeyRecord{
			ID:          snap.ID,
			IsActive:    snap.IsActive,
			Permissions: append([]string(nil), snap.Permissions...),
		}
		if snap.ExpiresAt != 0 {
			at := time.Unix(snap.ExpiresAt, 0).UTC()
			rec.ExpiresAt = &at
		}
		records = append(records, rec)
	}
	return records
}

func (e *Engine) recordKeyFailure(ctx context.Context, keyID int64, ip string) {
	until, triggered, err := e.keyLock.RecordFailure(ctx, keyLockIdentifier(keyID))
	if err != nil || !triggered {
		return
	}
	e.metrics.Inc(MetricAPIKeyBlocked)
	e.emitAudit(AuditEvent{
		EventType: "api_key_blocked",
		KeyID:     keyID,
		IP:        ip,
		Metadata:  map[string]string{"until": until.UTC().Format(time.RFC3339)},
	})
}

func (e *Engine) logKeyAttempt(ctx context.Context, ip string, keyID int64, success bool, reason string) {
	entry := stores.AttemptEntry{
		At:      e.now(),
		IP:      ip,
		KeyID:   keyID,
		Event:   "api_key_validation",
		Success: success,
		Reason:  reason,
	}
	// Log writes are best effort; validation outcomes never depend on them.
	_ = e.attemptLog.Append(ctx, entry)
}

func keyLockIdentifier(keyID int64) string {
	return "key:" + strconv.FormatInt(keyID, 10)
}

func convertLogEntries(entries []stores.AttemptEntry) []AttemptLogEntry {
	out := make([]AttemptLogEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, AttemptLogEntry{
			ID:      entry.ID,
			At:      entry.At,
			IP:      entry.IP,
			KeyID:   entry.KeyID,
			Event:   entry.Event,
			Success: entry.Success,
			Reason:  entry.Reason,
		})
	}
	return out
}
