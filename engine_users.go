package authcore

import (
	"context"
	"errors"

	"github.com/mlenahan/authcore/internal/secret"
	"github.com/mlenahan/authcore/internal/stores"
)

// GetUser returns the user by id, reading through the snapshot cache.
// Soft-deleted users read as ErrUserNotFound. Snapshots carry no password
// digest; callers needing credentials go to the store directly.
func (e *Engine) GetUser(ctx context.Context, id int64) (UserRecord, error) {
	snap, err := e.userCache.Get(ctx, id)
	if err == nil {
		e.metrics.Inc(MetricUserCacheHit)
		if snap.IsDeleted {
			return UserRecord{}, ErrUserNotFound
		}
		return recordFromSnapshot(snap), nil
	}
	if !errors.Is(err, stores.ErrCacheMiss) {
		return UserRecord{}, dependencyFailure(err)
	}
	e.metrics.Inc(MetricUserCacheMiss)

	user, err := e.userStore.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, dependencyFailure(err)
	}
	if user.IsDeleted {
		return UserRecord{}, ErrUserNotFound
	}

	snap = snapshotFromRecord(user)
	if err := e.userCache.Set(ctx, snap); err != nil {
		return UserRecord{}, dependencyFailure(err)
	}
	// Return the snapshot shape on both paths so hits and misses agree.
	return recordFromSnapshot(snap), nil
}

// ListUsers returns all non-deleted users ordered by creation time
// descending, reading through the list snapshot.
func (e *Engine) ListUsers(ctx context.Context) ([]UserRecord, error) {
	snaps, err := e.userCache.GetList(ctx)
	if err == nil {
		e.metrics.Inc(MetricUserCacheHit)
		records := make([]UserRecord, 0, len(snaps))
		for i := range snaps {
			records = append(records, recordFromSnapshot(&snaps[i]))
		}
		return records, nil
	}
	if !errors.Is(err, stores.ErrCacheMiss) {
		return nil, dependencyFailure(err)
	}
	e.metrics.Inc(MetricUserCacheMiss)

	users, err := e.userStore.ListUsers(ctx)
	if err != nil {
		return nil, dependencyFailure(err)
	}

	snaps = make([]stores.UserSnapshot, 0, len(users))
	records := make([]UserRecord, 0, len(users))
	for _, user := range users {
		snap := snapshotFromRecord(user)
		snaps = append(snaps, *snap)
		records = append(records, recordFromSnapshot(snap))
	}
	if err := e.userCache.SetList(ctx, snaps); err != nil {
		return nil, dependencyFailure(err)
	}
	return records, nil
}

// InvalidateUserCache drops the user's snapshot and the list snapshot.
// Hosts call this after mutating a user in their own store, before
// reporting success upstream, so the next read observes the new state.
func (e *Engine) InvalidateUserCache(ctx context.Context, id int64) error {
	if err := e.userCache.Invalidate(ctx, id); err != nil {
		return dependencyFailure(err)
	}
	e.metrics.Inc(MetricUserCacheInvalidation)
	return nil
}

// DeleteUser soft-deletes the user and invalidates its cache entries. The
// row survives for audit purposes; subsequent reads return ErrUserNotFound.
func (e *Engine) DeleteUser(ctx context.Context, id int64) error {
	user, err := e.userStore.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return dependencyFailure(err)
	}
	if user.IsDeleted {
		return ErrUserNotFound
	}

	if err := e.userStore.SoftDeleteUser(ctx, id, e.now().UTC()); err != nil {
		return dependencyFailure(err)
	}
	if err := e.InvalidateUserCache(ctx, id); err != nil {
		return err
	}

	e.emitAudit(AuditEvent{EventType: "user_deleted", UserID: id, Identifier: normalizeIdentifier(user.Email), Success: true})
	return nil
}

// AnonymizeUser irreversibly strips the user's identity. Digests of the
// original email and username are recorded in the blacklist first so the
// identity can never be re-registered, then the store scrubs the row. The
// plaintext identity never reaches the blacklist.
func (e *Engine) AnonymizeUser(ctx context.Context, id int64) error {
	if e.blacklist == nil {
		return ErrEngineNotReady
	}

	user, err := e.userStore.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return dependencyFailure(err)
	}

	emailDigest := secret.Digest(normalizeIdentifier(user.Email))
	usernameDigest := secret.Digest(normalizeIdentifier(user.Username))
	if err := e.blacklist.AddIdentityDigests(ctx, emailDigest, usernameDigest); err != nil {
		return dependencyFailure(err)
	}

	if err := e.userStore.AnonymizeUser(ctx, id, e.now().UTC()); err != nil {
		return dependencyFailure(err)
	}
	if err := e.InvalidateUserCache(ctx, id); err != nil {
		return err
	}

	e.emitAudit(AuditEvent{EventType: "user_anonymized", UserID: id, Success: true})
	return nil
}

// IsIdentityBlacklisted reports whether the email or username belongs to a
// retired identity. Registration paths call this before creating accounts.
func (e *Engine) IsIdentityBlacklisted(ctx context.Context, identity string) (bool, error) {
	if e.blacklist == nil {
		return false, ErrEngineNotReady
	}
	blacklisted, err := e.blacklist.IsDigestBlacklisted(ctx, secret.Digest(normalizeIdentifier(identity)))
	if err != nil {
		return false, dependencyFailure(err)
	}
	return blacklisted, nil
}

func snapshotFromRecord(user UserRecord) *stores.UserSnapshot {
	return &stores.UserSnapshot{
		ID:              user.ID,
		Email:           user.Email,
		Username:        user.Username,
		Role:            user.Role,
		IsActive:        user.IsActive,
		IsDeleted:       user.IsDeleted,
		EmailVerifiedAt: user.EmailVerifiedAt,
		CreatedAt:       user.CreatedAt,
	}
}

func recordFromSnapshot(snap *stores.UserSnapshot) UserRecord {
	return UserRecord{
		ID:              snap.ID,
		Email:           snap.Email,
		Username:        snap.Username,
		Role:            snap.Role,
		IsActive:        snap.IsActive,
		IsDeleted:       snap.IsDeleted,
		EmailVerifiedAt: snap.EmailVerifiedAt,
		CreatedAt:       snap.CreatedAt,
	}
}
