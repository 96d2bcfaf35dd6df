package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mlenahan/authcore/internal/secret"
	"github.com/mlenahan/authcore/password"
)

// RequestPasswordReset issues a reset token for the email and returns the
// plaintext exactly once. Unlike the verification flow this one is loud:
// unknown addresses return ErrUserNotFound and throttled requests return a
// *RateLimitError, trading enumeration resistance for a usable reset UX.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if !e.config.Reset.Enabled {
		return "", ErrResetDisabled
	}

	email = normalizeIdentifier(email)
	ip := clientIPFromContext(ctx)
	e.metrics.Inc(MetricResetRequest)

	result, err := e.resetLimiter.Check(ctx, email, ip)
	if err != nil {
		return "", dependencyFailure(err)
	}
	if !result.Allowed {
		e.metrics.Inc(MetricResetThrottled)
		return "", &RateLimitError{RetryAfter: retryAfter(e.now(), result.BlockedUntil, e.config.Reset.RequestLimit.Window)}
	}
	if _, err := e.resetLimiter.RecordAttempt(ctx, email, ip); err != nil {
		return "", dependencyFailure(err)
	}

	user, err := e.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrUserNotFound
		}
		return "", dependencyFailure(err)
	}
	if !user.Usable() {
		return "", ErrInactiveAccount
	}

	plaintext, digest, err := secret.Generate()
	if err != nil {
		return "", dependencyFailure(err)
	}
	if err := e.tokens.Save(ctx, purposeIdentityReset, email, digest, e.config.Reset.TokenTTL); err != nil {
		return "", dependencyFailure(err)
	}

	e.emitAudit(AuditEvent{EventType: "reset_requested", Identifier: email, UserID: user.ID, IP: ip, Success: true})
	return plaintext, nil
}

// ConfirmPasswordReset spends a reset token and installs the new password.
// The account must still be active and not deleted when the token is spent;
// a token issued before deactivation cannot resurrect the account. On
// success both the reset throttle and the login protection counters for the
// identifier are cleared.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, token, newPassword string) error {
	if !e.config.Reset.Enabled {
		return ErrResetDisabled
	}

	email = normalizeIdentifier(email)
	ip := clientIPFromContext(ctx)

	user, err := e.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return dependencyFailure(err)
	}
	if !user.Usable() {
		return ErrInactiveAccount
	}

	// Hash before consuming so a policy rejection leaves the token spendable.
	digest, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return dependencyFailure(err)
	}

	if err := e.consumeToken(ctx, purposeIdentityReset, email, token); err != nil {
		e.metrics.Inc(MetricResetFailure)
		e.emitAudit(AuditEvent{EventType: "reset_confirmed", Identifier: email, UserID: user.ID, IP: ip, Success: false, Error: err.Error()})
		return err
	}

	if err := e.userStore.UpdatePasswordDigest(ctx, user.ID, digest); err != nil {
		return dependencyFailure(err)
	}
	if err := e.userCache.Invalidate(ctx, user.ID); err != nil {
		return dependencyFailure(err)
	}
	if err := e.resetLimiter.ClearAttempts(ctx, email, ip); err != nil {
		return dependencyFailure(err)
	}
	if err := e.loginLimiter.ClearAttempts(ctx, email, ip); err != nil {
		return dependencyFailure(err)
	}
	if err := e.accountLock.ResetCounter(ctx, email); err != nil {
		return dependencyFailure(err)
	}

	e.metrics.Inc(MetricResetSuccess)
	e.emitAudit(AuditEvent{EventType: "reset_confirmed", Identifier: email, UserID: user.ID, IP: ip, Success: true})
	return nil
}
