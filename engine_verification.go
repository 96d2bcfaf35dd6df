package authcore

import (
	"context"
	"errors"

	"github.com/mlenahan/authcore/internal/secret"
	"github.com/mlenahan/authcore/internal/stores"
)

// RequestEmailVerification issues a verification token for the email. The
// plaintext token is returned exactly once for the caller to deliver; only
// its digest is stored, superseding any earlier pending token.
//
// The flow never discloses whether the email belongs to an account: unknown
// addresses, already-verified accounts, and throttled requests all return
// issued=false with a nil error.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) (token string, issued bool, err error) {
	if !e.config.Verification.Enabled {
		return "", false, ErrVerificationDisabled
	}

	email = normalizeIdentifier(email)
	ip := clientIPFromContext(ctx)
	e.metrics.Inc(MetricVerificationRequest)

	result, err := e.verifyLimiter.Check(ctx, email, ip)
	if err != nil {
		return "", false, dependencyFailure(err)
	}
	if !result.Allowed {
		e.metrics.Inc(MetricVerificationThrottled)
		return "", false, nil
	}
	if _, err := e.verifyLimiter.RecordAttempt(ctx, email, ip); err != nil {
		return "", false, dependencyFailure(err)
	}

	user, err := e.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", false, nil
		}
		return "", false, dependencyFailure(err)
	}
	if !user.Usable() || user.EmailVerifiedAt != nil {
		return "", false, nil
	}

	plaintext, digest, err := secret.Generate()
	if err != nil {
		return "", false, dependencyFailure(err)
	}
	if err := e.tokens.Save(ctx, purposeEmailVerification, email, digest, e.config.Verification.TokenTTL); err != nil {
		return "", false, dependencyFailure(err)
	}

	e.notifyVerification(email, plaintext)
	e.emitAudit(AuditEvent{EventType: "verification_requested", Identifier: email, UserID: user.ID, IP: ip, Success: true})
	return plaintext, true, nil
}

// notifyVerification mails the plaintext token fire-and-forget. The token is
// already persisted; delivery failure only surfaces through metrics and audit.
func (e *Engine) notifyVerification(email, token string) {
	msg := Message{
		To:      email,
		Subject: "Verify your email address",
		Body:    "Your verification code is " + token + ". It expires in " + e.config.Verification.TokenTTL.String() + ".",
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.Send(ctx, msg); err != nil {
			e.metrics.Inc(MetricNotificationFailure)
			e.emitAudit(AuditEvent{EventType: "notify", Identifier: email, Success: false, Error: err.Error()})
		}
	}()
}

// ConfirmEmailVerification spends a verification token. Wrong, expired,
// consumed, and never-issued tokens are indistinguishable: all return
// ErrInvalidOrExpiredToken. On success the account is marked verified, its
// cache entries are invalidated, and the request throttle is cleared.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, email, token string) error {
	if !e.config.Verification.Enabled {
		return ErrVerificationDisabled
	}

	email = normalizeIdentifier(email)
	ip := clientIPFromContext(ctx)

	if err := e.consumeToken(ctx, purposeEmailVerification, email, token); err != nil {
		e.metrics.Inc(MetricVerificationFailure)
		e.emitAudit(AuditEvent{EventType: "verification_confirmed", Identifier: email, IP: ip, Success: false, Error: err.Error()})
		return err
	}

	user, err := e.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Token consumed but the account disappeared underneath it.
			return ErrInvalidOrExpiredToken
		}
		return dependencyFailure(err)
	}

	now := e.now().UTC()
	if user.EmailVerifiedAt == nil {
		if err := e.userStore.MarkEmailVerified(ctx, user.ID, now); err != nil {
			return dependencyFailure(err)
		}
	}
	if err := e.userCache.Invalidate(ctx, user.ID); err != nil {
		return dependencyFailure(err)
	}
	if err := e.verifyLimiter.ClearAttempts(ctx, email, ip); err != nil {
		return dependencyFailure(err)
	}

	e.metrics.Inc(MetricVerificationSuccess)
	e.emitAudit(AuditEvent{EventType: "verification_confirmed", Identifier: email, UserID: user.ID, IP: ip, Success: true})
	return nil
}

// consumeToken digests the plaintext and spends the stored record
// atomically. Every failure mode collapses to ErrInvalidOrExpiredToken.
func (e *Engine) consumeToken(ctx context.Context, purpose, identifier, token string) error {
	if token == "" {
		return ErrInvalidOrExpiredToken
	}
	err := e.tokens.Consume(ctx, purpose, identifier, secret.Digest(token))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrTokenNotFound), errors.Is(err, stores.ErrTokenMismatch):
		return ErrInvalidOrExpiredToken
	default:
		return dependencyFailure(err)
	}
}
