package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// notifyTimeout bounds the out-of-band block notification.
const notifyTimeout = 10 * time.Second

// CheckLoginAttempt reports whether a login attempt for the identifier may
// proceed. The account-level extended block is consulted before the windowed
// limiter, so a blocked account reads as blocked even from a fresh IP. The
// caller's IP is taken from the context (WithClientIP).
func (e *Engine) CheckLoginAttempt(ctx context.Context, identifier string) (LoginCheck, error) {
	identifier = normalizeIdentifier(identifier)
	ip := clientIPFromContext(ctx)

	until, blocked, err := e.accountLock.BlockedUntil(ctx, identifier)
	if err != nil {
		return LoginCheck{}, dependencyFailure(err)
	}
	if blocked {
		e.metrics.Inc(MetricAccountBlocked)
		return LoginCheck{BlockedUntil: until, Reason: &AccountBlockError{Until: until}}, nil
	}

	result, err := e.loginLimiter.Check(ctx, identifier, ip)
	if err != nil {
		return LoginCheck{}, dependencyFailure(err)
	}
	if !result.Allowed {
		e.metrics.Inc(MetricLoginRateLimited)
		return LoginCheck{
			Remaining:    result.Remaining,
			BlockedUntil: result.BlockedUntil,
			Reason:       &RateLimitError{RetryAfter: retryAfter(e.now(), result.BlockedUntil, e.config.Login.Window)},
		}, nil
	}

	return LoginCheck{Allowed: true, Remaining: result.Remaining}, nil
}

// RecordLoginAttempt records the outcome of a login attempt. A success
// clears the windowed limiter and the account failure counter but never an
// already-engaged block. A failure counts against both; when the account
// threshold is reached the extended block engages and, if configured, the
// contact is notified out of band.
func (e *Engine) RecordLoginAttempt(ctx context.Context, identifier string, success bool, contact *Contact) error {
	identifier = normalizeIdentifier(identifier)
	ip := clientIPFromContext(ctx)

	if success {
		if err := e.loginLimiter.ClearAttempts(ctx, identifier, ip); err != nil {
			return dependencyFailure(err)
		}
		if err := e.accountLock.ResetCounter(ctx, identifier); err != nil {
			return dependencyFailure(err)
		}
		e.metrics.Inc(MetricLoginSuccess)
		e.emitAudit(AuditEvent{EventType: "login", Identifier: identifier, IP: ip, Success: true})
		return nil
	}

	if _, err := e.loginLimiter.RecordAttempt(ctx, identifier, ip); err != nil {
		return dependencyFailure(err)
	}
	until, triggered, err := e.accountLock.RecordFailure(ctx, identifier)
	if err != nil {
		return dependencyFailure(err)
	}

	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(AuditEvent{EventType: "login", Identifier: identifier, IP: ip, Success: false})

	if triggered {
		e.metrics.Inc(MetricAccountBlocked)
		e.emitAudit(AuditEvent{
			EventType:  "account_blocked",
			Identifier: identifier,
			IP:         ip,
			Metadata:   map[string]string{"until": until.UTC().Format(time.RFC3339)},
		})
		e.notifyBlock(identifier, contact, until)
	}
	return nil
}

// Authenticate runs the full protected login: limiter and block checks,
// credential verification against the stored Argon2id digest, and outcome
// recording. Callers that verify credentials themselves can use
// CheckLoginAttempt and RecordLoginAttempt directly instead.
func (e *Engine) Authenticate(ctx context.Context, identifier, plaintext string, contact *Contact) (UserRecord, error) {
	check, err := e.CheckLoginAttempt(ctx, identifier)
	if err != nil {
		return UserRecord{}, err
	}
	if !check.Allowed {
		return UserRecord{}, check.Reason
	}

	user, err := e.userStore.GetUserByEmail(ctx, normalizeIdentifier(identifier))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Unknown identifiers still consume an attempt so enumeration
			// runs into the same limiter as password guessing.
			if recErr := e.RecordLoginAttempt(ctx, identifier, false, nil); recErr != nil {
				return UserRecord{}, recErr
			}
			return UserRecord{}, ErrInvalidCredentials
		}
		return UserRecord{}, dependencyFailure(err)
	}

	if !user.Usable() {
		return UserRecord{}, ErrInactiveAccount
	}

	ok, err := e.hasher.Verify(plaintext, user.PasswordDigest)
	if err != nil {
		return UserRecord{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		if recErr := e.RecordLoginAttempt(ctx, identifier, false, contact); recErr != nil {
			return UserRecord{}, recErr
		}
		return UserRecord{}, ErrInvalidCredentials
	}

	if err := e.RecordLoginAttempt(ctx, identifier, true, nil); err != nil {
		return UserRecord{}, err
	}
	return user, nil
}

func (e *Engine) notifyBlock(identifier string, contact *Contact, until time.Time) {
	if !e.config.Login.NotifyOnBlock || contact == nil || contact.Email == "" {
		return
	}

	msg := Message{
		To:      contact.Email,
		Subject: "Account temporarily blocked",
		Body: fmt.Sprintf("Hello %s,\n\nYour account was blocked after repeated failed sign-in attempts. "+
			"It unblocks automatically at %s.", contact.Name, until.UTC().Format("15:04 MST, Jan 2 2006")),
	}

	// Fire and forget; the block is already committed.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.Send(ctx, msg); err != nil {
			e.metrics.Inc(MetricNotificationFailure)
			e.emitAudit(AuditEvent{EventType: "notify", Identifier: identifier, Success: false, Error: err.Error()})
		}
	}()
}

func retryAfter(now, blockedUntil time.Time, window time.Duration) time.Duration {
	if !blockedUntil.IsZero() && blockedUntil.After(now) {
		return blockedUntil.Sub(now)
	}
	return window
}
