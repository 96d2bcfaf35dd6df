package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers failed login attempts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOrExpiredToken covers every token confirmation failure.
	// Wrong, expired, consumed, and never-issued tokens are deliberately
	// indistinguishable to the caller.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrRateLimited indicates the windowed limiter rejected the attempt.
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountBlocked indicates the account-level extended block is active.
	ErrAccountBlocked = errors.New("account blocked")
	// ErrInactiveAccount indicates the target account is inactive or deleted.
	ErrInactiveAccount = errors.New("account inactive or deleted")
	// ErrUserNotFound is returned only where disclosing existence is an
	// accepted part of the flow (password reset request, direct lookups).
	ErrUserNotFound = errors.New("user not found")
	// ErrAPIKeyInvalid indicates the presented secret matched no usable key.
	ErrAPIKeyInvalid = errors.New("invalid api key")
	// ErrPasswordPolicy indicates the new password was rejected by hashing policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrVerificationDisabled indicates the email verification flow is off.
	ErrVerificationDisabled = errors.New("email verification disabled")
	// ErrResetDisabled indicates the password reset flow is off.
	ErrResetDisabled = errors.New("password reset disabled")
	// ErrDependencyFailure indicates the cache or durable store is unreachable.
	ErrDependencyFailure = errors.New("dependency failure")
	// ErrEngineNotReady indicates the engine is missing required wiring.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError carries the retry hint for a limiter rejection. It unwraps
// to ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// AccountBlockError carries the deadline of an active account block. It
// unwraps to ErrAccountBlocked.
type AccountBlockError struct {
	Until time.Time
}

func (e *AccountBlockError) Error() string {
	return fmt.Sprintf("account blocked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *AccountBlockError) Unwrap() error { return ErrAccountBlocked }

func dependencyFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDependencyFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDependencyFailure, err)
}
