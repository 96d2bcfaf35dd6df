package authcore

import (
	"errors"
	"time"
)

// Config is the immutable configuration injected into the engine. Every
// limiter and TTL is an explicit field; there are no process-wide knobs.
type Config struct {
	// RedisPrefix namespaces every key the engine writes. Default "ac".
	RedisPrefix string

	Login        LoginConfig
	Verification TokenFlowConfig
	Reset        TokenFlowConfig
	APIKey       APIKeyConfig
	UserCache    UserCacheConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

// RateLimitConfig parameterizes one windowed limiter instance.
type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// LoginConfig tunes login protection. The short ip-scoped block comes from
// the windowed limiter; AccountBlockDuration is the extended identifier-only
// block that engages after MaxAttempts failures and expires only by time.
type LoginConfig struct {
	MaxAttempts          int
	Window               time.Duration
	BlockDuration        time.Duration
	AccountBlockDuration time.Duration
	// NotifyOnBlock sends an out-of-band message to the account contact
	// when the extended block engages.
	NotifyOnBlock bool
}

// TokenFlowConfig tunes one token purpose (verification or reset).
type TokenFlowConfig struct {
	Enabled      bool
	TokenTTL     time.Duration
	RequestLimit RateLimitConfig
}

// APIKeyConfig tunes the API-key guard.
type APIKeyConfig struct {
	RequestLimit RateLimitConfig
	// KeyBlockDuration is the extended block applied to a specific key id
	// after repeated unusable presentations.
	KeyBlockDuration time.Duration
	CacheTTL         time.Duration
	// Retention windows for the attempt log. Failures are the long-lived
	// record; successes age out quickly.
	FailLogRetention    time.Duration
	SuccessLogRetention time.Duration
}

// UserCacheConfig tunes the read-through user cache.
type UserCacheConfig struct {
	TTL time.Duration
}

// AuditConfig tunes the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the request path when
	// the buffer is saturated.
	DropIfFull bool
}

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults: 5 login attempts per 15
// minutes, 30 minute short block, 2 hour account block; 24h verification
// tokens; 15m reset tokens; 3 token requests per hour; 10 key validations
// per minute per ip.
func DefaultConfig() Config {
	return Config{
		RedisPrefix: "ac",
		Login: LoginConfig{
			MaxAttempts:          5,
			Window:               15 * time.Minute,
			BlockDuration:        30 * time.Minute,
			AccountBlockDuration: 2 * time.Hour,
			NotifyOnBlock:        true,
		},
		Verification: TokenFlowConfig{
			Enabled:  true,
			TokenTTL: 24 * time.Hour,
			RequestLimit: RateLimitConfig{
				MaxAttempts: 3,
				Window:      time.Hour,
				Block:       time.Hour,
			},
		},
		Reset: TokenFlowConfig{
			Enabled:  true,
			TokenTTL: 15 * time.Minute,
			RequestLimit: RateLimitConfig{
				MaxAttempts: 3,
				Window:      time.Hour,
				Block:       time.Hour,
			},
		},
		APIKey: APIKeyConfig{
			RequestLimit: RateLimitConfig{
				MaxAttempts: 10,
				Window:      time.Minute,
				Block:       10 * time.Minute,
			},
			KeyBlockDuration:    time.Hour,
			CacheTTL:            5 * time.Minute,
			FailLogRetention:    30 * 24 * time.Hour,
			SuccessLogRetention: 24 * time.Hour,
		},
		UserCache: UserCacheConfig{
			TTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.Login.MaxAttempts <= 0 || cfg.Login.Window <= 0 || cfg.Login.BlockDuration <= 0 {
		return errors.New("invalid login limiter configuration")
	}
	if cfg.Login.AccountBlockDuration < cfg.Login.BlockDuration {
		return errors.New("account block must not be shorter than the rate-limit block")
	}
	if cfg.Verification.Enabled && cfg.Verification.TokenTTL <= 0 {
		return errors.New("invalid verification token ttl")
	}
	if cfg.Reset.Enabled && cfg.Reset.TokenTTL <= 0 {
		return errors.New("invalid reset token ttl")
	}
	if cfg.APIKey.RequestLimit.MaxAttempts <= 0 || cfg.APIKey.RequestLimit.Window <= 0 {
		return errors.New("invalid api key limiter configuration")
	}
	if cfg.UserCache.TTL <= 0 {
		return errors.New("invalid user cache ttl")
	}
	if cfg.APIKey.FailLogRetention < cfg.APIKey.SuccessLogRetention {
		return errors.New("failure log retention must not be shorter than success retention")
	}
	return nil
}
