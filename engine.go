package authcore

import (
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mlenahan/authcore/internal/limiters"
	"github.com/mlenahan/authcore/internal/rate"
	"github.com/mlenahan/authcore/internal/stores"
	"github.com/mlenahan/authcore/password"
)

// Token purposes as stored in Redis.
const (
	purposeEmailVerification = "verify"
	purposeIdentityReset     = "reset"
)

// Engine is the account-protection core. It is safe for concurrent use; all
// mutable state lives in Redis or behind atomics. Construct it with a
// Builder and Close it on shutdown to drain the audit dispatcher.
type Engine struct {
	config Config

	redis       redis.UniversalClient
	userStore   UserStore
	apiKeyStore APIKeyStore
	blacklist   BlacklistStore
	notifier    Notifier

	loginLimiter  *rate.Limiter
	verifyLimiter *rate.Limiter
	resetLimiter  *rate.Limiter
	apiKeyLimiter *rate.Limiter

	accountLock *limiters.AccountLock
	keyLock     *limiters.AccountLock

	tokens     *stores.TokenStore
	userCache  *stores.UserCache
	keyCache   *stores.APIKeyCache
	attemptLog *stores.AttemptLog

	hasher  *password.Hasher
	audit   *auditDispatcher
	metrics *Metrics
	now     func() time.Time
}

func newEngine(b *Builder) *Engine {
	cfg := b.config
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "ac"
	}
	prefix := cfg.RedisPrefix

	notifier := b.notifier
	if notifier == nil {
		notifier = NoOpNotifier{}
	}

	e := &Engine{
		config:      cfg,
		redis:       b.redis,
		userStore:   b.userStore,
		apiKeyStore: b.apiKeyStore,
		blacklist:   b.blacklist,
		notifier:    notifier,

		loginLimiter: rate.New(b.redis, prefix, "login", rate.Config{
			MaxAttempts: cfg.Login.MaxAttempts,
			Window:      cfg.Login.Window,
			Block:       cfg.Login.BlockDuration,
		}),
		verifyLimiter: rate.New(b.redis, prefix, "verify", rate.Config{
			MaxAttempts: cfg.Verification.RequestLimit.MaxAttempts,
			Window:      cfg.Verification.RequestLimit.Window,
			Block:       cfg.Verification.RequestLimit.Block,
		}),
		resetLimiter: rate.New(b.redis, prefix, "reset", rate.Config{
			MaxAttempts: cfg.Reset.RequestLimit.MaxAttempts,
			Window:      cfg.Reset.RequestLimit.Window,
			Block:       cfg.Reset.RequestLimit.Block,
		}),
		apiKeyLimiter: rate.New(b.redis, prefix, "apikey", rate.Config{
			MaxAttempts: cfg.APIKey.RequestLimit.MaxAttempts,
			Window:      cfg.APIKey.RequestLimit.Window,
			Block:       cfg.APIKey.RequestLimit.Block,
		}),

		accountLock: limiters.NewAccountLock(b.redis, prefix+":ab", limiters.LockConfig{
			Threshold:     cfg.Login.MaxAttempts,
			CountWindow:   cfg.Login.Window,
			BlockDuration: cfg.Login.AccountBlockDuration,
		}),
		keyLock: limiters.NewAccountLock(b.redis, prefix+":akb", limiters.LockConfig{
			Threshold:     cfg.APIKey.RequestLimit.MaxAttempts,
			CountWindow:   cfg.APIKey.RequestLimit.Window,
			BlockDuration: cfg.APIKey.KeyBlockDuration,
		}),

		tokens:    stores.NewTokenStore(b.redis, prefix+":tok"),
		userCache: stores.NewUserCache(b.redis, prefix+":uc", cfg.UserCache.TTL),
		keyCache:  stores.NewAPIKeyCache(b.redis, prefix+":ak", cfg.APIKey.CacheTTL),
		attemptLog: stores.NewAttemptLog(b.redis, prefix+":aklog",
			cfg.APIKey.FailLogRetention, cfg.APIKey.SuccessLogRetention),

		hasher:  b.hasher,
		metrics: NewMetrics(cfg.Metrics),
		now:     time.Now,
	}
	if e.hasher == nil {
		e.hasher = password.NewHasher(password.DefaultParams())
	}

	e.audit = newAuditDispatcher(b.auditSink, cfg.Audit)
	return e
}

// Close drains and stops the audit dispatcher. The Redis client is owned by
// the host and is not closed here.
func (e *Engine) Close() {
	e.audit.close()
}

// Metrics returns a snapshot of the engine's counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded under
// backpressure since the engine started.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.droppedCount()
}

func (e *Engine) emitAudit(event AuditEvent) {
	e.audit.emit(event)
}

// normalizeIdentifier canonicalizes an email or username for use in Redis
// keys and lookups. Case folding keeps "User@Example.com" and
// "user@example.com" on the same limiter bucket.
func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
