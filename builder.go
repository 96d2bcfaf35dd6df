package authcore

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mlenahan/authcore/password"
)

// Builder assembles an Engine. Redis and a UserStore are mandatory; the
// API-key guard additionally needs an APIKeyStore, and anonymization needs a
// BlacklistStore. Build fails fast on missing or inconsistent wiring.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	userStore UserStore

	apiKeyStore APIKeyStore
	blacklist   BlacklistStore
	notifier    Notifier
	auditSink   AuditSink
	hasher      *password.Hasher
}

// NewBuilder starts a builder with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client. The engine borrows it; the host remains
// responsible for closing it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the durable user store.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.userStore = store
	return b
}

// WithAPIKeyStore sets the durable API-key store, enabling the key guard.
func (b *Builder) WithAPIKeyStore(store APIKeyStore) *Builder {
	b.apiKeyStore = store
	return b
}

// WithBlacklistStore sets the identity blacklist, enabling anonymization.
func (b *Builder) WithBlacklistStore(store BlacklistStore) *Builder {
	b.blacklist = store
	return b
}

// WithNotifier sets the outbound message transport. Without one the engine
// silently drops notifications.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithPasswordHasher overrides the default Argon2id parameters.
func (b *Builder) WithPasswordHasher(h *password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithAuditSink sets the audit destination. Events are dispatched
// asynchronously; see AuditConfig for buffering behavior.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the wiring and returns a ready engine.
func (b *Builder) Build() (*Engine, error) {
	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrEngineNotReady)
	}
	if b.userStore == nil {
		return nil, fmt.Errorf("%w: user store is required", ErrEngineNotReady)
	}
	if err := validateConfig(b.config); err != nil {
		return nil, errors.Join(ErrEngineNotReady, err)
	}
	return newEngine(b), nil
}
