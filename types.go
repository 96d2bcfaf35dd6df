package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/mlenahan/authcore/internal/audit"
)

// UserRecord is the durable user shape consumed by the engine. The engine
// never writes these directly; mutations go through the UserStore methods
// and are followed by a synchronous cache invalidation.
type UserRecord struct {
	ID              int64
	Email           string
	Username        string
	Role            string
	PasswordDigest  string
	IsActive        bool
	IsDeleted       bool
	EmailVerifiedAt *time.Time
	LastLoginAt     *time.Time
	LastIP          string
	DeletedAt       *time.Time
	CreatedAt       time.Time
}

// Usable reports whether the account may authenticate or complete a reset.
func (u UserRecord) Usable() bool {
	return u.IsActive && !u.IsDeleted
}

// APIKeyRecord is the durable API-key shape. Value is the opaque secret; it
// never enters any cache, only its digest does.
type APIKeyRecord struct {
	ID          int64
	Value       string
	IsActive    bool
	ExpiresAt   *time.Time
	Permissions []string
}

// APIKeyIdentity is the validation result handed back to callers: the key's
// identity and grants, without the secret.
type APIKeyIdentity struct {
	ID          int64
	Permissions []string
}

// AttemptLogEntry is one record of the append-only API-key attempt log.
type AttemptLogEntry struct {
	ID      string
	At      time.Time
	IP      string
	KeyID   int64
	Event   string
	Success bool
	Reason  string
}

// LoginCheck is the result of CheckLoginAttempt. When Allowed is false,
// Reason is a *RateLimitError or *AccountBlockError.
type LoginCheck struct {
	Allowed      bool
	Remaining    int
	BlockedUntil time.Time
	Reason       error
}

// Contact is the optional out-of-band contact passed to RecordLoginAttempt,
// used to notify the owner when their account gets blocked.
type Contact struct {
	Name  string
	Email string
}

// UserStore is the durable-store collaborator for user records.
// List returns non-deleted users ordered by creation time descending.
type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	ListUsers(ctx context.Context) ([]UserRecord, error)
	MarkEmailVerified(ctx context.Context, id int64, at time.Time) error
	UpdatePasswordDigest(ctx context.Context, id int64, digest string) error
	SoftDeleteUser(ctx context.Context, id int64, at time.Time) error
	AnonymizeUser(ctx context.Context, id int64, at time.Time) error
}

// APIKeyStore is the durable-store collaborator for API keys.
// DeactivateExpired flips is_active off for keys past their expiry and
// returns how many rows changed.
type APIKeyStore interface {
	ListKeys(ctx context.Context) ([]APIKeyRecord, error)
	ListActiveKeys(ctx context.Context) ([]APIKeyRecord, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// BlacklistStore records irreversible digests of retired identities so an
// anonymized email or username can never be reused. Plaintext never reaches
// this store.
type BlacklistStore interface {
	AddIdentityDigests(ctx context.Context, emailDigest, usernameDigest string) error
	IsDigestBlacklisted(ctx context.Context, digest string) (bool, error)
}

// Message is an outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// Notifier delivers messages out of band. Calls are fire-and-forget from the
// engine's perspective: a delivery failure never rolls back state that was
// already committed.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NoOpNotifier discards all messages.
type NoOpNotifier struct{}

func (NoOpNotifier) Send(context.Context, Message) error { return nil }

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an AuditSink that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an AuditSink that writes JSON-encoded events to a writer.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
