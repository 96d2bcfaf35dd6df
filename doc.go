// Package authcore is an embeddable account-protection core. It issues and
// validates short-lived secret tokens (email verification, password reset),
// enforces layered rate limiting with progressive account lockout on login,
// validates opaque API keys against a cached active-key set, and keeps a
// read-through user cache consistent with the durable store.
//
// The package owns no transport and no persistence: HTTP routing, schema
// validation, and the database live with the host application, which plugs
// in a Redis client and implementations of UserStore, APIKeyStore, and
// Notifier through the Builder. Redis is the only coordination point between
// concurrent requests; no operation holds in-process locks across I/O and
// nothing is retried automatically.
package authcore
