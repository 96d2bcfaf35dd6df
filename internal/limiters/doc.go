// Package limiters holds the account-level lock used by login protection and
// the API-key guard. It is deliberately separate from the windowed limiter in
// internal/rate: the lock keys on the identifier alone, so attackers rotating
// source IPs still trip it, and it expires only by time, never on success.
package limiters
