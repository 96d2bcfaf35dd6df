// Package stores contains the Redis-backed state of the engine: single-use
// token digests, user and API-key cache snapshots, and the append-only
// attempt log. Each store owns its key layout and its own record types; the
// root package converts to and from its public shapes.
package stores
