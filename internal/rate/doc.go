// Package rate implements the generic sliding-window attempt counter with an
// escalating block timer, keyed by (scope, identifier, ip) in Redis.
//
// Counting is a deterrent, not an authorization boundary: INCR is atomic, but
// the gap between Check and RecordAttempt is not, and concurrent callers may
// each consume the last slot of a window. That race is accepted.
package rate
