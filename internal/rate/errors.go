package rate

import "errors"

// ErrUnavailable indicates the limiter backend is unreachable. Callers map
// this to their dependency-failure sentinel.
var ErrUnavailable = errors.New("rate limiter backend unavailable")
