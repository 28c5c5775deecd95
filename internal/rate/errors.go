package rate

import "errors"

// ErrRateLimited means the key has used up its budget for the window.
var ErrRateLimited = errors.New("rate: budget exhausted")

// ErrRedisUnavailable wraps Redis failures.
var ErrRedisUnavailable = errors.New("rate: redis unavailable")
