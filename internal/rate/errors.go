package rate

import "errors"

var (
	// ErrRateLimited means the client exhausted its budget for the window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable means the shared counter could not be read or written.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
