package model

import "errors"

// ErrRateLimited marks provider failures caused by throttling. Adapters that
// can classify throttling (HTTP 429, provider throttle codes) wrap their
// error with this sentinel so callers can tell pressure from hard failures.
var ErrRateLimited = errors.New("model: rate limited")
