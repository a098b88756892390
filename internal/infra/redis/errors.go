package redis

import "errors"

// ErrCacheMiss is returned when a cached item is not found.
var ErrCacheMiss = errors.New("cache: key not found")
