package internal

import (
	"context"
	"time"
)

// Cache is the key/value store with per-entry expiry the pipeline reads through
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
}

// TokenProvider hands out a currently valid access token
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
}

// RequestLimiter throttles outgoing upstream calls
type RequestLimiter interface {
	Wait(ctx context.Context) error
}
