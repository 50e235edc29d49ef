package ratelimit

import "context"

// RateLimiter throttles call placement per key, usually a provider name.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
