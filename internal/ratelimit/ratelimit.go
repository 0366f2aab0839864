// Package ratelimit throttles Solace's HTTP and MCP traffic per caller.
//
// The in-memory token bucket (MemoryLimiter) is the only implementation; a
// deployment running several replicas can substitute a shared one behind the
// Limiter interface.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// The key is opaque; callers construct it (e.g. "user:<uuid>" or "ip:<addr>").
	// Returning an error signals a limiter malfunction; callers treat errors
	// as fail-open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// RetryAdvisor is implemented by limiters that can tell a throttled caller
// how long to wait before the next request would be admitted.
type RetryAdvisor interface {
	RetryAfter(key string) time.Duration
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
