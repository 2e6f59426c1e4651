// Package ratelimit throttles API clients. Two backends share one Limiter
// interface: a Redis fixed window for multi-instance deployments and an
// in-process token bucket per client key.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter decides whether the client identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	// Backend names the implementation for logs and metrics.
	Backend() string
}

// Config holds the request budget shared by every backend.
type Config struct {
	Requests int
	Window   time.Duration
}

// Defaults used when Config fields are zero.
const (
	DefaultRequests = 100
	DefaultWindow   = time.Minute
)

func (c Config) withDefaults() Config {
	if c.Requests <= 0 {
		c.Requests = DefaultRequests
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}
