package store

import (
	"context"
	"time"
)

// Claim is a held duplicate-detection slot.
type Claim struct {
	Key   string
	Token string
}

// DedupGuard is a linearizable check-and-insert over short-lived keys.
type DedupGuard interface {
	// Claim takes key for window. ok is false when a live claim already
	// holds the key.
	Claim(ctx context.Context, key string, window time.Duration, now time.Time) (c Claim, ok bool, err error)
	// Release drops c if it is still the current holder.
	Release(ctx context.Context, c Claim) error
}

// RateLimiter counts events per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error)
}
