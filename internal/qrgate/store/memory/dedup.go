package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campusops/qrgate/internal/qrgate/store"
)

type claimEntry struct {
	token   string
	expires time.Time
}

// DedupGuard holds claims in a map under a mutex. It is linearizable within
// one process only.
type DedupGuard struct {
	mu     sync.Mutex
	claims map[string]claimEntry
}

func NewDedupGuard() *DedupGuard {
	return &DedupGuard{claims: make(map[string]claimEntry)}
}

func (g *DedupGuard) Claim(_ context.Context, key string, window time.Duration, now time.Time) (store.Claim, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.claims[key]; ok && now.Before(c.expires) {
		return store.Claim{}, false, nil
	}
	c := store.Claim{Key: key, Token: uuid.NewString()}
	g.claims[key] = claimEntry{token: c.Token, expires: now.Add(window)}

	// Opportunistic cleanup keeps the map bounded by live claims.
	if len(g.claims) > 1024 {
		for k, e := range g.claims {
			if !now.Before(e.expires) {
				delete(g.claims, k)
			}
		}
	}
	return c, true, nil
}

func (g *DedupGuard) Release(_ context.Context, c store.Claim) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.claims[c.Key]; ok && e.token == c.Token {
		delete(g.claims, c.Key)
	}
	return nil
}

type window struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]window
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]window)}
}

func (l *RateLimiter) Allow(_ context.Context, key string, limit int, win time.Duration, now time.Time) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(win)) {
		w = window{start: now}
	}
	w.count++
	l.windows[key] = w
	return w.count <= limit, nil
}
