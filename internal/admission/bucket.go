package admission

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket smooths admissions: each identity holds up to limit tokens and
// regains them at limit per window. Unlike FixedWindow it has no boundary burst.
type TokenBucket struct {
	mu      sync.Mutex
	entries map[string]*bucketEntry
	limit   int
	window  time.Duration
	every   rate.Limit
	clock   Clock
	idleTTL time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucket admits bursts of up to limit and refills limit tokens per window.
func NewTokenBucket(limit int, window time.Duration, opts ...Option) *TokenBucket {
	s := newSettings(window, opts)
	return &TokenBucket{
		entries: make(map[string]*bucketEntry),
		limit:   limit,
		window:  window,
		every:   rate.Every(window / time.Duration(limit)),
		clock:   s.clock,
		idleTTL: s.idleTTL,
	}
}

// Admit implements Limiter. It never returns an error.
func (b *TokenBucket) Admit(_ context.Context, identity string) (Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()

	ent, ok := b.entries[identity]
	if !ok {
		ent = &bucketEntry{lim: rate.NewLimiter(b.every, b.limit)}
		b.entries[identity] = ent
	}
	ent.lastSeen = now

	allowed := ent.lim.AllowN(now, 1)
	tokens := ent.lim.TokensAt(now)

	d := Decision{
		Allowed:   allowed,
		Limit:     b.limit,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetAt:   now.Add(b.refillIn(float64(b.limit) - tokens)),
	}
	if !allowed {
		d.RetryAfter = b.refillIn(1 - tokens)
	}
	return d, nil
}

// refillIn is the time needed to regain n tokens.
func (b *TokenBucket) refillIn(n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	perToken := float64(b.window) / float64(b.limit)
	return time.Duration(math.Ceil(n * perToken))
}

// Len returns the number of tracked identities.
func (b *TokenBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Sweep drops buckets idle for longer than the idle TTL. A bucket idle for a
// full window is already full, so dropping it does not change any decision.
func (b *TokenBucket) Sweep() int {
	cutoff := b.clock().Add(-b.idleTTL)

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, ent := range b.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}
