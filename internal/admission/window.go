package admission

import (
	"context"
	"sync"
	"time"
)

// FixedWindow is the in-memory fixed-window limiter. It is the sole owner of
// the identity -> UsageRecord table.
type FixedWindow struct {
	mu      sync.Mutex
	records map[string]*UsageRecord
	limit   int
	window  time.Duration
	clock   Clock
}

// NewFixedWindow admits limit requests per identity per window.
func NewFixedWindow(limit int, window time.Duration, opts ...Option) *FixedWindow {
	s := newSettings(window, opts)
	return &FixedWindow{
		records: make(map[string]*UsageRecord),
		limit:   limit,
		window:  window,
		clock:   s.clock,
	}
}

// Admit implements Limiter. It never returns an error.
func (w *FixedWindow) Admit(_ context.Context, identity string) (Decision, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Read the clock under the lock so decisions follow arrival order.
	now := w.clock()

	rec, ok := w.records[identity]
	if !ok || rec.Expired(now) {
		rec = &UsageRecord{Count: 1, WindowEnd: now.Add(w.window)}
		w.records[identity] = rec
		return w.decision(true, rec, now), nil
	}

	if rec.Count >= w.limit {
		return w.decision(false, rec, now), nil
	}

	rec.Count++
	return w.decision(true, rec, now), nil
}

func (w *FixedWindow) decision(allowed bool, rec *UsageRecord, now time.Time) Decision {
	d := Decision{
		Allowed:   allowed,
		Limit:     w.limit,
		Remaining: w.limit - rec.Count,
		ResetAt:   rec.WindowEnd,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !allowed {
		d.RetryAfter = rec.WindowEnd.Sub(now)
	}
	return d
}

// Lookup returns a copy of the stored record for identity, expired or not.
func (w *FixedWindow) Lookup(identity string) (UsageRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[identity]
	if !ok {
		return UsageRecord{}, false
	}
	return *rec, true
}

// Reset forgets identity's window.
func (w *FixedWindow) Reset(identity string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.records, identity)
}

// Len returns the number of stored records, including expired ones not yet swept.
func (w *FixedWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// Sweep drops expired records and returns how many were removed.
// Expired records already behave as absent, so sweeping never changes a decision.
func (w *FixedWindow) Sweep() int {
	now := w.clock()

	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for id, rec := range w.records {
		if rec.Expired(now) {
			delete(w.records, id)
			removed++
		}
	}
	return removed
}
