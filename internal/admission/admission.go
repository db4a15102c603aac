// Package admission decides whether a client may spend one more upstream
// generation call.
//
// The default limiter is a fixed-window counter kept in process memory:
// each client identity gets Limit admissions per Window, counted from its
// first admitted request. A client can therefore cluster up to 2×Limit
// requests around a window boundary. The token-bucket limiter and the Redis
// backend implement the same Limiter contract.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults applied to every client identity.
const (
	DefaultLimit  = 5
	DefaultWindow = time.Hour
)

// Strategy names accepted by New.
const (
	StrategyFixedWindow = "fixed_window"
	StrategyTokenBucket = "token_bucket"
)

// ErrUnknownStrategy is returned by New for an unsupported strategy name.
var ErrUnknownStrategy = errors.New("unknown admission strategy")

// Clock returns the current time. Tests substitute a fake clock.
type Clock func() time.Time

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the caller's current window ends.
	ResetAt time.Time
	// RetryAfter is set on rejection.
	RetryAfter time.Duration
}

// Limiter admits or rejects one request for a client identity.
//
// Implementations perform the check and the update as one atomic step per
// identity. An error means the decision could not be made; callers fail open.
type Limiter interface {
	Admit(ctx context.Context, identity string) (Decision, error)
}

// UsageRecord is the window state of a single client identity.
// Count is at least 1 whenever a record exists.
type UsageRecord struct {
	Count     int       `json:"count"`
	WindowEnd time.Time `json:"window_end"`
}

// Expired reports whether the window has elapsed at now.
func (r UsageRecord) Expired(now time.Time) bool {
	return !now.Before(r.WindowEnd)
}

// Options configures New.
type Options struct {
	Strategy string
	Limit    int
	Window   time.Duration
	Clock    Clock

	// Redis selects the shared backend when non-nil.
	Redis       redis.UniversalClient
	RedisPrefix string
}

// New builds the limiter described by opts.
func New(opts Options) (Limiter, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("admission limit must be > 0, got %d", opts.Limit)
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("admission window must be > 0, got %s", opts.Window)
	}

	var mopts []Option
	if opts.Clock != nil {
		mopts = append(mopts, WithClock(opts.Clock))
	}

	strategy := strings.ToLower(strings.TrimSpace(opts.Strategy))
	if strategy == "" {
		strategy = StrategyFixedWindow
	}

	switch strategy {
	case StrategyFixedWindow:
		if opts.Redis != nil {
			return NewRedisWindow(opts.Redis, opts.Limit, opts.Window, WithPrefix(opts.RedisPrefix), WithClock(opts.Clock)), nil
		}
		return NewFixedWindow(opts.Limit, opts.Window, mopts...), nil
	case StrategyTokenBucket:
		if opts.Redis != nil {
			return nil, fmt.Errorf("%w: %s is not available with the redis backend", ErrUnknownStrategy, strategy)
		}
		return NewTokenBucket(opts.Limit, opts.Window, mopts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, opts.Strategy)
	}
}

// Option tunes a limiter.
type Option func(*settings)

type settings struct {
	clock   Clock
	idleTTL time.Duration
	prefix  string
}

// WithClock overrides time.Now. A nil clock is ignored.
func WithClock(clock Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIdleTTL sets how long an untouched token bucket is retained before Sweep drops it.
func WithIdleTTL(d time.Duration) Option {
	return func(s *settings) { s.idleTTL = d }
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(s *settings) {
		if p := strings.Trim(strings.TrimSpace(prefix), ":"); p != "" {
			s.prefix = p
		}
	}
}

func newSettings(window time.Duration, opts []Option) settings {
	s := settings{
		clock:   func() time.Time { return time.Now().UTC() },
		idleTTL: window,
		prefix:  "studyforge:admission",
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
