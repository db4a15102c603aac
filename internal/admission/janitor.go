package admission

import (
	"context"
	"time"
)

// Sweeper drops state that can no longer affect a decision.
type Sweeper interface {
	Sweep() int
}

// StartJanitor sweeps s every interval until ctx is cancelled. onSweep, when
// non-nil, receives the number of removed entries after each pass.
func StartJanitor(ctx context.Context, s Sweeper, every time.Duration, onSweep func(removed int)) {
	if s == nil || every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				removed := s.Sweep()
				if onSweep != nil {
					onSweep(removed)
				}
			}
		}
	}()
}
