package relay

import (
	"context"
	"time"
)

const DefaultSweepInterval = time.Hour

// StartSweeper runs RunExpirySweep every interval until ctx is cancelled.
// The returned channel closes once the loop has exited.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.sweepLoop(ctx, interval)
	}()
	return done
}

func (e *Engine) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunExpirySweep(ctx); err != nil {
				e.logger.Error("expiry sweep failed", "err", err)
			}
		}
	}
}
