package scraper

import (
	"context"
	"time"
)

// pollUntil calls pred at the given cadence until it returns true, the
// ceiling elapses, or ctx is cancelled. The first check happens after one
// interval, not immediately; callers that want an immediate probe do it
// themselves before polling.
func pollUntil(ctx context.Context, interval, ceiling time.Duration, pred func() bool) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if pred() {
				return true
			}
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
