package supervisor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// sleep blocks for d on clk, returning early with ctx.Err() if ctx ends first.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
