// Package system adapts the juju wall clock for the harvester's blocking waits.
package system

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
)

// Or returns clk, or the wall clock when clk is nil.
func Or(clk clock.Clock) clock.Clock {
	if clk == nil {
		return clock.WallClock
	}
	return clk
}

// Sleep blocks for d on clk. It returns early with the context error when ctx
// is done first. Non-positive durations return immediately.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sleep canceled: %w", err)
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-Or(clk).After(d):
		return nil
	}
}
