package core

import (
	"context"
	"runtime"
)

// WaitIdle spins until s reports idle. The driver has no blocking primitive
// of its own; callers that want synchronous behaviour poll, and the context
// deadline is the timeout. Expiry returns ErrTimeout.
func WaitIdle(ctx context.Context, s SPI) error {
	for s.GetStatus().Busy {
		select {
		case <-ctx.Done():
			return ErrTimeout
		default:
		}
		runtime.Gosched()
	}
	return nil
}
