package publisher

import (
	"context"
	"time"
)

// Signal is a coalescing wakeup: any number of Notify calls between two
// Waits collapse into a single wakeup. The retransmission loop waits on it
// so a fresh command interrupts the backoff immediately instead of at the
// next timeout.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify wakes the waiter if one is pending, otherwise latches the signal
// for the next Wait. Never blocks.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Notify fires, d elapses, or ctx is cancelled. It
// returns true only for a Notify wakeup.
func (s *Signal) Wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
