package clock

import (
	"context"
	"time"

	"github.com/pvsim/pvsim/core/logger"
)

// laggingFactor is the number of intervals the realtime clock may fall behind
// wall clock before a warning is emitted.
const laggingFactor = 10

// Ticker produces a sequence of simulated-second boundaries.
type Ticker interface {
	Ticks(ctx context.Context) <-chan time.Time
}

// Clock emits one tick per simulated second. In realtime mode each tick is
// aligned to wall clock; in free-running mode ticks are emitted as fast as the
// consumer accepts them, with instants still spaced by Interval.
type Clock struct {
	Interval time.Duration
	Realtime bool

	Log logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// New returns a Clock with the given interval. A non-positive interval
// defaults to one second.
func New(interval time.Duration, realtime bool) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{Interval: interval, Realtime: realtime, Log: logger.Nop{}, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Ticks returns a lazy, infinite stream of tick instants. The stream is
// closed when ctx is cancelled. The emitted instant is the scheduled tick
// time, not the wall clock time the send happened at.
func (c *Clock) Ticks(ctx context.Context) <-chan time.Time {
	ch := make(chan time.Time)
	go func() {
		defer close(ch)
		start := c.now()
		for i := 0; ; i++ {
			tick := start.Add(time.Duration(i) * c.Interval)
			if c.Realtime {
				delay := tick.Sub(c.now())
				if delay > 0 {
					if !c.sleep(ctx, delay) {
						return
					}
				} else if delay < -laggingFactor*c.Interval {
					c.Log.Warnf("clock is %s behind realtime", -delay)
				}
			}
			select {
			case ch <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
