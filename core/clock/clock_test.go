package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan time.Time, n int, timeout time.Duration) []time.Time {
	t.Helper()
	out := make([]time.Time, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case tick, ok := <-ch:
			require.True(t, ok, "tick stream closed early")
			out = append(out, tick)
		case <-deadline:
			t.Fatalf("got %d of %d ticks before timeout", len(out), n)
		}
	}
	return out
}

func TestFreeRunningEmitsWithoutDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(time.Second, false)
	begin := time.Now()
	ticks := collect(t, c.Ticks(ctx), 100, time.Second)
	assert.Less(t, time.Since(begin), 500*time.Millisecond, "free-running mode must not wait between ticks")

	for i := 1; i < len(ticks); i++ {
		assert.Equal(t, time.Second, ticks[i].Sub(ticks[i-1]), "instants keep simulated spacing")
	}
}

func TestRealtimePacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interval := 20 * time.Millisecond
	c := New(interval, true)
	begin := time.Now()
	ticks := collect(t, c.Ticks(ctx), 5, 2*time.Second)
	elapsed := time.Since(begin)

	// Four inter-tick gaps; generous upper bound for scheduling jitter.
	assert.GreaterOrEqual(t, elapsed, 4*interval-interval/2)
	assert.Less(t, elapsed, 20*interval)
	for i := 1; i < len(ticks); i++ {
		assert.Equal(t, interval, ticks[i].Sub(ticks[i-1]))
	}
}

func TestCancelClosesStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(time.Second, true)
	ch := c.Ticks(ctx)
	<-ch
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// One tick may already be in flight; the next receive must fail.
			_, ok = <-ch
			assert.False(t, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestDefaultInterval(t *testing.T) {
	c := New(0, false)
	assert.Equal(t, time.Second, c.Interval)
}
