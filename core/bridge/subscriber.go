package bridge

import (
	"context"
	"math"
	"time"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/clock"
	"github.com/pvsim/pvsim/core/logger"
	"github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/core/model"
)

// DefaultStaleIntervals is how many expected tick intervals may pass without
// a received Reading before the watchdog forces a reconnect.
const DefaultStaleIntervals = 5

// ValueSource produces the locally simulated value for a tick.
type ValueSource interface {
	Next(t time.Time) float64
}

// RowWriter consumes one output row per subscriber tick.
type RowWriter interface {
	WriteRow(row model.Row) error
}

// Subscriber drives the pv side of the bridge. A background loop drains the
// consumer into the latest-value cell; the tick loop pairs the freshest
// reading with the simulated pv value and emits exactly one row per tick,
// with NaN meter columns while no data flows.
//
// The transport is never trusted to report a dead connection: if no Reading
// arrives within StaleAfter, the watchdog kicks the supervisor regardless of
// what the transport thinks its state is.
type Subscriber struct {
	Clock    clock.Ticker
	Source   ValueSource
	Consumer broker.Consumer
	Conn     broker.Reconnecter
	Out      RowWriter
	Log      logger.Logger
	Sink     metrics.Sink

	// StaleAfter is the watchdog threshold; zero means DefaultStaleIntervals
	// times Interval.
	StaleAfter time.Duration
	// Interval is the expected tick interval, used only to derive StaleAfter.
	Interval time.Duration

	cell     *Cell
	lastKick time.Time
}

func (s *Subscriber) staleAfter() time.Duration {
	if s.StaleAfter > 0 {
		return s.StaleAfter
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return DefaultStaleIntervals * interval
}

// Run emits rows until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = logger.Nop{}
	}
	sink := s.Sink
	if sink == nil {
		sink = metrics.NopSink{}
	}
	s.cell = NewCell()

	go s.receive(ctx, log, sink)

	for tick := range s.Clock.Ticks(ctx) {
		pv := s.Source.Next(tick)

		meter := math.NaN()
		if r, fresh := s.cell.Take(); fresh {
			meter = r.Value
			log.Debugf("pairing tick %s with reading from %s",
				tick.Format(time.RFC3339), r.Timestamp.Format(time.RFC3339))
		}

		// The row time is the subscriber's own tick instant. The publisher's
		// embedded timestamp is only diagnostic; the two processes share no
		// clock, so aligning rows on receipt keeps output strictly monotonic.
		row := model.NewRow(tick, meter, pv)
		if err := s.Out.WriteRow(row); err != nil {
			return err
		}
		sink.RecordRow(row)

		s.checkStale(log, sink)
	}
	return ctx.Err()
}

func (s *Subscriber) receive(ctx context.Context, log logger.Logger, sink metrics.Sink) {
	for {
		select {
		case r, ok := <-s.Consumer.Readings():
			if !ok {
				return
			}
			s.cell.Put(r)
			sink.RecordReceive(r)
		case <-ctx.Done():
			return
		}
	}
}

// checkStale forces a reconnect when live data flow has stopped, including
// a stream that was dead from the very first connection. At most one kick
// per staleness window, so a long outage does not thrash the supervisor.
func (s *Subscriber) checkStale(log logger.Logger, sink metrics.Sink) {
	if s.Conn == nil {
		return
	}
	age := s.cell.SinceLastReceive()
	if age <= s.staleAfter() {
		return
	}
	if time.Since(s.lastKick) <= s.staleAfter() {
		return
	}
	s.lastKick = time.Now()
	sink.RecordStale(age)
	log.Warnf("no meter reading for %s, forcing reconnect", age.Round(time.Millisecond))
	s.Conn.Kick()
}
