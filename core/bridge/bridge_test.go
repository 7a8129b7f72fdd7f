package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/core/model"
)

// manualTicker hands ticks to the loop under test one at a time.
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) Ticks(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		defer close(out)
		for {
			select {
			case t := <-m.ch:
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (m *manualTicker) tick(t time.Time) { m.ch <- t }

type recordingPublisher struct {
	mu        sync.Mutex
	published []model.Reading
	errs      []error
}

func (p *recordingPublisher) Publish(_ context.Context, r model.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, r)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type chanConsumer struct {
	ch chan model.Reading
}

func newChanConsumer() *chanConsumer {
	return &chanConsumer{ch: make(chan model.Reading, 1)}
}

func (c *chanConsumer) Readings() <-chan model.Reading { return c.ch }
func (c *chanConsumer) Close() error                   { close(c.ch); return nil }

type countingKicker struct {
	mu    sync.Mutex
	kicks int
}

func (k *countingKicker) Kick() {
	k.mu.Lock()
	k.kicks++
	k.mu.Unlock()
}

func (k *countingKicker) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.kicks
}

type rowCollector struct {
	mu   sync.Mutex
	rows []model.Row
	done chan model.Row
}

func newRowCollector() *rowCollector {
	return &rowCollector{done: make(chan model.Row, 16)}
}

func (w *rowCollector) WriteRow(row model.Row) error {
	w.mu.Lock()
	w.rows = append(w.rows, row)
	w.mu.Unlock()
	w.done <- row
	return nil
}

// scriptedValues returns the configured pv values in order, repeating the
// last one.
type scriptedValues struct {
	values []float64
	i      int
}

func (s *scriptedValues) Next(time.Time) float64 {
	v := s.values[s.i]
	if s.i < len(s.values)-1 {
		s.i++
	}
	return v
}

// syncSink signals every received reading so tests can order ticks after
// deliveries.
type syncSink struct {
	metrics.NopSink
	received chan model.Reading
	stale    chan time.Duration
}

func newSyncSink() *syncSink {
	return &syncSink{
		received: make(chan model.Reading, 16),
		stale:    make(chan time.Duration, 16),
	}
}

func (s *syncSink) RecordReceive(r model.Reading) { s.received <- r }
func (s *syncSink) RecordStale(age time.Duration) { s.stale <- age }
