package bridge

import (
	"context"
	"time"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/clock"
	"github.com/pvsim/pvsim/core/logger"
	"github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/core/model"
)

// ReadingSource produces one Reading per tick.
type ReadingSource interface {
	Next(t time.Time) model.Reading
}

// Publisher drives the meter side of the bridge: one draw and one publish
// attempt per tick. Delivery is at-most-once; a failed publish is a gap, the
// supervisor re-establishes the connection in the background and the next
// tick carries a fresh value.
type Publisher struct {
	Clock  clock.Ticker
	Source ReadingSource
	Broker broker.Publisher
	Log    logger.Logger
	Sink   metrics.Sink
}

// Run publishes until ctx is cancelled. It never returns a broker error.
func (p *Publisher) Run(ctx context.Context) error {
	log := p.Log
	if log == nil {
		log = logger.Nop{}
	}
	sink := p.Sink
	if sink == nil {
		sink = metrics.NopSink{}
	}

	for tick := range p.Clock.Ticks(ctx) {
		r := p.Source.Next(tick)
		begin := time.Now()
		err := p.Broker.Publish(ctx, r)
		sink.RecordPublish(r, time.Since(begin), err)
		if err != nil {
			log.Warnf("meter value at %s dropped: %v", r.Timestamp.Format(time.RFC3339), err)
			continue
		}
		log.Debugf("published meter value %.2f", r.Value)
	}
	return ctx.Err()
}
