package amqp

import (
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/logger"
	"github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/core/model"
)

// Consumer binds a server-named exclusive queue to the fanout exchange and
// turns deliveries into Readings. The Readings channel survives reconnects:
// the supervisor re-runs the subscription on every new connection and the
// pump for the dead connection drains out on its own.
type Consumer struct {
	sup  *Supervisor
	log  logger.Logger
	sink metrics.Sink

	readings chan model.Reading
}

// NewConsumer wires a Consumer into the supervisor's connection lifecycle.
func NewConsumer(sup *Supervisor, sink metrics.Sink, log logger.Logger) *Consumer {
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	c := &Consumer{
		sup:      sup,
		log:      log,
		sink:     sink,
		readings: make(chan model.Reading, 1),
	}
	sup.onUp = c.subscribe
	return c
}

func (c *Consumer) subscribe(ch wireChannel) error {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.sup.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	tag := c.sup.cfg.ClientID
	if tag == "" {
		tag = "pvsim-" + uuid.NewString()[:8]
	}
	dels, err := ch.Consume(q.Name, tag, true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Infof("bound queue %q to exchange %q", q.Name, c.sup.cfg.Exchange)
	go c.pump(dels)
	return nil
}

func (c *Consumer) pump(dels <-chan amqp.Delivery) {
	for d := range dels {
		r, err := broker.Decode(d.Body)
		if err != nil {
			c.log.Warnf("dropping message: %v", err)
			c.sink.RecordMalformed()
			continue
		}
		// Overwrite semantics: if the tick loop lags, replace the buffered
		// reading instead of blocking the delivery stream.
		select {
		case c.readings <- r:
		default:
			select {
			case <-c.readings:
			default:
			}
			select {
			case c.readings <- r:
			default:
			}
		}
	}
}

// Readings returns the stream of decoded readings.
func (c *Consumer) Readings() <-chan model.Reading { return c.readings }

// Close is a no-op; the supervisor owns the connection lifecycle and readers
// stop via their context.
func (c *Consumer) Close() error { return nil }
