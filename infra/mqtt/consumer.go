package mqtt

import (
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/logger"
	"github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/core/model"
)

// Consumer subscribes to the client's topic and turns messages into
// Readings. The subscription is re-installed on every reconnect.
type Consumer struct {
	cli  *Client
	log  logger.Logger
	sink metrics.Sink

	readings chan model.Reading
}

// NewConsumer wires a Consumer into the client's connect hook. Call before
// the first message is expected; the subscription lands on the next
// (re)connect and immediately if the session is already up.
func NewConsumer(cli *Client, sink metrics.Sink, log logger.Logger) *Consumer {
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	c := &Consumer{
		cli:      cli,
		log:      log,
		sink:     sink,
		readings: make(chan model.Reading, 1),
	}
	cli.setOnUp(c.subscribe)
	if cli.cli != nil && cli.cli.IsConnected() {
		c.subscribe()
	}
	return c
}

func (c *Consumer) subscribe() {
	token := c.cli.cli.Subscribe(c.cli.cfg.Topic, c.cli.cfg.QoS, c.onMessage)
	if token.Wait() && token.Error() != nil {
		c.log.Errorf("subscribe %q: %v", c.cli.cfg.Topic, token.Error())
		c.cli.Kick()
		return
	}
	c.log.Infof("subscribed to %q", c.cli.cfg.Topic)
}

func (c *Consumer) onMessage(_ paho.Client, msg paho.Message) {
	r, err := broker.Decode(msg.Payload())
	if err != nil {
		c.log.Warnf("dropping message: %v", err)
		c.sink.RecordMalformed()
		return
	}
	// Keep the newest reading when the tick loop lags.
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

// Readings returns the stream of decoded readings.
func (c *Consumer) Readings() <-chan model.Reading { return c.readings }

// Close shuts the underlying session down.
func (c *Consumer) Close() error {
	c.cli.Disconnect()
	return nil
}
