package mqtt

import (
	"context"
	"fmt"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/model"
)

// Publisher sends Readings to the client's topic. While the session is down
// Publish returns ErrNotConnected so the caller treats the tick as a gap
// instead of queueing stale data.
type Publisher struct {
	cli *Client
}

// NewPublisher creates a Publisher on an established client.
func NewPublisher(cli *Client) *Publisher {
	return &Publisher{cli: cli}
}

// Publish sends one Reading at the configured QoS.
func (p *Publisher) Publish(_ context.Context, r model.Reading) error {
	if !p.cli.cli.IsConnected() {
		return broker.ErrNotConnected
	}
	body, err := broker.Encode(r)
	if err != nil {
		return err
	}
	token := p.cli.cli.Publish(p.cli.cfg.Topic, p.cli.cfg.QoS, false, body)
	if token.Wait() && token.Error() != nil {
		p.cli.Kick()
		return fmt.Errorf("publish: %w", token.Error())
	}
	return nil
}

// Close shuts the underlying session down.
func (p *Publisher) Close() error {
	p.cli.Disconnect()
	return nil
}
