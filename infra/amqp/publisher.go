package amqp

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/model"
)

// Publisher sends Readings to the supervisor's fanout exchange. Delivery is
// best-effort: while the supervisor is between connections Publish returns
// ErrNotConnected and the caller treats the tick as a gap.
type Publisher struct {
	sup *Supervisor
}

// NewPublisher creates a Publisher on the given supervisor.
func NewPublisher(sup *Supervisor) *Publisher {
	return &Publisher{sup: sup}
}

// Publish sends one Reading. A transport failure drops the connection so the
// supervisor re-establishes it in the background.
func (p *Publisher) Publish(ctx context.Context, r model.Reading) error {
	ch := p.sup.channel()
	if ch == nil {
		return broker.ErrNotConnected
	}
	body, err := broker.Encode(r)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   r.Timestamp,
		Body:        body,
	}
	if err := ch.PublishWithContext(ctx, p.sup.cfg.Exchange, "", false, false, msg); err != nil {
		p.sup.Kick()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close is a no-op; the supervisor owns the connection lifecycle.
func (p *Publisher) Close() error { return nil }
