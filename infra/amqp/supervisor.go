package amqp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/logger"
	"github.com/pvsim/pvsim/core/metrics"
	"github.com/pvsim/pvsim/internal/eventbus"
)

// Config defines the connection parameters for one AMQP endpoint + exchange.
type Config struct {
	URL            string `json:"url"`
	Exchange       string `json:"exchange"`
	ClientID       string `json:"client_id"`
	ReconnectMinMS int    `json:"reconnect_min_ms"`
	ReconnectMaxMS int    `json:"reconnect_max_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = "amqp://localhost:5672/"
	}
	if c.Exchange == "" {
		c.Exchange = "meter"
	}
	if c.ReconnectMinMS <= 0 {
		c.ReconnectMinMS = 1000
	}
	if c.ReconnectMaxMS < c.ReconnectMinMS {
		c.ReconnectMaxMS = 30000
	}
}

// wireChannel is the slice of *amqp.Channel the supervisor needs. The
// indirection exists so tests can script broker behavior.
type wireChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type wireConn interface {
	Channel() (wireChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type realConn struct {
	*amqp.Connection
}

func (c realConn) Channel() (wireChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

var dialAMQP = func(url string) (wireConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return realConn{conn}, nil
}

// errKicked marks a teardown forced from the outside, either by the staleness
// watchdog or by a failed publish.
var errKicked = errors.New("amqp: reconnect forced")

// Supervisor owns the connect/disconnect lifecycle for a single endpoint and
// exchange. Run cycles DISCONNECTED → CONNECTING → CONNECTED until the
// context ends; every fault leads back to DISCONNECTED and a backoff retry.
// Callers never see a connection error, only transient absence of data.
type Supervisor struct {
	cfg  Config
	role string
	log  logger.Logger
	bus  *eventbus.Bus
	sink metrics.Sink

	mu   sync.Mutex
	ch   wireChannel
	onUp func(ch wireChannel) error

	state atomic.Int32
	kick  chan struct{}
	dial  func(url string) (wireConn, error)
}

// NewSupervisor creates a Supervisor for the given role ("meter" or "pv").
func NewSupervisor(cfg Config, role string, bus *eventbus.Bus, sink metrics.Sink, log logger.Logger) *Supervisor {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Supervisor{
		cfg:  cfg,
		role: role,
		log:  log,
		bus:  bus,
		sink: sink,
		kick: make(chan struct{}, 1),
		dial: dialAMQP,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() broker.State {
	return broker.State(s.state.Load())
}

// Kick forces the current connection down. The supervisor reconnects on its
// own; a kick while disconnected is a no-op.
func (s *Supervisor) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run maintains the connection until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	minBackoff := time.Duration(s.cfg.ReconnectMinMS) * time.Millisecond
	maxBackoff := time.Duration(s.cfg.ReconnectMaxMS) * time.Millisecond
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setState(broker.Connecting, nil)

		conn, ch, err := s.connect()
		if err != nil {
			s.setState(broker.Disconnected, err)
			s.log.Warnf("connect %s: %v (retrying in %s)", s.cfg.URL, err, backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		s.install(ch)
		// Kicks raised while disconnected were aimed at a connection that no
		// longer exists; a fresh one must not pay for them.
		select {
		case <-s.kick:
		default:
		}
		s.setState(broker.Connected, nil)
		s.sink.RecordReconnect(s.role)
		s.log.Infof("connected, exchange %q declared", s.cfg.Exchange)

		if s.onUp != nil {
			if err := s.onUp(ch); err != nil {
				s.log.Errorf("subscribe failed: %v", err)
				s.clear()
				_ = conn.Close()
				s.setState(broker.Disconnected, err)
				if !sleepCtx(ctx, backoff) {
					return ctx.Err()
				}
				continue
			}
		}

		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case aerr := <-closeCh:
			s.clear()
			var ferr error
			if aerr != nil {
				ferr = aerr
			}
			s.setState(broker.Disconnected, ferr)
			s.log.Warnf("connection lost: %v", ferr)
		case <-s.kick:
			s.clear()
			_ = conn.Close()
			s.setState(broker.Disconnected, errKicked)
			s.log.Warnf("connection dropped on request")
		case <-ctx.Done():
			s.clear()
			_ = conn.Close()
			s.setState(broker.Disconnected, nil)
			return ctx.Err()
		}
	}
}

func (s *Supervisor) connect() (wireConn, wireChannel, error) {
	conn, err := s.dial(s.cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(s.cfg.Exchange, "fanout", false, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (s *Supervisor) setState(st broker.State, err error) {
	s.state.Store(int32(st))
	if s.bus != nil {
		s.bus.Publish(eventbus.ConnEvent{Role: s.role, State: st, Err: err, At: time.Now()})
	}
}

func (s *Supervisor) install(ch wireChannel) {
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
}

func (s *Supervisor) clear() {
	s.mu.Lock()
	s.ch = nil
	s.mu.Unlock()
}

func (s *Supervisor) channel() wireChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
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

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
