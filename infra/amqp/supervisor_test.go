package amqp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/internal/eventbus"
)

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	queues     []string
	bound      []string
	published  []amqp.Publishing
	publishErr error
	dels       chan amqp.Delivery
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{dels: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, name+"/"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(string, bool, bool, bool, bool, amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, "srv.queue")
	return amqp.Queue{Name: "srv.queue"}, nil
}

func (f *fakeChannel) QueueBind(name, _, exchange string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = append(f.bound, name+"->"+exchange)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.dels, nil
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeConn struct {
	ch      *fakeChannel
	closeCh chan *amqp.Error
	mu      sync.Mutex
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{ch: newFakeChannel(), closeCh: make(chan *amqp.Error, 1)}
}

func (f *fakeConn) Channel() (wireChannel, error) { return f.ch, nil }

func (f *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	go func() {
		if err, ok := <-f.closeCh; ok {
			receiver <- err
		}
	}()
	return receiver
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// scriptedDial fails a configured number of times before handing out conns.
type scriptedDial struct {
	mu       sync.Mutex
	failures int
	conns    []*fakeConn
}

func (d *scriptedDial) dial(string) (wireConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial tcp: connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *scriptedDial) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *scriptedDial) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func testConfig() Config {
	return Config{URL: "amqp://localhost:5672/", Exchange: "meter", ReconnectMinMS: 1, ReconnectMaxMS: 4}
}

func TestSupervisorRetriesUntilBrokerReachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New()
	events := bus.Subscribe()
	sup := NewSupervisor(testConfig(), "meter", bus, nil, nil)
	d := &scriptedDial{failures: 5}
	sup.dial = d.dial

	go func() { _ = sup.Run(ctx) }()

	require.Eventually(t, func() bool { return sup.State() == broker.Connected }, time.Second, time.Millisecond)
	assert.Equal(t, 1, d.connCount())

	// The bus saw the connecting/disconnected churn before the success.
	var states []broker.State
	for len(states) < 3 {
		states = append(states, (<-events).State)
	}
	assert.Equal(t, broker.Connecting, states[0])
	assert.Equal(t, broker.Disconnected, states[1])
}

func TestSupervisorReconnectsAfterServerClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(testConfig(), "meter", nil, nil, nil)
	d := &scriptedDial{}
	sup.dial = d.dial

	go func() { _ = sup.Run(ctx) }()
	require.Eventually(t, func() bool { return sup.State() == broker.Connected }, time.Second, time.Millisecond)

	d.conn(0).closeCh <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "server shutdown"}
	require.Eventually(t, func() bool { return d.connCount() == 2 && sup.State() == broker.Connected },
		time.Second, time.Millisecond)
}

func TestSupervisorKickForcesReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(testConfig(), "pv", nil, nil, nil)
	d := &scriptedDial{}
	sup.dial = d.dial

	go func() { _ = sup.Run(ctx) }()
	require.Eventually(t, func() bool { return sup.State() == broker.Connected }, time.Second, time.Millisecond)

	sup.Kick()
	require.Eventually(t, func() bool { return d.connCount() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sup.State() == broker.Connected }, time.Second, time.Millisecond)
	d.conn(0).mu.Lock()
	closed := d.conn(0).closed
	d.conn(0).mu.Unlock()
	assert.True(t, closed, "kicked connection must be torn down")
}

func TestSupervisorKickWhileDisconnectedIsDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(testConfig(), "pv", nil, nil, nil)
	d := &scriptedDial{failures: 2}
	sup.dial = d.dial

	// The watchdog may fire while the broker is still unreachable.
	sup.Kick()

	go func() { _ = sup.Run(ctx) }()
	require.Eventually(t, func() bool { return sup.State() == broker.Connected }, time.Second, time.Millisecond)

	// The stale kick must not tear down the connection that finally came up.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.connCount())
	assert.Equal(t, broker.Connected, sup.State())
}

func TestSupervisorDeclaresFanoutExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(testConfig(), "meter", nil, nil, nil)
	d := &scriptedDial{}
	sup.dial = d.dial

	go func() { _ = sup.Run(ctx) }()
	require.Eventually(t, func() bool { return d.connCount() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		ch := d.conn(0).ch
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.exchanges) == 1 && ch.exchanges[0] == "meter/fanout"
	}, time.Second, time.Millisecond)
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(testConfig(), "meter", nil, nil, nil)
	d := &scriptedDial{}
	sup.dial = d.dial

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	require.Eventually(t, func() bool { return sup.State() == broker.Connected }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, broker.Disconnected, sup.State())
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, "amqp://localhost:5672/", cfg.URL)
	assert.Equal(t, "meter", cfg.Exchange)
	assert.Greater(t, cfg.ReconnectMaxMS, cfg.ReconnectMinMS)
}
