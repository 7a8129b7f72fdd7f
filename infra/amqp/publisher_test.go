package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvsim/pvsim/core/broker"
	"github.com/pvsim/pvsim/core/model"
)

func TestPublishWhileDisconnectedReturnsErrNotConnected(t *testing.T) {
	sup := NewSupervisor(testConfig(), "meter", nil, nil, nil)
	pub := NewPublisher(sup)

	err := pub.Publish(context.Background(), model.Reading{Timestamp: time.Now(), Value: 42})
	assert.ErrorIs(t, err, broker.ErrNotConnected)
}

func TestPublishDeliversEncodedReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(testConfig(), "meter", nil, nil, nil)
	d := &scriptedDial{}
	sup.dial = d.dial
	go func() { _ = sup.Run(ctx) }()
	require.Eventually(t, func() bool { return sup.State() == broker.Connected }, time.Second, time.Millisecond)

	pub := NewPublisher(sup)
	ts := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Publish(ctx, model.Reading{Timestamp: ts, Value: 1234.5}))

	ch := d.conn(0).ch
	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Len(t, ch.published, 1)
	assert.Equal(t, "application/json", ch.published[0].ContentType)

	var got model.Reading
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &got))
	assert.Equal(t, 1234.5, got.Value)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestPublishFailureTriggersReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(testConfig(), "meter", nil, nil, nil)
	d := &scriptedDial{}
	sup.dial = d.dial
	go func() { _ = sup.Run(ctx) }()
	require.Eventually(t, func() bool { return sup.State() == broker.Connected }, time.Second, time.Millisecond)

	d.conn(0).ch.mu.Lock()
	d.conn(0).ch.publishErr = errors.New("channel/connection is not open")
	d.conn(0).ch.mu.Unlock()

	pub := NewPublisher(sup)
	err := pub.Publish(ctx, model.Reading{Timestamp: time.Now(), Value: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, broker.ErrNotConnected)

	// The failed publish kicked the supervisor onto a fresh connection.
	require.Eventually(t, func() bool { return d.connCount() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sup.State() == broker.Connected }, time.Second, time.Millisecond)
	require.NoError(t, pub.Publish(ctx, model.Reading{Timestamp: time.Now(), Value: 2}))
	assert.Equal(t, 1, d.conn(1).ch.publishedCount())
}
