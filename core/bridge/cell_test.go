package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pvsim/pvsim/core/model"
)

func TestCellOverwrite(t *testing.T) {
	c := NewCell()
	c.Put(model.Reading{Value: 1})
	c.Put(model.Reading{Value: 2})

	r, fresh := c.Take()
	assert.True(t, fresh)
	assert.Equal(t, 2.0, r.Value, "last write wins")
}

func TestCellFreshConsumedOnce(t *testing.T) {
	c := NewCell()
	c.Put(model.Reading{Value: 7})

	_, fresh := c.Take()
	assert.True(t, fresh)
	r, fresh := c.Take()
	assert.False(t, fresh, "no new reading since last take")
	assert.Equal(t, 7.0, r.Value, "stale value still readable")
}

func TestCellEmpty(t *testing.T) {
	c := NewCell()
	_, fresh := c.Take()
	assert.False(t, fresh)
}

func TestCellSinceLastReceive(t *testing.T) {
	c := NewCell()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	now := base
	c.now = func() time.Time { return now }

	c.Put(model.Reading{Value: 1})
	now = base.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.SinceLastReceive())
}

func TestCellAgesWithoutAnyPut(t *testing.T) {
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	now := base
	c := &Cell{now: func() time.Time { return now }}
	c.lastRecv = c.now()

	now = base.Add(7 * time.Second)
	assert.Equal(t, 7*time.Second, c.SinceLastReceive(),
		"staleness accrues from the start, not from the first reading")
}
