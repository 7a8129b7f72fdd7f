package bridge

import (
	"sync"
	"time"

	"github.com/pvsim/pvsim/core/model"
)

// Cell is the single latest-value slot shared between the receive loop and
// the tick loop. It overwrites on every Put; nothing is queued, so a broker
// outage cannot build up a backlog.
type Cell struct {
	mu       sync.Mutex
	reading  model.Reading
	fresh    bool
	lastRecv time.Time

	now func() time.Time
}

// NewCell returns an empty cell. The staleness baseline starts at creation,
// so a stream that never delivers a single reading still goes stale.
func NewCell() *Cell {
	c := &Cell{now: time.Now}
	c.lastRecv = c.now()
	return c
}

// Put stores the reading, replacing whatever was there.
func (c *Cell) Put(r model.Reading) {
	c.mu.Lock()
	c.reading = r
	c.fresh = true
	c.lastRecv = c.now()
	c.mu.Unlock()
}

// Take returns the stored reading and whether it arrived since the previous
// Take. A reading is consumed at most once; last write wins in between.
func (c *Cell) Take() (model.Reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, fresh := c.reading, c.fresh
	c.fresh = false
	return r, fresh
}

// SinceLastReceive returns the age of the newest reading, measured from the
// cell's creation while nothing has arrived yet. The watchdog uses wall time
// here, not the reading's embedded timestamp, so a publisher running ahead
// or behind does not confuse staleness detection.
func (c *Cell) SinceLastReceive() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastRecv)
}
