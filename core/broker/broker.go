package broker

import (
	"context"
	"errors"

	"github.com/pvsim/pvsim/core/model"
)

// State describes the connection lifecycle of a transport. There is no
// terminal state; a faulted connection goes back to Disconnected and is
// re-acquired.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by Publish while the supervisor is between
	// connections. Callers treat it as a gap, not a failure.
	ErrNotConnected = errors.New("broker: not connected")
	// ErrMalformed marks an undecodable message. It is dropped and counted.
	ErrMalformed = errors.New("broker: malformed message")
)

// Publisher sends one Reading per tick to the configured exchange.
type Publisher interface {
	Publish(ctx context.Context, r model.Reading) error
	Close() error
}

// Consumer exposes the stream of Readings received from the exchange. The
// channel stays open across reconnects and closes only on Close.
type Consumer interface {
	Readings() <-chan model.Reading
	Close() error
}

// Reconnecter is implemented by transports that can be forced to drop and
// re-establish their connection. The staleness watchdog uses it when live
// data flow stops without a transport-reported error.
type Reconnecter interface {
	Kick()
}
