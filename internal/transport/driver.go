// Package transport is the radio boundary. The engine talks to a Driver
// and never to a concrete radio; host builds run over UDP datagrams, tests
// and loopback benches over an in-memory bus.
package transport

import (
	"errors"

	"github.com/fatiguelab/dialctl/internal/protocol"
)

var (
	ErrNotStarted  = errors.New("transport: driver not started")
	ErrUnknownPeer = errors.New("transport: no endpoint for peer address")
)

// ReceiveHandler is invoked on the driver's own receive context for every
// inbound datagram. Implement it non-blocking; a driver will not queue
// behind a slow handler.
type ReceiveHandler func(src protocol.Addr, frame []byte)

// Driver wraps the point-to-point radio datagram link.
type Driver interface {
	Start() error
	Close() error

	LocalAddr() protocol.Addr

	// AddPeer registers a destination so unicast Send is permitted.
	AddPeer(addr protocol.Addr) error

	// Send transmits one datagram, fire-and-forget. The link gives no
	// delivery guarantee; an error only means the local send failed.
	Send(dst protocol.Addr, frame []byte) error

	SetReceiveHandler(h ReceiveHandler)
}
