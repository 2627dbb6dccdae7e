// Package transport defines the contracts a protocol layer uses to reach
// the daemon, independent of the concrete wire framing (see transport/ebusd
// for the ebusd text-line implementation).
package transport

import (
	"context"
	"errors"
)

// Address is an unsigned byte bus target selector.
type Address uint8

// Broadcast is the reserved destination used to wake a device or announce
// a session; writes to it must not await a payload line.
const Broadcast Address = 0xFF

// ErrTimeout is returned when a request exhausts its retry budget without
// a non-timeout reply. It is also the sentinel the presence/register
// layers look for to distinguish a "data" outcome from a "give up" one.
var ErrTimeout = errors.New("transport: timeout")

// RawTransport is the narrow contract the protocol codecs need from a bus
// adapter: send a framed payload, get raw reply bytes back.
type RawTransport interface {
	// Request sends payload to dst over the given primary/secondary
	// selector pair and returns the raw bytes of the first payload
	// line in the daemon's response.
	Request(ctx context.Context, dst Address, primary, secondary byte, payload []byte) ([]byte, error)

	// Broadcast writes payload to the broadcast address with
	// expect-response=false; the caller never receives a payload line.
	Broadcast(ctx context.Context, primary, secondary byte, payload []byte) error

	// Close releases any resources held by the transport.
	Close() error
}
