// Package transport defines the narrow contract spec §6.3 requires of a
// Cap'n Web transport: deliver whole frames in order, signal batch end
// via io.EOF, and surface transport loss as a distinct error. The core
// session (internal/session) depends only on this interface; it never
// knows whether it is running over HTTP batch or a WebSocket.
package transport

import (
	"context"
	"errors"
)

// Frame is one newline-delimited wire message (without the newline).
type Frame []byte

// Transport delivers and accepts frames for one session. Recv returns
// io.EOF when the current batch (or stream) has ended cleanly, per
// spec §6.3: "On batch-style transports ... after that exchange, the
// session is expected to terminate. On streaming transports, the
// session persists until either side emits abort or the transport
// drops."
type Transport interface {
	Recv(ctx context.Context) (Frame, error)
	Send(ctx context.Context, f Frame) error
}

// ErrTransportLost signals the underlying connection dropped, as
// distinct from a clean io.EOF batch end (spec §4.7: "transport loss").
var ErrTransportLost = errors.New("transport: connection lost")
