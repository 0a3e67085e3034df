// Package wsconn adapts a gorilla/websocket connection to the
// transport.Transport interface, grounded on the teacher's WebSocket
// loop in server.go (upgrader.Upgrade + conn.ReadMessage/WriteMessage).
package wsconn

import (
	"context"

	"github.com/gorilla/websocket"

	"github.com/capnweb-go/capnweb/transport"
)

// Transport wraps one upgraded WebSocket connection. A session built on
// it should be run with persistent=true (spec §6.3's streaming
// transport: the session stays Open until either side aborts or the
// connection drops).
type Transport struct {
	conn *websocket.Conn
}

// New wraps an already-upgraded connection, matching the teacher's
// upgrader.Upgrade(c.Response(), c.Request(), nil) call in server.go.
func New(conn *websocket.Conn) *Transport {
	return &Transport{conn: conn}
}

// Recv blocks for the next text frame. A clean close (CloseNormalClosure
// or CloseGoingAway, the same pair the teacher's read loop treats as
// unremarkable) is reported as-is; the session layer logs it as transport
// loss since a persistent session has no other notion of "the peer is
// done".
func (t *Transport) Recv(ctx context.Context) (transport.Frame, error) {
	_, message, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return transport.Frame(message), nil
}

// Send writes one text frame.
func (t *Transport) Send(ctx context.Context, f transport.Frame) error {
	return t.conn.WriteMessage(websocket.TextMessage, f)
}

var _ transport.Transport = (*Transport)(nil)
