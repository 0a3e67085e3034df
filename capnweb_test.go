package capnweb

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/capnweb-go/capnweb/internal/wire"
	"github.com/capnweb-go/capnweb/transport"
	"github.com/stretchr/testify/require"
)

// memTransport is a one-shot in-memory transport.Transport for batch-
// style tests: every inbound frame is queued up front, mirroring
// internal/session's own test double so Session (the public wrapper) can
// be exercised without a real socket.
type memTransport struct {
	mu  sync.Mutex
	in  []string
	idx int
	out []string
}

func newMemTransport(lines ...string) *memTransport {
	return &memTransport{in: lines}
}

func (t *memTransport) Recv(ctx context.Context) (transport.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idx >= len(t.in) {
		return nil, io.EOF
	}
	l := t.in[t.idx]
	t.idx++
	return transport.Frame(l), nil
}

func (t *memTransport) Send(ctx context.Context, f transport.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out = append(t.out, string(f))
	return nil
}

func (t *memTransport) messages(tb testing.TB) []wire.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := make([]wire.Message, 0, len(t.out))
	for _, l := range t.out {
		m, err := wire.DecodeLine([]byte(l))
		require.NoError(tb, err)
		msgs = append(msgs, m)
	}
	return msgs
}

// chanTransport is a streaming transport.Transport for tests that need
// to react to one response before sending the next request, the way a
// persistent WebSocket session does.
type chanTransport struct {
	in  chan string
	out chan string
}

func newChanTransport() *chanTransport {
	return &chanTransport{in: make(chan string, 8), out: make(chan string, 8)}
}

func (c *chanTransport) Recv(ctx context.Context) (transport.Frame, error) {
	select {
	case l, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return transport.Frame(l), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *chanTransport) Send(ctx context.Context, f transport.Frame) error {
	select {
	case c.out <- string(f):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chanTransport) recvMessage(tb testing.TB) wire.Message {
	tb.Helper()
	select {
	case l := <-c.out:
		m, err := wire.DecodeLine([]byte(l))
		require.NoError(tb, err)
		return m
	case <-time.After(time.Second):
		tb.Fatal("timed out waiting for a message")
		return nil
	}
}

func mustLine(tb testing.TB, m wire.Message) string {
	b, err := wire.EncodeLine(m)
	require.NoError(tb, err)
	return string(b)
}

func pipelineCall(method string, args ...Value) wire.Push {
	items := make([]wire.Expr, len(args))
	for i, a := range args {
		e, err := valueToExpr(a, nil)
		if err != nil {
			panic(err)
		}
		items[i] = e
	}
	return wire.Push{Expr: &wire.Pipeline{
		ID:      0,
		Path:    []wire.PathSegment{{Key: method}},
		HasPath: true,
		Args:    &wire.Arr{Items: items},
		HasArgs: true,
	}}
}

// TestSession_StructResultRoundTrips confirms a Target that returns a
// plain application struct comes back across the wire as the expected
// object shape (the marshalStruct/plainJSONToExpr fallback path).
func TestSession_StructResultRoundTrips(t *testing.T) {
	type Profile struct {
		ID  string `json:"id"`
		Bio string `json:"bio"`
	}

	root := NewBaseTarget()
	root.Method("profile", func(ctx context.Context, args []Value) (Value, error) {
		return Profile{ID: "u_1", Bio: "hi"}, nil
	})

	tr := newMemTransport(
		mustLine(t, pipelineCall("profile")),
		mustLine(t, wire.Pull{ImportID: 1}),
	)
	sess := NewSession(root, DefaultLimits(), tr)
	require.NoError(t, sess.Run(context.Background(), false))

	msgs := tr.messages(t)
	require.Len(t, msgs, 1)
	resolve := msgs[0].(wire.Resolve)
	obj := resolve.Value.(*wire.Obj)
	require.Equal(t, wire.String("u_1"), obj.Fields["id"])
	require.Equal(t, wire.String("hi"), obj.Fields["bio"])
}

// TestSession_ErrorKindCrossesTheWire confirms a Target-returned
// *RPCError controls the rejection's Kind (spec §7).
func TestSession_ErrorKindCrossesTheWire(t *testing.T) {
	root := NewBaseTarget()
	root.Method("restricted", func(ctx context.Context, args []Value) (Value, error) {
		return nil, NewError(PermissionDenied, "nope")
	})

	tr := newMemTransport(
		mustLine(t, pipelineCall("restricted")),
		mustLine(t, wire.Pull{ImportID: 1}),
	)
	sess := NewSession(root, DefaultLimits(), tr)
	require.NoError(t, sess.Run(context.Background(), false))

	msgs := tr.messages(t)
	reject := msgs[0].(wire.Reject)
	errVal := reject.Error.(*wire.ErrorValue)
	require.Equal(t, string(PermissionDenied), errVal.Type)
}

// TestSession_CapabilityPassing reproduces spec §8.4 Scenario S4: a
// method returns a *Capability, which crosses the wire as a negative
// import reference, and the peer then invokes it directly in a later
// push within the same persistent session.
func TestSession_CapabilityPassing(t *testing.T) {
	counter := NewBaseTarget()
	n := 0
	counter.Method("increment", func(ctx context.Context, args []Value) (Value, error) {
		n++
		return float64(n), nil
	})

	root := NewBaseTarget()
	root.Method("makeCounter", func(ctx context.Context, args []Value) (Value, error) {
		return &Capability{Target: counter}, nil
	})

	tr := newChanTransport()
	sess := NewSession(root, DefaultLimits(), tr)
	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(context.Background(), true) }()

	tr.in <- mustLine(t, pipelineCall("makeCounter"))
	tr.in <- mustLine(t, wire.Pull{ImportID: 1})

	resolve := tr.recvMessage(t).(wire.Resolve)
	imp, ok := resolve.Value.(*wire.Import)
	require.True(t, ok, "capability result must cross the wire as an import reference")
	require.Less(t, imp.ID, int64(0))

	tr.in <- mustLine(t, wire.Push{Expr: &wire.Import{
		ID:      imp.ID,
		Path:    []wire.PathSegment{{Key: "increment"}},
		HasPath: true,
		Args:    &wire.Arr{},
		HasArgs: true,
	}})
	tr.in <- mustLine(t, wire.Pull{ImportID: 2})

	resolve2 := tr.recvMessage(t).(wire.Resolve)
	require.Equal(t, wire.Number(1), resolve2.Value)

	close(tr.in)
	require.NoError(t, <-runDone)
}
