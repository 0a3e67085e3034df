package session

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/wire"
	"github.com/capnweb-go/capnweb/transport"
	"github.com/stretchr/testify/require"
)

// memTransport is an in-memory transport.Transport backed by a fixed
// list of inbound frames and a recorded list of outbound ones, enough to
// drive a Session through Run without a real socket.
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
	line := t.in[t.idx]
	t.idx++
	return transport.Frame(line), nil
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
	for _, line := range t.out {
		m, err := wire.DecodeLine([]byte(line))
		require.NoError(tb, err)
		msgs = append(msgs, m)
	}
	return msgs
}

func line(tb testing.TB, m wire.Message) string {
	b, err := wire.EncodeLine(m)
	require.NoError(tb, err)
	return string(b)
}

// funcStub is a tables.Stub backed by a plain function, the session-level
// analogue of the eval package's recordingStub.
type funcStub struct {
	call func(ctx context.Context, method string, args []wire.Expr) (wire.Expr, error)
}

func (f *funcStub) Call(ctx context.Context, method string, args []wire.Expr) (wire.Expr, error) {
	return f.call(ctx, method, args)
}

func echoRoot() *funcStub {
	return &funcStub{call: func(ctx context.Context, method string, args []wire.Expr) (wire.Expr, error) {
		if method != "echo" {
			return nil, rpcerr.New(rpcerr.NotFound, "method not found: %s", method)
		}
		return args[0], nil
	}}
}

func pipelineCall(method string, args ...wire.Expr) wire.Push {
	return wire.Push{Expr: &wire.Pipeline{
		ID:      0,
		Path:    []wire.PathSegment{{Key: method}},
		HasPath: true,
		Args:    &wire.Arr{Items: args},
		HasArgs: true,
	}}
}

// TestSession_BatchPushPullRoundTrip exercises the minimal single-call
// flow of spec §8.4 Scenario S1: one push against the bootstrap
// capability, one pull for its result, in one HTTP-style batch.
func TestSession_BatchPushPullRoundTrip(t *testing.T) {
	tr := newMemTransport(
		line(t, pipelineCall("echo", wire.String("hi"))),
		line(t, wire.Pull{ImportID: 1}),
	)
	sess := New(echoRoot(), DefaultLimits(), tr)
	require.NoError(t, sess.Run(context.Background(), false))

	msgs := tr.messages(t)
	require.Len(t, msgs, 1)
	resolve, ok := msgs[0].(wire.Resolve)
	require.True(t, ok)
	require.Equal(t, int64(1), resolve.ExportID)
	require.Equal(t, wire.String("hi"), resolve.Value)
	require.Equal(t, Closed, sess.State())
}

// TestSession_PipeliningWithinBatch reproduces spec §8.4 Scenario S2:
// authenticate returns a user object, and getUserProfile pipelines off
// of its id field within the same batch, before authenticate's own
// result has been pulled.
func TestSession_PipeliningWithinBatch(t *testing.T) {
	root := &funcStub{call: func(ctx context.Context, method string, args []wire.Expr) (wire.Expr, error) {
		switch method {
		case "authenticate":
			return &wire.Obj{Fields: map[string]wire.Expr{
				"id":   wire.String("u_1"),
				"name": wire.String("Ada Lovelace"),
			}}, nil
		case "getUserProfile":
			id := args[0].(wire.String)
			require.Equal(t, wire.String("u_1"), id)
			return &wire.Obj{Fields: map[string]wire.Expr{"bio": wire.String("Mathematician")}}, nil
		default:
			return nil, rpcerr.New(rpcerr.NotFound, "method not found: %s", method)
		}
	}}

	authPush := pipelineCall("authenticate", wire.String("cookie-123"))
	profilePush := wire.Push{Expr: &wire.Pipeline{
		ID:      0,
		Path:    []wire.PathSegment{{Key: "getUserProfile"}},
		HasPath: true,
		Args: &wire.Arr{Items: []wire.Expr{
			&wire.Pipeline{ID: 1, Path: []wire.PathSegment{{Key: "id"}}, HasPath: true},
		}},
		HasArgs: true,
	}}

	tr := newMemTransport(
		line(t, authPush),
		line(t, profilePush),
		line(t, wire.Pull{ImportID: 2}),
	)
	sess := New(root, DefaultLimits(), tr)
	require.NoError(t, sess.Run(context.Background(), false))

	msgs := tr.messages(t)
	require.Len(t, msgs, 1)
	resolve, ok := msgs[0].(wire.Resolve)
	require.True(t, ok)
	require.Equal(t, int64(2), resolve.ExportID)
	obj, ok := resolve.Value.(*wire.Obj)
	require.True(t, ok)
	require.Equal(t, wire.String("Mathematician"), obj.Fields["bio"])
}

// TestSession_RejectedCallPullsAsReject confirms a Target error surfaces
// as a reject, not a resolve, carrying the chosen Kind (spec §7).
func TestSession_RejectedCallPullsAsReject(t *testing.T) {
	root := &funcStub{call: func(ctx context.Context, method string, args []wire.Expr) (wire.Expr, error) {
		return nil, rpcerr.New(rpcerr.PermissionDenied, "nope")
	}}

	tr := newMemTransport(
		line(t, pipelineCall("whoami")),
		line(t, wire.Pull{ImportID: 1}),
	)
	sess := New(root, DefaultLimits(), tr)
	require.NoError(t, sess.Run(context.Background(), false))

	msgs := tr.messages(t)
	require.Len(t, msgs, 1)
	reject, ok := msgs[0].(wire.Reject)
	require.True(t, ok)
	errVal, ok := reject.Error.(*wire.ErrorValue)
	require.True(t, ok)
	require.Equal(t, string(rpcerr.PermissionDenied), errVal.Type)
}

// TestSession_PullOfUnknownExportIsNotFound covers spec §4.6's "look up
// id in the results table; if not present, fail with not_found".
func TestSession_PullOfUnknownExportIsNotFound(t *testing.T) {
	tr := newMemTransport(line(t, wire.Pull{ImportID: 99}))
	sess := New(echoRoot(), DefaultLimits(), tr)
	require.NoError(t, sess.Run(context.Background(), false))

	msgs := tr.messages(t)
	require.Len(t, msgs, 1)
	reject, ok := msgs[0].(wire.Reject)
	require.True(t, ok)
	errVal := reject.Error.(*wire.ErrorValue)
	require.Equal(t, string(rpcerr.NotFound), errVal.Type)
}

// TestSession_AbortClosesSession confirms an inbound abort tears the
// session down without a panic or further dispatch (spec §4.7).
func TestSession_AbortClosesSession(t *testing.T) {
	tr := newMemTransport(line(t, wire.Abort{Reason: wire.String("client giving up")}))
	sess := New(echoRoot(), DefaultLimits(), tr)
	require.NoError(t, sess.Run(context.Background(), true))
	require.Equal(t, Closed, sess.State())
}

// TestSession_ExportStubAssignsNegativeID covers spec §9's capability
// passing: a Stub handed to ExportStub gets a fresh negative import ID
// and is retrievable from the import table afterward.
func TestSession_ExportStubAssignsNegativeID(t *testing.T) {
	tr := newMemTransport()
	sess := New(echoRoot(), DefaultLimits(), tr)

	capStub := &funcStub{call: func(ctx context.Context, method string, args []wire.Expr) (wire.Expr, error) {
		return wire.Number(1), nil
	}}
	imp := sess.ExportStub(capStub)
	require.Less(t, imp.ID, int64(0))

	entry, err := sess.Imports().Lookup(imp.ID)
	require.NoError(t, err)
	require.Equal(t, capStub, entry.Stub)
}

// TestSession_ReleaseDropsImportTableEntry covers spec §4.3's release
// message: the count sent must exactly balance the refcount assigned by
// ExportStub (1) to drop the entry.
func TestSession_ReleaseDropsImportTableEntry(t *testing.T) {
	tr := newMemTransport(line(t, wire.Release{ImportID: -1, Count: 1}))
	sess := New(echoRoot(), DefaultLimits(), tr)
	sess.imports.InsertStub(-1, &funcStub{})

	require.NoError(t, sess.Run(context.Background(), false))
	_, err := sess.Imports().Lookup(-1)
	require.Error(t, err)
}
