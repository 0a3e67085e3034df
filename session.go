package capnweb

import (
	"context"

	isession "github.com/capnweb-go/capnweb/internal/session"
	"github.com/capnweb-go/capnweb/transport"
)

// Limits re-exports the per-session resource bounds of spec §5.
type Limits = isession.Limits

// DefaultLimits returns generous bounds suitable for a single trusted
// session.
func DefaultLimits() Limits { return isession.DefaultLimits() }

// ResumeToken and TokenStore re-export the resume-token feature of spec
// §9 (a supplemented feature; see SPEC_FULL.md).
type ResumeToken = isession.ResumeToken
type TokenStore = isession.TokenStore

// NewResumeToken mints a fresh opaque resume token.
func NewResumeToken() ResumeToken { return isession.NewResumeToken() }

// NewMemoryTokenStore constructs a process-local TokenStore.
func NewMemoryTokenStore() *isession.MemoryTokenStore { return isession.NewMemoryTokenStore() }

// Session is one protocol session bound to a bootstrap Target and a
// Transport (spec §4.7). It generalizes the teacher's RpcSession +
// SessionData pair (rpc.go) into a thin wrapper over the internal state
// machine, converting the public Target/Value surface into the internal
// wire.Expr/tables.Stub shapes at construction time.
type Session struct {
	inner *isession.Session
}

// NewSession constructs a Session whose bootstrap capability (import ID
// 0) is root.
func NewSession(root Target, limits Limits, t transport.Transport) *Session {
	inner := isession.New(nil, limits, t)
	inner.SetRoot(newStubAdapter(root, inner))
	return &Session{inner: inner}
}

// Run drives the session until its transport signals batch end, the
// session aborts, or the transport is lost. Set persistent to false for
// batch transports (HTTP POST: process the batch, respond, done) and to
// true for streaming transports (WebSocket: stay Open until abort or
// loss), matching spec §4.7's Draining/Closed distinction.
func (s *Session) Run(ctx context.Context, persistent bool) error {
	return s.inner.Run(ctx, persistent)
}

// Snapshot captures enough of the session's state to resume it on a new
// transport connection later (spec §9).
func (s *Session) Snapshot() isession.Snapshot { return s.inner.Snapshot() }

// Resume seeds a freshly constructed Session from a prior Snapshot,
// before calling Run on it.
func (s *Session) Resume(snap isession.Snapshot) { s.inner.Restore(snap) }
