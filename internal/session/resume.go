package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/wire"
)

// ResumeToken is an opaque handle a new transport connection presents to
// recover a prior session's tables (spec §9, "optional ... the core
// should be structured so that the tables are serializable and the
// session loop can be reconstructed around them"). This is a
// supplemented feature: spec.md notes the idea but explicitly scopes
// implementing it out of the protocol core; this expansion ships a
// concrete, minimal version of it instead of leaving it as a comment.
type ResumeToken string

// NewResumeToken mints an opaque token using the same google/uuid
// dependency already wired in for per-session log correlation tags
// (internal/logging).
func NewResumeToken() ResumeToken {
	return ResumeToken(uuid.NewString())
}

// Snapshot captures the parts of a session's state that can survive a
// transport change: the settled contents of the results table and the
// two allocators' next values. Stub entries (§3.3) are deliberately not
// captured — a Go capability (closure over application state, open
// files, etc.) has no general serialization, so a resumed session
// starts with an empty import table and relies on the application
// re-establishing capabilities via the bootstrap interface, exactly the
// boundary the teacher already draws between "things the protocol owns"
// and "things the application owns".
type Snapshot struct {
	Results      map[int64]ResultSnapshot
	NextPositive int64
	NextNegative int64
}

// ResultSnapshot is one results-table slot's settled outcome.
type ResultSnapshot struct {
	Value wire.Expr
	Err   *rpcerr.RPCError
}

// TokenStore persists and recovers Snapshots keyed by ResumeToken. The
// core ships only an in-memory implementation; a real deployment would
// back this with a database or cache, which is exactly the kind of
// external collaborator spec §1 calls out of scope.
type TokenStore interface {
	Save(ctx context.Context, token ResumeToken, snap Snapshot) error
	Load(ctx context.Context, token ResumeToken) (Snapshot, error)
	Delete(ctx context.Context, token ResumeToken) error
}

// MemoryTokenStore is a process-local TokenStore, sufficient for a
// single-instance deployment or for tests.
type MemoryTokenStore struct {
	mu   sync.Mutex
	data map[ResumeToken]Snapshot
}

// NewMemoryTokenStore constructs an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{data: make(map[ResumeToken]Snapshot)}
}

func (m *MemoryTokenStore) Save(_ context.Context, token ResumeToken, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[token] = snap
	return nil
}

func (m *MemoryTokenStore) Load(_ context.Context, token ResumeToken) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.data[token]
	if !ok {
		return Snapshot{}, rpcerr.New(rpcerr.NotFound, "no session for resume token")
	}
	return snap, nil
}

func (m *MemoryTokenStore) Delete(_ context.Context, token ResumeToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, token)
	return nil
}

// Snapshot captures s's results table and allocator cursors for later
// resumption. Safe to call at any point while the session is Open or
// Draining.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{Results: make(map[int64]ResultSnapshot)}
	s.results.Each(func(id int64, value wire.Expr, err *rpcerr.RPCError) {
		snap.Results[id] = ResultSnapshot{Value: value, Err: err}
	})
	snap.NextPositive = s.posAlloc.Peek()
	snap.NextNegative = s.negAlloc.Peek()
	return snap
}

// Restore seeds a freshly constructed Session's results table and
// allocator cursors from a Snapshot, so a new transport connection can
// pick up exactly where a previous one left off for any push the peer
// has not yet pulled.
func (s *Session) Restore(snap Snapshot) {
	for id, rs := range snap.Results {
		s.results.Register(id)
		if rs.Err != nil {
			s.results.Fail(id, rs.Err)
		} else {
			s.results.Fulfill(id, rs.Value)
		}
	}
	s.posAlloc.FastForward(snap.NextPositive)
	s.negAlloc.FastForward(snap.NextNegative)
}
