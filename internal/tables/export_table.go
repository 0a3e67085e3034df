package tables

import (
	"sync"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/wire"
)

// ExportState is the lifecycle of an export table entry (spec §4.5).
// Resolved and Rejected are both terminal; an entry may only transition
// into one of them, and only once.
type ExportState int

const (
	ExportPending ExportState = iota
	ExportResolved
	ExportRejected
)

// ExportWaiter fires when a pending export resolves or rejects. Waiters
// registered with AddWaiter are handed back by Resolve/Reject for the
// caller to fire, or fired directly by RejectAllPending.
type ExportWaiter func(value wire.Expr, err *rpcerr.RPCError)

// ExportEntry is one row of the export table (spec §3.3).
type ExportEntry struct {
	State   ExportState
	Value   wire.Expr
	Err     *rpcerr.RPCError
	Waiters []ExportWaiter

	// ExportCount mirrors spec §3.3's "export_count": how many times the
	// peer has been told about this export (e.g. via repeated capability
	// passing of the same value). on_release decrements it.
	ExportCount int
}

// ExportTable implements spec §4.5.
type ExportTable struct {
	mu      sync.Mutex
	entries map[int64]*ExportEntry
}

// NewExportTable constructs an empty table.
func NewExportTable() *ExportTable {
	return &ExportTable{entries: make(map[int64]*ExportEntry)}
}

// Insert creates a pending entry for id.
func (t *ExportTable) Insert(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = &ExportEntry{State: ExportPending, ExportCount: 1}
}

// Resolve fulfills export id with value. Resolving an already-settled
// export is a programming error (spec §4.5).
func (t *ExportTable) Resolve(id int64, value wire.Expr) ([]ExportWaiter, error) {
	return t.settle(id, ExportResolved, value, nil)
}

// Reject fails export id with err.
func (t *ExportTable) Reject(id int64, err *rpcerr.RPCError) ([]ExportWaiter, error) {
	return t.settle(id, ExportRejected, nil, err)
}

func (t *ExportTable) settle(id int64, state ExportState, value wire.Expr, err *rpcerr.RPCError) ([]ExportWaiter, error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return nil, rpcerr.New(rpcerr.NotFound, "export %d not found", id)
	}
	if e.State != ExportPending {
		t.mu.Unlock()
		return nil, rpcerr.New(rpcerr.Internal, "export %d settled twice", id)
	}
	e.State = state
	e.Value = value
	e.Err = err
	waiters := e.Waiters
	e.Waiters = nil
	t.mu.Unlock()
	return waiters, nil
}

// AddWaiter registers w to fire when id settles; if it has already
// settled, w fires synchronously instead.
func (t *ExportTable) AddWaiter(id int64, w ExportWaiter) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return rpcerr.New(rpcerr.NotFound, "export %d not found", id)
	}
	if e.State != ExportPending {
		value, err := e.Value, e.Err
		t.mu.Unlock()
		w(value, err)
		return nil
	}
	e.Waiters = append(e.Waiters, w)
	t.mu.Unlock()
	return nil
}

// Lookup returns a read-only snapshot of the entry for id.
func (t *ExportTable) Lookup(id int64) (*ExportEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, rpcerr.New(rpcerr.NotFound, "export %d not found", id)
	}
	return e, nil
}

// OnRelease processes a peer release notification: decrements
// ExportCount by n and, once it reaches zero, drops the entry (spec
// §4.5).
func (t *ExportTable) OnRelease(id int64, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	e.ExportCount -= n
	if e.ExportCount <= 0 {
		delete(t.entries, id)
	}
}

// RejectAllPending fails every still-pending export with err. Used when
// a session aborts (spec §4.7: "all exports that were pending fail").
func (t *ExportTable) RejectAllPending(err *rpcerr.RPCError) {
	t.mu.Lock()
	var toFire []ExportWaiter
	for _, e := range t.entries {
		if e.State == ExportPending {
			e.State = ExportRejected
			e.Err = err
			toFire = append(toFire, e.Waiters...)
			e.Waiters = nil
		}
	}
	t.mu.Unlock()
	for _, w := range toFire {
		w(nil, err)
	}
}

// Size reports the number of live entries.
func (t *ExportTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
