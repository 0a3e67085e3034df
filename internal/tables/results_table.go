package tables

import (
	"sync"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/wire"
)

// ResultState mirrors a push's lifecycle from the results table's point
// of view.
type ResultState int

const (
	ResultPending ResultState = iota
	ResultReady
	ResultFailed
	ResultDiscarded
)

// ResultWaiter fires once a results-table slot settles. Registered by
// the evaluator when a Pipeline expression names a push that is still
// in flight (spec §8.3: "a pipeline id that refers to a later push
// within the same batch is legal").
type ResultWaiter func(value wire.Expr, err *rpcerr.RPCError)

// ResultEntry is one row of the results table (spec §3.3).
type ResultEntry struct {
	State   ResultState
	Value   wire.Expr
	Err     *rpcerr.RPCError
	Waiters []ResultWaiter
}

// ResultsTable implements spec §3.3's results table: "Maps each
// completed Push's assigned Import ID -> its result expression."
// Entries start pending (registered the instant a push is accepted, so
// later pushes in the same batch may pipeline off of them before they
// complete) and are owned by the session until it terminates.
type ResultsTable struct {
	mu      sync.Mutex
	entries map[int64]*ResultEntry
}

// NewResultsTable constructs an empty table.
func NewResultsTable() *ResultsTable {
	return &ResultsTable{entries: make(map[int64]*ResultEntry)}
}

// Register reserves slot id as pending. Must be called synchronously
// when a push is accepted, before evaluation begins, so that sibling
// pushes in the same batch can register pipeline waiters against it.
func (t *ResultsTable) Register(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = &ResultEntry{State: ResultPending}
}

// Fulfill stores a synchronously-produced value directly (spec §4.7:
// "If the evaluation produces a synchronous value, store it in the
// results table at key k").
func (t *ResultsTable) Fulfill(id int64, value wire.Expr) {
	t.settle(id, ResultReady, value, nil)
}

// Fail stores a local rejection (spec §4.7: "Evaluating a push
// expression that fails produces a local rejection").
func (t *ResultsTable) Fail(id int64, err *rpcerr.RPCError) {
	t.settle(id, ResultFailed, nil, err)
}

func (t *ResultsTable) settle(id int64, state ResultState, value wire.Expr, err *rpcerr.RPCError) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		e = &ResultEntry{}
		t.entries[id] = e
	}
	if e.State == ResultDiscarded {
		t.mu.Unlock()
		return
	}
	waiters := e.Waiters
	e.Waiters = nil
	e.State = state
	e.Value = value
	e.Err = err
	t.mu.Unlock()

	for _, w := range waiters {
		w(value, err)
	}
}

// Lookup returns a snapshot of slot id, or not_found if it was never
// registered (spec §4.6: "Look up id in the results table. If not
// present, fail with not_found").
func (t *ResultsTable) Lookup(id int64) (*ResultEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, rpcerr.New(rpcerr.NotFound, "no such push result: %d", id)
	}
	return e, nil
}

// AddWaiter registers w against slot id, firing immediately if it has
// already settled. Returns not_found if the slot was never registered.
func (t *ResultsTable) AddWaiter(id int64, w ResultWaiter) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return rpcerr.New(rpcerr.NotFound, "no such push result: %d", id)
	}
	if e.State != ResultPending {
		value, err := e.Value, e.Err
		t.mu.Unlock()
		w(value, err)
		return nil
	}
	e.Waiters = append(e.Waiters, w)
	t.mu.Unlock()
	return nil
}

// Delete removes slot id. The session does not call it: a pull leaves
// the slot in place, so it stays until the session ends.
func (t *ResultsTable) Delete(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// DiscardAllPending marks every still-pending slot discarded, without
// notifying its waiters, so a push that settles after the session has
// aborted or lost its transport has its result silently dropped (spec
// §5: "its result is discarded") instead of a stale waiter trying to
// send on an already-closed outbox.
func (t *ResultsTable) DiscardAllPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.State == ResultPending {
			e.State = ResultDiscarded
			e.Waiters = nil
		}
	}
}

// Size reports the number of live slots, used by session resource
// limits (spec §5's "maximum results-table size").
func (t *ResultsTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Each calls fn for every settled slot (pending and discarded slots are
// skipped, since a snapshot can only usefully capture outcomes that
// actually exist). Used by the session's resume-token snapshotting
// (spec §9).
func (t *ResultsTable) Each(fn func(id int64, value wire.Expr, err *rpcerr.RPCError)) {
	t.mu.Lock()
	type row struct {
		id    int64
		value wire.Expr
		err   *rpcerr.RPCError
	}
	var rows []row
	for id, e := range t.entries {
		if e.State != ResultReady && e.State != ResultFailed {
			continue
		}
		rows = append(rows, row{id, e.Value, e.Err})
	}
	t.mu.Unlock()

	for _, r := range rows {
		fn(r.id, r.value, r.err)
	}
}
