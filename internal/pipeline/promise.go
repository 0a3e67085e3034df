// Package pipeline implements the pipeline/promise engine of spec §4.8:
// the bookkeeping that sits between the expression evaluator and the
// per-session tables, tracking which in-flight push is currently
// blocked on which other slot so that cycles are rejected at
// registration time instead of deadlocking, and so the evaluator can
// enforce MaxPipelineContinuationDepth (spec §5).
//
// The teacher has no equivalent of this: its resolvePipelineReferences
// (rpc.go) runs synchronously against already-completed
// PendingResults/PendingOperations maps and can never observe a
// still-pending forward reference, let alone a cycle. This package
// generalizes that synchronous lookup into a suspend/resume engine,
// grounded on the same "waiter list fires once" shape the import and
// results tables already use (internal/tables).
package pipeline

import (
	"sync"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/wire"
)

// Engine tracks, for every push currently suspended waiting on another
// slot, which slot it is waiting on. All mutation is expected to happen
// from the goroutines evaluating individual pushes, never from the
// session's own loop goroutine, so the mutex is what serializes access.
type Engine struct {
	mu         sync.Mutex
	waitingFor map[int64]int64
}

// NewEngine constructs an empty engine.
func NewEngine() *Engine {
	return &Engine{waitingFor: make(map[int64]int64)}
}

// Subscribe registers a one-shot continuation against some table slot;
// implemented by ResultsTable.AddWaiter / ImportTable.AddWaiter.
type Subscribe func(callback func(wire.Expr, *rpcerr.RPCError))

// Await blocks the calling goroutine until target settles, unless doing
// so would complete a cycle back to from (spec §4.8: "Cycles ... must be
// rejected at registration time, not left to deadlock"), in which case
// it fails immediately with bad_request. A from of 0 disables cycle
// tracking for that call (used for evaluation that is not occurring on
// behalf of a specific push, e.g. warm-up/test evaluation).
func (e *Engine) Await(from, target int64, subscribe Subscribe) (wire.Expr, *rpcerr.RPCError) {
	if from != 0 {
		if e.wouldCycle(from, target) {
			return nil, rpcerr.New(rpcerr.BadRequest, "cyclic pipeline reference: push %d indirectly depends on itself via %d", from, target)
		}
		e.begin(from, target)
		defer e.end(from)
	}

	type outcome struct {
		value wire.Expr
		err   *rpcerr.RPCError
	}
	ch := make(chan outcome, 1)
	subscribe(func(v wire.Expr, err *rpcerr.RPCError) {
		ch <- outcome{v, err}
	})
	out := <-ch
	return out.value, out.err
}

func (e *Engine) wouldCycle(from, target int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := target
	seen := map[int64]bool{}
	for {
		if cur == from {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
		next, ok := e.waitingFor[cur]
		if !ok {
			return false
		}
		cur = next
	}
}

func (e *Engine) begin(from, target int64) {
	e.mu.Lock()
	e.waitingFor[from] = target
	e.mu.Unlock()
}

func (e *Engine) end(from int64) {
	e.mu.Lock()
	delete(e.waitingFor, from)
	e.mu.Unlock()
}

// Depth reports the length of the suspend chain currently rooted at id,
// used by the evaluator to enforce MaxPipelineContinuationDepth
// (spec §5).
func (e *Engine) Depth(id int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	depth := 0
	cur := id
	seen := map[int64]bool{}
	for {
		if seen[cur] {
			return depth
		}
		seen[cur] = true
		next, ok := e.waitingFor[cur]
		if !ok {
			return depth
		}
		depth++
		cur = next
	}
}
