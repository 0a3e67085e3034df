// Package session implements the session state machine of spec §4.7: it
// owns the per-session tables, drives the six-message dispatch loop,
// invokes the expression evaluator on each push, and enforces the
// resource limits of spec §5.
//
// This generalizes the teacher's RpcSession/SessionData pair (rpc.go):
// the teacher's HandleMessage switch over string tags becomes handle's
// switch over typed wire.Message values; the teacher's conflated
// PendingResults/PendingOperations maps become the results table (with
// its per-slot waiter lists) plus the pipeline engine's record of which
// push waits on which slot; the teacher's single blocking
// ReadMessage loop becomes one goroutine per session reading frames from
// a Transport and a second goroutine draining an outbound message
// channel, so that a suspended push never blocks unrelated traffic
// (spec §5).
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/capnweb-go/capnweb/internal/eval"
	"github.com/capnweb-go/capnweb/internal/ids"
	"github.com/capnweb-go/capnweb/internal/logging"
	"github.com/capnweb-go/capnweb/internal/pipeline"
	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/tables"
	"github.com/capnweb-go/capnweb/internal/wire"
	"github.com/capnweb-go/capnweb/transport"
)

// State is one of the three session lifecycle states (spec §4.7).
type State int

const (
	Open State = iota
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one protocol session: one pair of tables, one results
// table, one pair of ID allocators, one pipeline engine, one transport.
type Session struct {
	mu    sync.Mutex
	state State

	imports  *tables.ImportTable
	exports  *tables.ExportTable
	results  *tables.ResultsTable
	posAlloc *ids.Allocator
	negAlloc *ids.Allocator
	engine   *pipeline.Engine
	root     tables.Stub
	limits   Limits

	transport transport.Transport
	outbox    chan wire.Message
	wg        sync.WaitGroup // tracks in-flight push-evaluation goroutines
	inflight  int64          // atomic: count of pushes not yet settled

	log *logging.Logger
}

// New constructs a Session bound to root (the bootstrap capability) and
// transport, ready to Run.
func New(root tables.Stub, limits Limits, t transport.Transport) *Session {
	return &Session{
		state:     Open,
		imports:   tables.NewImportTable(),
		exports:   tables.NewExportTable(),
		results:   tables.NewResultsTable(),
		posAlloc:  ids.NewPositive(),
		negAlloc:  ids.NewNegative(),
		engine:    pipeline.NewEngine(),
		root:      root,
		limits:    limits,
		transport: t,
		outbox:    make(chan wire.Message, 64),
		log:       logging.New(),
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the session until its transport signals batch end (io.EOF),
// the session aborts, or the transport is lost. persistent selects the
// batch-vs-streaming transition rule of spec §4.7: batch sessions move
// straight to Draining/Closed on io.EOF; persistent sessions stay Open
// until abort or transport loss.
func (s *Session) Run(ctx context.Context, persistent bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go s.writeLoop(ctx, writerDone)

	var loopErr error
readLoop:
	for {
		frame, err := s.transport.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break readLoop
			}
			loopErr = err
			break readLoop
		}
		if s.limits.MaxMessageBytes > 0 && len(frame) > s.limits.MaxMessageBytes {
			s.abort(rpcerr.New(rpcerr.BadRequest, "message of %d bytes exceeds limit of %d", len(frame), s.limits.MaxMessageBytes))
			break readLoop
		}
		msg, derr := wire.DecodeLine(frame)
		if derr != nil {
			s.abort(rpcerr.FromError(derr))
			break readLoop
		}
		if !s.handle(ctx, msg) {
			break readLoop
		}
	}

	if loopErr != nil {
		s.transportLost(loopErr)
	} else if !persistent {
		s.drain()
	}

	// Every exit path — clean EOF, abort, or transport loss — must wait
	// for in-flight push-evaluation goroutines to finish before the
	// outbox closes. drain() already waits for the !persistent case;
	// this covers abort, transport loss, and persistent sessions that
	// hit a clean EOF, none of which otherwise call s.wg.Wait(). Without
	// it a goroutine settling after the abort/EOF could still try to
	// send on a closed channel.
	s.wg.Wait()
	close(s.outbox)
	<-writerDone
	return loopErr
}

// handle dispatches one decoded inbound message (spec §4.7's per-message
// table). Returns false if the session closed as a result (abort or a
// limit violation), signalling the caller to stop reading.
func (s *Session) handle(ctx context.Context, msg wire.Message) bool {
	switch m := msg.(type) {
	case wire.Push:
		return s.handlePush(ctx, m)
	case wire.Pull:
		s.handlePull(m)
	case wire.Resolve:
		s.handleResolve(m)
	case wire.Reject:
		s.handleReject(m)
	case wire.Release:
		s.handleRelease(m)
	case wire.Abort:
		s.abort(rpcerr.New(rpcerr.Canceled, "peer sent abort: %v", m.Reason))
		return false
	}
	return s.State() != Closed
}

// handlePush implements spec §4.7's push row: allocate the next positive
// import ID, register a pending results-table slot immediately (so
// sibling pushes in the same batch may pipeline off it before it
// settles, spec §8.3), then evaluate off the single-writer loop so a
// suspended call never blocks the rest of the batch (spec §5).
func (s *Session) handlePush(ctx context.Context, m wire.Push) bool {
	if s.limits.MaxInflightPushes > 0 && int(atomic.LoadInt64(&s.inflight)) >= s.limits.MaxInflightPushes {
		s.abort(rpcerr.New(rpcerr.BadRequest, "inflight push count exceeds limit of %d", s.limits.MaxInflightPushes))
		return false
	}
	if s.limits.MaxResultsTableSize > 0 && s.results.Size() >= s.limits.MaxResultsTableSize {
		s.abort(rpcerr.New(rpcerr.BadRequest, "results table size exceeds limit of %d", s.limits.MaxResultsTableSize))
		return false
	}

	id := s.posAlloc.Next()
	s.results.Register(id)
	atomic.AddInt64(&s.inflight, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.inflight, -1)

		et := &eval.Tables{
			Imports:               s.imports,
			Results:               s.results,
			Root:                  s.root,
			Pipeline:              s.engine,
			MaxContinuationDepth:  s.limits.MaxPipelineContinuationDepth,
		}
		v, err := eval.Evaluate(ctx, m.Expr, et, id)
		if err != nil {
			s.results.Fail(id, err)
			s.log.Printf("push %d rejected: %v", id, err)
			return
		}
		s.results.Fulfill(id, v)
	}()
	return true
}

// handlePull implements spec §4.7's pull row, building directly on
// ResultsTable.AddWaiter's "fire now if already settled, else queue"
// contract so the three cases ("resolved", "rejected", "still pending")
// collapse into one call.
func (s *Session) handlePull(m wire.Pull) {
	err := s.results.AddWaiter(m.ImportID, func(v wire.Expr, e *rpcerr.RPCError) {
		if e != nil {
			s.send(wire.Reject{ExportID: m.ImportID, Error: e.ToExpr()})
			return
		}
		s.send(wire.Resolve{ExportID: m.ImportID, Value: v})
	})
	if err != nil {
		rerr := rpcerr.FromError(err)
		s.send(wire.Reject{ExportID: m.ImportID, Error: rerr.ToExpr()})
	}
}

// handleResolve/handleReject implement spec §4.7's symmetric rows: they
// settle the export-table entry for the given id and fire its waiters,
// matching spec §4.5's resolve/reject. The session itself never inserts
// export entries, so an id with no entry inserted through Exports() is
// only logged as not found.
func (s *Session) handleResolve(m wire.Resolve) {
	waiters, err := s.exports.Resolve(m.ExportID, m.Value)
	if err != nil {
		s.log.Printf("resolve %d: %v", m.ExportID, err)
		return
	}
	for _, w := range waiters {
		w(m.Value, nil)
	}
}

func (s *Session) handleReject(m wire.Reject) {
	rerr := rpcerr.FromExpr(exprToErrorValue(m.Error))
	waiters, err := s.exports.Reject(m.ExportID, rerr)
	if err != nil {
		s.log.Printf("reject %d: %v", m.ExportID, err)
		return
	}
	for _, w := range waiters {
		w(nil, rerr)
	}
}

func (s *Session) handleRelease(m wire.Release) {
	if _, err := s.imports.Release(m.ImportID, m.Count); err != nil {
		s.log.Printf("release %d: %v", m.ImportID, err)
	}
}

func exprToErrorValue(e wire.Expr) *wire.ErrorValue {
	if ev, ok := e.(*wire.ErrorValue); ok {
		return ev
	}
	return &wire.ErrorValue{Type: string(rpcerr.Internal), Message: "peer rejected without a structured error"}
}

// send enqueues an outbound message. Safe to call from any push's
// evaluation goroutine as long as the session has not finished draining
// (send is only ever invoked synchronously from within handle or from a
// still-running push goroutine tracked by s.wg, both of which complete
// before outbox is closed in Run).
func (s *Session) send(msg wire.Message) {
	s.outbox <- msg
}

func (s *Session) writeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for msg := range s.outbox {
		frame, err := wire.EncodeLine(msg)
		if err != nil {
			s.log.Printf("encode error: %v", err)
			continue
		}
		if err := s.transport.Send(ctx, frame); err != nil {
			s.log.Printf("send error: %v", err)
		}
	}
}

// drain implements spec §4.7's batch-session transition: once the last
// inbound message has been processed, wait for every push's evaluation
// to settle (and, transitively, for every pull response it unblocks to
// be enqueued) before closing.
func (s *Session) drain() {
	s.setState(Draining)
	s.wg.Wait()
	s.close()
}

func (s *Session) abort(err *rpcerr.RPCError) {
	if s.alreadyClosed() {
		return
	}
	s.log.Printf("session aborted: %v", err)
	s.imports.DisposeAll()
	s.exports.RejectAllPending(err)
	s.results.DiscardAllPending()
	s.close()
}

func (s *Session) transportLost(err error) {
	if s.alreadyClosed() {
		return
	}
	s.log.Printf("transport lost: %v", err)
	s.imports.DisposeAll()
	s.exports.RejectAllPending(rpcerr.New(rpcerr.Canceled, "transport lost: %v", err))
	s.results.DiscardAllPending()
	s.close()
}

func (s *Session) alreadyClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Closed
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	s.mu.Unlock()
}

// NextPushID allocates and returns the next positive import ID without
// registering a results-table slot; exposed for tests and for local code
// that wants to pipeline off a push before sending it.
func (s *Session) NextPushID() int64 { return s.posAlloc.Next() }

// SetRoot (re)binds the bootstrap capability reachable at import ID 0.
// Exposed so that a caller building a Stub adapter around application
// code (see the root capnweb package's Target bridge) can construct the
// Session first and hand the adapter a reference back to it (for
// ExportStub) before wiring the adapter in as root.
func (s *Session) SetRoot(stub tables.Stub) { s.root = stub }

// ExportStub implements spec §9's "Capability passing": a Stub appearing
// in an outbound expression (e.g. returned as part of a push's result)
// is assigned a fresh negative import ID and inserted into this
// session's import table with refcount 1, ready for the peer to address
// directly in a later push via ["import", id, ...] (spec §8.4 S4).
func (s *Session) ExportStub(stub tables.Stub) *wire.Import {
	id := s.negAlloc.Next()
	s.imports.InsertStub(id, stub)
	return &wire.Import{ID: id}
}

// Context accessors used by tests.
func (s *Session) Imports() *tables.ImportTable  { return s.imports }
func (s *Session) Exports() *tables.ExportTable  { return s.exports }
func (s *Session) Results() *tables.ResultsTable { return s.results }
