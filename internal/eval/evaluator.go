// Package eval implements the expression evaluator of spec §4.6: it
// reduces a wire.Expr to a value, resolving Pipeline references against
// a session's results table and Import references against its import
// table, invoking Target.Call for nested method calls along the way.
//
// Pipeline and Import are deliberately never collapsed into one code
// path (spec §9's Open Question): Pipeline always resolves against
// Tables.Results, Import always resolves against Tables.Imports, and
// only id 0 (the bootstrap interface) is special-cased to be reachable
// through either tag.
package eval

import (
	"context"

	"github.com/capnweb-go/capnweb/internal/pipeline"
	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/tables"
	"github.com/capnweb-go/capnweb/internal/wire"
)

// Tables bundles the table views the evaluator needs. Root is the
// session's bootstrap capability, reachable at import ID 0 regardless of
// whether it is addressed via an Import or a Pipeline expression (spec
// §3.1: "Zero denotes the bootstrap (main) interface"). Pipeline may be
// nil, which disables cycle detection (only appropriate outside of a
// live session, e.g. standalone unit tests).
type Tables struct {
	Imports  *tables.ImportTable
	Results  *tables.ResultsTable
	Root     tables.Stub
	Pipeline *pipeline.Engine

	// MaxContinuationDepth enforces spec §5's "maximum pipeline
	// continuation depth" resource limit. Zero means unlimited.
	MaxContinuationDepth int
}

// Evaluate reduces e to a value containing no unresolved pipeline
// references (spec §4.6), on behalf of the push identified by pusherID
// (0 if this call is not occurring within a specific push's evaluation).
// It may block the calling goroutine while waiting on a still-pending
// results-table slot or import-table promise (spec §5's suspension
// point 1); callers are expected to run each push's evaluation on its
// own goroutine so that unrelated session traffic is not blocked (spec
// §5, §9). A pipeline reference chain that cycles back to pusherID fails
// with bad_request instead of deadlocking (spec §4.8).
func Evaluate(ctx context.Context, e wire.Expr, t *Tables, pusherID int64) (wire.Expr, *rpcerr.RPCError) {
	switch v := e.(type) {
	case wire.Null, wire.Bool, wire.Number, wire.String:
		return e, nil

	case *wire.Obj:
		fields := make(map[string]wire.Expr, len(v.Fields))
		for k, fv := range v.Fields {
			rv, err := Evaluate(ctx, fv, t, pusherID)
			if err != nil {
				return nil, err
			}
			fields[k] = rv
		}
		return &wire.Obj{Fields: fields}, nil

	case *wire.Arr:
		items := make([]wire.Expr, len(v.Items))
		for i, it := range v.Items {
			rv, err := Evaluate(ctx, it, t, pusherID)
			if err != nil {
				return nil, err
			}
			items[i] = rv
		}
		return &wire.Arr{Items: items}, nil

	case *wire.Date, *wire.ErrorValue, *wire.Export, *wire.Promise:
		// These pass through unchanged: dates and inline errors are
		// already plain values, and Export/Promise wiring is handled by
		// the session layer around the evaluator, not inside it.
		return e, nil

	case *wire.Import:
		return evalReference(ctx, v.ID, v.Path, v.HasPath, v.Args, v.HasArgs, false, t, pusherID)

	case *wire.Pipeline:
		return evalReference(ctx, v.ID, v.Path, v.HasPath, v.Args, v.HasArgs, true, t, pusherID)

	case *wire.Remap:
		return evalRemap(ctx, v, t, pusherID)

	default:
		return nil, rpcerr.New(rpcerr.Internal, "evaluator: unhandled expression type %T", e)
	}
}

// evalReference implements both Import and Pipeline resolution (spec
// §4.6). When args is present, the path must name exactly one segment —
// the method to invoke on the capability found at id (matching every
// worked example in spec §8.4); deeper property-then-call chains are
// out of scope for this core (see DESIGN.md).
func evalReference(ctx context.Context, id int64, path []wire.PathSegment, hasPath bool, args wire.Expr, hasArgs bool, isPipeline bool, t *Tables, pusherID int64) (wire.Expr, *rpcerr.RPCError) {
	if hasArgs {
		if !hasPath || len(path) != 1 || path[0].IsIndex {
			return nil, rpcerr.New(rpcerr.BadRequest, "a method call must name exactly one method via path")
		}
		method := path[0].Key

		stub, err := resolveStub(id, isPipeline, t, pusherID)
		if err != nil {
			return nil, err
		}

		evaluatedArgs, err := Evaluate(ctx, args, t, pusherID)
		if err != nil {
			return nil, err
		}
		argList := toArgList(evaluatedArgs)

		result, callErr := stub.Call(ctx, method, argList)
		if callErr != nil {
			return nil, rpcerr.FromError(callErr)
		}
		return result, nil
	}

	if id == 0 {
		return nil, rpcerr.New(rpcerr.BadRequest, "the bootstrap capability has no readable properties; it must be called")
	}

	value, err := resolveValue(id, isPipeline, t, pusherID)
	if err != nil {
		return nil, err
	}
	if hasPath {
		return traversePath(value, path)
	}
	return value, nil
}

// resolveValue resolves id to a plain value (not a call), waiting if the
// referenced slot is still pending (spec §8.3).
func resolveValue(id int64, isPipeline bool, t *Tables, pusherID int64) (wire.Expr, *rpcerr.RPCError) {
	if isPipeline {
		return waitResultSlot(t, id, pusherID)
	}
	return resolveImportValue(t, id, pusherID)
}

// resolveStub resolves id to a callable capability, following one level
// of capability-by-value indirection when id names a pipeline result or
// import-table entry that itself holds an Import reference (spec §4.6:
// "the resolved value must be a stub").
func resolveStub(id int64, isPipeline bool, t *Tables, pusherID int64) (tables.Stub, *rpcerr.RPCError) {
	if id == 0 {
		return t.Root, nil
	}

	if isPipeline {
		value, err := waitResultSlot(t, id, pusherID)
		if err != nil {
			return nil, err
		}
		return stubFromValue(value, t)
	}

	entry, err := t.Imports.Lookup(id)
	if err != nil {
		return nil, err.(*rpcerr.RPCError)
	}
	switch entry.Kind {
	case tables.KindStub:
		return entry.Stub, nil
	case tables.KindResolved:
		return stubFromValue(entry.Value, t)
	case tables.KindPromise:
		value, perr := waitImportPromise(t, id, pusherID)
		if perr != nil {
			return nil, perr
		}
		return stubFromValue(value, t)
	default:
		return nil, rpcerr.New(rpcerr.Internal, "import %d has unknown kind", id)
	}
}

func stubFromValue(value wire.Expr, t *Tables) (tables.Stub, *rpcerr.RPCError) {
	imp, ok := value.(*wire.Import)
	if !ok {
		return nil, rpcerr.New(rpcerr.BadRequest, "target is not a capability")
	}
	if imp.ID == 0 {
		return t.Root, nil
	}
	entry, err := t.Imports.Lookup(imp.ID)
	if err != nil {
		return nil, err.(*rpcerr.RPCError)
	}
	if entry.Kind != tables.KindStub {
		return nil, rpcerr.New(rpcerr.BadRequest, "target is not a capability")
	}
	return entry.Stub, nil
}

func resolveImportValue(t *Tables, id int64, pusherID int64) (wire.Expr, *rpcerr.RPCError) {
	entry, err := t.Imports.Lookup(id)
	if err != nil {
		return nil, err.(*rpcerr.RPCError)
	}
	switch entry.Kind {
	case tables.KindResolved:
		return entry.Value, nil
	case tables.KindStub:
		return nil, rpcerr.New(rpcerr.BadRequest, "import %d is a capability; it cannot be read as a plain value", id)
	case tables.KindPromise:
		return waitImportPromise(t, id, pusherID)
	default:
		return nil, rpcerr.New(rpcerr.Internal, "import %d has unknown kind", id)
	}
}

// waitResultSlot blocks until the results-table slot id settles,
// implementing spec §8.3's "a pipeline id that refers to a later push
// within the same batch is legal". A slot that was never registered is
// not_found (spec §4.6). Routed through the pipeline engine so that a
// cyclic chain of pushes fails fast instead of deadlocking (spec §4.8).
func waitResultSlot(t *Tables, id int64, pusherID int64) (wire.Expr, *rpcerr.RPCError) {
	subscribe := func(cb func(wire.Expr, *rpcerr.RPCError)) {
		if err := t.Results.AddWaiter(id, cb); err != nil {
			cb(nil, err.(*rpcerr.RPCError))
		}
	}
	if t.Pipeline == nil {
		var value wire.Expr
		var rerr *rpcerr.RPCError
		done := make(chan struct{})
		subscribe(func(v wire.Expr, e *rpcerr.RPCError) { value, rerr = v, e; close(done) })
		<-done
		return value, rerr
	}
	if t.MaxContinuationDepth > 0 && pusherID != 0 && t.Pipeline.Depth(id) >= t.MaxContinuationDepth {
		return nil, rpcerr.New(rpcerr.BadRequest, "pipeline continuation depth exceeds limit of %d", t.MaxContinuationDepth)
	}
	return t.Pipeline.Await(pusherID, id, subscribe)
}

func waitImportPromise(t *Tables, id int64, pusherID int64) (wire.Expr, *rpcerr.RPCError) {
	subscribe := func(cb func(wire.Expr, *rpcerr.RPCError)) {
		if err := t.Imports.AddWaiter(id, cb); err != nil {
			cb(nil, err.(*rpcerr.RPCError))
		}
	}
	if t.Pipeline == nil {
		var value wire.Expr
		var rerr *rpcerr.RPCError
		done := make(chan struct{})
		subscribe(func(v wire.Expr, e *rpcerr.RPCError) { value, rerr = v, e; close(done) })
		<-done
		return value, rerr
	}
	// Import-table promises are a separate id space from results-table
	// slots, but both feed the same cycle-detection graph; collisions are
	// vanishingly unlikely in practice and, if they occur, only cost a
	// spurious cycle rejection rather than a wrong result.
	return t.Pipeline.Await(pusherID, id, subscribe)
}

// traversePath follows path into value, indexing object fields by name
// and array elements by position (spec §4.6). Missing fields and
// out-of-range indices are bad_request.
func traversePath(value wire.Expr, path []wire.PathSegment) (wire.Expr, *rpcerr.RPCError) {
	current := value
	for _, seg := range path {
		if seg.IsIndex {
			arr, ok := current.(*wire.Arr)
			if !ok {
				return nil, rpcerr.New(rpcerr.BadRequest, "cannot index a non-array value")
			}
			if seg.Index < 0 || seg.Index >= len(arr.Items) {
				return nil, rpcerr.New(rpcerr.BadRequest, "array index %d out of bounds", seg.Index)
			}
			current = arr.Items[seg.Index]
			continue
		}
		obj, ok := current.(*wire.Obj)
		if !ok {
			return nil, rpcerr.New(rpcerr.BadRequest, "cannot read field %q of a non-object value", seg.Key)
		}
		fv, ok := obj.Fields[seg.Key]
		if !ok {
			return nil, rpcerr.New(rpcerr.BadRequest, "no such field %q", seg.Key)
		}
		current = fv
	}
	return current, nil
}

// toArgList normalizes an evaluated args expression into a Go slice: the
// grammar says args "conventionally" evaluates to an array, but a single
// bare value is accepted as a one-element argument list, matching the
// teacher's lenient argument parsing (rpc.go's authenticate/getUserProfile
// handlers in the teacher's examples accept either shape).
func toArgList(args wire.Expr) []wire.Expr {
	if arr, ok := args.(*wire.Arr); ok {
		return arr.Items
	}
	if _, isNull := args.(wire.Null); isNull {
		return nil
	}
	return []wire.Expr{args}
}
