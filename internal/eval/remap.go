package eval

import (
	"context"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/wire"
)

// Remap's instruction language is not pinned down by the wire grammar
// beyond "captures[] and instructions[]" (spec §3.2, §4.6), since no
// worked example in spec §8.4 exercises it. This core resolves it as a
// single-template map: Instructions holds exactly one expression,
// evaluated once per collection element, with two reserved sentinel
// import IDs substituted before evaluation:
//
//   - elementSentinel   -> the current element
//   - captureSentinelBase - i -> captures[i]
//
// This mirrors how the teacher's resolvePipelineReferences substitutes
// values into an argument tree before dispatch (rpc.go's traversePath),
// generalized from "substitute one result" to "substitute per element".
const (
	elementSentinel     int64 = -1_000_000_001
	captureSentinelBase int64 = -2_000_000_000
)

func evalRemap(ctx context.Context, r *wire.Remap, t *Tables, pusherID int64) (wire.Expr, *rpcerr.RPCError) {
	if len(r.Instructions) != 1 {
		return nil, rpcerr.New(rpcerr.BadRequest, "remap requires exactly one instruction expression")
	}
	template := r.Instructions[0]

	collection, err := resolveValue(r.ID, true, t, pusherID)
	if err != nil {
		return nil, err
	}
	if r.Path != nil {
		collection, err = traversePath(collection, r.Path)
		if err != nil {
			return nil, err
		}
	}

	arr, ok := collection.(*wire.Arr)
	if !ok {
		return nil, rpcerr.New(rpcerr.BadRequest, "remap target is not a collection")
	}

	captures := make([]wire.Expr, len(r.Captures))
	for i, c := range r.Captures {
		cv, cerr := Evaluate(ctx, c, t, pusherID)
		if cerr != nil {
			return nil, cerr
		}
		captures[i] = cv
	}

	results := make([]wire.Expr, len(arr.Items))
	for i, elem := range arr.Items {
		bound := substitute(template, elem, captures)
		rv, rerr := Evaluate(ctx, bound, t, pusherID)
		if rerr != nil {
			// Spec §4.6: a rejection in any element rejects the whole remap.
			return nil, rerr
		}
		results[i] = rv
	}
	return &wire.Arr{Items: results}, nil
}

// rebind re-targets a sentinel Import node (which may carry its own path
// and call args, e.g. "call a method on this element") onto the bound
// value: if the value is itself a capability reference, the node's
// path/args are preserved against that capability's real import ID;
// otherwise the value is substituted directly and the node must have
// carried no path or args.
func rebind(template *wire.Import, value wire.Expr, element wire.Expr, captures []wire.Expr) wire.Expr {
	if !template.HasPath && !template.HasArgs {
		return value
	}
	if cp, ok := value.(*wire.Import); ok {
		var args wire.Expr
		if template.HasArgs {
			args = substitute(template.Args, element, captures)
		}
		return &wire.Import{ID: cp.ID, Path: template.Path, HasPath: template.HasPath, Args: args, HasArgs: template.HasArgs}
	}
	return template
}

// substitute walks expr, replacing the element and capture sentinels
// with their bound values, and leaves everything else (including real
// Pipeline/Import references reached via nesting) untouched for later
// evaluation.
func substitute(expr wire.Expr, element wire.Expr, captures []wire.Expr) wire.Expr {
	switch v := expr.(type) {
	case *wire.Import:
		if v.ID == elementSentinel {
			return rebind(v, element, element, captures)
		}
		if idx := captureSentinelBase - v.ID; idx >= 0 && int(idx) < len(captures) {
			return rebind(v, captures[idx], element, captures)
		}
		return v
	case *wire.Obj:
		fields := make(map[string]wire.Expr, len(v.Fields))
		for k, fv := range v.Fields {
			fields[k] = substitute(fv, element, captures)
		}
		return &wire.Obj{Fields: fields}
	case *wire.Arr:
		items := make([]wire.Expr, len(v.Items))
		for i, it := range v.Items {
			items[i] = substitute(it, element, captures)
		}
		return &wire.Arr{Items: items}
	case *wire.Pipeline:
		if v.HasArgs {
			return &wire.Pipeline{ID: v.ID, Path: v.Path, HasPath: v.HasPath, Args: substitute(v.Args, element, captures), HasArgs: true}
		}
		return v
	default:
		return expr
	}
}
