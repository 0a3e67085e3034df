package capnweb

import (
	"encoding/json"
	"time"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/tables"
	"github.com/capnweb-go/capnweb/internal/wire"
)

// Value is the universe a Target's Call may receive or return (spec
// §6.4: "the same universe as an evaluated expression minus
// pipeline/promise references"). It is deliberately the same
// interface{}-over-decoded-JSON shape the teacher's RpcTarget.Dispatch
// already used (rpc.go's json.RawMessage/interface{} plumbing), so
// application code written against this API reads exactly like the
// teacher's examples: map[string]interface{}, []interface{}, string,
// float64, bool, nil. Two capnweb-specific extensions ride inside that
// same interface{}: *Date for §3.2 Date expressions and *Capability for
// capability values that cross the session boundary (§9's "capability
// passing").
type Value = interface{}

// Date is an absolute timestamp value (spec §3.2).
type Date struct {
	Time time.Time
}

// Capability wraps a Target so it can be returned from (or, in a future
// direction this core does not yet exercise, passed as an argument to)
// another Target's Call. The moment it is reduced to a wire expression,
// it is assigned a fresh negative import ID and registered in the
// session's import table (spec §9, §8.4 S4), after which the peer may
// address it directly with a new push.
type Capability struct {
	Target Target
}

// valueToExpr converts a Value into its wire representation, exporting
// any *Capability encountered via reg (spec §9). A Target's results are
// always converted with the session as reg; with a nil reg (outside a
// session) a *Capability fails with Internal.
func valueToExpr(v Value, reg capabilityRegistrar) (wire.Expr, error) {
	switch t := v.(type) {
	case nil:
		return wire.Null{}, nil
	case wire.Expr:
		// Already a wire expression (e.g. a Target handler that built one
		// directly, or a pass-through of a received argument). Accepted
		// as-is so application code is never forced through this
		// conversion for values it already holds in wire form.
		return t, nil
	case bool:
		return wire.Bool(t), nil
	case string:
		return wire.String(t), nil
	case float64:
		return wire.Number(t), nil
	case float32:
		return wire.Number(t), nil
	case int:
		return wire.Number(t), nil
	case int64:
		return wire.Number(t), nil
	case *Date:
		return &wire.Date{Ms: float64(t.Time.UnixMilli())}, nil
	case *RPCError:
		return t.ToExpr(), nil
	case *Capability:
		if reg == nil {
			return nil, rpcerr.New(rpcerr.Internal, "a capability value cannot be converted outside of a session")
		}
		return reg.ExportStub(newStubAdapter(t.Target, reg)), nil
	case map[string]Value:
		fields := make(map[string]wire.Expr, len(t))
		for k, fv := range t {
			e, err := valueToExpr(fv, reg)
			if err != nil {
				return nil, err
			}
			fields[k] = e
		}
		return &wire.Obj{Fields: fields}, nil
	case []Value:
		items := make([]wire.Expr, len(t))
		for i, iv := range t {
			e, err := valueToExpr(iv, reg)
			if err != nil {
				return nil, err
			}
			items[i] = e
		}
		return &wire.Arr{Items: items}, nil
	default:
		return marshalStruct(v, reg)
	}
}

// exprToValue converts a wire expression already reduced to a concrete
// value by the evaluator (no Pipeline/Promise left) into the plain-Go
// Value shape application code expects.
func exprToValue(e wire.Expr) Value {
	switch t := e.(type) {
	case nil:
		return nil
	case wire.Null:
		return nil
	case wire.Bool:
		return bool(t)
	case wire.Number:
		return float64(t)
	case wire.String:
		return string(t)
	case *wire.Obj:
		out := make(map[string]Value, len(t.Fields))
		for k, v := range t.Fields {
			out[k] = exprToValue(v)
		}
		return out
	case *wire.Arr:
		out := make([]Value, len(t.Items))
		for i, v := range t.Items {
			out[i] = exprToValue(v)
		}
		return out
	case *wire.Date:
		return &Date{Time: time.UnixMilli(int64(t.Ms)).UTC()}
	case *wire.ErrorValue:
		return rpcerr.FromExpr(t)
	default:
		// Import/Pipeline/Remap/Export/Promise: the evaluator is
		// responsible for reducing these before they ever reach
		// application code (spec §4.6); reaching here means a capability
		// reference escaped evaluation, which application code receives
		// as-is.
		return e
	}
}

// capabilityRegistrar is implemented by internal/session.Session; it is
// the narrow seam valueToExpr needs to turn a *Capability into a wire
// reference without this package depending on session internals beyond
// this one call.
type capabilityRegistrar interface {
	ExportStub(s tables.Stub) *wire.Import
}

// marshalStruct handles any Value of a concrete Go type not covered
// above (typically an application-defined struct returned from a Target
// method, matching the teacher's examples which return e.g. User{...}
// directly from a handler and rely on encoding/json to flatten it). It
// round-trips the value through encoding/json, the same library the
// teacher uses throughout rpc.go, rather than hand-rolling reflection.
func marshalStruct(v Value, reg capabilityRegistrar) (wire.Expr, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, rpcerr.New(rpcerr.Internal, "value of type %T is not representable: %v", v, err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, rpcerr.New(rpcerr.Internal, "value of type %T round-trip failed: %v", v, err)
	}
	return plainJSONToExpr(generic), nil
}

// plainJSONToExpr converts a decoded-JSON value (as produced by
// encoding/json.Unmarshal into interface{}) into an Expr without
// applying the wire grammar's tag/escape interpretation: unlike
// wire.ParseExpr, every JSON array here is a literal array, because this
// data never touched the wire — it is the decoded form of an
// application struct this process just marshaled itself.
func plainJSONToExpr(v interface{}) wire.Expr {
	switch t := v.(type) {
	case nil:
		return wire.Null{}
	case bool:
		return wire.Bool(t)
	case float64:
		return wire.Number(t)
	case string:
		return wire.String(t)
	case map[string]interface{}:
		fields := make(map[string]wire.Expr, len(t))
		for k, fv := range t {
			fields[k] = plainJSONToExpr(fv)
		}
		return &wire.Obj{Fields: fields}
	case []interface{}:
		items := make([]wire.Expr, len(t))
		for i, iv := range t {
			items[i] = plainJSONToExpr(iv)
		}
		return &wire.Arr{Items: items}
	default:
		return wire.Null{}
	}
}

func toArgValues(args []wire.Expr) []Value {
	out := make([]Value, len(args))
	for i, a := range args {
		out[i] = exprToValue(a)
	}
	return out
}
