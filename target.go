package capnweb

import (
	"context"
	"sync"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/tables"
	"github.com/capnweb-go/capnweb/internal/wire"
)

// Target is the server-side collaborator interface spec §6.4 requires:
// a single dynamic-dispatch operation, generalized from the teacher's
// RpcTarget.Dispatch(method string, args json.RawMessage) (interface{},
// error) to the richer Value universe and an explicit context so a
// method can suspend cooperatively (spec §5's suspension point 2)
// without blocking the session's other traffic.
type Target interface {
	// Call invokes method with args and returns its result, or an error.
	// Returning an *RPCError controls the rejection's Kind; any other
	// error is wrapped as Internal (spec §7).
	Call(ctx context.Context, method string, args []Value) (Value, error)
}

// Disposer is the optional dispose hook of spec §3.4/§6.4, invoked when
// a capability's last refcount is released.
type Disposer interface {
	Dispose()
}

// BaseTarget is a convenience base that keeps the teacher's method-table
// registration ergonomics (BaseRpcTarget.Method in rpc.go), generalized
// to the Value-based Call signature. Embed it and call Method in your
// constructor, exactly as the teacher's examples embed BaseRpcTarget.
type BaseTarget struct {
	mu      sync.RWMutex
	methods map[string]func(ctx context.Context, args []Value) (Value, error)
}

// NewBaseTarget constructs an empty BaseTarget.
func NewBaseTarget() *BaseTarget {
	return &BaseTarget{methods: make(map[string]func(ctx context.Context, args []Value) (Value, error))}
}

// Method registers a handler for name, overwriting any previous
// registration.
func (t *BaseTarget) Method(name string, handler func(ctx context.Context, args []Value) (Value, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.methods[name] = handler
}

// Call implements Target by dispatching to a registered handler.
func (t *BaseTarget) Call(ctx context.Context, method string, args []Value) (Value, error) {
	t.mu.RLock()
	handler, ok := t.methods[method]
	t.mu.RUnlock()
	if !ok {
		return nil, rpcerr.New(rpcerr.NotFound, "method not found: %s", method)
	}
	return handler(ctx, args)
}

// stubAdapter adapts a public Target to the internal tables.Stub shape
// the evaluator invokes, converting arguments and results between
// wire.Expr and Value at the boundary (spec §6.4's "value is the same
// universe as an evaluated expression minus pipeline/promise
// references"). This is the one place application-facing Value meets
// the wire-facing Expr.
type stubAdapter struct {
	target Target
	reg    capabilityRegistrar
}

func newStubAdapter(t Target, reg capabilityRegistrar) *stubAdapter {
	return &stubAdapter{target: t, reg: reg}
}

func (a *stubAdapter) Call(ctx context.Context, method string, args []wire.Expr) (wire.Expr, error) {
	result, err := a.target.Call(ctx, method, toArgValues(args))
	if err != nil {
		if rerr, ok := err.(*RPCError); ok {
			return nil, rerr
		}
		return nil, rpcerr.New(rpcerr.Internal, "%s", err.Error())
	}
	expr, cerr := valueToExpr(result, a.reg)
	if cerr != nil {
		return nil, cerr
	}
	return expr, nil
}

func (a *stubAdapter) Dispose() {
	if d, ok := a.target.(Disposer); ok {
		d.Dispose()
	}
}

var _ tables.Stub = (*stubAdapter)(nil)
var _ tables.Disposer = (*stubAdapter)(nil)
