// Package rpcerr implements the error taxonomy of spec §7: a closed set
// of kinds (not Go types) that every rejection on the wire carries.
package rpcerr

import (
	"fmt"

	"github.com/capnweb-go/capnweb/internal/wire"
)

// Kind is one of the six error kinds in spec §7's taxonomy.
type Kind string

const (
	BadRequest       Kind = "bad_request"
	NotFound         Kind = "not_found"
	CapRevoked       Kind = "cap_revoked"
	PermissionDenied Kind = "permission_denied"
	Canceled         Kind = "canceled"
	Internal         Kind = "internal"
)

// RPCError is the structured error value that crosses the wire as
// ["error", kind, message, stack?] (§6.2) and is what a rejected push or
// export carries (§7). It implements the standard error interface so it
// composes with %w / errors.As in Go application code.
type RPCError struct {
	Kind     Kind
	Message  string
	Stack    string
	HasStack bool
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an RPCError of the given kind.
func New(kind Kind, format string, args ...interface{}) *RPCError {
	return &RPCError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithStack attaches a stack trace, returning a new RPCError (stack
// traces are optional and policy-gated per §7).
func (e *RPCError) WithStack(stack string) *RPCError {
	return &RPCError{Kind: e.Kind, Message: e.Message, Stack: stack, HasStack: true}
}

// ToExpr converts the error to its wire expression form.
func (e *RPCError) ToExpr() *wire.ErrorValue {
	return &wire.ErrorValue{
		Type:     string(e.Kind),
		Message:  e.Message,
		Stack:    e.Stack,
		HasStack: e.HasStack,
	}
}

// FromExpr converts a wire error expression back into an RPCError. Kinds
// outside the closed taxonomy are preserved verbatim (§7: "Errors raised
// by user code ... are surfaced verbatim; the core does not rewrite
// messages").
func FromExpr(ev *wire.ErrorValue) *RPCError {
	return &RPCError{
		Kind:     Kind(ev.Type),
		Message:  ev.Message,
		Stack:    ev.Stack,
		HasStack: ev.HasStack,
	}
}

// FromError wraps an arbitrary Go error as an RPCError, unless it
// already is one. A *wire.ParseError (malformed frame, empty line,
// unrecognized tag) always maps to bad_request per §4.2/§7; anything
// else not already classified maps to internal.
func FromError(err error) *RPCError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RPCError); ok {
		return re
	}
	if pe, ok := err.(*wire.ParseError); ok {
		return New(BadRequest, "%s", pe.Reason)
	}
	return New(Internal, "%s", err.Error())
}
