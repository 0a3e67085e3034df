package capnweb

import (
	"github.com/capnweb-go/capnweb/internal/rpcerr"
)

// Kind is one of the six error kinds of the protocol's error taxonomy
// (spec §7). It is a re-export of the internal rpcerr.Kind type so that
// application Target implementations can construct and inspect errors
// without reaching into an internal package.
type Kind = rpcerr.Kind

// The six error kinds of spec §7's taxonomy.
const (
	BadRequest       = rpcerr.BadRequest
	NotFound         = rpcerr.NotFound
	CapRevoked       = rpcerr.CapRevoked
	PermissionDenied = rpcerr.PermissionDenied
	Canceled         = rpcerr.Canceled
	Internal         = rpcerr.Internal
)

// RPCError is the structured error value exchanged on the wire as
// ["error", kind, message, stack?] (spec §6.2, §7). Target.Call may
// return one directly to control which Kind reaches the peer; any other
// error is wrapped as Internal (spec §7: "Errors raised by user code are
// wrapped with a kind the user chooses (default internal)").
type RPCError = rpcerr.RPCError

// NewError constructs an RPCError of the given kind, the way application
// code reports a specific rejection (e.g. PermissionDenied) back to the
// peer instead of letting an arbitrary Go error collapse to Internal.
func NewError(kind Kind, format string, args ...interface{}) *RPCError {
	return rpcerr.New(kind, format, args...)
}
