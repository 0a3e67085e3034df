// Package wire implements the Cap'n Web wire grammar: the newline-delimited
// JSON array message framing (§6.1) and the expression sub-language used
// inside messages (§3.2, §6.2).
package wire

import "fmt"

// Expr is the tagged union described in spec §3.2. Concrete types below
// implement it via an unexported marker method so the set is closed.
type Expr interface {
	exprNode()
}

// Null is the JSON null literal.
type Null struct{}

func (Null) exprNode() {}

// Bool is a JSON boolean literal.
type Bool bool

func (Bool) exprNode() {}

// Number is a JSON number literal. Cap'n Web, like JSON, has no integer/
// float distinction at the wire layer.
type Number float64

func (Number) exprNode() {}

// String is a JSON string literal.
type String string

func (String) exprNode() {}

// Obj is a JSON object whose field values are themselves expressions.
// Field order is not significant to the protocol; Go map iteration order
// during encode has no observable effect since consumers address fields
// by name.
type Obj struct {
	Fields map[string]Expr
}

func (*Obj) exprNode() {}

// Arr is a literal JSON array. On the wire it is always written using the
// escape convention of §6.2: the one-element wrapper `[[...]]`.
type Arr struct {
	Items []Expr
}

func (*Arr) exprNode() {}

// Date is an absolute timestamp, milliseconds since epoch.
type Date struct {
	Ms float64
}

func (*Date) exprNode() {}

// ErrorValue is a structured error value carried inline in an expression
// (as opposed to the session-level error Kind taxonomy of §7, which wraps
// one of these for transmission).
type ErrorValue struct {
	Type     string
	Message  string
	Stack    string
	HasStack bool
}

func (*ErrorValue) exprNode() {}

// PathSegment indexes into a value: either an object field (Key) or an
// array element (Index).
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (p PathSegment) String() string {
	if p.IsIndex {
		return fmt.Sprintf("[%d]", p.Index)
	}
	return "." + p.Key
}

// Import references something the peer pushed into the local import table
// (§3.3), optionally followed by a property path and a call.
type Import struct {
	ID      int64
	Path    []PathSegment
	HasPath bool
	Args    Expr
	HasArgs bool
}

func (*Import) exprNode() {}

// Pipeline has the same shape as Import but resolves against the
// session's per-batch results table instead of the import table (§3.2's
// Open Question — the two are never collapsed).
type Pipeline struct {
	ID      int64
	Path    []PathSegment
	HasPath bool
	Args    Expr
	HasArgs bool
}

func (*Pipeline) exprNode() {}

// Remap is a record-replay closure applied map-like to a remote
// collection (§3.2, §4.6).
type Remap struct {
	ID           int64
	Path         []PathSegment
	Captures     []Expr
	Instructions []Expr
}

func (*Remap) exprNode() {}

// Export promotes a value to an export, creating a promise the peer may
// pull.
type Export struct {
	ID int64
}

func (*Export) exprNode() {}

// Promise references a promise the peer exposed.
type Promise struct {
	ID int64
}

func (*Promise) exprNode() {}

// ReservedTags is the closed set of tags recognized at the head of a
// tagged expression array (§4.2 rule 2).
var ReservedTags = map[string]bool{
	"date":     true,
	"error":    true,
	"import":   true,
	"pipeline": true,
	"remap":    true,
	"export":   true,
	"promise":  true,
}
