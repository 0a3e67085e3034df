package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// roundTrip encodes then re-decodes a message and asserts structural
// equality, exercising invariant 3 of spec §8.1 / the round-trip law of
// §8.2.
func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	line, err := EncodeLine(m)
	require.NoError(t, err)
	decoded, err := DecodeLine(line)
	require.NoError(t, err)
	return decoded
}

func TestRoundTrip_SimplePush(t *testing.T) {
	m := Push{Expr: &Pipeline{
		ID:      0,
		Path:    []PathSegment{{Key: "add"}},
		HasPath: true,
		Args:    &Arr{Items: []Expr{Number(2), Number(3)}},
		HasArgs: true,
	}}
	got := roundTrip(t, m).(Push)
	p := got.Expr.(*Pipeline)
	require.Equal(t, int64(0), p.ID)
	require.Equal(t, []PathSegment{{Key: "add"}}, p.Path)
	args := p.Args.(*Arr)
	require.Equal(t, []Expr{Number(2), Number(3)}, args.Items)
}

func TestRoundTrip_EmptyArray(t *testing.T) {
	m := Resolve{ExportID: 1, Value: &Obj{Fields: map[string]Expr{
		"items": &Arr{Items: nil},
		"count": Number(0),
	}}}
	line, err := EncodeLine(m)
	require.NoError(t, err)
	require.JSONEq(t, `["resolve",1,{"items":[[]],"count":0}]`, string(line))

	got := roundTrip(t, m).(Resolve)
	obj := got.Value.(*Obj)
	arr := obj.Fields["items"].(*Arr)
	require.Empty(t, arr.Items)
	require.Equal(t, Number(0), obj.Fields["count"])
}

func TestRoundTrip_NestedEscapedArrays(t *testing.T) {
	inner := &Arr{Items: []Expr{Number(1), &Arr{Items: []Expr{Number(2), Number(3)}}}}
	m := Push{Expr: inner}
	got := roundTrip(t, m).(Push)
	arr := got.Expr.(*Arr)
	require.Len(t, arr.Items, 2)
	require.Equal(t, Number(1), arr.Items[0])
	nested := arr.Items[1].(*Arr)
	require.Equal(t, []Expr{Number(2), Number(3)}, nested.Items)
}

func TestRoundTrip_ErrorWithoutStack(t *testing.T) {
	m := Reject{ExportID: 2, Error: &ErrorValue{Type: "permission_denied", Message: "no"}}
	got := roundTrip(t, m).(Reject)
	ev := got.Error.(*ErrorValue)
	require.Equal(t, "permission_denied", ev.Type)
	require.Equal(t, "no", ev.Message)
	require.False(t, ev.HasStack)
	require.Empty(t, ev.Stack)
}

func TestRoundTrip_ErrorWithStack(t *testing.T) {
	m := Reject{ExportID: 2, Error: &ErrorValue{Type: "internal", Message: "boom", Stack: "at foo()", HasStack: true}}
	got := roundTrip(t, m).(Reject)
	ev := got.Error.(*ErrorValue)
	require.True(t, ev.HasStack)
	require.Equal(t, "at foo()", ev.Stack)
}

func TestDecode_RejectsBareArray(t *testing.T) {
	_, err := ParseExpr([]interface{}{})
	require.Error(t, err)
}

func TestDecode_RejectsUnknownTag(t *testing.T) {
	_, err := DecodeLine([]byte(`["flarp", 1]`))
	require.Error(t, err)
}

func TestDecode_RejectsUnknownExprTag(t *testing.T) {
	_, err := ParseExpr([]interface{}{"bogus", 1})
	require.Error(t, err)
}

func TestDecode_RejectsNonArrayLine(t *testing.T) {
	_, err := DecodeLine([]byte(`{"push": 1}`))
	require.Error(t, err)
}

func TestDecode_EscapeWrapperWrongArity(t *testing.T) {
	// Two elements where the first is an array is not a valid escape.
	_, err := ParseExpr([]interface{}{[]interface{}{1.0}, []interface{}{2.0}})
	require.Error(t, err)
}

func TestDecodeBatch_EmptyBatchIsAccepted(t *testing.T) {
	msgs, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestDecodeBatch_RejectsEmptyLine(t *testing.T) {
	_, err := Decode(strings.NewReader("[\"push\", 1]\n\n[\"pull\", 1]"))
	require.Error(t, err)
}

func TestEncodeBatch_JoinsWithNewlines(t *testing.T) {
	out, err := EncodeBatch([]Message{Pull{ImportID: 1}, Pull{ImportID: 2}})
	require.NoError(t, err)
	require.Equal(t, "[\"pull\",1]\n[\"pull\",2]", string(out))
}

func TestParsePath_MixedSegments(t *testing.T) {
	e, err := ParseExpr([]interface{}{"pipeline", 1.0, []interface{}{"id", 0.0}})
	require.NoError(t, err)
	p := e.(*Pipeline)
	require.Equal(t, []PathSegment{{Key: "id"}, {Index: 0, IsIndex: true}}, p.Path)
}

func TestParseRemap_Shape(t *testing.T) {
	e, err := ParseExpr([]interface{}{
		"remap", 3.0, []interface{}{},
		[]interface{}{"x"},
		[]interface{}{[]interface{}{"pipeline", 0.0, []interface{}{"f"}}},
	})
	require.NoError(t, err)
	r := e.(*Remap)
	require.Equal(t, int64(3), r.ID)
	require.Len(t, r.Captures, 1)
	require.Len(t, r.Instructions, 1)
}
