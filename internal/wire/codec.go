package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Message is the sum type of the six wire message tags (§6.1).
type Message interface {
	messageNode()
}

// Push requests evaluation of expr and assigns it the next positive
// import ID.
type Push struct {
	Expr Expr
}

func (Push) messageNode() {}

// Pull requests delivery of a settled result.
type Pull struct {
	ImportID int64
}

func (Pull) messageNode() {}

// Resolve fulfills a pending export.
type Resolve struct {
	ExportID int64
	Value    Expr
}

func (Resolve) messageNode() {}

// Reject fails a pending export.
type Reject struct {
	ExportID int64
	Error    Expr
}

func (Reject) messageNode() {}

// Release decrements an import's refcount.
type Release struct {
	ImportID int64
	Count    int
}

func (Release) messageNode() {}

// Abort terminates the session.
type Abort struct {
	Reason Expr
}

func (Abort) messageNode() {}

// Decode splits r into newline-delimited frames and parses each into a
// Message. Per §4.1: empty lines are rejected, lines that are not JSON
// arrays are rejected, and arrays whose first element is not one of the
// six recognized tags are rejected. A single malformed line fails the
// whole batch (the caller is expected to treat a returned error as
// grounds for aborting the batch per §4.7).
func Decode(r io.Reader) ([]Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var msgs []Message
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil, badRequest("empty line in message batch")
		}
		msg, err := DecodeLine([]byte(line))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DecodeLine parses a single newline-terminated JSON array frame.
func DecodeLine(line []byte) (Message, error) {
	var raw []interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, badRequest("line is not a JSON array: %v", err)
	}
	if len(raw) == 0 {
		return nil, badRequest("message array must have at least one element")
	}
	tag, ok := raw[0].(string)
	if !ok {
		return nil, badRequest("message tag must be a string")
	}

	switch tag {
	case "push":
		if len(raw) != 2 {
			return nil, badRequest(`"push" expects exactly one argument, got %d`, len(raw)-1)
		}
		e, err := ParseExpr(raw[1])
		if err != nil {
			return nil, err
		}
		return Push{Expr: e}, nil

	case "pull":
		id, err := requireIntArg(raw, "pull")
		if err != nil {
			return nil, err
		}
		return Pull{ImportID: id}, nil

	case "resolve":
		if len(raw) != 3 {
			return nil, badRequest(`"resolve" expects exactly two arguments, got %d`, len(raw)-1)
		}
		id, ok := raw[1].(float64)
		if !ok {
			return nil, badRequest(`"resolve" export id must be a number`)
		}
		e, err := ParseExpr(raw[2])
		if err != nil {
			return nil, err
		}
		return Resolve{ExportID: int64(id), Value: e}, nil

	case "reject":
		if len(raw) != 3 {
			return nil, badRequest(`"reject" expects exactly two arguments, got %d`, len(raw)-1)
		}
		id, ok := raw[1].(float64)
		if !ok {
			return nil, badRequest(`"reject" export id must be a number`)
		}
		e, err := ParseExpr(raw[2])
		if err != nil {
			return nil, err
		}
		return Reject{ExportID: int64(id), Error: e}, nil

	case "release":
		if len(raw) != 3 {
			return nil, badRequest(`"release" expects exactly two arguments, got %d`, len(raw)-1)
		}
		id, ok := raw[1].(float64)
		if !ok {
			return nil, badRequest(`"release" import id must be a number`)
		}
		n, ok := raw[2].(float64)
		if !ok {
			return nil, badRequest(`"release" refcount must be a number`)
		}
		return Release{ImportID: int64(id), Count: int(n)}, nil

	case "abort":
		if len(raw) != 2 {
			return nil, badRequest(`"abort" expects exactly one argument, got %d`, len(raw)-1)
		}
		e, err := ParseExpr(raw[1])
		if err != nil {
			return nil, err
		}
		return Abort{Reason: e}, nil

	default:
		return nil, badRequest("unknown message tag %q", tag)
	}
}

func requireIntArg(raw []interface{}, tag string) (int64, error) {
	if len(raw) != 2 {
		return 0, badRequest(`%q expects exactly one argument, got %d`, tag, len(raw)-1)
	}
	id, ok := raw[1].(float64)
	if !ok {
		return 0, badRequest(`%q argument must be a number`, tag)
	}
	return int64(id), nil
}

// EncodeLine serializes a single Message as one JSON array frame,
// without a trailing newline; callers join frames.
func EncodeLine(m Message) ([]byte, error) {
	var raw []interface{}
	switch t := m.(type) {
	case Push:
		raw = []interface{}{"push", Encode(t.Expr)}
	case Pull:
		raw = []interface{}{"pull", t.ImportID}
	case Resolve:
		raw = []interface{}{"resolve", t.ExportID, Encode(t.Value)}
	case Reject:
		raw = []interface{}{"reject", t.ExportID, Encode(t.Error)}
	case Release:
		raw = []interface{}{"release", t.ImportID, t.Count}
	case Abort:
		raw = []interface{}{"abort", Encode(t.Reason)}
	default:
		return nil, badRequest("unknown message type %T", m)
	}
	return json.Marshal(raw)
}

// EncodeBatch serializes messages as newline-joined frames, the format a
// batch transport writes as its single response body (§6.3).
func EncodeBatch(msgs []Message) ([]byte, error) {
	var sb strings.Builder
	for i, m := range msgs {
		b, err := EncodeLine(m)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.Write(b)
	}
	return []byte(sb.String()), nil
}
