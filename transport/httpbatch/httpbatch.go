// Package httpbatch adapts an HTTP POST request/response pair to the
// transport.Transport interface, grounded on the teacher's HTTP batch
// endpoint in server.go: read the request body line by line with
// bufio.Scanner and join the responses back together with newlines once
// the batch is done.
package httpbatch

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/capnweb-go/capnweb/transport"
)

// Transport reads pushed lines from an HTTP request body and buffers
// outbound lines for a single response write, since an HTTP response
// can only be written once, after the whole batch has been processed
// (spec §6.3's batch-style transport).
type Transport struct {
	scanner *bufio.Scanner

	mu  sync.Mutex
	out []string
}

// New wraps body, the HTTP request body carrying one wire message per
// line.
func New(body io.Reader) *Transport {
	return &Transport{scanner: bufio.NewScanner(body)}
}

// Recv returns the next line verbatim, or io.EOF once the body is
// exhausted (spec §6.3: a batch transport's session "is expected to
// terminate" after the exchange). A blank line is handed to the caller
// like any other frame rather than skipped: spec §4.1 rejects empty
// lines as malformed input, and wire.DecodeLine (invoked by the session
// read loop on every frame) already enforces that, failing the batch
// with bad_request the same way a non-JSON or unrecognized-tag line
// does.
func (t *Transport) Recv(ctx context.Context) (transport.Frame, error) {
	if t.scanner.Scan() {
		return transport.Frame(strings.TrimRight(t.scanner.Text(), "\r")), nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Send buffers f for the eventual response write; a batch transport has
// no way to deliver it any sooner.
func (t *Transport) Send(ctx context.Context, f transport.Frame) error {
	t.mu.Lock()
	t.out = append(t.out, string(f))
	t.mu.Unlock()
	return nil
}

// Flush joins every buffered outbound line with newlines, the same
// shape the teacher's HTTP handler returned from strings.Join(responses,
// "\n").
func (t *Transport) Flush() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.out, "\n")
}

var _ transport.Transport = (*Transport)(nil)
