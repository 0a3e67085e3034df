package pipeline

import (
	"testing"
	"time"

	"github.com/capnweb-go/capnweb/internal/rpcerr"
	"github.com/capnweb-go/capnweb/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestEngine_AwaitBlocksUntilSubscribeFires(t *testing.T) {
	e := NewEngine()
	done := make(chan struct{})
	go func() {
		v, err := e.Await(1, 2, func(cb func(wire.Expr, *rpcerr.RPCError)) {
			go func() {
				time.Sleep(5 * time.Millisecond)
				cb(wire.Number(9), nil)
			}()
		})
		require.Nil(t, err)
		require.Equal(t, wire.Number(9), v)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await never returned")
	}
}

func TestEngine_DirectCycleRejected(t *testing.T) {
	e := NewEngine()
	// Simulate push 1 already waiting on push 2.
	e.begin(1, 2)
	defer e.end(1)

	_, err := e.Await(2, 1, func(cb func(wire.Expr, *rpcerr.RPCError)) {
		t.Fatal("subscribe should not be called when a cycle is detected")
	})
	require.NotNil(t, err)
	require.Equal(t, rpcerr.BadRequest, err.Kind)
}

func TestEngine_TransitiveCycleRejected(t *testing.T) {
	e := NewEngine()
	e.begin(1, 2)
	e.begin(2, 3)
	defer e.end(1)
	defer e.end(2)

	_, err := e.Await(3, 1, func(cb func(wire.Expr, *rpcerr.RPCError)) {
		t.Fatal("subscribe should not be called when a cycle is detected")
	})
	require.NotNil(t, err)
}

func TestEngine_NoCycleForUnrelatedChain(t *testing.T) {
	e := NewEngine()
	e.begin(1, 2)
	defer e.end(1)

	fired := false
	_, err := e.Await(3, 4, func(cb func(wire.Expr, *rpcerr.RPCError)) {
		fired = true
		cb(wire.Bool(true), nil)
	})
	require.Nil(t, err)
	require.True(t, fired)
}

func TestEngine_DepthTracksChainLength(t *testing.T) {
	e := NewEngine()
	e.begin(1, 2)
	e.begin(2, 3)
	e.begin(3, 4)
	defer e.end(1)
	defer e.end(2)
	defer e.end(3)

	require.Equal(t, 3, e.Depth(1))
	require.Equal(t, 0, e.Depth(4))
}

func TestEngine_ZeroFromDisablesCycleTracking(t *testing.T) {
	e := NewEngine()
	fired := false
	_, err := e.Await(0, 5, func(cb func(wire.Expr, *rpcerr.RPCError)) {
		fired = true
		cb(wire.Number(1), nil)
	})
	require.Nil(t, err)
	require.True(t, fired)
	require.Equal(t, 0, e.Depth(0))
}
