package session

import (
	"context"
	"testing"

	"github.com/capnweb-go/capnweb/internal/wire"
	"github.com/stretchr/testify/require"
)

// TestResume_SnapshotAndRestoreReplaysSettledResults covers spec §9's
// resume-token feature: a new Session seeded from a prior Snapshot can
// answer a pull for a push that settled before the original transport
// dropped, without the peer having to resend it.
func TestResume_SnapshotAndRestoreReplaysSettledResults(t *testing.T) {
	first := New(echoRoot(), DefaultLimits(), newMemTransport(
		line(t, pipelineCall("echo", wire.String("before the drop"))),
	))
	require.NoError(t, first.Run(context.Background(), false))

	snap := first.Snapshot()
	require.Contains(t, snap.Results, int64(1))
	require.Equal(t, wire.String("before the drop"), snap.Results[1].Value)

	tr := newMemTransport(line(t, wire.Pull{ImportID: 1}))
	second := New(echoRoot(), DefaultLimits(), tr)
	second.Restore(snap)
	require.NoError(t, second.Run(context.Background(), false))

	msgs := tr.messages(t)
	require.Len(t, msgs, 1)
	resolve, ok := msgs[0].(wire.Resolve)
	require.True(t, ok)
	require.Equal(t, wire.String("before the drop"), resolve.Value)
}

// TestResume_AllocatorsFastForwardPastRestoredIDs ensures a restored
// session never reissues an import ID the original session already
// handed out.
func TestResume_AllocatorsFastForwardPastRestoredIDs(t *testing.T) {
	sess := New(echoRoot(), DefaultLimits(), newMemTransport())
	sess.Restore(Snapshot{NextPositive: 42, NextNegative: -7})
	require.Equal(t, int64(42), sess.NextPushID())
	require.Equal(t, int64(-7), sess.negAlloc.Next())
}

// TestTokenStore_RoundTrip exercises the in-memory TokenStore backing
// resume tokens end to end.
func TestTokenStore_RoundTrip(t *testing.T) {
	store := NewMemoryTokenStore()
	token := NewResumeToken()
	snap := Snapshot{NextPositive: 3, NextNegative: -1}

	require.NoError(t, store.Save(context.Background(), token, snap))
	got, err := store.Load(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, snap, got)

	require.NoError(t, store.Delete(context.Background(), token))
	_, err = store.Load(context.Background(), token)
	require.Error(t, err)
}
