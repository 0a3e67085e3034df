package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositiveAllocator_MonotonicNonZero(t *testing.T) {
	a := NewPositive()
	var seen []int64
	for i := 0; i < 5; i++ {
		seen = append(seen, a.Next())
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
	for _, id := range seen {
		require.NotZero(t, id)
	}
}

func TestNegativeAllocator_MonotonicNonZero(t *testing.T) {
	a := NewNegative()
	var seen []int64
	for i := 0; i < 3; i++ {
		seen = append(seen, a.Next())
	}
	require.Equal(t, []int64{-1, -2, -3}, seen)
}

func TestAllocator_NeverReuses(t *testing.T) {
	a := NewPositive()
	issued := map[int64]bool{}
	for i := 0; i < 1000; i++ {
		id := a.Next()
		require.False(t, issued[id], "id %d reused", id)
		issued[id] = true
	}
}

func TestAllocator_PeekDoesNotAdvance(t *testing.T) {
	a := NewPositive()
	require.Equal(t, int64(1), a.Peek())
	require.Equal(t, int64(1), a.Peek())
	require.Equal(t, int64(1), a.Next())
	require.Equal(t, int64(2), a.Peek())
}
