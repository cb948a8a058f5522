package outq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := New[int](4, OverflowReject)
	for i := 1; i <= 4; i++ {
		require.True(t, q.Push(i))
	}
	for i := 1; i <= 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestQueueRejectWhenFull(t *testing.T) {
	q := New[int](2, OverflowReject)
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	assert.False(t, q.Push(3))
	assert.Equal(t, 2, q.Len())
}

func TestQueueDropOldest(t *testing.T) {
	q := New[int](2, OverflowDropOldest)
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	require.True(t, q.Push(3))

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	q := New[int](4, OverflowReject)
	require.True(t, q.Push(7))
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Push(8))

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueuePopWakesOnClose(t *testing.T) {
	q := New[int](1, OverflowReject)
	done := make(chan struct{})
	go func() {
		_, ok := q.Pop()
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Close")
	}
}
