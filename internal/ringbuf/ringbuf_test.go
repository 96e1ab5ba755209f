package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingPushPopFIFO(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 10; i++ {
		r.Push(i)
	}
	for i := 0; i < 10; i++ {
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestRingGrowsAcrossWrap(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 8; i++ {
		r.Push(i)
	}
	for i := 0; i < 3; i++ {
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	// head is now 3, non-zero; pushing past capacity forces grow() to
	// re-linearize starting from head.
	for i := 8; i < 13; i++ {
		r.Push(i)
	}

	want := []int{3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	for _, w := range want {
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, w, v)
	}
}

func TestRingFrontDoesNotRemove(t *testing.T) {
	r := New[string](4)
	r.Push("a")
	r.Push("b")

	front, ok := r.Front()
	require.True(t, ok)
	assert.Equal(t, "a", *front)
	assert.Equal(t, 2, r.Len())

	*front = "mutated"
	v, _ := r.Pop()
	assert.Equal(t, "mutated", v)
}

func TestRingEmptyFront(t *testing.T) {
	r := New[int](4)
	_, ok := r.Front()
	assert.False(t, ok)
}
