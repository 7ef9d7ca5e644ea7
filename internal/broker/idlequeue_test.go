package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdleQueueFIFO(t *testing.T) {
	q := NewIdleQueue()
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c"))
	require.Equal(t, 3, q.Len())

	id, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", string(id))

	id, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", string(id))

	assert.Equal(t, 1, q.Len())
}

func TestIdleQueuePopEmpty(t *testing.T) {
	q := NewIdleQueue()
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestIdleQueueDuplicatesAllowed(t *testing.T) {
	q := NewIdleQueue()
	q.Push([]byte("dup"))
	q.Push([]byte("dup"))
	assert.Equal(t, 2, q.Len())
}

func TestIdleQueueRemoveScrubsAllOccurrences(t *testing.T) {
	q := NewIdleQueue()
	q.Push([]byte("a"))
	q.Push([]byte("stale"))
	q.Push([]byte("stale"))
	q.Push([]byte("b"))

	removed := q.Remove([]byte("stale"))
	assert.Equal(t, 2, removed)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, q.Snapshot())
}
