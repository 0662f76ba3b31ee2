package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	q := NewRingQueue[int](2)
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	require.Equal(t, 5, q.Len())

	v, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	for i := 0; i < 5; i++ {
		v, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRingQueueGrowAfterWrap(t *testing.T) {
	q := NewRingQueue[int](3)
	q.Enqueue(1)
	q.Enqueue(2)
	_, _ = q.Dequeue()
	q.Enqueue(3)
	q.Enqueue(4)
	q.Enqueue(5) // grows while the read index is not at 0

	var got []int
	n := q.Drain(func(v int) { got = append(got, v) })
	assert.Equal(t, 4, n)
	assert.Equal(t, []int{2, 3, 4, 5}, got)
	assert.True(t, q.IsEmpty())
}

func TestRingQueueDrainSkipsReentrantEnqueue(t *testing.T) {
	q := NewRingQueue[int](4)
	q.Enqueue(1)
	n := q.Drain(func(v int) { q.Enqueue(v + 1) })
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len())
}
