package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameIndexCycles(t *testing.T) {
	for _, depth := range []int{1, 2, 3, 4} {
		c := NewFrameCounter(depth)
		for n := 0; n < depth*5; n++ {
			assert.Equal(t, n%depth, c.Index(), "depth %d frame %d", depth, n)
			assert.Equal(t, uint64(n), c.Number())
			c.Advance()
		}
	}
}

func TestFrameIndexRepeatsEveryDepthAdvances(t *testing.T) {
	c := NewFrameCounter(3)
	c.Advance()
	start := c.Index()
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		seen[c.Index()] = true
		c.Advance()
	}
	assert.Equal(t, start, c.Index())
	assert.Len(t, seen, 3)
}

func TestFrameCounterClampsDepth(t *testing.T) {
	c := NewFrameCounter(0)
	assert.Equal(t, 1, c.Depth())
	c.Advance()
	assert.Equal(t, 0, c.Index())
}

func TestBufferingSharesCounter(t *testing.T) {
	c := NewFrameCounter(2)
	names := NewBuffering(c, func(slot int) string { return []string{"a", "b"}[slot] })
	ids := NewBuffering(c, func(slot int) int { return slot * 10 })

	require.Equal(t, 2, names.Depth())
	assert.Same(t, c, names.Counter())
	assert.Same(t, names.Counter(), ids.Counter())
	assert.Equal(t, "a", names.Current())
	assert.Equal(t, 0, ids.Current())

	names.Advance()
	assert.Equal(t, "b", names.Current())
	assert.Equal(t, 10, ids.Current())
	assert.Equal(t, uint64(1), ids.FrameNumber())

	ids.Set(1, 99)
	assert.Equal(t, 99, ids.At(1))

	var visited []int
	ids.Each(func(slot int, v int) { visited = append(visited, slot) })
	assert.Equal(t, []int{0, 1}, visited)
}
