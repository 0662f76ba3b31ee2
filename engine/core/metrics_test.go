package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameMetricsAverageAndFPS(t *testing.T) {
	m := NewFrameMetrics()

	// 16ms frames: the average settles after AVG_COUNT samples and the FPS
	// estimate once a full second has accumulated
	for i := 0; i < 70; i++ {
		m.Update(0.016, false)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 1e-9)
	assert.InDelta(t, 62, m.FPS(), 1)

	m.Update(0.001, true)
	presented, skipped := m.Frames()
	assert.EqualValues(t, 70, presented)
	assert.EqualValues(t, 1, skipped)
}
