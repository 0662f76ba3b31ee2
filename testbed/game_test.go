package testbed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vri/engine/renderer/vri"
	"github.com/spaghettifunk/vri/engine/renderer/vri/vritest"
)

func TestCheckerboard(t *testing.T) {
	pixels := checkerboard(4, 2, 1)
	require.Len(t, pixels, 4*4*4)
	// top-left cell is "on", the cell to its right is "off"
	assert.Equal(t, []byte{0xe0, 0x40, 0x40, 0xff}, pixels[0:4])
	assert.Equal(t, []byte{0x10, 0x10, 0x10, 0xff}, pixels[2*4:3*4])
}

func TestBackgroundStaysInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		c := background(float64(i) * 0.37)
		for _, v := range c[:3] {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}
		assert.Equal(t, float32(1), c[3])
	}
}

func TestGameRunsFramesAndRecyclesStaging(t *testing.T) {
	dev := vritest.New()
	r := vri.New(dev, vri.Options{
		Surface:   vri.Native(1),
		Extent:    vri.Extent2D{Width: 800, Height: 600},
		Buffering: 2,
		VSync:     true,
	})

	g := NewTestGame("")
	require.NoError(t, g.FnInitialize(r))
	require.Equal(t, 1, dev.Created(vri.KindBuffer))

	for i := 0; i < 12; i++ {
		require.NoError(t, g.FnUpdate(patternPeriod/2))
		frame, err := r.RenderFrame(func(frame *vri.Frame) error {
			return g.FnRender(frame, patternPeriod/2)
		})
		require.NoError(t, err)
		assert.False(t, frame.Skipped)
	}

	// one new staging buffer every two frames, old ones destroyed once
	// their frames completed
	assert.Equal(t, 7, dev.Created(vri.KindBuffer))
	assert.LessOrEqual(t, dev.Live(vri.KindBuffer), 1+r.BufferingDepth())

	require.NoError(t, g.FnShutdown())
	r.Shutdown()
	assert.Equal(t, 0, dev.LiveTotal())
	assert.Empty(t, dev.Violations())
}
