package vri_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
	"github.com/spaghettifunk/vri/engine/renderer/vri/vritest"
)

func assertSwapchainConsistent(t *testing.T, dev *vritest.Device, r *vri.Renderer) {
	t.Helper()
	sc := r.Swapchain()
	n := sc.ImageCount()
	require.Positive(t, n)
	assert.Equal(t, n, sc.RenderSemaphoreCount())
	assert.Equal(t, r.BufferingDepth(), sc.SlotCount())
	assert.Equal(t, n, dev.Live(vri.KindImageView))
	assert.Equal(t, n+r.BufferingDepth(), dev.Live(vri.KindSemaphore))
	assert.Equal(t, 1, dev.Live(vri.KindSwapchain))
	for i := 0; i < n; i++ {
		assert.Equal(t, sc.Image(i).Native(), sc.View(i).Image())
	}
}

func TestSuboptimalAcquireMarksDirtyAndRecreates(t *testing.T) {
	dev, r := newRenderer(t, 2)
	assertSwapchainConsistent(t, dev, r)
	original := r.Swapchain().Native()

	dev.ScriptAcquire(vri.StatusSuboptimal)
	frame, err := r.RenderFrame(nil)
	require.NoError(t, err)
	assert.True(t, frame.Skipped)
	assert.Equal(t, vri.NoImage, frame.ImageIndex)
	assert.Equal(t, vri.SwapchainDirty, r.Swapchain().State())
	assert.Zero(t, r.FrameNumber())

	dev.SetImageCount(5)
	frame, err = r.RenderFrame(nil)
	require.NoError(t, err)
	assert.True(t, frame.Skipped)
	assert.Equal(t, vri.SwapchainValid, r.Swapchain().State())
	assert.NotEqual(t, original, r.Swapchain().Native())
	assert.False(t, dev.Alive(original))
	assert.Equal(t, 5, r.Swapchain().ImageCount())
	assertSwapchainConsistent(t, dev, r)

	frame, err = r.RenderFrame(nil)
	require.NoError(t, err)
	assert.False(t, frame.Skipped)
	assert.EqualValues(t, 1, r.FrameNumber())
	assertClean(t, dev)
}

func TestOutOfDateAcquireSkipsWithoutSignaling(t *testing.T) {
	dev, r := newRenderer(t, 3)

	dev.ScriptAcquire(vri.StatusOutOfDate)
	frame, err := r.RenderFrame(nil)
	require.NoError(t, err)
	assert.True(t, frame.Skipped)
	assert.True(t, r.Swapchain().Dirty())

	for i := 0; i < 4; i++ {
		_, err := r.RenderFrame(nil)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, r.FrameNumber())
	assertSwapchainConsistent(t, dev, r)
	assertClean(t, dev)
}

func TestOutOfDatePresentIsNotAnError(t *testing.T) {
	dev, r := newRenderer(t, 2)

	dev.ScriptPresent(vri.StatusOutOfDate)
	frame, err := r.RenderFrame(nil)
	require.NoError(t, err)
	assert.False(t, frame.Skipped)
	assert.EqualValues(t, 1, r.FrameNumber())
	assert.True(t, r.Swapchain().Dirty())

	frame, err = r.RenderFrame(nil)
	require.NoError(t, err)
	assert.True(t, frame.Skipped)
	assert.False(t, r.Swapchain().Dirty())
	assertClean(t, dev)
}

func TestRecreateKeepsCountsConsistentAcrossResizes(t *testing.T) {
	dev, r := newRenderer(t, 2)

	for i, count := range []uint32{2, 4, 3, 6} {
		dev.SetImageCount(count)
		r.Resize(uint32(640+i*10), 480)
		frame, err := r.RenderFrame(nil)
		require.NoError(t, err)
		require.True(t, frame.Skipped)

		assert.Equal(t, int(count), r.Swapchain().ImageCount())
		assert.Equal(t, vri.Extent2D{Width: uint32(640 + i*10), Height: 480}, r.Swapchain().Extent())
		assertSwapchainConsistent(t, dev, r)

		for j := 0; j < 3; j++ {
			_, err := r.RenderFrame(nil)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 5, dev.Created(vri.KindSwapchain))
	assertClean(t, dev)
}

func TestZeroExtentStaysDirty(t *testing.T) {
	dev, r := newRenderer(t, 2)

	r.Resize(0, 0)
	for i := 0; i < 3; i++ {
		frame, err := r.RenderFrame(nil)
		require.NoError(t, err)
		assert.True(t, frame.Skipped)
		assert.Equal(t, vri.SwapchainDirty, r.Swapchain().State())
	}
	assert.Equal(t, 1, dev.Created(vri.KindSwapchain))

	r.Resize(1024, 768)
	frame, err := r.RenderFrame(nil)
	require.NoError(t, err)
	assert.True(t, frame.Skipped)
	frame, err = r.RenderFrame(nil)
	require.NoError(t, err)
	assert.False(t, frame.Skipped)
	assert.Equal(t, vri.Extent2D{Width: 1024, Height: 768}, r.Swapchain().Extent())
	assertClean(t, dev)
}

func TestMinimizedSurfaceKeepsSwapchainDirty(t *testing.T) {
	dev, r := newRenderer(t, 2)
	sc := r.Swapchain()
	original := sc.Native()

	prev := core.SetExitHandler(func(code int) { panic(fatalExit(code)) })
	defer core.SetExitHandler(prev)

	// the window is minimized before the resize callback arrived
	dev.MinimizeSurface(true)
	dev.ScriptAcquire(vri.StatusOutOfDate)
	assert.NotPanics(t, func() {
		for i := 0; i < 3; i++ {
			frame, err := r.RenderFrame(nil)
			require.NoError(t, err)
			assert.True(t, frame.Skipped)
			assert.Equal(t, vri.SwapchainDirty, sc.State())
		}
		assert.False(t, sc.Recreate(r.VSync()))
	})
	assert.Equal(t, original, sc.Native())
	assert.True(t, dev.Alive(original))
	assert.Equal(t, 1, dev.Created(vri.KindSwapchain))
	assertSwapchainConsistent(t, dev, r)

	dev.MinimizeSurface(false)
	frame, err := r.RenderFrame(nil)
	require.NoError(t, err)
	assert.True(t, frame.Skipped)
	assert.Equal(t, vri.SwapchainValid, sc.State())
	assert.False(t, dev.Alive(original))

	frame, err = r.RenderFrame(nil)
	require.NoError(t, err)
	assert.False(t, frame.Skipped)
	assert.EqualValues(t, 1, r.FrameNumber())
	assert.Equal(t, 1, sc.CurrentSlot())
	assertSwapchainConsistent(t, dev, r)
	assertClean(t, dev)
}

func TestRendererStartsMinimized(t *testing.T) {
	dev := vritest.New()
	r := vri.New(dev, vri.Options{Buffering: 2})
	defer r.Shutdown()

	frame, err := r.RenderFrame(nil)
	require.NoError(t, err)
	assert.True(t, frame.Skipped)
	assert.Zero(t, r.Swapchain().ImageCount())

	r.Resize(320, 200)
	_, _ = r.RenderFrame(nil)
	frame, err = r.RenderFrame(nil)
	require.NoError(t, err)
	assert.False(t, frame.Skipped)
	assertClean(t, dev)
}

func TestSetVSyncSwitchesPresentMode(t *testing.T) {
	dev, r := newRenderer(t, 2)
	assert.Equal(t, vri.PresentModeFifo, r.Swapchain().PresentMode())

	r.SetVSync(false)
	assert.True(t, r.Swapchain().Dirty())
	_, err := r.RenderFrame(nil)
	require.NoError(t, err)

	assert.Equal(t, vri.PresentModeMailbox, r.Swapchain().PresentMode())
	require.Len(t, dev.SwapchainDescs, 2)
	assert.False(t, dev.SwapchainDescs[1].VSync)

	r.SetVSync(false)
	assert.False(t, r.Swapchain().Dirty())
	assertClean(t, dev)
}

func TestFenceTimeoutIsFatal(t *testing.T) {
	dev, r := newRenderer(t, 2)
	dev.HangFences(true)

	expectFatal(t, func() {
		_, _ = r.RenderFrame(nil)
	})
	dev.HangFences(false)
}

func TestDeviceLostIsFatal(t *testing.T) {
	dev := vritest.New()
	r := vri.New(dev, vri.Options{Surface: 1, Extent: vri.Extent2D{Width: 8, Height: 8}})
	dev.LoseDevice()

	expectFatal(t, func() {
		_, _ = r.RenderFrame(nil)
	})
}

func TestAcquireFailureIsFatal(t *testing.T) {
	dev, r := newRenderer(t, 2)
	dev.ScriptAcquire(vri.StatusFailed)

	expectFatal(t, func() {
		_, _ = r.RenderFrame(nil)
	})
}
