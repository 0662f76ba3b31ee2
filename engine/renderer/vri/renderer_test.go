package vri_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

func clearToColor(frame *vri.Frame) error {
	cmd := frame.Commands
	cmd.TransitionImage(frame.Image, vri.LayoutTransferDst)
	cmd.Clear(frame.Image, vri.ClearColor{0.1, 0.2, 0.3, 1})
	cmd.TransitionImage(frame.Image, vri.LayoutPresentSrc)
	return nil
}

func TestFrameNumbersAdvanceByOne(t *testing.T) {
	for depth := 1; depth <= vri.MaxBuffering; depth++ {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			dev, r := newRenderer(t, depth)

			for want := uint64(0); want < 3*uint64(depth)+1; want++ {
				frame, err := r.RenderFrame(clearToColor)
				require.NoError(t, err)
				assert.False(t, frame.Skipped)
				assert.Equal(t, want, frame.Number)
				assert.Equal(t, int(want%uint64(depth)), frame.Slot)
				assert.Equal(t, want+1, r.FrameNumber())
			}
			assert.Len(t, dev.Presentations, 3*depth+1)
			assertClean(t, dev)
		})
	}
}

func TestDrawSeesSwapchainImage(t *testing.T) {
	dev, r := newRenderer(t, 2)

	var seen []vri.Native
	for i := 0; i < 4; i++ {
		_, err := r.RenderFrame(func(frame *vri.Frame) error {
			require.NotNil(t, frame.Image)
			require.NotNil(t, frame.View)
			require.True(t, frame.Commands.Recording())
			assert.Equal(t, r.Swapchain().Image(int(frame.ImageIndex)), frame.Image)
			seen = append(seen, frame.Image.Native())
			return clearToColor(frame)
		})
		require.NoError(t, err)
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, vri.LayoutUndefined, r.Swapchain().Image(0).Layout())
	assertClean(t, dev)
}

func TestReleasedResourceSurvivesUntilItsSlotComesAround(t *testing.T) {
	for depth := 1; depth <= vri.MaxBuffering; depth++ {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			dev, r := newRenderer(t, depth)
			a := r.Allocator()

			srcRef, src := stagingBuffer(t, a, 128)
			dst, ok := vri.Get(a, a.AllocateBuffer(vri.BufferDesc{Size: 128, Usage: vri.BufferUsageTransferDst}))
			require.True(t, ok)
			native := src.Native()

			// warm up so the release does not happen on frame zero
			for i := 0; i < depth; i++ {
				_, err := r.RenderFrame(clearToColor)
				require.NoError(t, err)
			}

			_, err := r.RenderFrame(func(frame *vri.Frame) error {
				frame.Commands.CopyBuffer(src, dst)
				require.True(t, a.Release(srcRef))
				return nil
			})
			require.NoError(t, err)
			assert.True(t, dev.InFlight(native))

			for i := 0; i < depth-1; i++ {
				_, err := r.RenderFrame(clearToColor)
				require.NoError(t, err)
				assert.True(t, dev.Alive(native), "destroyed %d frames after release", i+1)
			}

			_, err = r.RenderFrame(clearToColor)
			require.NoError(t, err)
			assert.False(t, dev.Alive(native))
			assert.Equal(t, 1, dev.DestroyCount(native))

			for i := 0; i < 2*depth; i++ {
				_, err := r.RenderFrame(clearToColor)
				require.NoError(t, err)
			}
			assert.Equal(t, 1, dev.DestroyCount(native))
			assertClean(t, dev)
		})
	}
}

func TestReleaseBetweenFramesWaitsForInFlightWork(t *testing.T) {
	dev, r := newRenderer(t, 2)
	a := r.Allocator()

	ref, buf := stagingBuffer(t, a, 32)
	dst, _ := vri.Get(a, a.AllocateBuffer(vri.BufferDesc{Size: 32}))
	native := buf.Native()

	_, err := r.RenderFrame(func(frame *vri.Frame) error {
		frame.Commands.CopyBuffer(buf, dst)
		return nil
	})
	require.NoError(t, err)

	// frame 0 is still on the GPU while frame 1 has not started
	require.True(t, a.Release(ref))
	for i := 0; i < 2; i++ {
		_, err := r.RenderFrame(nil)
		require.NoError(t, err)
		assert.True(t, dev.Alive(native))
	}
	_, err = r.RenderFrame(nil)
	require.NoError(t, err)
	assert.False(t, dev.Alive(native))
	assertClean(t, dev)
}

func TestDrawErrorStillSubmits(t *testing.T) {
	dev, r := newRenderer(t, 2)
	boom := errors.New("boom")

	frame, err := r.RenderFrame(func(*vri.Frame) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, frame.Skipped)
	assert.EqualValues(t, 1, r.FrameNumber())
	assert.Len(t, dev.Submissions, 1)

	_, err = r.RenderFrame(nil)
	require.NoError(t, err)
	assertClean(t, dev)
}

func TestDrawEndingCommandsItselfIsTolerated(t *testing.T) {
	dev, r := newRenderer(t, 2)

	_, err := r.RenderFrame(func(frame *vri.Frame) error {
		return frame.Commands.End()
	})
	require.NoError(t, err)
	assertClean(t, dev)
}

func TestImmediateSubmitUploads(t *testing.T) {
	dev, r := newRenderer(t, 2)
	a := r.Allocator()

	_, staging := stagingBuffer(t, a, 16)
	require.NoError(t, staging.Write(0, []byte("0123456789abcdef")))
	texture, _ := vri.Get(a, a.AllocateImage(vri.ImageDesc{
		Extent: vri.Extent2D{Width: 2, Height: 2},
		Format: vri.FormatRGBA8Unorm,
		Usage:  vri.ImageUsageSampled | vri.ImageUsageTransferDst,
	}))

	for i := 0; i < 2; i++ {
		err := r.ImmediateSubmit(func(cmd *vri.Commands) {
			cmd.TransitionImage(texture, vri.LayoutTransferDst)
			cmd.CopyBufferToImage(staging, texture)
			cmd.TransitionImage(texture, vri.LayoutShaderReadOnly)
		})
		require.NoError(t, err)
	}
	assert.Len(t, dev.Submissions, 2)
	assert.False(t, dev.InFlight(texture.Native()))

	_, err := r.RenderFrame(clearToColor)
	require.NoError(t, err)
	assertClean(t, dev)
}

func TestShutdownDestroysEverything(t *testing.T) {
	dev, r := newRenderer(t, 3)
	a := r.Allocator()

	a.AllocateSampler(vri.SamplerDesc{MinFilter: vri.FilterLinear, MagFilter: vri.FilterLinear})
	pending := a.AllocateBuffer(vri.BufferDesc{Size: 4})
	for i := 0; i < 5; i++ {
		_, err := r.RenderFrame(clearToColor)
		require.NoError(t, err)
	}
	a.Release(pending)

	r.Shutdown()
	r.Shutdown()

	assert.True(t, a.Torndown())
	assert.Zero(t, dev.LiveTotal())
	assertClean(t, dev)

	frame, err := r.RenderFrame(clearToColor)
	assert.ErrorIs(t, err, core.ErrRendererClosed)
	assert.True(t, frame.Skipped)
	assert.ErrorIs(t, r.ImmediateSubmit(func(*vri.Commands) {}), core.ErrRendererClosed)
}

func TestMetricsCountPresentedAndSkippedFrames(t *testing.T) {
	dev, r := newRenderer(t, 2)

	dev.ScriptAcquire(vri.StatusOutOfDate)
	for i := 0; i < 5; i++ {
		_, err := r.RenderFrame(clearToColor)
		require.NoError(t, err)
	}
	presented, skipped := r.Metrics().Frames()
	assert.EqualValues(t, 3, presented)
	assert.EqualValues(t, 2, skipped)
}

func TestResizeFromAnotherGoroutine(t *testing.T) {
	dev, r := newRenderer(t, 2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			r.Resize(uint32(100+i), 100)
		}
	}()
	for i := 0; i < 50; i++ {
		_, err := r.RenderFrame(clearToColor)
		require.NoError(t, err)
	}
	wg.Wait()

	// settle on the last size
	for i := 0; i < 2; i++ {
		_, err := r.RenderFrame(clearToColor)
		require.NoError(t, err)
	}
	assert.Equal(t, vri.Extent2D{Width: 149, Height: 100}, r.Swapchain().Extent())
	assertClean(t, dev)
}
