package vritest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

func submitUsing(t *testing.T, d *Device, res vri.Native) (fence vri.Native) {
	t.Helper()
	pool, err := d.CreateCommandPool(vri.QueueGraphics)
	require.NoError(t, err)
	cb, err := d.AllocateCommandBuffer(pool)
	require.NoError(t, err)
	fence, err = d.CreateFence(false)
	require.NoError(t, err)

	require.NoError(t, d.BeginCommandBuffer(cb, true))
	d.CmdCopyBuffer(cb, res, res, nil)
	require.NoError(t, d.EndCommandBuffer(cb))
	require.NoError(t, d.Submit(vri.Submission{CommandBuffers: []vri.Native{cb}, Fence: fence}))
	return fence
}

func TestDestroyWhileInFlightIsAViolation(t *testing.T) {
	d := New()
	buf, err := d.CreateBuffer(vri.BufferDesc{Size: 4})
	require.NoError(t, err)

	submitUsing(t, d, buf)
	assert.True(t, d.InFlight(buf))

	d.Destroy(vri.Deletion{Kind: vri.KindBuffer, Native: buf})
	require.Len(t, d.Violations(), 1)
	assert.Contains(t, d.Violations()[0], "in use by the GPU")
}

func TestFenceWaitRetiresSubmission(t *testing.T) {
	d := New()
	buf, err := d.CreateBuffer(vri.BufferDesc{Size: 4})
	require.NoError(t, err)

	fence := submitUsing(t, d, buf)
	assert.Equal(t, vri.StatusSuccess, d.WaitForFence(fence, 0))
	assert.False(t, d.InFlight(buf))

	d.Destroy(vri.Deletion{Kind: vri.KindBuffer, Native: buf})
	d.Destroy(vri.Deletion{Kind: vri.KindBuffer, Native: buf})
	require.Len(t, d.Violations(), 1)
	assert.Contains(t, d.Violations()[0], "double destroy")
	assert.Equal(t, 2, d.DestroyCount(buf))
}

func TestWaitOnUnsubmittedFenceIsAViolation(t *testing.T) {
	d := New()
	fence, err := d.CreateFence(false)
	require.NoError(t, err)

	assert.Equal(t, vri.StatusTimeout, d.WaitForFence(fence, 0))
	assert.Len(t, d.Violations(), 1)
}

func TestAcquireIntoSignaledSemaphoreIsAViolation(t *testing.T) {
	d := New()
	sem, err := d.CreateSemaphore()
	require.NoError(t, err)
	info, err := d.CreateSwapchain(vri.SwapchainDesc{Extent: vri.Extent2D{Width: 4, Height: 4}, VSync: true}, vri.NullHandle)
	require.NoError(t, err)
	assert.Len(t, info.Images, 3)
	assert.Equal(t, vri.PresentModeFifo, info.PresentMode)

	index, status := d.AcquireNextImage(info.Handle, sem, 0)
	assert.Equal(t, vri.StatusSuccess, status)
	assert.Zero(t, index)
	assert.Empty(t, d.Violations())

	d.AcquireNextImage(info.Handle, sem, 0)
	assert.Len(t, d.Violations(), 1)
}

func TestScriptedStatuses(t *testing.T) {
	d := New()
	sem, _ := d.CreateSemaphore()
	info, _ := d.CreateSwapchain(vri.SwapchainDesc{Extent: vri.Extent2D{Width: 4, Height: 4}}, vri.NullHandle)
	d.ScriptAcquire(vri.StatusOutOfDate)
	d.ScriptPresent(vri.StatusSuboptimal)

	_, status := d.AcquireNextImage(info.Handle, sem, 0)
	assert.Equal(t, vri.StatusOutOfDate, status)
	assert.Equal(t, vri.StatusSuboptimal, d.Present(vri.Presentation{Swapchain: info.Handle}))
	assert.Equal(t, vri.StatusSuccess, d.Present(vri.Presentation{Swapchain: info.Handle}))
	assert.Equal(t, vri.PresentModeMailbox, info.PresentMode)
}
