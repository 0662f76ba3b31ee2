package vulkan

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStatus(t *testing.T) {
	cases := map[vk.Result]vri.Status{
		vk.Success:                vri.StatusSuccess,
		vk.Suboptimal:             vri.StatusSuboptimal,
		vk.ErrorOutOfDate:         vri.StatusOutOfDate,
		vk.Timeout:                vri.StatusTimeout,
		vk.NotReady:               vri.StatusNotReady,
		vk.ErrorDeviceLost:        vri.StatusDeviceLost,
		vk.ErrorOutOfDeviceMemory: vri.StatusFailed,
	}
	for result, want := range cases {
		assert.Equal(t, want, resultStatus(result), VulkanResultString(result))
	}
	assert.True(t, resultStatus(vk.ErrorOutOfDate).NeedsRecreate())
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError("vkCreateFence", vk.Success))

	err := resultError("vkCreateFence", vk.ErrorOutOfHostMemory)
	require.Error(t, err)
	assert.Equal(t, "vkCreateFence failed with `VK_ERROR_OUT_OF_HOST_MEMORY`", err.Error())
	assert.Equal(t, "VkResult(-12345)", VulkanResultString(vk.Result(-12345)))
}

func TestTimeoutNanos(t *testing.T) {
	assert.Equal(t, uint64(vk.MaxUint64), timeoutNanos(vri.NoTimeout))
	assert.Equal(t, uint64(0), timeoutNanos(0))
	assert.Equal(t, uint64(0), timeoutNanos(-time.Second))
	assert.Equal(t, uint64(2_000_000), timeoutNanos(2*time.Millisecond))
}

func TestVulkanSafeStrings(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))

	in := []string{"VK_KHR_surface", "VK_KHR_swapchain"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"VK_KHR_surface\x00", "VK_KHR_swapchain\x00"}, out)
	assert.Equal(t, "VK_KHR_surface", in[0], "input must not be modified")
}

func TestFixedString(t *testing.T) {
	var name [16]byte
	copy(name[:], "VK_LAYER")
	assert.Equal(t, 8, FindFirstZeroInByteArray(name[:]))
	assert.Equal(t, "VK_LAYER", fixedString(name[:]))

	full := []byte("abcd")
	assert.Equal(t, 4, FindFirstZeroInByteArray(full))
	assert.Equal(t, "abcd", fixedString(full))
}

func TestSpirvWords(t *testing.T) {
	code := []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}
	words, err := spirvWords(code)
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic, 0x00010000}, words)

	_, err = spirvWords(nil)
	assert.Error(t, err)
	_, err = spirvWords([]byte{0x03, 0x02, 0x23})
	assert.Error(t, err)
	_, err = spirvWords([]byte{0, 0, 0, 0})
	assert.Error(t, err)
}

func TestFormatConversions(t *testing.T) {
	for format := vri.FormatRGBA8Unorm; format <= vri.FormatD24UnormS8Uint; format++ {
		assert.Equal(t, format, fromVkFormat(toVkFormat(format)))
	}
	assert.Equal(t, vri.FormatUndefined, fromVkFormat(vk.FormatR8Unorm))

	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), aspectFor(vri.FormatBGRA8Srgb))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectFor(vri.FormatD32Sfloat))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), aspectFor(vri.FormatD24UnormS8Uint))
}

func TestLayoutConversion(t *testing.T) {
	assert.Equal(t, vk.ImageLayoutPresentSrc, toVkLayout(vri.LayoutPresentSrc))
	assert.Equal(t, vk.ImageLayoutTransferDstOptimal, toVkLayout(vri.LayoutTransferDst))
	assert.Equal(t, vk.ImageLayoutUndefined, toVkLayout(vri.Layout(99)))
}

func TestUsageFlags(t *testing.T) {
	assert.Equal(t,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit|vk.BufferUsageUniformBufferBit),
		bufferUsage(vri.BufferUsageTransferSrc|vri.BufferUsageUniform))
	assert.Equal(t,
		vk.ImageUsageFlags(vk.ImageUsageSampledBit|vk.ImageUsageTransferDstBit),
		imageUsage(vri.ImageUsageSampled|vri.ImageUsageTransferDst))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageComputeBit), shaderStages(vri.ShaderStageCompute))
	assert.Equal(t, uint32(1), mipLevels(0))
	assert.Equal(t, uint32(4), mipLevels(4))
}

func TestPipelineStages(t *testing.T) {
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), pipelineStages(vri.StageColorAttachmentOutput))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), pipelineStages(0))
}

func TestChoosePresentMode(t *testing.T) {
	all := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate, vk.PresentModeMailbox}

	native, mode := choosePresentMode(all, true)
	assert.Equal(t, vk.PresentModeFifo, native)
	assert.Equal(t, vri.PresentModeFifo, mode)

	native, mode = choosePresentMode(all, false)
	assert.Equal(t, vk.PresentModeMailbox, native)
	assert.Equal(t, vri.PresentModeMailbox, mode)

	_, mode = choosePresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate}, false)
	assert.Equal(t, vri.PresentModeImmediate, mode)

	_, mode = choosePresentMode([]vk.PresentMode{vk.PresentModeFifo}, false)
	assert.Equal(t, vri.PresentModeFifo, mode)
}

func TestChooseSurfaceFormat(t *testing.T) {
	unorm := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	srgb := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	assert.Equal(t, srgb, chooseSurfaceFormat([]vk.SurfaceFormat{other, unorm, srgb}))
	assert.Equal(t, unorm, chooseSurfaceFormat([]vk.SurfaceFormat{other, unorm}))
	assert.Equal(t, other, chooseSurfaceFormat([]vk.SurfaceFormat{other}))
}

func TestChooseExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: 800, Height: 600},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 600}, chooseExtent(caps, vri.Extent2D{Width: 1280, Height: 720}))

	caps.CurrentExtent = vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	assert.Equal(t, vk.Extent2D{Width: 1280, Height: 720}, chooseExtent(caps, vri.Extent2D{Width: 1280, Height: 720}))
	assert.Equal(t, vk.Extent2D{Width: 4096, Height: 1}, chooseExtent(caps, vri.Extent2D{Width: 10000, Height: 0}))
}

func TestChooseImageCount(t *testing.T) {
	caps := vk.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 3}
	assert.Equal(t, uint32(3), chooseImageCount(caps, 0))
	assert.Equal(t, uint32(2), chooseImageCount(caps, 1))
	assert.Equal(t, uint32(3), chooseImageCount(caps, 8))

	caps.MaxImageCount = 0
	assert.Equal(t, uint32(8), chooseImageCount(caps, 8))
}

func TestObjectRegistry(t *testing.T) {
	r := newObjectRegistry()
	fence := r.add(&vulkanObject{kind: vri.KindFence, handle: vk.Fence(nil)})
	sem := r.add(&vulkanObject{kind: vri.KindSemaphore, handle: vk.Semaphore(nil)})
	other := r.add(&vulkanObject{kind: vri.KindFence, handle: vk.Fence(nil)})

	assert.NotEqual(t, vri.NullHandle, fence)
	assert.NotEqual(t, fence, sem)
	assert.Equal(t, 3, r.len())
	assert.Equal(t, []vri.Native{fence, other}, r.natives(vri.KindFence))

	_, ok := r.get(sem)
	assert.True(t, ok)
	_, ok = r.remove(sem)
	assert.True(t, ok)
	_, ok = r.remove(sem)
	assert.False(t, ok)

	next := r.add(&vulkanObject{kind: vri.KindSemaphore})
	assert.Greater(t, uint64(next), uint64(other), "natives are never reused")

	// mistyped and missing natives resolve to the zero handle
	assert.Nil(t, lookup[vk.Semaphore](r, fence))
	assert.Nil(t, lookup[vk.Fence](r, vri.Native(999)))
	assert.Len(t, lookupAll[vk.Fence](r, []vri.Native{fence, other}), 2)
}

func TestLockPoolSerializesGroup(t *testing.T) {
	pool := NewVulkanLockPool()
	pool.SetQueueFamily(0)

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			pool.SafeCall(MemoryManagement, func() error {
				counter++
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			pool.SafeCall(MemoryManagement, func() error {
				counter--
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, counter)
}

func TestLockPoolQueueCall(t *testing.T) {
	pool := NewVulkanLockPool()
	boom := errors.New("boom")

	err := pool.SafeQueueCall(1, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	// the pool mutex is not held while fn runs
	err = pool.SafeQueueCall(2, func() error {
		pool.SetQueueFamily(3)
		return pool.SafeQueueCall(3, func() error { return nil })
	})
	assert.NoError(t, err)
}
