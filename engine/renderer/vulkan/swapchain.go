package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/core"
	vmath "github.com/spaghettifunk/vri/engine/math"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

// chooseSurfaceFormat prefers 8-bit BGRA in the sRGB color space and falls
// back to whatever the surface lists first.
func chooseSurfaceFormat(available []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, preferred := range []vk.Format{vk.FormatB8g8r8a8Srgb, vk.FormatB8g8r8a8Unorm} {
		for _, format := range available {
			if format.Format == preferred && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
				return format
			}
		}
	}
	if len(available) == 0 {
		return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	}
	return available[0]
}

// choosePresentMode returns FIFO when vsync is on. Otherwise it takes
// mailbox, then immediate, and settles for FIFO, which is always supported.
func choosePresentMode(available []vk.PresentMode, vsync bool) (vk.PresentMode, vri.PresentMode) {
	if vsync {
		return vk.PresentModeFifo, vri.PresentModeFifo
	}
	has := func(mode vk.PresentMode) bool {
		for _, m := range available {
			if m == mode {
				return true
			}
		}
		return false
	}
	switch {
	case has(vk.PresentModeMailbox):
		return vk.PresentModeMailbox, vri.PresentModeMailbox
	case has(vk.PresentModeImmediate):
		return vk.PresentModeImmediate, vri.PresentModeImmediate
	}
	return vk.PresentModeFifo, vri.PresentModeFifo
}

func chooseExtent(caps vk.SurfaceCapabilities, desired vri.Extent2D) vk.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	return vk.Extent2D{
		Width:  vmath.Clamp(desired.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: vmath.Clamp(desired.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func chooseImageCount(caps vk.SurfaceCapabilities, requested uint32) uint32 {
	count := requested
	if count == 0 {
		count = caps.MinImageCount + 1
	}
	return vmath.ClampLimit(count, caps.MinImageCount, caps.MaxImageCount)
}

// CreateSwapchain builds a swapchain for desc.Surface, chaining old so the
// presentation engine can hand over in-flight images. The old swapchain is
// not destroyed here; its owner releases it.
func (d *Device) CreateSwapchain(desc vri.SwapchainDesc, old vri.Native) (vri.SwapchainInfo, error) {
	surface := lookup[vk.Surface](d.objects, desc.Surface)
	if surface == nil {
		return vri.SwapchainInfo{}, fmt.Errorf("create swapchain: unknown surface %d", desc.Surface)
	}

	device := d.context.Device
	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, surface, &device.SwapchainSupport); err != nil {
		return vri.SwapchainInfo{}, err
	}
	support := device.SwapchainSupport

	surfaceFormat := chooseSurfaceFormat(support.Formats)
	presentMode, mode := choosePresentMode(support.PresentModes, desc.VSync)
	extent := chooseExtent(support.Capabilities, desc.Extent)
	if extent.Width == 0 || extent.Height == 0 {
		return vri.SwapchainInfo{}, core.ErrZeroExtent
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    chooseImageCount(support.Capabilities, desc.MinImageCount),
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     lookup[vk.Swapchain](d.objects, old),
	}

	// Setup the queue family indices
	if device.GraphicsQueueIndex != device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(device.GraphicsQueueIndex),
			uint32(device.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	err := d.locks.SafeCall(SwapchainManagement, func() error {
		return resultError("vkCreateSwapchainKHR", vk.CreateSwapchain(d.logical(), &swapchainCreateInfo, d.context.Allocator, &handle))
	})
	if err != nil {
		return vri.SwapchainInfo{}, err
	}

	var imageCount uint32
	if err := resultError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(d.logical(), handle, &imageCount, nil)); err != nil {
		vk.DestroySwapchain(d.logical(), handle, d.context.Allocator)
		return vri.SwapchainInfo{}, err
	}
	images := make([]vk.Image, imageCount)
	if err := resultError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(d.logical(), handle, &imageCount, images)); err != nil {
		vk.DestroySwapchain(d.logical(), handle, d.context.Allocator)
		return vri.SwapchainInfo{}, err
	}

	// Swapchain images are borrowed: they are registered so commands can
	// name them, and go away together with the swapchain.
	info := vri.SwapchainInfo{
		Format:      fromVkFormat(surfaceFormat.Format),
		Extent:      vri.Extent2D{Width: extent.Width, Height: extent.Height},
		PresentMode: mode,
		Images:      make([]vri.Native, len(images)),
	}
	for i, image := range images {
		info.Images[i] = d.objects.add(&vulkanObject{
			kind:     vri.KindImage,
			handle:   image,
			borrowed: true,
			format:   surfaceFormat.Format,
			aspect:   vk.ImageAspectFlags(vk.ImageAspectColorBit),
			mips:     1,
			extent:   extent,
		})
	}
	info.Handle = d.objects.add(&vulkanObject{kind: vri.KindSwapchain, handle: handle, images: info.Images})

	core.LogDebug("vulkan swapchain created: %d images, format %d, %s", len(images), surfaceFormat.Format, mode)
	return info, nil
}

func (d *Device) AcquireNextImage(swapchain, semaphore vri.Native, timeout time.Duration) (uint32, vri.Status) {
	var index uint32
	var result vk.Result
	d.locks.SafeCall(SwapchainManagement, func() error {
		result = vk.AcquireNextImage(d.logical(),
			lookup[vk.Swapchain](d.objects, swapchain),
			timeoutNanos(timeout),
			lookup[vk.Semaphore](d.objects, semaphore),
			vk.NullFence,
			&index)
		return nil
	})
	return index, resultStatus(result)
}

func pipelineStages(stage vri.PipelineStage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlagBits
	if stage&vri.StageTopOfPipe != 0 {
		flags |= vk.PipelineStageTopOfPipeBit
	}
	if stage&vri.StageTransfer != 0 {
		flags |= vk.PipelineStageTransferBit
	}
	if stage&vri.StageComputeShader != 0 {
		flags |= vk.PipelineStageComputeShaderBit
	}
	if stage&vri.StageColorAttachmentOutput != 0 {
		flags |= vk.PipelineStageColorAttachmentOutputBit
	}
	if stage&vri.StageAllCommands != 0 {
		flags |= vk.PipelineStageAllCommandsBit
	}
	if stage&vri.StageBottomOfPipe != 0 {
		flags |= vk.PipelineStageBottomOfPipeBit
	}
	if flags == 0 {
		flags = vk.PipelineStageAllCommandsBit
	}
	return vk.PipelineStageFlags(flags)
}

func (d *Device) Submit(s vri.Submission) error {
	stages := make([]vk.PipelineStageFlags, len(s.WaitSemaphores))
	for i := range stages {
		var stage vri.PipelineStage
		if i < len(s.WaitStages) {
			stage = s.WaitStages[i]
		}
		stages[i] = pipelineStages(stage)
	}
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(s.WaitSemaphores)),
		PWaitSemaphores:      lookupAll[vk.Semaphore](d.objects, s.WaitSemaphores),
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(s.CommandBuffers)),
		PCommandBuffers:      lookupAll[vk.CommandBuffer](d.objects, s.CommandBuffers),
		SignalSemaphoreCount: uint32(len(s.SignalSemaphores)),
		PSignalSemaphores:    lookupAll[vk.Semaphore](d.objects, s.SignalSemaphores),
	}

	queue, family := d.context.Device.queue(s.Queue)
	fence := lookup[vk.Fence](d.objects, s.Fence)
	return d.locks.SafeQueueCall(family, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence))
	})
}

// Present returns the image to the swapchain for presentation. Out of date
// and suboptimal results are reported, not acted on.
func (d *Device) Present(p vri.Presentation) vri.Status {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(p.WaitSemaphores)),
		PWaitSemaphores:    lookupAll[vk.Semaphore](d.objects, p.WaitSemaphores),
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{lookup[vk.Swapchain](d.objects, p.Swapchain)},
		PImageIndices:      []uint32{p.ImageIndex},
	}

	queue, family := d.context.Device.queue(p.Queue)
	var result vk.Result
	d.locks.SafeQueueCall(family, func() error {
		result = vk.QueuePresent(queue, &presentInfo)
		return nil
	})
	if result != vk.Success && result != vk.Suboptimal && result != vk.ErrorOutOfDate {
		core.LogError("vkQueuePresentKHR failed with `%s`", VulkanResultString(result))
	}
	return resultStatus(result)
}
