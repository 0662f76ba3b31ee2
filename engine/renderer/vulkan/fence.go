package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

func (d *Device) CreateFence(signaled bool) (vri.Native, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	// A signaled fence lets the very first wait on a frame slot return.
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	if err := resultError("vkCreateFence", vk.CreateFence(d.logical(), &fenceCreateInfo, d.context.Allocator, &fence)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindFence, handle: fence}), nil
}

func (d *Device) WaitForFence(fence vri.Native, timeout time.Duration) vri.Status {
	handle := lookup[vk.Fence](d.objects, fence)
	result := vk.WaitForFences(d.logical(), 1, []vk.Fence{handle}, vk.True, timeoutNanos(timeout))
	switch result {
	case vk.Success:
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	default:
		core.LogError("vk_fence_wait - %s", VulkanResultString(result))
	}
	return resultStatus(result)
}

func (d *Device) ResetFence(fence vri.Native) error {
	handle := lookup[vk.Fence](d.objects, fence)
	return resultError("vkResetFences", vk.ResetFences(d.logical(), 1, []vk.Fence{handle}))
}

func (d *Device) CreateSemaphore() (vri.Native, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := resultError("vkCreateSemaphore", vk.CreateSemaphore(d.logical(), &semaphoreCreateInfo, d.context.Allocator, &semaphore)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindSemaphore, handle: semaphore}), nil
}
