package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/core"
)

type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	// only set when validation is enabled
	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// carries every bit of propertyFlags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// allocateMemory allocates and returns memory satisfying reqs.
func (vc *VulkanContext) allocateMemory(reqs vk.MemoryRequirements, properties vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	index := vc.FindMemoryIndex(reqs.MemoryTypeBits, uint32(properties))
	if index < 0 {
		return vk.NullDeviceMemory, resultError("vkAllocateMemory (no memory type)", vk.ErrorOutOfDeviceMemory)
	}
	var memory vk.DeviceMemory
	res := vk.AllocateMemory(vc.Device.LogicalDevice, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}, vc.Allocator, &memory)
	if err := resultError("vkAllocateMemory", res); err != nil {
		return vk.NullDeviceMemory, err
	}
	return memory, nil
}
