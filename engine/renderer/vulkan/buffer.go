package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

func bufferUsage(usage vri.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage&vri.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage&vri.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	if usage&vri.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if usage&vri.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage&vri.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if usage&vri.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

func memoryProperties(location vri.MemoryLocation) vk.MemoryPropertyFlagBits {
	if location == vri.MemoryHostVisible {
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	return vk.MemoryPropertyDeviceLocalBit
}

func (d *Device) CreateBuffer(desc vri.BufferDesc) (vri.Native, error) {
	var buffer vk.Buffer
	if err := resultError("vkCreateBuffer", vk.CreateBuffer(d.logical(), &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, d.context.Allocator, &buffer)); err != nil {
		return vri.NullHandle, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical(), buffer, &reqs)
	reqs.Deref()

	var memory vk.DeviceMemory
	err := d.locks.SafeCall(MemoryManagement, func() error {
		var err error
		memory, err = d.context.allocateMemory(reqs, memoryProperties(desc.Memory))
		return err
	})
	if err != nil {
		vk.DestroyBuffer(d.logical(), buffer, d.context.Allocator)
		return vri.NullHandle, err
	}
	if err := resultError("vkBindBufferMemory", vk.BindBufferMemory(d.logical(), buffer, memory, 0)); err != nil {
		vk.FreeMemory(d.logical(), memory, d.context.Allocator)
		vk.DestroyBuffer(d.logical(), buffer, d.context.Allocator)
		return vri.NullHandle, err
	}

	return d.objects.add(&vulkanObject{
		kind:   vri.KindBuffer,
		handle: buffer,
		memory: memory,
		size:   desc.Size,
		host:   desc.Memory == vri.MemoryHostVisible,
	}), nil
}

// WriteBuffer copies data into host visible memory through a transient map.
func (d *Device) WriteBuffer(buffer vri.Native, offset uint64, data []byte) error {
	obj, ok := d.objects.get(buffer)
	if !ok || obj.kind != vri.KindBuffer {
		return core.ErrStaleReference
	}
	if !obj.host {
		return core.ErrNotHostVisible
	}
	if offset+uint64(len(data)) > obj.size {
		return core.ErrOutOfRange
	}
	if len(data) == 0 {
		return nil
	}

	return d.locks.SafeCall(MemoryManagement, func() error {
		var ptr unsafe.Pointer
		if err := resultError("vkMapMemory", vk.MapMemory(d.logical(), obj.memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &ptr)); err != nil {
			return err
		}
		defer vk.UnmapMemory(d.logical(), obj.memory)
		if n := vk.Memcopy(ptr, data); n != len(data) {
			core.LogWarn("short buffer write: %d of %d bytes", n, len(data))
		}
		return nil
	})
}
