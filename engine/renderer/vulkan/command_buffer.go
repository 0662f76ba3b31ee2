package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

func (d *Device) CreateCommandPool(queue vri.QueueKind) (vri.Native, error) {
	_, family := d.context.Device.queue(queue)
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := resultError("vkCreateCommandPool", vk.CreateCommandPool(d.logical(), &poolCreateInfo, d.context.Allocator, &pool)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindCommandPool, handle: pool, queue: queue}), nil
}

func (d *Device) AllocateCommandBuffer(pool vri.Native) (vri.Native, error) {
	buffers := make([]vk.CommandBuffer, 1)
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.logical(), &vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        lookup[vk.CommandPool](d.objects, pool),
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}, buffers))
	})
	if err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindCommandBuffer, handle: buffers[0]}), nil
}

func (d *Device) ResetCommandPool(pool vri.Native) error {
	return d.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError("vkResetCommandPool", vk.ResetCommandPool(d.logical(), lookup[vk.CommandPool](d.objects, pool), 0))
	})
}

func (d *Device) ResetCommandBuffer(cb vri.Native) error {
	return resultError("vkResetCommandBuffer", vk.ResetCommandBuffer(lookup[vk.CommandBuffer](d.objects, cb), 0))
}

func (d *Device) BeginCommandBuffer(cb vri.Native, oneTimeSubmit bool) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		beginInfo.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	return resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(lookup[vk.CommandBuffer](d.objects, cb), &beginInfo))
}

func (d *Device) EndCommandBuffer(cb vri.Native) error {
	return resultError("vkEndCommandBuffer", vk.EndCommandBuffer(lookup[vk.CommandBuffer](d.objects, cb)))
}

func (d *Device) CmdBindPipeline(cb vri.Native, point vri.BindPoint, pipeline vri.Native) {
	vk.CmdBindPipeline(lookup[vk.CommandBuffer](d.objects, cb), bindPoints[point], lookup[vk.Pipeline](d.objects, pipeline))
}

func (d *Device) CmdBindDescriptorSets(cb vri.Native, point vri.BindPoint, layout vri.Native, firstSet uint32, sets []vri.Native) {
	vk.CmdBindDescriptorSets(
		lookup[vk.CommandBuffer](d.objects, cb),
		bindPoints[point],
		lookup[vk.PipelineLayout](d.objects, layout),
		firstSet,
		uint32(len(sets)),
		lookupAll[vk.DescriptorSet](d.objects, sets),
		0, nil)
}

func (d *Device) CmdDraw(cb vri.Native, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(lookup[vk.CommandBuffer](d.objects, cb), vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Device) CmdDrawIndexed(cb vri.Native, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(lookup[vk.CommandBuffer](d.objects, cb), indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (d *Device) CmdDispatch(cb vri.Native, x, y, z uint32) {
	vk.CmdDispatch(lookup[vk.CommandBuffer](d.objects, cb), x, y, z)
}

func (d *Device) CmdCopyBuffer(cb vri.Native, src, dst vri.Native, regions []vri.BufferCopy) {
	if len(regions) == 0 {
		regions = []vri.BufferCopy{{Size: d.bufferSize(src)}}
	}
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(lookup[vk.CommandBuffer](d.objects, cb), lookup[vk.Buffer](d.objects, src), lookup[vk.Buffer](d.objects, dst), uint32(len(copies)), copies)
}

func (d *Device) CmdCopyBufferToImage(cb vri.Native, src, dst vri.Native, dstLayout vri.Layout, regions []vri.BufferImageCopy) {
	image, _ := d.objects.get(dst)
	if image == nil {
		image = &vulkanObject{aspect: vk.ImageAspectFlags(vk.ImageAspectColorBit)}
	}
	if len(regions) == 0 {
		regions = []vri.BufferImageCopy{{Extent: vri.Extent2D{Width: image.extent.Width, Height: image.extent.Height}}}
	}
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: image.aspect,
				MipLevel:   r.MipLevel,
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: r.Extent.Width, Height: r.Extent.Height, Depth: 1},
		}
	}
	vk.CmdCopyBufferToImage(lookup[vk.CommandBuffer](d.objects, cb), lookup[vk.Buffer](d.objects, src), lookup[vk.Image](d.objects, dst), toVkLayout(dstLayout), uint32(len(copies)), copies)
}

func (d *Device) CmdBlitImage(cb vri.Native, src vri.Native, srcLayout vri.Layout, dst vri.Native, dstLayout vri.Layout, regions []vri.ImageBlit, filter vri.Filter) {
	if len(regions) == 0 {
		regions = []vri.ImageBlit{{SrcExtent: d.imageExtent(src), DstExtent: d.imageExtent(dst)}}
	}
	color := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	blits := make([]vk.ImageBlit, len(regions))
	for i, r := range regions {
		blits[i] = vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{AspectMask: color, MipLevel: r.SrcMipLevel, LayerCount: 1},
			SrcOffsets:     [2]vk.Offset3D{{}, {X: int32(r.SrcExtent.Width), Y: int32(r.SrcExtent.Height), Z: 1}},
			DstSubresource: vk.ImageSubresourceLayers{AspectMask: color, MipLevel: r.DstMipLevel, LayerCount: 1},
			DstOffsets:     [2]vk.Offset3D{{}, {X: int32(r.DstExtent.Width), Y: int32(r.DstExtent.Height), Z: 1}},
		}
	}
	vk.CmdBlitImage(
		lookup[vk.CommandBuffer](d.objects, cb),
		lookup[vk.Image](d.objects, src), toVkLayout(srcLayout),
		lookup[vk.Image](d.objects, dst), toVkLayout(dstLayout),
		uint32(len(blits)), blits, filters[filter])
}

func (d *Device) CmdClearColorImage(cb vri.Native, image vri.Native, layout vri.Layout, color vri.ClearColor) {
	var value vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&value)) = color
	vk.CmdClearColorImage(lookup[vk.CommandBuffer](d.objects, cb), lookup[vk.Image](d.objects, image), toVkLayout(layout), &value, 1,
		[]vk.ImageSubresourceRange{d.subresourceRange(image, 0)})
}

// CmdImageBarrier records a full memory barrier: every prior command
// finishes and its writes become visible before any later command starts.
func (d *Device) CmdImageBarrier(cb vri.Native, barrier vri.ImageBarrier) {
	vk.CmdPipelineBarrier(lookup[vk.CommandBuffer](d.objects, cb),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit | vk.AccessMemoryReadBit),
			OldLayout:           toVkLayout(barrier.OldLayout),
			NewLayout:           toVkLayout(barrier.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               lookup[vk.Image](d.objects, barrier.Image),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: aspectFor(barrier.Format),
				LevelCount: mipLevels(barrier.MipLevels),
				LayerCount: 1,
			},
		}})
}

func (d *Device) bufferSize(n vri.Native) uint64 {
	if obj, ok := d.objects.get(n); ok {
		return obj.size
	}
	return 0
}

func (d *Device) imageExtent(n vri.Native) vri.Extent2D {
	if obj, ok := d.objects.get(n); ok {
		return vri.Extent2D{Width: obj.extent.Width, Height: obj.extent.Height}
	}
	return vri.Extent2D{}
}

func (d *Device) subresourceRange(n vri.Native, baseMip uint32) vk.ImageSubresourceRange {
	r := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	if obj, ok := d.objects.get(n); ok {
		r.AspectMask = obj.aspect
		r.BaseMipLevel = baseMip
		r.LevelCount = obj.mips - baseMip
	}
	return r
}
