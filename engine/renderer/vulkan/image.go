package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	Width  uint32
	Height uint32
}

var formats = map[vri.Format]vk.Format{
	vri.FormatUndefined:      vk.FormatUndefined,
	vri.FormatRGBA8Unorm:     vk.FormatR8g8b8a8Unorm,
	vri.FormatRGBA8Srgb:      vk.FormatR8g8b8a8Srgb,
	vri.FormatBGRA8Unorm:     vk.FormatB8g8r8a8Unorm,
	vri.FormatBGRA8Srgb:      vk.FormatB8g8r8a8Srgb,
	vri.FormatRGBA16Sfloat:   vk.FormatR16g16b16a16Sfloat,
	vri.FormatRGBA32Sfloat:   vk.FormatR32g32b32a32Sfloat,
	vri.FormatD32Sfloat:      vk.FormatD32Sfloat,
	vri.FormatD24UnormS8Uint: vk.FormatD24UnormS8Uint,
}

func toVkFormat(f vri.Format) vk.Format {
	return formats[f]
}

func fromVkFormat(f vk.Format) vri.Format {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return vri.FormatUndefined
}

var layouts = [...]vk.ImageLayout{
	vri.LayoutUndefined:              vk.ImageLayoutUndefined,
	vri.LayoutGeneral:                vk.ImageLayoutGeneral,
	vri.LayoutColorAttachment:        vk.ImageLayoutColorAttachmentOptimal,
	vri.LayoutDepthStencilAttachment: vk.ImageLayoutDepthStencilAttachmentOptimal,
	vri.LayoutShaderReadOnly:         vk.ImageLayoutShaderReadOnlyOptimal,
	vri.LayoutTransferSrc:            vk.ImageLayoutTransferSrcOptimal,
	vri.LayoutTransferDst:            vk.ImageLayoutTransferDstOptimal,
	vri.LayoutPresentSrc:             vk.ImageLayoutPresentSrc,
}

func toVkLayout(l vri.Layout) vk.ImageLayout {
	if int(l) < len(layouts) {
		return layouts[l]
	}
	return vk.ImageLayoutUndefined
}

func aspectFor(f vri.Format) vk.ImageAspectFlags {
	switch f {
	case vri.FormatD32Sfloat:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case vri.FormatD24UnormS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func imageUsage(usage vri.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if usage&vri.ImageUsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if usage&vri.ImageUsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	if usage&vri.ImageUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if usage&vri.ImageUsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if usage&vri.ImageUsageColorAttachment != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if usage&vri.ImageUsageDepthStencilAttachment != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return vk.ImageUsageFlags(flags)
}

func mipLevels(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}

// ImageCreate creates a 2D optimal-tiling image backed by device local memory.
func ImageCreate(context *VulkanContext, width, height uint32, format vk.Format, mips uint32, usage vk.ImageUsageFlags) (*VulkanImage, error) {
	image := &VulkanImage{Width: width, Height: height}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     mips,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if err := resultError("vkCreateImage", vk.CreateImage(context.Device.LogicalDevice, &imageCreateInfo, context.Allocator, &image.Handle)); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, image.Handle, &reqs)
	reqs.Deref()

	memory, err := context.allocateMemory(reqs, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(context.Device.LogicalDevice, image.Handle, context.Allocator)
		return nil, err
	}
	image.Memory = memory

	if err := resultError("vkBindImageMemory", vk.BindImageMemory(context.Device.LogicalDevice, image.Handle, image.Memory, 0)); err != nil {
		image.Destroy(context)
		return nil, err
	}
	return image, nil
}

func (vi *VulkanImage) Destroy(context *VulkanContext) {
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, vi.Memory, context.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
	if vi.Handle != nil {
		vk.DestroyImage(context.Device.LogicalDevice, vi.Handle, context.Allocator)
		vi.Handle = nil
	}
}

func (d *Device) CreateImage(desc vri.ImageDesc) (vri.Native, error) {
	var image *VulkanImage
	err := d.locks.SafeCall(MemoryManagement, func() error {
		var err error
		image, err = ImageCreate(d.context, desc.Extent.Width, desc.Extent.Height, toVkFormat(desc.Format), mipLevels(desc.MipLevels), imageUsage(desc.Usage))
		return err
	})
	if err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{
		kind:   vri.KindImage,
		handle: image.Handle,
		memory: image.Memory,
		format: toVkFormat(desc.Format),
		aspect: aspectFor(desc.Format),
		mips:   mipLevels(desc.MipLevels),
		extent: vk.Extent2D{Width: desc.Extent.Width, Height: desc.Extent.Height},
	}), nil
}

func (d *Device) CreateImageView(desc vri.ImageViewDesc) (vri.Native, error) {
	image := lookup[vk.Image](d.objects, desc.Image)
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   toVkFormat(desc.Format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectFor(desc.Format),
			BaseMipLevel:   0,
			LevelCount:     mipLevels(desc.MipLevels),
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var view vk.ImageView
	if err := resultError("vkCreateImageView", vk.CreateImageView(d.logical(), &viewInfo, d.context.Allocator, &view)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindImageView, handle: view}), nil
}

const maxSamplerLod = 1000.0

var filters = [...]vk.Filter{
	vri.FilterNearest: vk.FilterNearest,
	vri.FilterLinear:  vk.FilterLinear,
}

var addressModes = [...]vk.SamplerAddressMode{
	vri.AddressRepeat:         vk.SamplerAddressModeRepeat,
	vri.AddressMirroredRepeat: vk.SamplerAddressModeMirroredRepeat,
	vri.AddressClampToEdge:    vk.SamplerAddressModeClampToEdge,
}

func (d *Device) CreateSampler(desc vri.SamplerDesc) (vri.Native, error) {
	// Anisotropy is only enabled when the device feature was turned on.
	anisotropy := desc.MaxAnisotropy > 1 && d.context.Device.Features.SamplerAnisotropy == vk.True
	maxAnisotropy := float32(1)
	if anisotropy {
		maxAnisotropy = desc.MaxAnisotropy
	}

	var sampler vk.Sampler
	if err := resultError("vkCreateSampler", vk.CreateSampler(d.logical(), &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filters[desc.MagFilter],
		MinFilter:               filters[desc.MinFilter],
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            addressModes[desc.AddressMode],
		AddressModeV:            addressModes[desc.AddressMode],
		AddressModeW:            addressModes[desc.AddressMode],
		AnisotropyEnable:        vkBool(anisotropy),
		MaxAnisotropy:           maxAnisotropy,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		MaxLod:                  maxSamplerLod,
	}, d.context.Allocator, &sampler)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindSampler, handle: sampler}), nil
}
