package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

var descriptorTypes = [...]vk.DescriptorType{
	vri.DescriptorUniformBuffer:        vk.DescriptorTypeUniformBuffer,
	vri.DescriptorStorageBuffer:        vk.DescriptorTypeStorageBuffer,
	vri.DescriptorCombinedImageSampler: vk.DescriptorTypeCombinedImageSampler,
	vri.DescriptorStorageImage:         vk.DescriptorTypeStorageImage,
}

func shaderStages(stages vri.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if stages&vri.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if stages&vri.ShaderStageFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	if stages&vri.ShaderStageCompute != 0 {
		flags |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(flags)
}

func (d *Device) CreateDescriptorSetLayout(bindings []vri.DescriptorBinding) (vri.Native, error) {
	binds := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		binds[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  descriptorTypes[b.Type],
			DescriptorCount: count,
			StageFlags:      shaderStages(b.Stages),
		}
	}

	var layout vk.DescriptorSetLayout
	if err := resultError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.logical(), &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(binds)),
		PBindings:    binds,
	}, d.context.Allocator, &layout)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindDescriptorSetLayout, handle: layout}), nil
}

// CreateDescriptorPool creates a pool whose sets can be freed one by one,
// which is how released descriptor sets go back to it.
func (d *Device) CreateDescriptorPool(desc vri.DescriptorPoolDesc) (vri.Native, error) {
	sizes := make([]vk.DescriptorPoolSize, len(desc.Sizes))
	for i, s := range desc.Sizes {
		sizes[i] = vk.DescriptorPoolSize{
			Type:            descriptorTypes[s.Type],
			DescriptorCount: s.Count,
		}
	}

	var pool vk.DescriptorPool
	if err := resultError("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.logical(), &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       desc.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, d.context.Allocator, &pool)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindDescriptorPool, handle: pool}), nil
}

func (d *Device) AllocateDescriptorSet(pool, layout vri.Native) (vri.Native, error) {
	var set vk.DescriptorSet
	err := d.locks.SafeCall(DescriptorPoolManagement, func() error {
		return resultError("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.logical(), &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     lookup[vk.DescriptorPool](d.objects, pool),
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{lookup[vk.DescriptorSetLayout](d.objects, layout)},
		}, &set))
	})
	if err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindDescriptorSet, handle: set}), nil
}
