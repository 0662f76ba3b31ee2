package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

var bindPoints = [...]vk.PipelineBindPoint{
	vri.BindPointGraphics: vk.PipelineBindPointGraphics,
	vri.BindPointCompute:  vk.PipelineBindPointCompute,
}

func (d *Device) CreatePipelineLayout(desc vri.PipelineLayoutDesc) (vri.Native, error) {
	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(desc.SetLayouts)),
		PSetLayouts:    lookupAll[vk.DescriptorSetLayout](d.objects, desc.SetLayouts),
	}
	if desc.PushConstantSize > 0 {
		info.PushConstantRangeCount = 1
		info.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageAll),
			Offset:     0,
			Size:       desc.PushConstantSize,
		}}
	}

	var layout vk.PipelineLayout
	if err := resultError("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.logical(), &info, d.context.Allocator, &layout)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindPipelineLayout, handle: layout}), nil
}

func (d *Device) CreateComputePipeline(desc vri.ComputePipelineDesc) (vri.Native, error) {
	entry := desc.EntryPoint
	if entry == "" {
		entry = "main"
	}

	var cache vk.PipelineCache
	pipelines := make([]vk.Pipeline, 1)
	if err := resultError("vkCreateComputePipelines", vk.CreateComputePipelines(d.logical(), cache, 1, []vk.ComputePipelineCreateInfo{{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: lookup[vk.ShaderModule](d.objects, desc.Module),
			PName:  VulkanSafeString(entry),
		},
		Layout: lookup[vk.PipelineLayout](d.objects, desc.Layout),
	}}, d.context.Allocator, pipelines)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindPipeline, handle: pipelines[0]}), nil
}
