package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

const spirvMagic = 0x07230203

// spirvWords reinterprets little-endian SPIR-V bytecode as the words
// vkCreateShaderModule expects.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("shader bytecode length %d is not a multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("shader bytecode does not start with the SPIR-V magic number")
	}
	return words, nil
}

func (d *Device) CreateShaderModule(code []byte) (vri.Native, error) {
	words, err := spirvWords(code)
	if err != nil {
		return vri.NullHandle, err
	}

	var module vk.ShaderModule
	if err := resultError("vkCreateShaderModule", vk.CreateShaderModule(d.logical(), &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}, d.context.Allocator, &module)); err != nil {
		return vri.NullHandle, err
	}
	return d.objects.add(&vulkanObject{kind: vri.KindShaderModule, handle: module}), nil
}
