package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

const portabilitySubsetExtension = "VK_KHR_portability_subset"

type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   VulkanSwapchainSupportInfo
	GraphicsQueueIndex int32
	PresentQueueIndex  int32
	TransferQueueIndex int32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	TransferQueue vk.Queue

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties
}

// queue returns the queue and its family index for a queue kind.
func (d *VulkanDevice) queue(kind vri.QueueKind) (vk.Queue, uint32) {
	switch kind {
	case vri.QueuePresent:
		return d.PresentQueue, uint32(d.PresentQueueIndex)
	case vri.QueueTransfer:
		return d.TransferQueue, uint32(d.TransferQueueIndex)
	}
	return d.GraphicsQueue, uint32(d.GraphicsQueueIndex)
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Compute              bool
	Transfer             bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	ComputeFamilyIndex  int32
	TransferFamilyIndex int32
}

func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}
	device := context.Device

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{uint32(device.GraphicsQueueIndex)}
	if device.PresentQueueIndex != device.GraphicsQueueIndex {
		indices = append(indices, uint32(device.PresentQueueIndex))
	}
	if device.TransferQueueIndex != device.GraphicsQueueIndex && device.TransferQueueIndex != device.PresentQueueIndex {
		indices = append(indices, uint32(device.TransferQueueIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: device.Features.SamplerAnisotropy,
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	available, err := deviceExtensions(device.PhysicalDevice)
	if err != nil {
		return err
	}
	if _, ok := available[portabilitySubsetExtension]; ok {
		core.LogInfo("Adding required extension '%s'.", portabilitySubsetExtension)
		extensionNames = append(extensionNames, portabilitySubsetExtension)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logical vk.Device
	if err := resultError("vkCreateDevice", vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logical)); err != nil {
		return err
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(logical, uint32(device.GraphicsQueueIndex), 0, &device.GraphicsQueue)
	vk.GetDeviceQueue(logical, uint32(device.PresentQueueIndex), 0, &device.PresentQueue)
	vk.GetDeviceQueue(logical, uint32(device.TransferQueueIndex), 0, &device.TransferQueue)
	core.LogInfo("Queues obtained.")

	return nil
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	if device == nil {
		return
	}
	device.GraphicsQueue = nil
	device.PresentQueue = nil
	device.TransferQueue = nil

	core.LogInfo("Destroying logical device...")
	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
	device.SwapchainSupport = VulkanSwapchainSupportInfo{}
	device.GraphicsQueueIndex = -1
	device.PresentQueueIndex = -1
	device.TransferQueueIndex = -1
}

// DeviceQuerySwapchainSupport refreshes what the surface supports. Capabilities
// change with the window, so this runs before every swapchain creation.
func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if err := resultError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR",
		vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities)); err != nil {
		return err
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := resultError("vkGetPhysicalDeviceSurfaceFormatsKHR",
		vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil)); err != nil {
		return err
	}
	supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount != 0 {
		if err := resultError("vkGetPhysicalDeviceSurfaceFormatsKHR",
			vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats)); err != nil {
			return err
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	var presentModeCount uint32
	if err := resultError("vkGetPhysicalDeviceSurfacePresentModesKHR",
		vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, nil)); err != nil {
		return err
	}
	supportInfo.PresentModes = make([]vk.PresentMode, presentModeCount)
	if presentModeCount != 0 {
		if err := resultError("vkGetPhysicalDeviceSurfacePresentModesKHR",
			vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, supportInfo.PresentModes)); err != nil {
			return err
		}
	}
	return nil
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]struct{}, error) {
	var count uint32
	if err := resultError("vkEnumerateDeviceExtensionProperties",
		vk.EnumerateDeviceExtensionProperties(device, "", &count, nil)); err != nil {
		return nil, err
	}
	properties := make([]vk.ExtensionProperties, count)
	if count != 0 {
		if err := resultError("vkEnumerateDeviceExtensionProperties",
			vk.EnumerateDeviceExtensionProperties(device, "", &count, properties)); err != nil {
			return nil, err
		}
	}
	names := make(map[string]struct{}, count)
	for i := range properties {
		properties[i].Deref()
		names[fixedString(properties[i].ExtensionName[:])] = struct{}{}
	}
	return names, nil
}

// SelectPhysicalDevice picks the first device meeting the requirements,
// preferring a discrete GPU and falling back to any GPU.
func SelectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32
	if err := resultError("vkEnumeratePhysicalDevices",
		vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil)); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := resultError("vkEnumeratePhysicalDevices",
		vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices)); err != nil {
		return err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Transfer:             true,
		Compute:              true,
		DiscreteGPU:          runtime.GOOS != "darwin",
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}

	for pass := 0; pass < 2; pass++ {
		for _, candidate := range physicalDevices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(candidate, &properties)
			properties.Deref()

			var features vk.PhysicalDeviceFeatures
			vk.GetPhysicalDeviceFeatures(candidate, &features)
			features.Deref()

			var memory vk.PhysicalDeviceMemoryProperties
			vk.GetPhysicalDeviceMemoryProperties(candidate, &memory)
			memory.Deref()

			var queueInfo VulkanPhysicalDeviceQueueFamilyInfo
			var support VulkanSwapchainSupportInfo
			if !PhysicalDeviceMeetsRequirements(candidate, context.Surface, &properties, &requirements, &queueInfo, &support) {
				continue
			}

			logDeviceInfo(&properties, &memory)
			context.Device.PhysicalDevice = candidate
			context.Device.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
			context.Device.PresentQueueIndex = queueInfo.PresentFamilyIndex
			context.Device.TransferQueueIndex = queueInfo.TransferFamilyIndex
			context.Device.SwapchainSupport = support
			context.Device.Properties = properties
			context.Device.Features = features
			context.Device.Memory = memory
			core.LogInfo("Physical device selected.")
			return nil
		}
		if !requirements.DiscreteGPU {
			break
		}
		core.LogInfo("No discrete GPU meets the requirements, retrying with any GPU.")
		requirements.DiscreteGPU = false
	}
	return fmt.Errorf("no physical devices were found which meet the requirements")
}

func logDeviceInfo(properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties) {
	core.LogInfo("Selected device: '%s'.", fixedString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}

	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version(properties.DriverVersion).Major(),
		vk.Version(properties.DriverVersion).Minor(),
		vk.Version(properties.DriverVersion).Patch(),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(properties.ApiVersion).Major(),
		vk.Version(properties.ApiVersion).Minor(),
		vk.Version(properties.ApiVersion).Patch(),
	)

	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memory.MemoryHeaps[j].Deref()
		sizeGiB := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", sizeGiB)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", sizeGiB)
		}
	}
}

func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements, outQueueInfo *VulkanPhysicalDeviceQueueFamilyInfo, outSwapchainSupport *VulkanSwapchainSupportInfo) bool {
	*outQueueInfo = VulkanPhysicalDeviceQueueFamilyInfo{
		GraphicsFamilyIndex: -1,
		PresentFamilyIndex:  -1,
		ComputeFamilyIndex:  -1,
		TransferFamilyIndex: -1,
	}
	name := fixedString(properties.DeviceName[:])

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device '%s' is not a discrete GPU, and one is required. Skipping.", name)
		return false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	// Prefer the transfer family with the fewest other capabilities, the
	// likeliest to be a dedicated transfer queue.
	minTransferScore := 255
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
		score := 0

		if flags&vk.QueueGraphicsBit != 0 {
			if outQueueInfo.GraphicsFamilyIndex < 0 {
				outQueueInfo.GraphicsFamilyIndex = int32(i)
			}
			score++
		}
		if flags&vk.QueueComputeBit != 0 {
			if outQueueInfo.ComputeFamilyIndex < 0 {
				outQueueInfo.ComputeFamilyIndex = int32(i)
			}
			score++
		}
		if flags&vk.QueueTransferBit != 0 && score <= minTransferScore {
			minTransferScore = score
			outQueueInfo.TransferFamilyIndex = int32(i)
		}

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return false
		}
		if supportsPresent == vk.True && (outQueueInfo.PresentFamilyIndex < 0 || int32(i) == outQueueInfo.GraphicsFamilyIndex) {
			outQueueInfo.PresentFamilyIndex = int32(i)
		}
	}

	core.LogDebug("Graphics | Present | Compute | Transfer | Name")
	core.LogDebug("%8d | %7d | %7d | %8d | %s",
		outQueueInfo.GraphicsFamilyIndex,
		outQueueInfo.PresentFamilyIndex,
		outQueueInfo.ComputeFamilyIndex,
		outQueueInfo.TransferFamilyIndex,
		name)

	if (requirements.Graphics && outQueueInfo.GraphicsFamilyIndex < 0) ||
		(requirements.Present && outQueueInfo.PresentFamilyIndex < 0) ||
		(requirements.Compute && outQueueInfo.ComputeFamilyIndex < 0) ||
		(requirements.Transfer && outQueueInfo.TransferFamilyIndex < 0) {
		core.LogInfo("Device '%s' does not meet the queue requirements, skipping.", name)
		return false
	}

	if err := DeviceQuerySwapchainSupport(device, surface, outSwapchainSupport); err != nil {
		core.LogWarn("Device '%s': %s", name, err)
		return false
	}
	if len(outSwapchainSupport.Formats) < 1 || len(outSwapchainSupport.PresentModes) < 1 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return false
	}

	available, err := deviceExtensions(device)
	if err != nil {
		core.LogWarn("Device '%s': %s", name, err)
		return false
	}
	for _, required := range requirements.DeviceExtensionNames {
		if _, ok := available[required]; !ok {
			core.LogInfo("Required extension not found: '%s', skipping device.", required)
			return false
		}
	}
	return true
}
