package vulkan

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// Window is the part of the platform window the driver needs: the instance
// extensions it requires and a way to create a presentation surface.
type Window interface {
	RequiredInstanceExtensions() []string
	CreateSurface(instance interface{}) (uintptr, error)
}

type Config struct {
	ApplicationName string
	Validation      bool
}

// Device implements vri.Device on top of goki/vulkan. Every native handed
// to the core is an id in the object registry.
type Device struct {
	context *VulkanContext
	objects *objectRegistry
	locks   *VulkanLockPool

	surface    vri.Native
	validation bool
	closed     bool
}

var _ vri.Device = (*Device)(nil)

func New(cfg Config, window Window) (*Device, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, errors.New("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize vk: %w", err)
	}

	d := &Device{
		context:    &VulkanContext{},
		objects:    newObjectRegistry(),
		locks:      NewVulkanLockPool(),
		validation: cfg.Validation,
	}

	if err := d.createInstance(cfg.ApplicationName, window.RequiredInstanceExtensions()); err != nil {
		return nil, err
	}

	if d.validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(d.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			d.context.debugMessenger = dbg
			core.LogDebug("Vulkan debugger created.")
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surfPtr, err := window.CreateSurface(d.context.Instance)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create platform surface: %w", err)
	}
	d.context.Surface = vk.SurfaceFromPointer(surfPtr)
	d.surface = d.objects.add(&vulkanObject{kind: vri.KindUnknown, handle: d.context.Surface})
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(d.context); err != nil {
		d.Close()
		return nil, err
	}
	for _, kind := range []vri.QueueKind{vri.QueueGraphics, vri.QueuePresent, vri.QueueTransfer} {
		_, family := d.context.Device.queue(kind)
		d.locks.SetQueueFamily(family)
	}

	core.LogInfo("Vulkan device initialized successfully.")
	return d, nil
}

func (d *Device) createInstance(appName string, windowExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("VRI"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	extensions := append([]string{"VK_KHR_surface"}, windowExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if d.validation {
		ok, err := layerAvailable(validationLayer)
		if err != nil {
			return err
		}
		if ok {
			layers = append(layers, validationLayer)
			extensions = append(extensions, vk.ExtDebugReportExtensionName)
		} else {
			core.LogWarn("Validation requested but %s is missing, continuing without it.", validationLayer)
			d.validation = false
		}
	}
	core.LogDebug("Required extensions: %v", extensions)

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if err := resultError("vkCreateInstance", vk.CreateInstance(&createInfo, d.context.Allocator, &instance)); err != nil {
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		return err
	}
	d.context.Instance = instance
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func layerAvailable(name string) (bool, error) {
	var count uint32
	if err := resultError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return false, err
	}
	available := make([]vk.LayerProperties, count)
	if err := resultError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return false, err
	}
	for i := range available {
		available[i].Deref()
		if fixedString(available[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func (d *Device) logical() vk.Device {
	return d.context.Device.LogicalDevice
}

// Surface is the native the swapchain is created for.
func (d *Device) Surface() vri.Native {
	return d.surface
}

// WaitIdle blocks until every queue is idle. Queue mutexes are held so no
// submit or present races the wait.
func (d *Device) WaitIdle() error {
	families := map[uint32]struct{}{}
	for _, kind := range []vri.QueueKind{vri.QueueGraphics, vri.QueuePresent, vri.QueueTransfer} {
		_, family := d.context.Device.queue(kind)
		families[family] = struct{}{}
	}
	wait := func() error {
		return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.logical()))
	}
	for family := range families {
		next, f := wait, family
		wait = func() error { return d.locks.SafeQueueCall(f, next) }
	}
	return wait()
}

// Destroy issues the native destroy or free call for one object. Natives
// the registry does not know are reported and ignored.
func (d *Device) Destroy(del vri.Deletion) {
	obj, ok := d.objects.remove(del.Native)
	if !ok {
		core.LogWarn("vulkan destroy: unknown %s native %d", del.Kind, del.Native)
		return
	}
	if obj.kind != del.Kind {
		core.LogWarn("vulkan destroy: native %d is a %s, not a %s", del.Native, obj.kind, del.Kind)
	}
	d.destroyObject(obj, del.Parent)
}

func (d *Device) destroyObject(obj *vulkanObject, parent vri.Native) {
	device := d.logical()
	allocator := d.context.Allocator

	switch h := obj.handle.(type) {
	case vk.Buffer:
		d.locks.SafeCall(MemoryManagement, func() error {
			vk.DestroyBuffer(device, h, allocator)
			vk.FreeMemory(device, obj.memory, allocator)
			return nil
		})
	case vk.Image:
		if obj.borrowed {
			return
		}
		d.locks.SafeCall(MemoryManagement, func() error {
			vk.DestroyImage(device, h, allocator)
			vk.FreeMemory(device, obj.memory, allocator)
			return nil
		})
	case vk.ImageView:
		vk.DestroyImageView(device, h, allocator)
	case vk.Sampler:
		vk.DestroySampler(device, h, allocator)
	case vk.ShaderModule:
		vk.DestroyShaderModule(device, h, allocator)
	case vk.DescriptorSetLayout:
		vk.DestroyDescriptorSetLayout(device, h, allocator)
	case vk.DescriptorPool:
		d.locks.SafeCall(DescriptorPoolManagement, func() error {
			vk.DestroyDescriptorPool(device, h, allocator)
			return nil
		})
	case vk.DescriptorSet:
		pool := lookup[vk.DescriptorPool](d.objects, parent)
		if pool == nil {
			// freed together with its pool
			return
		}
		d.locks.SafeCall(DescriptorPoolManagement, func() error {
			return resultError("vkFreeDescriptorSets", vk.FreeDescriptorSets(device, pool, 1, &h))
		})
	case vk.PipelineLayout:
		vk.DestroyPipelineLayout(device, h, allocator)
	case vk.Pipeline:
		vk.DestroyPipeline(device, h, allocator)
	case vk.Semaphore:
		vk.DestroySemaphore(device, h, allocator)
	case vk.Fence:
		vk.DestroyFence(device, h, allocator)
	case vk.CommandPool:
		d.locks.SafeCall(CommandPoolManagement, func() error {
			vk.DestroyCommandPool(device, h, allocator)
			return nil
		})
	case vk.CommandBuffer:
		pool := lookup[vk.CommandPool](d.objects, parent)
		if pool == nil {
			return
		}
		d.locks.SafeCall(CommandPoolManagement, func() error {
			vk.FreeCommandBuffers(device, pool, 1, []vk.CommandBuffer{h})
			return nil
		})
	case vk.Swapchain:
		for _, image := range obj.images {
			d.objects.remove(image)
		}
		d.locks.SafeCall(SwapchainManagement, func() error {
			vk.DestroySwapchain(device, h, allocator)
			return nil
		})
	default:
		core.LogWarn("vulkan destroy: unhandled %s object", obj.kind)
	}
}

// closeOrder destroys dependents before what they depend on.
var closeOrder = []vri.ResourceKind{
	vri.KindPipeline,
	vri.KindPipelineLayout,
	vri.KindDescriptorSetLayout,
	vri.KindDescriptorPool,
	vri.KindShaderModule,
	vri.KindSampler,
	vri.KindImageView,
	vri.KindSwapchain,
	vri.KindImage,
	vri.KindBuffer,
	vri.KindCommandPool,
	vri.KindFence,
	vri.KindSemaphore,
}

// Close destroys whatever the core left alive, then the device, the surface
// and the instance, in the opposite order of creation.
func (d *Device) Close() {
	if d.closed {
		return
	}
	d.closed = true

	if d.context.Device != nil && d.context.Device.LogicalDevice != nil {
		if err := d.WaitIdle(); err != nil {
			core.LogError("vulkan close: %s", err)
		}
		leaked := 0
		for _, kind := range closeOrder {
			for _, n := range d.objects.natives(kind) {
				obj, _ := d.objects.remove(n)
				if obj == nil {
					continue
				}
				if !obj.borrowed {
					leaked++
				}
				d.destroyObject(obj, vri.NullHandle)
			}
		}
		if leaked > 0 {
			core.LogWarn("vulkan close: destroyed %d objects still alive", leaked)
		}

		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(d.context)
	}

	if d.context.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		d.objects.remove(d.surface)
		vk.DestroySurface(d.context.Instance, d.context.Surface, d.context.Allocator)
		d.context.Surface = vk.NullSurface
	}

	if d.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(d.context.Instance, d.context.debugMessenger, d.context.Allocator)
		d.context.debugMessenger = vk.NullDebugReportCallback
	}

	if d.context.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(d.context.Instance, d.context.Allocator)
		d.context.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
