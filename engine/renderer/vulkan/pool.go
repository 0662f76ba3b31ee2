package vulkan

import "sync"

type LockGroup string

// Vulkan requires external synchronization for pools and queues. Each group
// serializes the calls that touch one kind of externally synchronized object.
const (
	ResourceManagement        LockGroup = "resource_management"
	CommandPoolManagement     LockGroup = "command_pool_management"
	DescriptorPoolManagement  LockGroup = "descriptor_pool_management"
	MemoryManagement          LockGroup = "memory_management"
	SynchronizationManagement LockGroup = "synchronization_management"
	SwapchainManagement       LockGroup = "swapchain_management"
)

// VulkanLockPool hands out one mutex per lock group and one per queue family.
type VulkanLockPool struct {
	mu           sync.Mutex
	locks        map[LockGroup]*sync.Mutex
	queueMutexes map[uint32]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) groupLock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.groupLock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// SetQueueFamily registers a queue family. Families sharing an index share
// the mutex, which matches them sharing the VkQueue.
func (vs *VulkanLockPool) SetQueueFamily(index uint32) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if _, exists := vs.queueMutexes[index]; !exists {
		vs.queueMutexes[index] = &sync.Mutex{}
	}
}

func (vs *VulkanLockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	vs.mu.Lock()
	l, ok := vs.queueMutexes[queueFamilyIndex]
	if !ok {
		l = &sync.Mutex{}
		vs.queueMutexes[queueFamilyIndex] = l
	}
	vs.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}
