package vulkan

import (
	"sort"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

// vulkanObject is one live native object handed out as a vri.Native.
type vulkanObject struct {
	kind   vri.ResourceKind
	handle interface{}

	// device memory bound to buffers and images
	memory vk.DeviceMemory
	size   uint64
	host   bool

	// images; borrowed images belong to a swapchain
	borrowed bool
	format   vk.Format
	aspect   vk.ImageAspectFlags
	mips     uint32
	extent   vk.Extent2D

	// command pools and command buffers
	queue vri.QueueKind

	// swapchains own their images
	images []vri.Native
}

// objectRegistry maps the opaque natives handed to the core onto the
// goki/vulkan handles behind them. Natives are never reused.
type objectRegistry struct {
	mu      sync.RWMutex
	next    vri.Native
	objects map[vri.Native]*vulkanObject
}

func newObjectRegistry() *objectRegistry {
	return &objectRegistry{
		objects: make(map[vri.Native]*vulkanObject),
	}
}

func (r *objectRegistry) add(obj *vulkanObject) vri.Native {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.objects[r.next] = obj
	return r.next
}

func (r *objectRegistry) get(n vri.Native) (*vulkanObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[n]
	return obj, ok
}

func (r *objectRegistry) remove(n vri.Native) (*vulkanObject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[n]
	if ok {
		delete(r.objects, n)
	}
	return obj, ok
}

// natives lists the live natives of one kind, oldest first.
func (r *objectRegistry) natives(kind vri.ResourceKind) []vri.Native {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []vri.Native
	for n, obj := range r.objects {
		if obj.kind == kind {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *objectRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// lookup resolves n to its goki/vulkan handle. A missing or mistyped
// native yields the zero handle, which the validation layers report.
func lookup[T any](r *objectRegistry, n vri.Native) T {
	var zero T
	obj, ok := r.get(n)
	if !ok {
		return zero
	}
	h, ok := obj.handle.(T)
	if !ok {
		return zero
	}
	return h
}

func lookupAll[T any](r *objectRegistry, natives []vri.Native) []T {
	out := make([]T, len(natives))
	for i, n := range natives {
		out[i] = lookup[T](r, n)
	}
	return out
}
