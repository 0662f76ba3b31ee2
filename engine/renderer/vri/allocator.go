package vri

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spaghettifunk/vri/engine/containers"
	"github.com/spaghettifunk/vri/engine/core"
)

// Reference is anything that names a tracked object.
type Reference interface {
	ID() containers.ID
}

// Ref is a non-owning, generation-checked reference to an object tracked by
// an Allocator. The zero Ref never resolves.
type Ref[T Object] struct {
	id containers.ID
}

func (r Ref[T]) ID() containers.ID { return r.id }

func (r Ref[T]) IsZero() bool { return r.id.IsZero() }

func (r Ref[T]) String() string { return r.id.String() }

// Allocator owns every object it hands out. Releasing an object queues its
// deletion on the current frame slot; the queue runs once the GPU finished
// with that slot (DrainSlot). Teardown destroys whatever is left in reverse
// allocation order.
type Allocator struct {
	mu       sync.Mutex
	device   ResourceDevice
	frames   *containers.FrameCounter
	tracked  *containers.Arena[Object]
	queues   []*containers.RingQueue[pendingDeletion]
	torndown bool
}

// pendingDeletion remembers the frame during which the object was released.
type pendingDeletion struct {
	Deletion
	frame uint64
}

const (
	deletionQueueSize = 64
	trackedCapacity   = 256
)

func NewAllocator(device ResourceDevice, frames *containers.FrameCounter) *Allocator {
	queues := make([]*containers.RingQueue[pendingDeletion], frames.Depth())
	for i := range queues {
		queues[i] = containers.NewRingQueue[pendingDeletion](deletionQueueSize)
	}
	return &Allocator{
		device:  device,
		frames:  frames,
		tracked: containers.NewArena[Object](trackedCapacity),
		queues:  queues,
	}
}

func (a *Allocator) Device() ResourceDevice { return a.device }

func track[T Object](a *Allocator, obj T) Ref[T] {
	h := obj.handle()
	if h.label == "" {
		h.label = fmt.Sprintf("%s-%s", h.kind, uuid.NewString())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.torndown {
		core.LogError("allocation of %s after allocator teardown, destroying it", h)
		h.Destroy()
		return Ref[T]{}
	}
	return Ref[T]{id: a.tracked.Insert(obj)}
}

func (a *Allocator) closed(op string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.torndown {
		core.LogError("%s: %s", op, core.ErrAllocatorClosed)
	}
	return a.torndown
}

func (a *Allocator) AllocateBuffer(desc BufferDesc) Ref[*Buffer] {
	if a.closed("AllocateBuffer") {
		return Ref[*Buffer]{}
	}
	return track(a, NewBuffer(a.device, desc))
}

func (a *Allocator) AllocateImage(desc ImageDesc) Ref[*Image] {
	if a.closed("AllocateImage") {
		return Ref[*Image]{}
	}
	return track(a, NewImage(a.device, desc))
}

func (a *Allocator) AllocateImageView(desc ImageViewDesc) Ref[*ImageView] {
	if a.closed("AllocateImageView") {
		return Ref[*ImageView]{}
	}
	return track(a, NewImageView(a.device, desc))
}

func (a *Allocator) AllocateSampler(desc SamplerDesc) Ref[*Sampler] {
	if a.closed("AllocateSampler") {
		return Ref[*Sampler]{}
	}
	return track(a, NewSampler(a.device, desc))
}

func (a *Allocator) AllocateShaderModule(code []byte, name string) Ref[*ShaderModule] {
	if a.closed("AllocateShaderModule") {
		return Ref[*ShaderModule]{}
	}
	return track(a, NewShaderModule(a.device, code, name))
}

func (a *Allocator) AllocateDescriptorSetLayout(bindings []DescriptorBinding, name string) Ref[*DescriptorSetLayout] {
	if a.closed("AllocateDescriptorSetLayout") {
		return Ref[*DescriptorSetLayout]{}
	}
	return track(a, NewDescriptorSetLayout(a.device, bindings, name))
}

func (a *Allocator) AllocateDescriptorPool(desc DescriptorPoolDesc) Ref[*DescriptorPool] {
	if a.closed("AllocateDescriptorPool") {
		return Ref[*DescriptorPool]{}
	}
	return track(a, NewDescriptorPool(a.device, desc))
}

func (a *Allocator) AllocateDescriptorSet(pool Ref[*DescriptorPool], layout Ref[*DescriptorSetLayout], name string) Ref[*DescriptorSet] {
	if a.closed("AllocateDescriptorSet") {
		return Ref[*DescriptorSet]{}
	}
	p, ok := Get(a, pool)
	if !ok {
		core.LogWarn("AllocateDescriptorSet: stale descriptor pool reference %s", pool)
		return Ref[*DescriptorSet]{}
	}
	l, ok := Get(a, layout)
	if !ok {
		core.LogWarn("AllocateDescriptorSet: stale descriptor set layout reference %s", layout)
		return Ref[*DescriptorSet]{}
	}
	return track(a, NewDescriptorSet(a.device, p, l, name))
}

func (a *Allocator) AllocatePipelineLayout(desc PipelineLayoutDesc) Ref[*PipelineLayout] {
	if a.closed("AllocatePipelineLayout") {
		return Ref[*PipelineLayout]{}
	}
	return track(a, NewPipelineLayout(a.device, desc))
}

func (a *Allocator) AllocateComputePipeline(desc ComputePipelineDesc) Ref[*Pipeline] {
	if a.closed("AllocateComputePipeline") {
		return Ref[*Pipeline]{}
	}
	return track(a, NewComputePipeline(a.device, desc))
}

func (a *Allocator) AllocateSemaphore(name string) Ref[*Semaphore] {
	if a.closed("AllocateSemaphore") {
		return Ref[*Semaphore]{}
	}
	return track(a, NewSemaphore(a.device, name))
}

func (a *Allocator) AllocateFence(signaled bool, name string) Ref[*Fence] {
	if a.closed("AllocateFence") {
		return Ref[*Fence]{}
	}
	return track(a, NewFence(a.device, signaled, name))
}

func (a *Allocator) AllocateCommandPool(queue QueueKind, name string) Ref[*CommandPool] {
	if a.closed("AllocateCommandPool") {
		return Ref[*CommandPool]{}
	}
	return track(a, NewCommandPool(a.device, queue, name))
}

func (a *Allocator) AllocateCommandBuffer(pool Ref[*CommandPool], name string) Ref[*CommandBuffer] {
	if a.closed("AllocateCommandBuffer") {
		return Ref[*CommandBuffer]{}
	}
	p, ok := Get(a, pool)
	if !ok {
		core.LogWarn("AllocateCommandBuffer: stale command pool reference %s", pool)
		return Ref[*CommandBuffer]{}
	}
	return track(a, NewCommandBuffer(a.device, p, name))
}

// Adopt takes ownership of an externally created handle. The caller's
// handle is left inert.
func (a *Allocator) Adopt(h *Handle) Ref[*Handle] {
	if h == nil || h.Destroyed() {
		core.LogWarn("Adopt: handle is nil or no longer owns a native object")
		return Ref[*Handle]{}
	}
	return track(a, h.Move())
}

// Get resolves ref to the live object it names.
func Get[T Object](a *Allocator, ref Ref[T]) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	obj, ok := a.tracked.Get(ref.id)
	if !ok {
		return zero, false
	}
	t, ok := obj.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// MustGet resolves ref and aborts the process if it is stale.
func MustGet[T Object](a *Allocator, ref Ref[T]) T {
	t, ok := Get(a, ref)
	if !ok {
		core.LogFatal("reference %s does not resolve to a live object", ref)
	}
	return t
}

// Contains reports whether ref still names a tracked object.
func (a *Allocator) Contains(ref Reference) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracked.Contains(ref.ID())
}

// Release removes the object from the tracked set and queues its deletion
// on the current frame slot. It never destroys synchronously.
func (a *Allocator) Release(ref Reference) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.untrack("Release", ref)
	if !ok {
		return false
	}
	a.queues[a.frames.Index()].Enqueue(pendingDeletion{
		Deletion: obj.handle().surrender(),
		frame:    a.frames.Number(),
	})
	return true
}

// ReleaseImmediate removes the object and destroys it right away. Only
// safe once the GPU no longer uses it (e.g. after WaitIdle).
func (a *Allocator) ReleaseImmediate(ref Reference) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.untrack("ReleaseImmediate", ref)
	if !ok {
		return false
	}
	obj.handle().Destroy()
	return true
}

func (a *Allocator) untrack(op string, ref Reference) (Object, bool) {
	if a.torndown {
		core.LogWarn("%s of %s after allocator teardown ignored", op, ref.ID())
		return nil, false
	}
	obj, ok := a.tracked.Remove(ref.ID())
	if !ok {
		core.LogWarn("%s of stale reference %s ignored", op, ref.ID())
		return nil, false
	}
	return obj, true
}

// DrainSlot runs the deletions queued on slot in FIFO order and returns how
// many native objects were destroyed. The caller guarantees the GPU
// finished the work last submitted from that slot. Deletions released
// during the current frame stay queued: the frame they may be used by was
// not submitted yet.
func (a *Allocator) DrainSlot(slot int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot < 0 || slot >= len(a.queues) {
		core.LogWarn("DrainSlot: slot %d out of range [0, %d)", slot, len(a.queues))
		return 0
	}
	current := a.frames.Number()
	destroyed := 0
	q := a.queues[slot]
	q.Drain(func(p pendingDeletion) {
		if p.frame >= current {
			q.Enqueue(p)
			return
		}
		a.device.Destroy(p.Deletion)
		destroyed++
	})
	return destroyed
}

func (a *Allocator) drainAll(slot int) int {
	return a.queues[slot].Drain(func(p pendingDeletion) {
		a.device.Destroy(p.Deletion)
	})
}

// Teardown drains every slot and then destroys the remaining tracked
// objects, newest first. Only call it once the device is idle.
func (a *Allocator) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.torndown {
		return
	}
	drained := 0
	for slot := range a.queues {
		drained += a.drainAll(slot)
	}
	remaining := a.tracked.Len()
	a.tracked.RemoveAllReverse(func(_ containers.ID, obj Object) {
		obj.handle().Destroy()
	})
	a.torndown = true
	core.LogDebug("allocator torn down: %d queued deletions, %d live objects destroyed", drained, remaining)
}

// Len is the number of live tracked objects.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracked.Len()
}

// Pending is the number of deletions queued on slot.
func (a *Allocator) Pending(slot int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot < 0 || slot >= len(a.queues) {
		return 0
	}
	return a.queues[slot].Len()
}

func (a *Allocator) Torndown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.torndown
}
