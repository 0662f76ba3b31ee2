package vri

import (
	"fmt"

	"github.com/spaghettifunk/vri/engine/core"
)

// noCopy may be embedded into structs which must not be copied after first
// use. go vet's copylocks check reports copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle owns exactly one native object. Destroy issues the native destroy
// once; Move hands ownership to a fresh Handle and leaves the source inert.
// A Handle with no device is borrowed (swapchain images) and never destroys
// anything.
type Handle struct {
	noCopy noCopy

	device    ResourceDevice
	kind      ResourceKind
	native    Native
	parent    Native
	label     string
	destroyed bool
}

// Object is implemented by every typed wrapper embedding a Handle.
type Object interface {
	handle() *Handle
}

// NewHandle wraps a native object that was created outside this package so
// that it can be adopted by an Allocator.
func NewHandle(device ResourceDevice, kind ResourceKind, native, parent Native, label string) *Handle {
	h := &Handle{}
	h.init(device, kind, native, parent, label)
	return h
}

func (h *Handle) init(device ResourceDevice, kind ResourceKind, native, parent Native, label string) {
	h.device = device
	h.kind = kind
	h.native = native
	h.parent = parent
	h.label = label
	h.destroyed = false
}

func (h *Handle) handle() *Handle { return h }

func (h *Handle) Kind() ResourceKind { return h.kind }

// Native returns the native handle, or NullHandle once the handle was
// destroyed, moved or released.
func (h *Handle) Native() Native { return h.native }

func (h *Handle) Parent() Native { return h.parent }

func (h *Handle) Label() string { return h.label }

func (h *Handle) Destroyed() bool { return h.destroyed }

func (h *Handle) String() string {
	return fmt.Sprintf("%s(%s %#x)", h.kind, h.label, uint64(h.native))
}

// Deletion describes the destruction this handle would perform.
func (h *Handle) Deletion() Deletion {
	return Deletion{Kind: h.kind, Native: h.native, Parent: h.parent}
}

// Destroy releases the native object. Calling it again is a no-op.
func (h *Handle) Destroy() {
	if h.destroyed {
		return
	}
	h.destroyed = true
	if h.device != nil && h.native != NullHandle {
		h.device.Destroy(h.Deletion())
	}
	h.native = NullHandle
	h.parent = NullHandle
}

// Move transfers ownership of the native object into a new Handle.
func (h *Handle) Move() *Handle {
	moved := &Handle{}
	moved.init(h.device, h.kind, h.native, h.parent, h.label)
	moved.destroyed = h.destroyed
	h.forget()
	return moved
}

// surrender gives the native object up to a deletion queue.
func (h *Handle) surrender() Deletion {
	d := h.Deletion()
	h.forget()
	return d
}

func (h *Handle) forget() {
	h.destroyed = true
	h.native = NullHandle
	h.parent = NullHandle
}

func createFailed(kind ResourceKind, label string, err error) {
	core.LogFatal("failed to create %s %q: %s", kind, label, err)
}

type Buffer struct {
	Handle
	size   uint64
	usage  BufferUsage
	memory MemoryLocation
}

func NewBuffer(device ResourceDevice, desc BufferDesc) *Buffer {
	native, err := device.CreateBuffer(desc)
	if err != nil {
		createFailed(KindBuffer, desc.Name, err)
		return nil
	}
	b := &Buffer{size: desc.Size, usage: desc.Usage, memory: desc.Memory}
	b.init(device, KindBuffer, native, NullHandle, desc.Name)
	return b
}

func (b *Buffer) Size() uint64 { return b.size }

func (b *Buffer) Usage() BufferUsage { return b.usage }

func (b *Buffer) Memory() MemoryLocation { return b.memory }

// Write copies data into a host-visible buffer at offset.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.memory != MemoryHostVisible {
		return fmt.Errorf("%s: %w", b.label, core.ErrNotHostVisible)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%s: %d bytes at offset %d: %w", b.label, len(data), offset, core.ErrOutOfRange)
	}
	if b.destroyed {
		return fmt.Errorf("%s: %w", b.label, core.ErrStaleReference)
	}
	return b.device.WriteBuffer(b.native, offset, data)
}

// Image tracks the layout its contents are currently in. The layout is
// advanced by Commands.TransitionImage and reset to LayoutUndefined when the
// recording that transitioned it ends.
type Image struct {
	Handle
	extent    Extent2D
	format    Format
	mipLevels uint32
	usage     ImageUsage
	layout    Layout
}

func NewImage(device ResourceDevice, desc ImageDesc) *Image {
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	native, err := device.CreateImage(desc)
	if err != nil {
		createFailed(KindImage, desc.Name, err)
		return nil
	}
	img := &Image{
		extent:    desc.Extent,
		format:    desc.Format,
		mipLevels: desc.MipLevels,
		usage:     desc.Usage,
		layout:    LayoutUndefined,
	}
	img.init(device, KindImage, native, NullHandle, desc.Name)
	return img
}

// newSwapchainImage wraps an image owned by a swapchain.
func newSwapchainImage(native Native, format Format, extent Extent2D, label string) *Image {
	img := &Image{
		extent:    extent,
		format:    format,
		mipLevels: 1,
		usage:     ImageUsageColorAttachment | ImageUsageTransferDst,
		layout:    LayoutUndefined,
	}
	img.init(nil, KindImage, native, NullHandle, label)
	return img
}

func (i *Image) Extent() Extent2D { return i.extent }

func (i *Image) Format() Format { return i.format }

func (i *Image) MipLevels() uint32 { return i.mipLevels }

func (i *Image) Usage() ImageUsage { return i.usage }

func (i *Image) Layout() Layout { return i.layout }

type ImageView struct {
	Handle
	image  Native
	format Format
}

func NewImageView(device ResourceDevice, desc ImageViewDesc) *ImageView {
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	native, err := device.CreateImageView(desc)
	if err != nil {
		createFailed(KindImageView, desc.Name, err)
		return nil
	}
	v := &ImageView{image: desc.Image, format: desc.Format}
	v.init(device, KindImageView, native, NullHandle, desc.Name)
	return v
}

// Image returns the native image the view looks at.
func (v *ImageView) Image() Native { return v.image }

func (v *ImageView) Format() Format { return v.format }

type Sampler struct {
	Handle
}

func NewSampler(device ResourceDevice, desc SamplerDesc) *Sampler {
	native, err := device.CreateSampler(desc)
	if err != nil {
		createFailed(KindSampler, desc.Name, err)
		return nil
	}
	s := &Sampler{}
	s.init(device, KindSampler, native, NullHandle, desc.Name)
	return s
}

type ShaderModule struct {
	Handle
}

func NewShaderModule(device ResourceDevice, code []byte, name string) *ShaderModule {
	native, err := device.CreateShaderModule(code)
	if err != nil {
		createFailed(KindShaderModule, name, err)
		return nil
	}
	m := &ShaderModule{}
	m.init(device, KindShaderModule, native, NullHandle, name)
	return m
}

type DescriptorSetLayout struct {
	Handle
	bindings []DescriptorBinding
}

func NewDescriptorSetLayout(device ResourceDevice, bindings []DescriptorBinding, name string) *DescriptorSetLayout {
	native, err := device.CreateDescriptorSetLayout(bindings)
	if err != nil {
		createFailed(KindDescriptorSetLayout, name, err)
		return nil
	}
	l := &DescriptorSetLayout{bindings: append([]DescriptorBinding(nil), bindings...)}
	l.init(device, KindDescriptorSetLayout, native, NullHandle, name)
	return l
}

func (l *DescriptorSetLayout) Bindings() []DescriptorBinding { return l.bindings }

type DescriptorPool struct {
	Handle
	maxSets uint32
}

func NewDescriptorPool(device ResourceDevice, desc DescriptorPoolDesc) *DescriptorPool {
	native, err := device.CreateDescriptorPool(desc)
	if err != nil {
		createFailed(KindDescriptorPool, desc.Name, err)
		return nil
	}
	p := &DescriptorPool{maxSets: desc.MaxSets}
	p.init(device, KindDescriptorPool, native, NullHandle, desc.Name)
	return p
}

func (p *DescriptorPool) MaxSets() uint32 { return p.maxSets }

// DescriptorSet is freed back into the pool it was allocated from.
type DescriptorSet struct {
	Handle
}

func NewDescriptorSet(device ResourceDevice, pool *DescriptorPool, layout *DescriptorSetLayout, name string) *DescriptorSet {
	native, err := device.AllocateDescriptorSet(pool.Native(), layout.Native())
	if err != nil {
		createFailed(KindDescriptorSet, name, err)
		return nil
	}
	s := &DescriptorSet{}
	s.init(device, KindDescriptorSet, native, pool.Native(), name)
	return s
}

type PipelineLayout struct {
	Handle
}

func NewPipelineLayout(device ResourceDevice, desc PipelineLayoutDesc) *PipelineLayout {
	native, err := device.CreatePipelineLayout(desc)
	if err != nil {
		createFailed(KindPipelineLayout, desc.Name, err)
		return nil
	}
	l := &PipelineLayout{}
	l.init(device, KindPipelineLayout, native, NullHandle, desc.Name)
	return l
}

type Pipeline struct {
	Handle
	bindPoint BindPoint
	layout    Native
}

func NewComputePipeline(device ResourceDevice, desc ComputePipelineDesc) *Pipeline {
	if desc.EntryPoint == "" {
		desc.EntryPoint = "main"
	}
	native, err := device.CreateComputePipeline(desc)
	if err != nil {
		createFailed(KindPipeline, desc.Name, err)
		return nil
	}
	p := &Pipeline{bindPoint: BindPointCompute, layout: desc.Layout}
	p.init(device, KindPipeline, native, NullHandle, desc.Name)
	return p
}

func (p *Pipeline) BindPoint() BindPoint { return p.bindPoint }

// Layout returns the native pipeline layout the pipeline was built with.
func (p *Pipeline) Layout() Native { return p.layout }

type Semaphore struct {
	Handle
}

func NewSemaphore(device ResourceDevice, name string) *Semaphore {
	native, err := device.CreateSemaphore()
	if err != nil {
		createFailed(KindSemaphore, name, err)
		return nil
	}
	s := &Semaphore{}
	s.init(device, KindSemaphore, native, NullHandle, name)
	return s
}

type Fence struct {
	Handle
}

func NewFence(device ResourceDevice, signaled bool, name string) *Fence {
	native, err := device.CreateFence(signaled)
	if err != nil {
		createFailed(KindFence, name, err)
		return nil
	}
	f := &Fence{}
	f.init(device, KindFence, native, NullHandle, name)
	return f
}

type CommandPool struct {
	Handle
	queue QueueKind
}

func NewCommandPool(device ResourceDevice, queue QueueKind, name string) *CommandPool {
	native, err := device.CreateCommandPool(queue)
	if err != nil {
		createFailed(KindCommandPool, name, err)
		return nil
	}
	p := &CommandPool{queue: queue}
	p.init(device, KindCommandPool, native, NullHandle, name)
	return p
}

func (p *CommandPool) Queue() QueueKind { return p.queue }

// CommandBuffer is freed back into its pool.
type CommandBuffer struct {
	Handle
}

func NewCommandBuffer(device ResourceDevice, pool *CommandPool, name string) *CommandBuffer {
	native, err := device.AllocateCommandBuffer(pool.Native())
	if err != nil {
		createFailed(KindCommandBuffer, name, err)
		return nil
	}
	cb := &CommandBuffer{}
	cb.init(device, KindCommandBuffer, native, pool.Native(), name)
	return cb
}
