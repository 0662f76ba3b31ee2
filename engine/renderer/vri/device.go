// Package vri manages the lifetime of GPU objects and the frame loop that
// uses them. Every native call goes through a Device passed in explicitly.
//
// Objects handed out by the Allocator are destroyed by their owner slot:
// Release queues the deletion on the current frame slot and DrainSlot runs
// the queue once the slot's fence was waited on. A deletion released during
// the frame that is still being recorded is not run by that DrainSlot; it
// stays queued until the slot comes around again, because the recording may
// still reference the object. Teardown runs everything regardless.
package vri

import (
	"fmt"
	"time"
)

// Native is an opaque native object handle as handed out by the driver.
// Vulkan non-dispatchable handles are 64-bit on every platform, so every
// kind fits.
type Native uint64

// NullHandle is the "no object" native handle.
const NullHandle Native = 0

// ResourceKind identifies the native object type behind a Native.
type ResourceKind uint8

const (
	KindUnknown ResourceKind = iota
	KindBuffer
	KindImage
	KindImageView
	KindSampler
	KindShaderModule
	KindDescriptorSetLayout
	KindDescriptorPool
	KindDescriptorSet
	KindPipelineLayout
	KindPipeline
	KindSemaphore
	KindFence
	KindCommandPool
	KindCommandBuffer
	KindSwapchain
)

var kindNames = [...]string{
	KindUnknown:             "unknown",
	KindBuffer:              "buffer",
	KindImage:               "image",
	KindImageView:           "image_view",
	KindSampler:             "sampler",
	KindShaderModule:        "shader_module",
	KindDescriptorSetLayout: "descriptor_set_layout",
	KindDescriptorPool:      "descriptor_pool",
	KindDescriptorSet:       "descriptor_set",
	KindPipelineLayout:      "pipeline_layout",
	KindPipeline:            "pipeline",
	KindSemaphore:           "semaphore",
	KindFence:               "fence",
	KindCommandPool:         "command_pool",
	KindCommandBuffer:       "command_buffer",
	KindSwapchain:           "swapchain",
}

func (k ResourceKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Deletion is a queued destruction: which kind of object, its native handle
// and, for objects freed back into a pool (descriptor sets, command
// buffers), the owning pool.
type Deletion struct {
	Kind   ResourceKind
	Native Native
	Parent Native
}

// Status is the outcome of a driver call that has non-error results besides
// plain success.
type Status int

const (
	StatusSuccess Status = iota
	StatusSuboptimal
	StatusOutOfDate
	StatusTimeout
	StatusNotReady
	StatusDeviceLost
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out_of_date"
	case StatusTimeout:
		return "timeout"
	case StatusNotReady:
		return "not_ready"
	case StatusDeviceLost:
		return "device_lost"
	default:
		return "failed"
	}
}

// NeedsRecreate reports whether the presentation engine asked for a new
// swapchain.
func (s Status) NeedsRecreate() bool {
	return s == StatusSuboptimal || s == StatusOutOfDate
}

type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutColorAttachment:
		return "color_attachment"
	case LayoutDepthStencilAttachment:
		return "depth_stencil_attachment"
	case LayoutShaderReadOnly:
		return "shader_read_only"
	case LayoutTransferSrc:
		return "transfer_src"
	case LayoutTransferDst:
		return "transfer_dst"
	case LayoutPresentSrc:
		return "present_src"
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

type Format int

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatRGBA16Sfloat
	FormatRGBA32Sfloat
	FormatD32Sfloat
	FormatD24UnormS8Uint
)

// IsDepth reports whether the format carries depth data.
func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD24UnormS8Uint
}

type Extent2D struct {
	Width  uint32
	Height uint32
}

// IsZero reports whether either dimension is zero (e.g. a minimized window).
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
)

type MemoryLocation int

const (
	MemoryDeviceLocal MemoryLocation = iota
	MemoryHostVisible
)

type BufferDesc struct {
	Size   uint64
	Usage  BufferUsage
	Memory MemoryLocation
	Name   string
}

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

type ImageDesc struct {
	Extent    Extent2D
	Format    Format
	MipLevels uint32
	Usage     ImageUsage
	Name      string
}

type ImageViewDesc struct {
	Image     Native
	Format    Format
	MipLevels uint32
	Name      string
}

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

type AddressMode int

const (
	AddressRepeat AddressMode = iota
	AddressMirroredRepeat
	AddressClampToEdge
)

type SamplerDesc struct {
	MinFilter     Filter
	MagFilter     Filter
	AddressMode   AddressMode
	MaxAnisotropy float32
	Name          string
}

type DescriptorType int

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	DescriptorCombinedImageSampler
	DescriptorStorageImage
)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
)

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorPoolDesc struct {
	MaxSets uint32
	Sizes   []DescriptorPoolSize
	Name    string
}

type PipelineLayoutDesc struct {
	SetLayouts       []Native
	PushConstantSize uint32
	Name             string
}

type ComputePipelineDesc struct {
	Module     Native
	Layout     Native
	EntryPoint string
	Name       string
}

type BindPoint int

const (
	BindPointGraphics BindPoint = iota
	BindPointCompute
)

type QueueKind int

const (
	QueueGraphics QueueKind = iota
	QueuePresent
	QueueTransfer
)

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageTransfer
	StageComputeShader
	StageColorAttachmentOutput
	StageAllCommands
	StageBottomOfPipe
)

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type BufferImageCopy struct {
	BufferOffset uint64
	MipLevel     uint32
	Extent       Extent2D
}

type ImageBlit struct {
	SrcMipLevel uint32
	SrcExtent   Extent2D
	DstMipLevel uint32
	DstExtent   Extent2D
}

type ClearColor [4]float32

// ImageBarrier is a full memory barrier paired with a layout transition of
// every mip level of one image.
type ImageBarrier struct {
	Image     Native
	Format    Format
	MipLevels uint32
	OldLayout Layout
	NewLayout Layout
}

type PresentMode int

const (
	PresentModeFifo PresentMode = iota
	PresentModeMailbox
	PresentModeImmediate
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeFifo:
		return "fifo"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeImmediate:
		return "immediate"
	}
	return fmt.Sprintf("present_mode(%d)", int(m))
}

type SwapchainDesc struct {
	Surface       Native
	Extent        Extent2D
	VSync         bool
	MinImageCount uint32
}

// SwapchainInfo describes a freshly created swapchain. Images are owned by
// the swapchain and die with it.
type SwapchainInfo struct {
	Handle      Native
	Images      []Native
	Format      Format
	Extent      Extent2D
	PresentMode PresentMode
}

type Submission struct {
	Queue            QueueKind
	CommandBuffers   []Native
	WaitSemaphores   []Native
	WaitStages       []PipelineStage
	SignalSemaphores []Native
	Fence            Native
}

type Presentation struct {
	Queue          QueueKind
	Swapchain      Native
	ImageIndex     uint32
	WaitSemaphores []Native
}

// ResourceDevice creates native objects and destroys them again. A failed
// create returns an error; callers treat it as fatal.
type ResourceDevice interface {
	CreateBuffer(desc BufferDesc) (Native, error)
	WriteBuffer(buffer Native, offset uint64, data []byte) error
	CreateImage(desc ImageDesc) (Native, error)
	CreateImageView(desc ImageViewDesc) (Native, error)
	CreateSampler(desc SamplerDesc) (Native, error)
	CreateShaderModule(code []byte) (Native, error)
	CreateDescriptorSetLayout(bindings []DescriptorBinding) (Native, error)
	CreateDescriptorPool(desc DescriptorPoolDesc) (Native, error)
	AllocateDescriptorSet(pool, layout Native) (Native, error)
	CreatePipelineLayout(desc PipelineLayoutDesc) (Native, error)
	CreateComputePipeline(desc ComputePipelineDesc) (Native, error)
	CreateSemaphore() (Native, error)
	CreateFence(signaled bool) (Native, error)
	CreateCommandPool(queue QueueKind) (Native, error)
	AllocateCommandBuffer(pool Native) (Native, error)
	// Destroy issues the single native destroy (or free) call for d.
	Destroy(d Deletion)
}

// SyncDevice exposes CPU-side waits on GPU progress.
type SyncDevice interface {
	WaitForFence(fence Native, timeout time.Duration) Status
	ResetFence(fence Native) error
	WaitIdle() error
}

// PresentDevice drives the swapchain and the queues.
type PresentDevice interface {
	CreateSwapchain(desc SwapchainDesc, old Native) (SwapchainInfo, error)
	AcquireNextImage(swapchain, semaphore Native, timeout time.Duration) (uint32, Status)
	Submit(s Submission) error
	Present(p Presentation) Status
}

// CommandEncoder records into native command buffers.
type CommandEncoder interface {
	ResetCommandPool(pool Native) error
	ResetCommandBuffer(cb Native) error
	BeginCommandBuffer(cb Native, oneTimeSubmit bool) error
	EndCommandBuffer(cb Native) error
	CmdBindPipeline(cb Native, point BindPoint, pipeline Native)
	CmdBindDescriptorSets(cb Native, point BindPoint, layout Native, firstSet uint32, sets []Native)
	CmdDraw(cb Native, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cb Native, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CmdDispatch(cb Native, x, y, z uint32)
	CmdCopyBuffer(cb Native, src, dst Native, regions []BufferCopy)
	CmdCopyBufferToImage(cb Native, src, dst Native, dstLayout Layout, regions []BufferImageCopy)
	CmdBlitImage(cb Native, src Native, srcLayout Layout, dst Native, dstLayout Layout, regions []ImageBlit, filter Filter)
	CmdClearColorImage(cb Native, image Native, layout Layout, color ClearColor)
	CmdImageBarrier(cb Native, barrier ImageBarrier)
}

// Device is everything the core needs from the GPU driver. It is always
// passed explicitly; nothing in this package reaches for a global device.
type Device interface {
	ResourceDevice
	SyncDevice
	PresentDevice
	CommandEncoder
}
