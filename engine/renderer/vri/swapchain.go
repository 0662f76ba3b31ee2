package vri

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/vri/engine/containers"
	"github.com/spaghettifunk/vri/engine/core"
)

// NoImage is returned by AcquireImage when no image could be acquired.
const NoImage = ^uint32(0)

type SwapchainState int

const (
	SwapchainValid SwapchainState = iota
	SwapchainDirty
	SwapchainRecreating
)

func (s SwapchainState) String() string {
	switch s {
	case SwapchainValid:
		return "valid"
	case SwapchainDirty:
		return "dirty"
	case SwapchainRecreating:
		return "recreating"
	}
	return fmt.Sprintf("swapchain_state(%d)", int(s))
}

// frameSync is the synchronization owned by one frame slot. It lives as
// long as the swapchain engine and is reused every time the slot comes
// around.
type frameSync struct {
	acquireRef Ref[*Semaphore]
	fenceRef   Ref[*Fence]
	acquire    *Semaphore
	fence      *Fence
	// set when an acquire signaled the semaphore but the frame was skipped
	unconsumed bool
}

// imageSet is everything that has one entry per swapchain image. It is
// rebuilt wholesale on recreation.
type imageSet struct {
	id               uuid.UUID
	handleRef        Ref[*Handle]
	native           Native
	format           Format
	extent           Extent2D
	presentMode      PresentMode
	images           []*Image
	viewRefs         []Ref[*ImageView]
	views            []*ImageView
	renderRefs       []Ref[*Semaphore]
	renderSemaphores []*Semaphore
}

func (s *imageSet) consistent() bool {
	n := len(s.images)
	return n > 0 && len(s.viewRefs) == n && len(s.views) == n &&
		len(s.renderRefs) == n && len(s.renderSemaphores) == n
}

type SwapchainOptions struct {
	Surface        Native
	Extent         Extent2D
	VSync          bool
	MinImageCount  uint32
	FenceTimeout   time.Duration
	AcquireTimeout time.Duration
}

// Swapchain drives acquire, submit and present for the frame ring. Per-slot
// sync lives in a ring sized to the buffering depth; render-finished
// semaphores and views are per image because the presentation engine hands
// images back in any order.
type Swapchain struct {
	device    Device
	allocator *Allocator
	surface   Native
	opts      SwapchainOptions
	frames    *containers.Buffering[*frameSync]
	set       *imageSet

	mu        sync.Mutex
	state     SwapchainState
	redirty   bool
	extent    Extent2D
	vsync     bool
	destroyed bool
}

// NewSwapchain creates the per-slot sync objects and the first swapchain.
func NewSwapchain(device Device, allocator *Allocator, counter *containers.FrameCounter, opts SwapchainOptions) *Swapchain {
	sc := &Swapchain{
		device:    device,
		allocator: allocator,
		surface:   opts.Surface,
		opts:      opts,
		extent:    opts.Extent,
		vsync:     opts.VSync,
		state:     SwapchainDirty,
	}
	sc.frames = containers.NewBuffering(counter, func(slot int) *frameSync {
		fs := &frameSync{}
		sc.createAcquireSemaphore(fs, slot)
		// signaled so the first wait on every slot returns immediately
		fs.fenceRef = allocator.AllocateFence(true, fmt.Sprintf("frame-%d-render-fence", slot))
		fs.fence = MustGet(allocator, fs.fenceRef)
		return fs
	})
	if opts.Extent.IsZero() {
		core.LogWarn("swapchain created with zero extent, deferring until resized")
		return sc
	}
	sc.Create(NullHandle, opts.VSync)
	return sc
}

func (sc *Swapchain) createAcquireSemaphore(fs *frameSync, slot int) {
	fs.acquireRef = sc.allocator.AllocateSemaphore(fmt.Sprintf("frame-%d-image-available", slot))
	fs.acquire = MustGet(sc.allocator, fs.acquireRef)
	fs.unconsumed = false
}

// Create builds a new swapchain, chaining old, and replaces the current
// image set. The previous set is destroyed only after the new one is
// complete. When the surface reports a zero extent the current set is kept,
// the swapchain stays Dirty and false is returned.
func (sc *Swapchain) Create(old Native, vsync bool) bool {
	sc.mu.Lock()
	extent := sc.extent
	sc.vsync = vsync
	sc.mu.Unlock()

	info, err := sc.device.CreateSwapchain(SwapchainDesc{
		Surface:       sc.surface,
		Extent:        extent,
		VSync:         vsync,
		MinImageCount: sc.opts.MinImageCount,
	}, old)
	if errors.Is(err, core.ErrZeroExtent) {
		sc.mu.Lock()
		sc.state = SwapchainDirty
		sc.redirty = false
		sc.mu.Unlock()
		core.LogDebug("surface has a zero extent, swapchain stays dirty")
		return false
	}
	if err != nil {
		core.LogFatal("failed to create swapchain: %s", err)
		return false
	}

	set := &imageSet{
		id:          uuid.New(),
		native:      info.Handle,
		format:      info.Format,
		extent:      info.Extent,
		presentMode: info.PresentMode,
	}
	set.handleRef = sc.allocator.Adopt(NewHandle(sc.device, KindSwapchain, info.Handle, NullHandle, "swapchain-"+set.id.String()))
	for i, native := range info.Images {
		img := newSwapchainImage(native, info.Format, info.Extent, fmt.Sprintf("swapchain-image-%d", i))
		viewRef := sc.allocator.AllocateImageView(ImageViewDesc{
			Image:     native,
			Format:    info.Format,
			MipLevels: 1,
			Name:      fmt.Sprintf("swapchain-view-%d", i),
		})
		semRef := sc.allocator.AllocateSemaphore(fmt.Sprintf("swapchain-%d-render-finished", i))
		set.images = append(set.images, img)
		set.viewRefs = append(set.viewRefs, viewRef)
		set.views = append(set.views, MustGet(sc.allocator, viewRef))
		set.renderRefs = append(set.renderRefs, semRef)
		set.renderSemaphores = append(set.renderSemaphores, MustGet(sc.allocator, semRef))
	}
	if !set.consistent() {
		core.LogFatal("swapchain returned no images")
		return false
	}

	previous := sc.set
	sc.set = set
	if previous != nil {
		sc.releaseSet(previous)
	}

	sc.mu.Lock()
	sc.state = SwapchainValid
	if sc.redirty {
		// resized while the rebuild was running
		sc.state = SwapchainDirty
		sc.redirty = false
	}
	sc.mu.Unlock()

	core.LogInfo("swapchain %s created: %d images, %dx%d, %s",
		set.id, len(set.images), set.extent.Width, set.extent.Height, set.presentMode)
	return true
}

func (sc *Swapchain) releaseSet(set *imageSet) {
	for _, ref := range set.viewRefs {
		sc.allocator.ReleaseImmediate(ref)
	}
	for _, ref := range set.renderRefs {
		sc.allocator.ReleaseImmediate(ref)
	}
	sc.allocator.ReleaseImmediate(set.handleRef)
}

// Recreate waits for the device to go idle and rebuilds the swapchain with
// the current one as old. With a zero extent, known locally or reported by
// the surface, the swapchain stays Dirty and false is returned.
func (sc *Swapchain) Recreate(vsync bool) bool {
	sc.mu.Lock()
	if sc.state == SwapchainRecreating {
		sc.mu.Unlock()
		core.LogDebug("Recreate called while already recreating")
		return false
	}
	if sc.extent.IsZero() {
		sc.state = SwapchainDirty
		sc.mu.Unlock()
		core.LogDebug("Recreate called with a zero extent, booting")
		return false
	}
	sc.state = SwapchainRecreating
	sc.mu.Unlock()

	if err := sc.device.WaitIdle(); err != nil {
		core.LogFatal("failed to wait for device idle: %s", err)
		return false
	}

	// an acquire whose frame was skipped left its semaphore signaled with
	// nobody waiting on it; it cannot be handed to the next acquire
	sc.frames.Each(func(slot int, fs *frameSync) {
		if fs.unconsumed {
			sc.allocator.ReleaseImmediate(fs.acquireRef)
			sc.createAcquireSemaphore(fs, slot)
		}
	})

	old := NullHandle
	if sc.set != nil {
		old = sc.set.native
	}
	return sc.Create(old, vsync)
}

// Wait blocks until the GPU finished the work last submitted from slot.
func (sc *Swapchain) Wait(slot int) {
	fs := sc.frames.At(slot)
	switch status := sc.device.WaitForFence(fs.fence.Native(), sc.opts.FenceTimeout); status {
	case StatusSuccess:
	case StatusTimeout:
		core.LogFatal("frame %d fence wait: %s", slot, core.ErrFenceTimeout)
	case StatusDeviceLost:
		core.LogFatal("frame %d fence wait: %s", slot, core.ErrDeviceLost)
	default:
		core.LogFatal("frame %d fence wait failed: %s", slot, status)
	}
}

// Reset unsignals the slot's fence. Only call it once an image was
// acquired, otherwise the next Wait on the slot never returns.
func (sc *Swapchain) Reset(slot int) {
	fs := sc.frames.At(slot)
	if err := sc.device.ResetFence(fs.fence.Native()); err != nil {
		core.LogFatal("failed to reset frame %d fence: %s", slot, err)
	}
}

// AcquireImage acquires the next presentable image for slot. On a
// suboptimal or out of date swapchain it marks the engine Dirty and returns
// NoImage and false.
func (sc *Swapchain) AcquireImage(slot int) (uint32, bool) {
	if sc.set == nil || sc.State() != SwapchainValid {
		return NoImage, false
	}
	fs := sc.frames.At(slot)
	index, status := sc.device.AcquireNextImage(sc.set.native, fs.acquire.Native(), sc.opts.AcquireTimeout)
	switch status {
	case StatusSuccess:
		if int(index) >= len(sc.set.images) {
			core.LogFatal("acquired image index %d out of range (%d images)", index, len(sc.set.images))
			return NoImage, false
		}
		return index, true
	case StatusSuboptimal:
		fs.unconsumed = true
		sc.MarkDirty()
		return NoImage, false
	case StatusOutOfDate:
		sc.MarkDirty()
		return NoImage, false
	case StatusTimeout, StatusNotReady:
		core.LogWarn("acquire timed out on frame %d", slot)
		return NoImage, false
	default:
		core.LogFatal("failed to acquire swapchain image: %s", status)
		return NoImage, false
	}
}

// Submit submits cmd for the current slot, presents imageIndex and advances
// the frame ring. A suboptimal or out of date present marks the engine
// Dirty; it is not an error.
func (sc *Swapchain) Submit(cmd *Commands, queue QueueKind, imageIndex uint32) {
	fs := sc.frames.Current()
	rendered := sc.set.renderSemaphores[imageIndex]

	err := sc.device.Submit(Submission{
		Queue:            queue,
		CommandBuffers:   []Native{cmd.Native()},
		WaitSemaphores:   []Native{fs.acquire.Native()},
		WaitStages:       []PipelineStage{StageColorAttachmentOutput},
		SignalSemaphores: []Native{rendered.Native()},
		Fence:            fs.fence.Native(),
	})
	if err != nil {
		core.LogFatal("failed to submit frame %d: %s", sc.frames.FrameNumber(), err)
		return
	}

	status := sc.device.Present(Presentation{
		Queue:          QueuePresent,
		Swapchain:      sc.set.native,
		ImageIndex:     imageIndex,
		WaitSemaphores: []Native{rendered.Native()},
	})
	switch {
	case status == StatusSuccess:
	case status.NeedsRecreate():
		sc.MarkDirty()
	default:
		core.LogFatal("failed to present swapchain image: %s", status)
	}

	sc.frames.Advance()
}

// MarkDirty requests a rebuild before the next frame. Safe to call from
// any goroutine.
func (sc *Swapchain) MarkDirty() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.markDirtyLocked()
}

func (sc *Swapchain) markDirtyLocked() {
	switch sc.state {
	case SwapchainValid:
		sc.state = SwapchainDirty
	case SwapchainRecreating:
		sc.redirty = true
	}
}

// SetExtent records the framebuffer size used by the next rebuild and
// marks the swapchain Dirty.
func (sc *Swapchain) SetExtent(width, height uint32) {
	sc.mu.Lock()
	sc.extent = Extent2D{Width: width, Height: height}
	sc.markDirtyLocked()
	sc.mu.Unlock()
}

func (sc *Swapchain) Dirty() bool {
	return sc.State() == SwapchainDirty
}

func (sc *Swapchain) State() SwapchainState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// VSync reports the present mode preference of the current swapchain.
func (sc *Swapchain) VSync() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.vsync
}

func (sc *Swapchain) ImageCount() int {
	if sc.set == nil {
		return 0
	}
	return len(sc.set.images)
}

func (sc *Swapchain) Image(i int) *Image {
	return sc.set.images[i]
}

func (sc *Swapchain) View(i int) *ImageView {
	return sc.set.views[i]
}

// RenderSemaphoreCount is the number of per-image render-finished
// semaphores. It always equals ImageCount.
func (sc *Swapchain) RenderSemaphoreCount() int {
	if sc.set == nil {
		return 0
	}
	return len(sc.set.renderSemaphores)
}

// SlotCount is the number of per-slot sync entries. It always equals the
// buffering depth.
func (sc *Swapchain) SlotCount() int {
	return sc.frames.Depth()
}

func (sc *Swapchain) Extent() Extent2D {
	if sc.set == nil {
		return Extent2D{}
	}
	return sc.set.extent
}

func (sc *Swapchain) Format() Format {
	if sc.set == nil {
		return FormatUndefined
	}
	return sc.set.format
}

func (sc *Swapchain) PresentMode() PresentMode {
	if sc.set == nil {
		return PresentModeFifo
	}
	return sc.set.presentMode
}

func (sc *Swapchain) Native() Native {
	if sc.set == nil {
		return NullHandle
	}
	return sc.set.native
}

func (sc *Swapchain) FrameNumber() uint64 {
	return sc.frames.FrameNumber()
}

func (sc *Swapchain) CurrentSlot() int {
	return sc.frames.CurrentIndex()
}

// Destroy waits for the device and frees the image set and the per-slot
// sync objects.
func (sc *Swapchain) Destroy() {
	sc.mu.Lock()
	if sc.destroyed {
		sc.mu.Unlock()
		return
	}
	sc.destroyed = true
	sc.mu.Unlock()

	if err := sc.device.WaitIdle(); err != nil {
		core.LogError("failed to wait for device idle: %s", err)
	}
	if sc.set != nil {
		sc.releaseSet(sc.set)
		sc.set = nil
	}
	sc.frames.Each(func(_ int, fs *frameSync) {
		sc.allocator.ReleaseImmediate(fs.acquireRef)
		sc.allocator.ReleaseImmediate(fs.fenceRef)
	})
	sc.mu.Lock()
	sc.state = SwapchainDirty
	sc.mu.Unlock()
}
