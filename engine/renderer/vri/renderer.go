package vri

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/vri/engine/containers"
	"github.com/spaghettifunk/vri/engine/core"
	vmath "github.com/spaghettifunk/vri/engine/math"
)

const (
	DefaultBuffering = 2
	MaxBuffering     = 4

	// NoTimeout makes fence waits and acquires block until they complete.
	NoTimeout time.Duration = 1<<63 - 1
)

type Options struct {
	Surface        Native
	Extent         Extent2D
	Buffering      int
	VSync          bool
	MinImageCount  uint32
	FenceTimeout   time.Duration
	AcquireTimeout time.Duration
}

// Frame describes one call to RenderFrame. Image, View and Commands are only
// set while the draw callback runs.
type Frame struct {
	Number     uint64
	Slot       int
	ImageIndex uint32
	Skipped    bool
	Image      *Image
	View       *ImageView
	Commands   *Commands
}

// DrawFunc records the commands of one frame.
type DrawFunc func(frame *Frame) error

type frameContext struct {
	poolRef   Ref[*CommandPool]
	bufferRef Ref[*CommandBuffer]
	pool      *CommandPool
	commands  *Commands
}

// Renderer ties the frame ring, the allocator and the swapchain together.
// RenderFrame must be called from one goroutine; Resize, SetVSync and the
// allocator may be used from others.
type Renderer struct {
	device    Device
	counter   *containers.FrameCounter
	allocator *Allocator
	swapchain *Swapchain
	frames    *containers.Buffering[*frameContext]
	upload    *frameContext
	uploadRef Ref[*Fence]
	metrics   *core.FrameMetrics
	clock     *core.Clock

	mu       sync.Mutex
	vsync    bool
	shutdown bool
}

func New(device Device, opts Options) *Renderer {
	if opts.Buffering == 0 {
		opts.Buffering = DefaultBuffering
	}
	depth := vmath.Clamp(opts.Buffering, 1, MaxBuffering)
	if depth != opts.Buffering {
		core.LogWarn("buffering depth %d out of range, using %d", opts.Buffering, depth)
	}
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = NoTimeout
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = NoTimeout
	}

	counter := containers.NewFrameCounter(depth)
	allocator := NewAllocator(device, counter)
	r := &Renderer{
		device:    device,
		counter:   counter,
		allocator: allocator,
		metrics:   core.NewFrameMetrics(),
		clock:     core.NewClock(),
		vsync:     opts.VSync,
	}
	r.swapchain = NewSwapchain(device, allocator, counter, SwapchainOptions{
		Surface:        opts.Surface,
		Extent:         opts.Extent,
		VSync:          opts.VSync,
		MinImageCount:  opts.MinImageCount,
		FenceTimeout:   opts.FenceTimeout,
		AcquireTimeout: opts.AcquireTimeout,
	})
	r.frames = containers.NewBuffering(counter, func(slot int) *frameContext {
		return r.newFrameContext(fmt.Sprintf("frame-%d", slot))
	})
	r.upload = r.newFrameContext("upload")
	r.uploadRef = allocator.AllocateFence(false, "upload-fence")

	core.LogInfo("renderer initialized with %d frames in flight", depth)
	return r
}

func (r *Renderer) newFrameContext(name string) *frameContext {
	ctx := &frameContext{}
	ctx.poolRef = r.allocator.AllocateCommandPool(QueueGraphics, name+"-command-pool")
	ctx.pool = MustGet(r.allocator, ctx.poolRef)
	ctx.bufferRef = r.allocator.AllocateCommandBuffer(ctx.poolRef, name+"-command-buffer")
	ctx.commands = NewCommands(r.device, MustGet(r.allocator, ctx.bufferRef))
	return ctx
}

func (r *Renderer) releaseFrameContext(ctx *frameContext) {
	ctx.commands.Abort()
	r.allocator.ReleaseImmediate(ctx.bufferRef)
	r.allocator.ReleaseImmediate(ctx.poolRef)
}

// RenderFrame runs one frame: rebuild the swapchain if it went dirty, wait
// for the slot's previous work, run its deletions, acquire, record with
// draw and submit. A frame that cannot get an image is skipped, which is
// not an error. An error from draw is returned after the frame was
// submitted.
func (r *Renderer) RenderFrame(draw DrawFunc) (Frame, error) {
	if r.closed() {
		return Frame{Skipped: true, ImageIndex: NoImage}, core.ErrRendererClosed
	}
	r.clock.Start()
	frame, err := r.renderFrame(draw)
	r.clock.Update()
	r.metrics.Update(r.clock.Elapsed(), frame.Skipped)
	return frame, err
}

func (r *Renderer) renderFrame(draw DrawFunc) (Frame, error) {
	sc := r.swapchain
	frame := Frame{
		Number:     r.counter.Number(),
		Slot:       r.counter.Index(),
		ImageIndex: NoImage,
		Skipped:    true,
	}

	if sc.State() != SwapchainValid {
		sc.Recreate(r.VSync())
		return frame, nil
	}

	sc.Wait(frame.Slot)
	r.allocator.DrainSlot(frame.Slot)

	index, ok := sc.AcquireImage(frame.Slot)
	if !ok {
		return frame, nil
	}
	sc.Reset(frame.Slot)

	ctx := r.frames.Current()
	if err := r.device.ResetCommandPool(ctx.pool.Native()); err != nil {
		core.LogFatal("failed to reset command pool of frame %d: %s", frame.Slot, err)
	}
	cmd := r.BeginRecording()

	frame.Skipped = false
	frame.ImageIndex = index
	frame.Image = sc.Image(int(index))
	frame.View = sc.View(int(index))
	frame.Commands = cmd

	var drawErr error
	if draw != nil {
		drawErr = draw(&frame)
	}
	if err := cmd.End(); errors.Is(err, core.ErrNotRecording) {
		core.LogWarn("frame %d commands ended by the draw callback", frame.Number)
	}
	sc.Submit(cmd, QueueGraphics, index)

	frame.Image, frame.View, frame.Commands = nil, nil, nil
	if drawErr != nil {
		return frame, fmt.Errorf("frame %d: %w", frame.Number, drawErr)
	}
	return frame, nil
}

// BeginRecording starts recording on the current slot's command buffer and
// returns it. The pool of the slot must have been reset.
func (r *Renderer) BeginRecording() *Commands {
	cmd := r.frames.Current().commands
	cmd.Begin(false)
	return cmd
}

// ImmediateSubmit records fn into a dedicated command buffer, submits it and
// blocks until the GPU finished. Meant for uploads outside the frame loop.
func (r *Renderer) ImmediateSubmit(fn func(cmd *Commands)) error {
	if r.closed() {
		return core.ErrRendererClosed
	}
	fence, ok := Get(r.allocator, r.uploadRef)
	if !ok {
		return core.ErrStaleReference
	}
	if err := r.device.ResetCommandPool(r.upload.pool.Native()); err != nil {
		core.LogFatal("failed to reset upload command pool: %s", err)
	}
	cmd := r.upload.commands
	cmd.Begin(false)
	fn(cmd)
	if err := cmd.End(); err != nil {
		return err
	}
	if err := r.device.Submit(Submission{
		Queue:          QueueGraphics,
		CommandBuffers: []Native{cmd.Native()},
		Fence:          fence.Native(),
	}); err != nil {
		core.LogFatal("failed to submit upload: %s", err)
	}
	switch status := r.device.WaitForFence(fence.Native(), NoTimeout); status {
	case StatusSuccess:
	case StatusDeviceLost:
		core.LogFatal("upload fence wait: %s", core.ErrDeviceLost)
	default:
		core.LogFatal("upload fence wait failed: %s", status)
	}
	if err := r.device.ResetFence(fence.Native()); err != nil {
		core.LogFatal("failed to reset upload fence: %s", err)
	}
	return nil
}

// Resize records the new framebuffer size; the swapchain is rebuilt on the
// next frame.
func (r *Renderer) Resize(width, height uint32) {
	r.swapchain.SetExtent(width, height)
}

// SetVSync switches between FIFO and MAILBOX presentation on the next frame.
func (r *Renderer) SetVSync(enabled bool) {
	r.mu.Lock()
	changed := r.vsync != enabled
	r.vsync = enabled
	r.mu.Unlock()
	if changed {
		r.swapchain.MarkDirty()
	}
}

func (r *Renderer) VSync() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vsync
}

func (r *Renderer) WaitIdle() error {
	if err := r.device.WaitIdle(); err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}
	return nil
}

func (r *Renderer) closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown
}

// Shutdown waits for the GPU, then frees the recorders, the swapchain and
// finally every object still tracked by the allocator. Calling it again is
// a no-op.
func (r *Renderer) Shutdown() {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	r.shutdown = true
	r.mu.Unlock()

	if err := r.WaitIdle(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	r.frames.Each(func(_ int, ctx *frameContext) {
		r.releaseFrameContext(ctx)
	})
	r.releaseFrameContext(r.upload)
	r.allocator.ReleaseImmediate(r.uploadRef)
	r.swapchain.Destroy()
	r.allocator.Teardown()
	core.LogInfo("renderer shut down after %d frames", r.counter.Number())
}

func (r *Renderer) Device() Device { return r.device }

func (r *Renderer) Allocator() *Allocator { return r.allocator }

func (r *Renderer) Swapchain() *Swapchain { return r.swapchain }

func (r *Renderer) Metrics() *core.FrameMetrics { return r.metrics }

func (r *Renderer) FrameNumber() uint64 { return r.counter.Number() }

func (r *Renderer) BufferingDepth() int { return r.counter.Depth() }
