// Package vritest provides an in-memory vri.Device that simulates the GPU
// timeline closely enough to catch synchronization mistakes: fences only
// signal once waited on after a submit, semaphores must be signaled before
// they are waited on, and destroying an object that a pending submission
// references is recorded as a violation.
package vritest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

var ErrInjected = errors.New("vritest: injected failure")

type object struct {
	kind     vri.ResourceKind
	parent   vri.Native
	live     bool
	borrowed bool
	destroys int
	data     []byte
}

type fence struct {
	signaled bool
	pending  bool
}

type commandBuffer struct {
	pool       vri.Native
	recording  bool
	referenced []vri.Native
}

type swapchain struct {
	images []vri.Native
	next   uint32
}

// Device is a fake vri.Device. The zero value is not usable; call New.
type Device struct {
	mu sync.Mutex

	next       vri.Native
	objects    map[vri.Native]*object
	fences     map[vri.Native]*fence
	semaphores map[vri.Native]bool
	commands   map[vri.Native]*commandBuffer
	swapchains map[vri.Native]*swapchain
	// resource -> fence of the submission still using it
	inFlight map[vri.Native]vri.Native

	created    map[vri.ResourceKind]int
	destroyed  []vri.Deletion
	violations []string

	imageCount    uint32
	format        vri.Format
	acquireScript []vri.Status
	presentScript []vri.Status
	failNext      map[vri.ResourceKind]bool
	hangFences    bool
	deviceLost    bool
	minimized     bool

	Barriers       []vri.ImageBarrier
	Submissions    []vri.Submission
	Presentations  []vri.Presentation
	SwapchainDescs []vri.SwapchainDesc
	WaitIdleCalls  int
}

func New() *Device {
	return &Device{
		next:       0x1000,
		objects:    make(map[vri.Native]*object),
		fences:     make(map[vri.Native]*fence),
		semaphores: make(map[vri.Native]bool),
		commands:   make(map[vri.Native]*commandBuffer),
		swapchains: make(map[vri.Native]*swapchain),
		inFlight:   make(map[vri.Native]vri.Native),
		created:    make(map[vri.ResourceKind]int),
		failNext:   make(map[vri.ResourceKind]bool),
		imageCount: 3,
		format:     vri.FormatBGRA8Srgb,
	}
}

var _ vri.Device = (*Device)(nil)

// SetImageCount changes how many images the next swapchain gets.
func (d *Device) SetImageCount(n uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.imageCount = n
}

// ScriptAcquire queues the statuses returned by the next acquires.
func (d *Device) ScriptAcquire(statuses ...vri.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireScript = append(d.acquireScript, statuses...)
}

// ScriptPresent queues the statuses returned by the next presents.
func (d *Device) ScriptPresent(statuses ...vri.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentScript = append(d.presentScript, statuses...)
}

// FailNext makes the next create of kind return ErrInjected.
func (d *Device) FailNext(kind vri.ResourceKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext[kind] = true
}

// MinimizeSurface makes the surface report a zero extent, so swapchain
// creation fails with core.ErrZeroExtent until it is restored.
func (d *Device) MinimizeSurface(minimized bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.minimized = minimized
}

// HangFences makes every fence wait time out.
func (d *Device) HangFences(hang bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangFences = hang
}

// LoseDevice makes fence waits report a lost device.
func (d *Device) LoseDevice() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deviceLost = true
}

func (d *Device) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

// Violations lists every misuse of the simulated API seen so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Created is the number of objects of kind created so far.
func (d *Device) Created(kind vri.ResourceKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

// Live is the number of objects of kind that are alive.
func (d *Device) Live(kind vri.ResourceKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.objects {
		if o.kind == kind && o.live && !o.borrowed {
			n++
		}
	}
	return n
}

// LiveTotal is the number of owned objects alive, of any kind.
func (d *Device) LiveTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.objects {
		if o.live && !o.borrowed {
			n++
		}
	}
	return n
}

func (d *Device) Alive(native vri.Native) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.objects[native]
	return ok && o.live
}

// DestroyCount is how often native was destroyed.
func (d *Device) DestroyCount(native vri.Native) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if o, ok := d.objects[native]; ok {
		return o.destroys
	}
	return 0
}

// Destroyed returns every deletion executed, in order.
func (d *Device) Destroyed() []vri.Deletion {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]vri.Deletion(nil), d.destroyed...)
}

// InFlight reports whether a pending submission references native.
func (d *Device) InFlight(native vri.Native) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.inFlight[native]
	return ok && d.fences[f] != nil && d.fences[f].pending
}

// Contents returns the bytes written into a buffer.
func (d *Device) Contents(native vri.Native) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if o, ok := d.objects[native]; ok {
		return append([]byte(nil), o.data...)
	}
	return nil
}

func (d *Device) create(kind vri.ResourceKind, parent vri.Native) (vri.Native, error) {
	if d.failNext[kind] {
		delete(d.failNext, kind)
		return vri.NullHandle, fmt.Errorf("create %s: %w", kind, ErrInjected)
	}
	d.next++
	native := d.next
	d.objects[native] = &object{kind: kind, parent: parent, live: true}
	d.created[kind]++
	return native, nil
}

func (d *Device) lookup(native vri.Native, kind vri.ResourceKind, op string) *object {
	o, ok := d.objects[native]
	switch {
	case !ok:
		d.violate("%s: unknown handle %#x", op, uint64(native))
		return nil
	case !o.live:
		d.violate("%s: %s %#x used after destroy", op, o.kind, uint64(native))
		return nil
	case kind != vri.KindUnknown && o.kind != kind:
		d.violate("%s: %#x is a %s, not a %s", op, uint64(native), o.kind, kind)
		return nil
	}
	return o
}

func (d *Device) CreateBuffer(desc vri.BufferDesc) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	native, err := d.create(vri.KindBuffer, vri.NullHandle)
	if err == nil {
		d.objects[native].data = make([]byte, desc.Size)
	}
	return native, err
}

func (d *Device) WriteBuffer(buffer vri.Native, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o := d.lookup(buffer, vri.KindBuffer, "WriteBuffer")
	if o == nil {
		return fmt.Errorf("write buffer %#x: %w", uint64(buffer), ErrInjected)
	}
	copy(o.data[offset:], data)
	return nil
}

func (d *Device) CreateImage(desc vri.ImageDesc) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create(vri.KindImage, vri.NullHandle)
}

func (d *Device) CreateImageView(desc vri.ImageViewDesc) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(desc.Image, vri.KindImage, "CreateImageView") == nil {
		return vri.NullHandle, fmt.Errorf("create image view: %w", ErrInjected)
	}
	return d.create(vri.KindImageView, vri.NullHandle)
}

func (d *Device) CreateSampler(desc vri.SamplerDesc) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create(vri.KindSampler, vri.NullHandle)
}

func (d *Device) CreateShaderModule(code []byte) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create(vri.KindShaderModule, vri.NullHandle)
}

func (d *Device) CreateDescriptorSetLayout(bindings []vri.DescriptorBinding) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create(vri.KindDescriptorSetLayout, vri.NullHandle)
}

func (d *Device) CreateDescriptorPool(desc vri.DescriptorPoolDesc) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create(vri.KindDescriptorPool, vri.NullHandle)
}

func (d *Device) AllocateDescriptorSet(pool, layout vri.Native) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookup(pool, vri.KindDescriptorPool, "AllocateDescriptorSet")
	d.lookup(layout, vri.KindDescriptorSetLayout, "AllocateDescriptorSet")
	return d.create(vri.KindDescriptorSet, pool)
}

func (d *Device) CreatePipelineLayout(desc vri.PipelineLayoutDesc) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create(vri.KindPipelineLayout, vri.NullHandle)
}

func (d *Device) CreateComputePipeline(desc vri.ComputePipelineDesc) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create(vri.KindPipeline, vri.NullHandle)
}

func (d *Device) CreateSemaphore() (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	native, err := d.create(vri.KindSemaphore, vri.NullHandle)
	if err == nil {
		d.semaphores[native] = false
	}
	return native, err
}

func (d *Device) CreateFence(signaled bool) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	native, err := d.create(vri.KindFence, vri.NullHandle)
	if err == nil {
		d.fences[native] = &fence{signaled: signaled}
	}
	return native, err
}

func (d *Device) CreateCommandPool(queue vri.QueueKind) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create(vri.KindCommandPool, vri.NullHandle)
}

func (d *Device) AllocateCommandBuffer(pool vri.Native) (vri.Native, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookup(pool, vri.KindCommandPool, "AllocateCommandBuffer")
	native, err := d.create(vri.KindCommandBuffer, pool)
	if err == nil {
		d.commands[native] = &commandBuffer{pool: pool}
	}
	return native, err
}

func (d *Device) Destroy(del vri.Deletion) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.objects[del.Native]
	if !ok {
		d.violate("destroy of unknown %s %#x", del.Kind, uint64(del.Native))
		return
	}
	o.destroys++
	if !o.live {
		d.violate("double destroy of %s %#x", o.kind, uint64(del.Native))
		return
	}
	if o.borrowed {
		d.violate("destroy of swapchain-owned %s %#x", o.kind, uint64(del.Native))
	}
	if o.kind != del.Kind {
		d.violate("destroy of %s %#x tagged as %s", o.kind, uint64(del.Native), del.Kind)
	}
	if o.parent != del.Parent {
		d.violate("destroy of %s %#x with parent %#x, want %#x", o.kind, uint64(del.Native), uint64(del.Parent), uint64(o.parent))
	}
	if f, busy := d.inFlight[del.Native]; busy && d.fences[f] != nil && d.fences[f].pending {
		d.violate("%s %#x destroyed while in use by the GPU", o.kind, uint64(del.Native))
	}
	if o.kind == vri.KindSwapchain {
		for _, img := range d.swapchains[del.Native].images {
			d.objects[img].live = false
		}
	}
	o.live = false
	d.destroyed = append(d.destroyed, del)
}

// complete signals fence and retires everything its submission used.
func (d *Device) complete(native vri.Native, f *fence) {
	f.pending = false
	f.signaled = true
	for res, owner := range d.inFlight {
		if owner == native {
			delete(d.inFlight, res)
		}
	}
}

func (d *Device) WaitForFence(native vri.Native, timeout time.Duration) vri.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deviceLost {
		return vri.StatusDeviceLost
	}
	if d.lookup(native, vri.KindFence, "WaitForFence") == nil {
		return vri.StatusFailed
	}
	if d.hangFences {
		return vri.StatusTimeout
	}
	f := d.fences[native]
	switch {
	case f.pending:
		d.complete(native, f)
	case !f.signaled:
		d.violate("wait on fence %#x that nothing will signal", uint64(native))
		return vri.StatusTimeout
	}
	return vri.StatusSuccess
}

func (d *Device) ResetFence(native vri.Native) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(native, vri.KindFence, "ResetFence") == nil {
		return fmt.Errorf("reset fence: %w", ErrInjected)
	}
	f := d.fences[native]
	if f.pending {
		d.violate("reset of fence %#x with a pending submission", uint64(native))
	}
	f.signaled = false
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.WaitIdleCalls++
	for native, f := range d.fences {
		if f.pending {
			d.complete(native, f)
		}
	}
	return nil
}

func (d *Device) CreateSwapchain(desc vri.SwapchainDesc, old vri.Native) (vri.SwapchainInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old != vri.NullHandle {
		d.lookup(old, vri.KindSwapchain, "CreateSwapchain(old)")
	}
	if d.minimized {
		return vri.SwapchainInfo{}, core.ErrZeroExtent
	}
	native, err := d.create(vri.KindSwapchain, vri.NullHandle)
	if err != nil {
		return vri.SwapchainInfo{}, err
	}
	d.SwapchainDescs = append(d.SwapchainDescs, desc)
	sc := &swapchain{}
	for i := uint32(0); i < d.imageCount; i++ {
		d.next++
		d.objects[d.next] = &object{kind: vri.KindImage, live: true, borrowed: true}
		sc.images = append(sc.images, d.next)
	}
	d.swapchains[native] = sc
	mode := vri.PresentModeMailbox
	if desc.VSync {
		mode = vri.PresentModeFifo
	}
	return vri.SwapchainInfo{
		Handle:      native,
		Images:      append([]vri.Native(nil), sc.images...),
		Format:      d.format,
		Extent:      desc.Extent,
		PresentMode: mode,
	}, nil
}

func (d *Device) AcquireNextImage(sc, semaphore vri.Native, timeout time.Duration) (uint32, vri.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(sc, vri.KindSwapchain, "AcquireNextImage") == nil {
		return 0, vri.StatusFailed
	}
	if d.lookup(semaphore, vri.KindSemaphore, "AcquireNextImage") == nil {
		return 0, vri.StatusFailed
	}
	status := vri.StatusSuccess
	if len(d.acquireScript) > 0 {
		status = d.acquireScript[0]
		d.acquireScript = d.acquireScript[1:]
	}
	if status != vri.StatusSuccess && status != vri.StatusSuboptimal {
		return 0, status
	}
	if d.semaphores[semaphore] {
		d.violate("acquire signals semaphore %#x that is already signaled", uint64(semaphore))
	}
	d.semaphores[semaphore] = true
	chain := d.swapchains[sc]
	index := chain.next
	chain.next = (chain.next + 1) % uint32(len(chain.images))
	return index, status
}

func (d *Device) Submit(s vri.Submission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sem := range s.WaitSemaphores {
		if d.lookup(sem, vri.KindSemaphore, "Submit(wait)") == nil {
			continue
		}
		if !d.semaphores[sem] {
			d.violate("submit waits on unsignaled semaphore %#x", uint64(sem))
		}
		d.semaphores[sem] = false
	}
	for _, sem := range s.SignalSemaphores {
		if d.lookup(sem, vri.KindSemaphore, "Submit(signal)") == nil {
			continue
		}
		d.semaphores[sem] = true
	}
	if s.Fence != vri.NullHandle {
		if d.lookup(s.Fence, vri.KindFence, "Submit(fence)") != nil {
			f := d.fences[s.Fence]
			if f.signaled || f.pending {
				d.violate("submit with fence %#x that was not reset", uint64(s.Fence))
			}
			f.signaled = false
			f.pending = true
		}
	}
	for _, cb := range s.CommandBuffers {
		if d.lookup(cb, vri.KindCommandBuffer, "Submit") == nil {
			continue
		}
		c := d.commands[cb]
		if c.recording {
			d.violate("submit of command buffer %#x that is still recording", uint64(cb))
		}
		if s.Fence == vri.NullHandle {
			continue
		}
		d.inFlight[cb] = s.Fence
		d.inFlight[c.pool] = s.Fence
		for _, res := range c.referenced {
			d.inFlight[res] = s.Fence
		}
	}
	d.Submissions = append(d.Submissions, s)
	return nil
}

func (d *Device) Present(p vri.Presentation) vri.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(p.Swapchain, vri.KindSwapchain, "Present") == nil {
		return vri.StatusFailed
	}
	for _, sem := range p.WaitSemaphores {
		if !d.semaphores[sem] {
			d.violate("present waits on unsignaled semaphore %#x", uint64(sem))
		}
		d.semaphores[sem] = false
	}
	d.Presentations = append(d.Presentations, p)
	if len(d.presentScript) > 0 {
		status := d.presentScript[0]
		d.presentScript = d.presentScript[1:]
		return status
	}
	return vri.StatusSuccess
}

func (d *Device) ResetCommandPool(pool vri.Native) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(pool, vri.KindCommandPool, "ResetCommandPool") == nil {
		return fmt.Errorf("reset command pool: %w", ErrInjected)
	}
	for native, c := range d.commands {
		if c.pool != pool {
			continue
		}
		if f, busy := d.inFlight[native]; busy && d.fences[f].pending {
			d.violate("reset of command pool %#x while buffer %#x is in flight", uint64(pool), uint64(native))
		}
		c.recording = false
		c.referenced = nil
	}
	return nil
}

func (d *Device) ResetCommandBuffer(cb vri.Native) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(cb, vri.KindCommandBuffer, "ResetCommandBuffer") == nil {
		return fmt.Errorf("reset command buffer: %w", ErrInjected)
	}
	c := d.commands[cb]
	c.recording = false
	c.referenced = nil
	return nil
}

func (d *Device) BeginCommandBuffer(cb vri.Native, oneTimeSubmit bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(cb, vri.KindCommandBuffer, "BeginCommandBuffer") == nil {
		return fmt.Errorf("begin command buffer: %w", ErrInjected)
	}
	c := d.commands[cb]
	if c.recording {
		d.violate("begin of command buffer %#x that is already recording", uint64(cb))
	}
	c.recording = true
	c.referenced = nil
	return nil
}

func (d *Device) EndCommandBuffer(cb vri.Native) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(cb, vri.KindCommandBuffer, "EndCommandBuffer") == nil {
		return fmt.Errorf("end command buffer: %w", ErrInjected)
	}
	c := d.commands[cb]
	if !c.recording {
		d.violate("end of command buffer %#x that is not recording", uint64(cb))
	}
	c.recording = false
	return nil
}

// record notes that cb references natives.
func (d *Device) record(cb vri.Native, op string, natives ...vri.Native) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(cb, vri.KindCommandBuffer, op) == nil {
		return
	}
	c := d.commands[cb]
	if !c.recording {
		d.violate("%s on command buffer %#x that is not recording", op, uint64(cb))
	}
	for _, n := range natives {
		d.lookup(n, vri.KindUnknown, op)
	}
	c.referenced = append(c.referenced, natives...)
}

func (d *Device) CmdBindPipeline(cb vri.Native, point vri.BindPoint, pipeline vri.Native) {
	d.record(cb, "CmdBindPipeline", pipeline)
}

func (d *Device) CmdBindDescriptorSets(cb vri.Native, point vri.BindPoint, layout vri.Native, firstSet uint32, sets []vri.Native) {
	d.record(cb, "CmdBindDescriptorSets", append([]vri.Native{layout}, sets...)...)
}

func (d *Device) CmdDraw(cb vri.Native, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.record(cb, "CmdDraw")
}

func (d *Device) CmdDrawIndexed(cb vri.Native, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.record(cb, "CmdDrawIndexed")
}

func (d *Device) CmdDispatch(cb vri.Native, x, y, z uint32) {
	d.record(cb, "CmdDispatch")
}

func (d *Device) CmdCopyBuffer(cb vri.Native, src, dst vri.Native, regions []vri.BufferCopy) {
	d.record(cb, "CmdCopyBuffer", src, dst)
}

func (d *Device) CmdCopyBufferToImage(cb vri.Native, src, dst vri.Native, dstLayout vri.Layout, regions []vri.BufferImageCopy) {
	d.record(cb, "CmdCopyBufferToImage", src, dst)
}

func (d *Device) CmdBlitImage(cb vri.Native, src vri.Native, srcLayout vri.Layout, dst vri.Native, dstLayout vri.Layout, regions []vri.ImageBlit, filter vri.Filter) {
	d.record(cb, "CmdBlitImage", src, dst)
}

func (d *Device) CmdClearColorImage(cb vri.Native, image vri.Native, layout vri.Layout, color vri.ClearColor) {
	d.record(cb, "CmdClearColorImage", image)
}

func (d *Device) CmdImageBarrier(cb vri.Native, barrier vri.ImageBarrier) {
	d.record(cb, "CmdImageBarrier", barrier.Image)
	d.mu.Lock()
	d.Barriers = append(d.Barriers, barrier)
	d.mu.Unlock()
}
