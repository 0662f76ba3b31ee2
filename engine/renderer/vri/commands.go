package vri

import (
	"github.com/spaghettifunk/vri/engine/core"
)

type recorderState int

const (
	recorderIdle recorderState = iota
	recorderRecording
)

// Commands records into one native command buffer. Images transitioned
// during a recording go back to LayoutUndefined when the recording ends,
// since their contents are not preserved across frames. Not safe for
// concurrent use.
type Commands struct {
	device       CommandEncoder
	buffer       Native
	state        recorderState
	transitioned []*Image
}

func NewCommands(device CommandEncoder, buffer *CommandBuffer) *Commands {
	return &Commands{
		device:       device,
		buffer:       buffer.Native(),
		state:        recorderIdle,
		transitioned: make([]*Image, 0, 8),
	}
}

func (c *Commands) Native() Native { return c.buffer }

func (c *Commands) Recording() bool { return c.state == recorderRecording }

// Transitioned lists the images transitioned since Begin.
func (c *Commands) Transitioned() []*Image { return c.transitioned }

// Begin starts a one-time-submit recording, resetting the native buffer
// first when reset is set.
func (c *Commands) Begin(reset bool) {
	if c.state == recorderRecording {
		core.LogWarn("command buffer %#x already recording, restarting", uint64(c.buffer))
		c.finish()
		reset = true
	}
	if reset {
		if err := c.device.ResetCommandBuffer(c.buffer); err != nil {
			core.LogFatal("failed to reset command buffer: %s", err)
		}
	}
	if err := c.device.BeginCommandBuffer(c.buffer, true); err != nil {
		core.LogFatal("failed to begin command buffer: %s", err)
	}
	c.state = recorderRecording
}

// End finishes the recording and returns every transitioned image to
// LayoutUndefined.
func (c *Commands) End() error {
	if c.state != recorderRecording {
		return core.ErrNotRecording
	}
	c.finish()
	return nil
}

// Abort closes a recording that will never be submitted. It is a no-op
// when nothing is being recorded.
func (c *Commands) Abort() {
	if c.state != recorderRecording {
		return
	}
	c.finish()
}

func (c *Commands) finish() {
	if err := c.device.EndCommandBuffer(c.buffer); err != nil {
		core.LogFatal("failed to end command buffer: %s", err)
	}
	for _, img := range c.transitioned {
		img.layout = LayoutUndefined
	}
	clear(c.transitioned)
	c.transitioned = c.transitioned[:0]
	c.state = recorderIdle
}

func (c *Commands) recording(op string) bool {
	if c.state != recorderRecording {
		core.LogWarn("%s recorded outside Begin/End ignored", op)
		return false
	}
	return true
}

func (c *Commands) BindPipeline(p *Pipeline) {
	if !c.recording("BindPipeline") {
		return
	}
	c.device.CmdBindPipeline(c.buffer, p.bindPoint, p.Native())
}

func (c *Commands) BindDescriptorSets(point BindPoint, layout *PipelineLayout, firstSet uint32, sets ...*DescriptorSet) {
	if !c.recording("BindDescriptorSets") {
		return
	}
	natives := make([]Native, len(sets))
	for i, s := range sets {
		natives[i] = s.Native()
	}
	c.device.CmdBindDescriptorSets(c.buffer, point, layout.Native(), firstSet, natives)
}

func (c *Commands) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !c.recording("Draw") {
		return
	}
	c.device.CmdDraw(c.buffer, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *Commands) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !c.recording("DrawIndexed") {
		return
	}
	c.device.CmdDrawIndexed(c.buffer, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *Commands) Dispatch(x, y, z uint32) {
	if !c.recording("Dispatch") {
		return
	}
	c.device.CmdDispatch(c.buffer, x, y, z)
}

func (c *Commands) CopyBuffer(src, dst *Buffer, regions ...BufferCopy) {
	if !c.recording("CopyBuffer") {
		return
	}
	if len(regions) == 0 {
		regions = []BufferCopy{{Size: min(src.size, dst.size)}}
	}
	c.device.CmdCopyBuffer(c.buffer, src.Native(), dst.Native(), regions)
}

// CopyBufferToImage copies into dst, which must already be in
// LayoutTransferDst or LayoutGeneral.
func (c *Commands) CopyBufferToImage(src *Buffer, dst *Image, regions ...BufferImageCopy) {
	if !c.recording("CopyBufferToImage") {
		return
	}
	if len(regions) == 0 {
		regions = []BufferImageCopy{{Extent: dst.extent}}
	}
	c.device.CmdCopyBufferToImage(c.buffer, src.Native(), dst.Native(), dst.layout, regions)
}

func (c *Commands) Blit(src, dst *Image, filter Filter, regions ...ImageBlit) {
	if !c.recording("Blit") {
		return
	}
	if len(regions) == 0 {
		regions = []ImageBlit{{SrcExtent: src.extent, DstExtent: dst.extent}}
	}
	c.device.CmdBlitImage(c.buffer, src.Native(), src.layout, dst.Native(), dst.layout, regions, filter)
}

func (c *Commands) Clear(img *Image, color ClearColor) {
	if !c.recording("Clear") {
		return
	}
	c.device.CmdClearColorImage(c.buffer, img.Native(), img.layout, color)
}

// TransitionImage records a full memory barrier moving img into layout. A
// transition into the layout the image is already in is still recorded.
func (c *Commands) TransitionImage(img *Image, layout Layout) {
	if !c.recording("TransitionImage") {
		return
	}
	c.device.CmdImageBarrier(c.buffer, ImageBarrier{
		Image:     img.Native(),
		Format:    img.format,
		MipLevels: img.mipLevels,
		OldLayout: img.layout,
		NewLayout: layout,
	})
	img.layout = layout
	c.transitioned = append(c.transitioned, img)
}
