package testbed

import (
	"fmt"
	"math"

	"github.com/spaghettifunk/vri/engine"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

const (
	patternSize = 64
	// seconds between two pattern uploads
	patternPeriod = 2.0
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	renderer *vri.Renderer

	width  uint32
	height uint32

	elapsed     float64
	lastUpload  float64
	generation  int
	stagingRef  vri.Ref[*vri.Buffer]
	patternRef  vri.Ref[*vri.Image]
	patternView vri.Ref[*vri.ImageView]
	samplerRef  vri.Ref[*vri.Sampler]
}

func NewTestGame(configPath string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:        "VRI Testbed",
				ConfigPath:  configPath,
				WatchConfig: true,
			},
			State: &gameState{},
		},
	}

	tg.FnBoot = tg.Boot
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Boot() error {
	core.LogInfo("booting testbed...")
	return nil
}

func (g *TestGame) Initialize(renderer *vri.Renderer) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.State.(*gameState)
	state.renderer = renderer
	a := renderer.Allocator()

	state.patternRef = a.AllocateImage(vri.ImageDesc{
		Extent: vri.Extent2D{Width: patternSize, Height: patternSize},
		Format: vri.FormatRGBA8Unorm,
		Usage:  vri.ImageUsageTransferDst | vri.ImageUsageTransferSrc | vri.ImageUsageSampled,
		Name:   "pattern",
	})
	pattern := vri.MustGet(a, state.patternRef)
	state.patternView = a.AllocateImageView(vri.ImageViewDesc{
		Image:  pattern.Native(),
		Format: pattern.Format(),
		Name:   "pattern-view",
	})
	state.samplerRef = a.AllocateSampler(vri.SamplerDesc{
		MinFilter:   vri.FilterNearest,
		MagFilter:   vri.FilterNearest,
		AddressMode: vri.AddressClampToEdge,
		Name:        "pattern-sampler",
	})

	if err := g.uploadPattern(); err != nil {
		return err
	}
	// first upload happens outside the frame loop
	return renderer.ImmediateSubmit(func(cmd *vri.Commands) {
		staging := vri.MustGet(a, state.stagingRef)
		cmd.TransitionImage(pattern, vri.LayoutTransferDst)
		cmd.CopyBufferToImage(staging, pattern)
		cmd.TransitionImage(pattern, vri.LayoutShaderReadOnly)
	})
}

// uploadPattern replaces the staging buffer with a fresh checkerboard. The
// previous buffer may still be read by frames in flight; releasing it only
// queues its destruction.
func (g *TestGame) uploadPattern() error {
	state := g.State.(*gameState)
	a := state.renderer.Allocator()

	ref := a.AllocateBuffer(vri.BufferDesc{
		Size:   patternSize * patternSize * 4,
		Usage:  vri.BufferUsageTransferSrc,
		Memory: vri.MemoryHostVisible,
		Name:   fmt.Sprintf("pattern-staging-%d", state.generation),
	})
	buf := vri.MustGet(a, ref)
	if err := buf.Write(0, checkerboard(patternSize, 8, state.generation)); err != nil {
		a.ReleaseImmediate(ref)
		return err
	}

	if a.Contains(state.stagingRef) {
		a.Release(state.stagingRef)
	}
	state.stagingRef = ref
	state.generation++
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime
	if state.elapsed-state.lastUpload >= patternPeriod {
		state.lastUpload = state.elapsed
		return g.uploadPattern()
	}
	return nil
}

func (g *TestGame) Render(frame *vri.Frame, deltaTime float64) error {
	state := g.State.(*gameState)
	a := state.renderer.Allocator()
	cmd := frame.Commands

	staging, ok := vri.Get(a, state.stagingRef)
	if !ok {
		return core.ErrStaleReference
	}
	pattern, ok := vri.Get(a, state.patternRef)
	if !ok {
		return core.ErrStaleReference
	}

	cmd.TransitionImage(pattern, vri.LayoutTransferDst)
	cmd.CopyBufferToImage(staging, pattern)
	cmd.TransitionImage(pattern, vri.LayoutTransferSrc)

	cmd.TransitionImage(frame.Image, vri.LayoutTransferDst)
	cmd.Clear(frame.Image, background(state.elapsed))

	side := min(frame.Image.Extent().Width, frame.Image.Extent().Height) / 4
	cmd.Blit(pattern, frame.Image, vri.FilterNearest, vri.ImageBlit{
		SrcExtent: pattern.Extent(),
		DstExtent: vri.Extent2D{Width: side, Height: side},
	})
	cmd.TransitionImage(frame.Image, vri.LayoutPresentSrc)
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	if state.renderer == nil {
		return nil
	}
	a := state.renderer.Allocator()
	for _, ref := range []vri.Reference{state.patternView, state.samplerRef, state.patternRef, state.stagingRef} {
		if a.Contains(ref) {
			a.Release(ref)
		}
	}
	core.LogInfo("testbed uploaded %d patterns", state.generation)
	return nil
}

// background slowly cycles the clear color.
func background(t float64) vri.ClearColor {
	return vri.ClearColor{
		float32(0.5 + 0.5*math.Sin(t)),
		float32(0.5 + 0.5*math.Sin(t+2*math.Pi/3)),
		float32(0.5 + 0.5*math.Sin(t+4*math.Pi/3)),
		1,
	}
}

// checkerboard returns size*size RGBA8 pixels in cells of cell pixels. The
// colors change with generation.
func checkerboard(size, cell, generation int) []byte {
	palette := [][4]byte{
		{0xff, 0xff, 0xff, 0xff},
		{0xe0, 0x40, 0x40, 0xff},
		{0x40, 0xe0, 0x40, 0xff},
		{0x40, 0x40, 0xe0, 0xff},
	}
	on := palette[generation%len(palette)]
	off := [4]byte{0x10, 0x10, 0x10, 0xff}

	pixels := make([]byte, 0, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := off
			if (x/cell+y/cell)%2 == 0 {
				c = on
			}
			pixels = append(pixels, c[:]...)
		}
	}
	return pixels
}
