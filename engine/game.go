package engine

import "github.com/spaghettifunk/vri/engine/renderer/vri"

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnBoot            Boot
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Boot func() error

// Initialize runs once the renderer exists; resources created here live in
// its allocator.
type Initialize func(renderer *vri.Renderer) error
type Update func(deltaTime float64) error

// Render records the commands of one frame. It is only called for frames
// that acquired a swapchain image.
type Render func(frame *vri.Frame, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
