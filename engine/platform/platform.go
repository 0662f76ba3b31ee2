package platform

import (
	"errors"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/vri/engine/core"
)

var startTime float64 = 0

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type Platform struct {
	Window *glfw.Window
}

func New() *Platform {
	return &Platform{
		Window: nil,
	}
}

func (p *Platform) Startup(applicationName string, x, y int32, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return errors.New("glfw: no Vulkan loader found")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(keyCallback)
	p.Window.SetFramebufferSizeCallback(framebufferSizeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	startTime = glfw.GetTime()

	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. It returns false once the
// window has been asked to close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

// FramebufferSize is the drawable size in pixels, which differs from the
// window size on high density displays.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

func (p *Platform) RequiredInstanceExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

// CreateSurface creates a Vulkan surface for the window. instance must be
// the vk.Instance the surface belongs to.
func (p *Platform) CreateSurface(instance interface{}) (uintptr, error) {
	return p.Window.CreateWindowSurface(instance, nil)
}

func (p *Platform) SetTitle(title string) {
	p.Window.SetTitle(title)
}

// GetAbsoluteTime returns the seconds since Startup.
func GetAbsoluteTime() float64 {
	return glfw.GetTime() - startTime
}

func translateKey(key glfw.Key) (core.KeyCode, bool) {
	switch {
	case key == glfw.KeyEscape:
		return core.KEY_ESCAPE, true
	case key >= glfw.KeyA && key <= glfw.KeyZ, key >= glfw.Key0 && key <= glfw.Key9:
		// GLFW uses ASCII for printable keys.
		return core.KeyCode(key), true
	}
	return 0, false
}

func keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	code, ok := translateKey(key)
	if !ok {
		return
	}
	switch action {
	case glfw.Press:
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_KEY_PRESSED, Data: &core.KeyEvent{KeyCode: code}})
	case glfw.Release:
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_KEY_RELEASED, Data: &core.KeyEvent{KeyCode: code}})
	}
}

func framebufferSizeCallback(w *glfw.Window, width, height int) {
	core.EventFire(core.EventContext{
		Type: core.EVENT_CODE_RESIZED,
		Data: &core.SystemEvent{WindowWidth: uint32(width), WindowHeight: uint32(height)},
	})
}
