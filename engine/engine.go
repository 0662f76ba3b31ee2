package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spaghettifunk/vri/engine/config"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/platform"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
	"github.com/spaghettifunk/vri/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const suspendedPoll = 16 * time.Millisecond

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    bool
	isSuspended  bool
	platform     *platform.Platform
	device       *vulkan.Device
	renderer     *vri.Renderer
	config       config.Config
	watcher      *config.Watcher
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     float64
	lastReport   float64
}

func New(g *Game) (*Engine, error) {
	cfg, err := loadConfig(g.ApplicationConfig.ConfigPath)
	if err != nil {
		return nil, err
	}
	core.SetLogLevel(cfg.LogLevel())

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		platform:     platform.New(),
		config:       cfg,
		isRunning:    true,
		isSuspended:  false,
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
	}, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		core.LogWarn("config %s not found, using defaults", path)
		return config.Default(), nil
	}
	return cfg, err
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting
	if e.gameInstance.FnBoot != nil {
		if err := e.gameInstance.FnBoot(); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	// initialize events
	if !core.EventSystemInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}

	// register some events
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	core.EventRegister(core.EVENT_CODE_KEY_RELEASED, e.onKey)
	core.EventRegister(core.EVENT_CODE_RESIZED, e.onResized)
	core.EventRegister(core.EVENT_CODE_CONFIG_RELOADED, e.onConfigReloaded)

	window := e.config.Window
	if err := e.platform.Startup(window.Title, window.X, window.Y, window.Width, window.Height); err != nil {
		return fmt.Errorf("platform startup: %w", err)
	}

	device, err := vulkan.New(vulkan.Config{
		ApplicationName: e.gameInstance.ApplicationConfig.Name,
		Validation:      e.config.Renderer.Validation,
	}, e.platform)
	if err != nil {
		return fmt.Errorf("vulkan device: %w", err)
	}
	e.device = device

	e.width, e.height = e.platform.FramebufferSize()
	e.renderer = vri.New(device, e.config.Options(device.Surface(), e.width, e.height))

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" && e.gameInstance.ApplicationConfig.WatchConfig {
		w, err := config.Watch(path)
		if err != nil {
			core.LogWarn("config hot reload disabled: %s", err)
		} else {
			e.watcher = w
		}
	}

	if err := e.gameInstance.FnInitialize(e.renderer); err != nil {
		return err
	}
	if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
		return err
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()

	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		if !e.platform.PumpMessages() {
			e.isRunning = false
		}
		e.pollConfig()
		core.DispatchPending()

		if !e.isRunning {
			break
		}
		if e.isSuspended {
			time.Sleep(suspendedPoll)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		var currentTime float64 = e.clock.Elapsed()
		var delta float64 = (currentTime - e.lastTime)

		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("Game update failed, shutting down: %s", err)
			e.isRunning = false
			break
		}

		if _, err := e.renderer.RenderFrame(func(frame *vri.Frame) error {
			return e.gameInstance.FnRender(frame, delta)
		}); err != nil {
			core.LogError("Game render failed, shutting down: %s", err)
			e.isRunning = false
			break
		}

		if currentTime-e.lastReport >= 1.0 {
			e.report()
			e.lastReport = currentTime
		}

		// Update last time
		e.lastTime = currentTime
	}

	return nil
}

func (e *Engine) report() {
	metrics := e.renderer.Metrics()
	presented, skipped := metrics.Frames()
	e.platform.SetTitle(fmt.Sprintf("%s - %.0f fps", e.config.Window.Title, metrics.FPS()))
	core.LogDebug("frame %d: %.0f fps, %.2f ms, %d presented, %d skipped, %d tracked",
		e.renderer.FrameNumber(), metrics.FPS(), metrics.FrameTime()*1000, presented, skipped, e.renderer.Allocator().Len())
}

// pollConfig turns watcher output into events without blocking the loop.
func (e *Engine) pollConfig() {
	if e.watcher == nil {
		return
	}
	select {
	case cfg := <-e.watcher.Updates():
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_CONFIG_RELOADED, Data: cfg})
	case err := <-e.watcher.Errors():
		core.LogWarn("config reload failed: %s", err)
	default:
	}
}

// Shutdown releases everything in the opposite order of Initialize.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("config watcher: %s", err)
		}
		e.watcher = nil
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			core.LogError("game shutdown: %s", err)
		}
	}
	if e.renderer != nil {
		e.renderer.Shutdown()
	}
	if e.device != nil {
		e.device.Close()
	}
	if err := e.platform.Shutdown(); err != nil {
		return err
	}
	if err := core.EventSystemShutdown(); err != nil {
		return err
	}
	e.currentStage = EngineStageUninitialized
	return nil
}

// Quit asks the loop to stop after the current frame.
func (e *Engine) Quit() {
	core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(context core.EventContext) {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT recieved, shutting down.")
		e.isRunning = false
	}
}

func (e *Engine) onKey(context core.EventContext) {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}
	if context.Type != core.EVENT_CODE_KEY_PRESSED {
		return
	}

	switch ke.KeyCode {
	case core.KEY_ESCAPE:
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
	case core.KEY_V:
		vsync := !e.renderer.VSync()
		core.LogInfo("vsync %t", vsync)
		e.renderer.SetVSync(vsync)
	default:
		core.LogDebug("'%c' key pressed in window.", rune(ke.KeyCode))
	}
}

func (e *Engine) onResized(context core.EventContext) {
	se, ok := context.Data.(*core.SystemEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}

	width := se.WindowWidth
	height := se.WindowHeight
	if width == e.width && height == e.height {
		return
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.renderer.Resize(width, height)
	if err := e.gameInstance.FnOnResize(width, height); err != nil {
		core.LogError(err.Error())
	}
}

func (e *Engine) onConfigReloaded(context core.EventContext) {
	cfg, ok := context.Data.(config.Config)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return
	}
	core.SetLogLevel(cfg.LogLevel())
	e.renderer.SetVSync(cfg.Renderer.VSync)
	if cfg.Renderer.Buffering != e.config.Renderer.Buffering {
		core.LogWarn("buffering changed to %d, restart to apply", cfg.Renderer.Buffering)
	}
	e.config = cfg
	core.LogInfo("configuration reloaded")
}
