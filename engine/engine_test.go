package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vri/engine/config"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
	"github.com/spaghettifunk/vri/engine/renderer/vri/vritest"
)

func newTestEngine(t *testing.T) (*Engine, *[][2]uint32) {
	t.Helper()
	resizes := &[][2]uint32{}
	g := &Game{
		ApplicationConfig: &ApplicationConfig{Name: "test"},
		FnOnResize: func(width, height uint32) error {
			*resizes = append(*resizes, [2]uint32{width, height})
			return nil
		},
	}
	cfg := config.Default()
	r := vri.New(vritest.New(), cfg.Options(vri.Native(1), cfg.Window.Width, cfg.Window.Height))
	t.Cleanup(r.Shutdown)
	return &Engine{
		gameInstance: g,
		renderer:     r,
		config:       cfg,
		isRunning:    true,
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
		clock:        core.NewClock(),
	}, resizes
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	cfg, err = loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vri.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nbuffering = 9\n"), 0o644))

	_, err := loadConfig(path)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestQuitEventStopsEngine(t *testing.T) {
	e, _ := newTestEngine(t)
	e.onEvent(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
	assert.False(t, e.isRunning)
}

func TestVKeyTogglesVSync(t *testing.T) {
	e, _ := newTestEngine(t)
	require.True(t, e.renderer.VSync())

	e.onKey(core.EventContext{Type: core.EVENT_CODE_KEY_PRESSED, Data: &core.KeyEvent{KeyCode: core.KEY_V}})
	assert.False(t, e.renderer.VSync())
	assert.True(t, e.renderer.Swapchain().Dirty())

	// releases are ignored
	e.onKey(core.EventContext{Type: core.EVENT_CODE_KEY_RELEASED, Data: &core.KeyEvent{KeyCode: core.KEY_V}})
	assert.False(t, e.renderer.VSync())
}

func TestResizeMarksSwapchainDirty(t *testing.T) {
	e, resizes := newTestEngine(t)

	e.onResized(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.SystemEvent{WindowWidth: 1024, WindowHeight: 768}})
	assert.True(t, e.renderer.Swapchain().Dirty())
	assert.Equal(t, [][2]uint32{{1024, 768}}, *resizes)

	frame, err := e.renderer.RenderFrame(nil)
	require.NoError(t, err)
	assert.True(t, frame.Skipped)
	assert.Equal(t, vri.Extent2D{Width: 1024, Height: 768}, e.renderer.Swapchain().Extent())
}

func TestMinimizeSuspends(t *testing.T) {
	e, resizes := newTestEngine(t)

	e.onResized(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.SystemEvent{}})
	assert.True(t, e.isSuspended)
	assert.Empty(t, *resizes)

	e.onResized(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.SystemEvent{WindowWidth: 640, WindowHeight: 480}})
	assert.False(t, e.isSuspended)
	assert.Len(t, *resizes, 1)
}

func TestConfigReloadAppliesLiveSettings(t *testing.T) {
	e, _ := newTestEngine(t)
	defer core.SetLogLevel(core.InfoLevel)

	cfg := config.Default()
	cfg.Renderer.VSync = false
	cfg.Log.Level = "debug"
	e.onConfigReloaded(core.EventContext{Type: core.EVENT_CODE_CONFIG_RELOADED, Data: cfg})

	assert.False(t, e.renderer.VSync())
	assert.Equal(t, cfg, e.config)

	// wrong payloads are ignored
	e.onConfigReloaded(core.EventContext{Type: core.EVENT_CODE_CONFIG_RELOADED, Data: "nope"})
	assert.Equal(t, cfg, e.config)
}
