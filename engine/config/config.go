package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

type Window struct {
	Title  string `toml:"title"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	X      int32  `toml:"x"`
	Y      int32  `toml:"y"`
}

type Renderer struct {
	// Frames in flight.
	Buffering        int    `toml:"buffering"`
	VSync            bool   `toml:"vsync"`
	MinImageCount    uint32 `toml:"min_image_count"`
	FenceTimeoutMS   int64  `toml:"fence_timeout_ms"`
	AcquireTimeoutMS int64  `toml:"acquire_timeout_ms"`
	Validation       bool   `toml:"validation"`
}

type Log struct {
	Level string `toml:"level"`
}

type Config struct {
	Window   Window   `toml:"window"`
	Renderer Renderer `toml:"renderer"`
	Log      Log      `toml:"log"`
}

func Default() Config {
	return Config{
		Window: Window{
			Title:  "VRI Testbed",
			Width:  1280,
			Height: 720,
			X:      100,
			Y:      100,
		},
		Renderer: Renderer{
			Buffering:        vri.DefaultBuffering,
			VSync:            true,
			FenceTimeoutMS:   2000,
			AcquireTimeoutMS: 1000,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the TOML file at path on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("%w: %s", core.ErrInvalidConfig, strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return Config{}, fmt.Errorf("%w: line %d column %d: %s", core.ErrInvalidConfig, row, col, decodeErr.Error())
		}
		return Config{}, fmt.Errorf("%w: %s", core.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("%w: window size %dx%d", core.ErrInvalidConfig, c.Window.Width, c.Window.Height)
	}
	if c.Renderer.Buffering < 1 || c.Renderer.Buffering > vri.MaxBuffering {
		return fmt.Errorf("%w: buffering %d not in [1, %d]", core.ErrInvalidConfig, c.Renderer.Buffering, vri.MaxBuffering)
	}
	if c.Renderer.FenceTimeoutMS < 0 || c.Renderer.AcquireTimeoutMS < 0 {
		return fmt.Errorf("%w: negative timeout", core.ErrInvalidConfig)
	}
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level %q", core.ErrInvalidConfig, c.Log.Level)
	}
	return nil
}

// LogLevel returns the parsed log level. Validate guarantees it parses.
func (c Config) LogLevel() core.LogLevel {
	level, err := core.ParseLogLevel(c.Log.Level)
	if err != nil {
		return core.InfoLevel
	}
	return level
}

// Options converts the renderer section into renderer options. A timeout
// of zero waits forever.
func (c Config) Options(surface vri.Native, width, height uint32) vri.Options {
	return vri.Options{
		Surface:        surface,
		Extent:         vri.Extent2D{Width: width, Height: height},
		Buffering:      c.Renderer.Buffering,
		VSync:          c.Renderer.VSync,
		MinImageCount:  c.Renderer.MinImageCount,
		FenceTimeout:   time.Duration(c.Renderer.FenceTimeoutMS) * time.Millisecond,
		AcquireTimeout: time.Duration(c.Renderer.AcquireTimeoutMS) * time.Millisecond,
	}
}

// Encode writes c as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
