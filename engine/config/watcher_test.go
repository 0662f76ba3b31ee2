package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherPublishesReloadedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vri.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nvsync = true\n"), 0o644))

	w, err := Watch(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nvsync = false\n"), 0o644))

	// truncation and write may arrive as separate events
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-w.Updates():
			if !cfg.Renderer.VSync {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatcherReportsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vri.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	w, err := Watch(path)
	require.NoError(t, err)
	defer w.Close()

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("[renderer]\nbuffering = 9\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nbuffering = 9\n"), 0o644))

	select {
	case err := <-w.Errors():
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error observed")
	}
}

func TestWatcherCloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vri.toml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	w, err := Watch(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Close())
}
