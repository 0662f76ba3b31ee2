package vri_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vri/engine/containers"
	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
	"github.com/spaghettifunk/vri/engine/renderer/vri/vritest"
)

// fatalExit is the panic value of the exit handler installed by expectFatal.
type fatalExit int

func expectFatal(t *testing.T, fn func()) {
	t.Helper()
	prev := core.SetExitHandler(func(code int) { panic(fatalExit(code)) })
	defer core.SetExitHandler(prev)
	assert.PanicsWithValue(t, fatalExit(1), fn)
}

func newAllocator(t *testing.T, depth int) (*vritest.Device, *containers.FrameCounter, *vri.Allocator) {
	t.Helper()
	dev := vritest.New()
	counter := containers.NewFrameCounter(depth)
	return dev, counter, vri.NewAllocator(dev, counter)
}

func newRenderer(t *testing.T, depth int) (*vritest.Device, *vri.Renderer) {
	t.Helper()
	dev := vritest.New()
	r := vri.New(dev, vri.Options{
		Surface:   vri.Native(1),
		Extent:    vri.Extent2D{Width: 800, Height: 600},
		Buffering: depth,
		VSync:     true,
	})
	t.Cleanup(r.Shutdown)
	return dev, r
}

func assertClean(t *testing.T, dev *vritest.Device) {
	t.Helper()
	assert.Empty(t, dev.Violations())
}

func stagingBuffer(t *testing.T, a *vri.Allocator, size uint64) (vri.Ref[*vri.Buffer], *vri.Buffer) {
	t.Helper()
	ref := a.AllocateBuffer(vri.BufferDesc{
		Size:   size,
		Usage:  vri.BufferUsageTransferSrc,
		Memory: vri.MemoryHostVisible,
	})
	buf, ok := vri.Get(a, ref)
	require.True(t, ok)
	return ref, buf
}
