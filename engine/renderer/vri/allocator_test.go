package vri_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vri/engine/core"
	"github.com/spaghettifunk/vri/engine/renderer/vri"
)

func TestAllocatorSetSizeTracksAllocationsMinusReleases(t *testing.T) {
	dev, counter, a := newAllocator(t, 3)
	rng := rand.New(rand.NewSource(7))

	var live []vri.Ref[*vri.Buffer]
	allocations, releases := 0, 0
	for step := 0; step < 500; step++ {
		switch {
		case len(live) == 0 || rng.Intn(3) > 0:
			live = append(live, a.AllocateBuffer(vri.BufferDesc{Size: 64}))
			allocations++
		default:
			i := rng.Intn(len(live))
			require.True(t, a.Release(live[i]))
			live = append(live[:i], live[i+1:]...)
			releases++
		}
		if rng.Intn(10) == 0 {
			counter.Advance()
			a.DrainSlot(counter.Index())
		}
		require.Equal(t, allocations-releases, a.Len(), "step %d", step)
	}

	a.Teardown()
	assert.Zero(t, a.Len())
	assert.Zero(t, dev.LiveTotal())
	assertClean(t, dev)
}

func TestReleaseIsDeferredUntilSlotComesAround(t *testing.T) {
	dev, counter, a := newAllocator(t, 2)

	ref := a.AllocateBuffer(vri.BufferDesc{Size: 256, Name: "vertices"})
	buf, ok := vri.Get(a, ref)
	require.True(t, ok)
	native := buf.Native()

	require.True(t, a.Release(ref))
	assert.True(t, dev.Alive(native))
	assert.Equal(t, 1, a.Pending(0))
	assert.Zero(t, a.Len())

	// released during the current frame, which was not submitted yet
	assert.Zero(t, a.DrainSlot(0))
	assert.True(t, dev.Alive(native))

	counter.Advance()
	assert.Zero(t, a.DrainSlot(1))
	assert.True(t, dev.Alive(native))

	counter.Advance()
	assert.Equal(t, 1, a.DrainSlot(0))
	assert.False(t, dev.Alive(native))
	assert.Equal(t, 1, dev.DestroyCount(native))
	assertClean(t, dev)
}

func TestDrainSlotIsIdempotent(t *testing.T) {
	dev, counter, a := newAllocator(t, 2)

	for i := 0; i < 4; i++ {
		a.Release(a.AllocateSampler(vri.SamplerDesc{}))
	}
	counter.Advance()
	counter.Advance()

	assert.Equal(t, 4, a.DrainSlot(0))
	destroyed := len(dev.Destroyed())
	assert.Zero(t, a.DrainSlot(0))
	assert.Len(t, dev.Destroyed(), destroyed)
	assertClean(t, dev)
}

func TestDrainSlotKeepsFIFOOrder(t *testing.T) {
	dev, counter, a := newAllocator(t, 1)

	var natives []vri.Native
	for i := 0; i < 5; i++ {
		ref := a.AllocateSemaphore("")
		s, _ := vri.Get(a, ref)
		natives = append(natives, s.Native())
		a.Release(ref)
	}
	counter.Advance()
	require.Equal(t, 5, a.DrainSlot(0))

	var got []vri.Native
	for _, d := range dev.Destroyed() {
		got = append(got, d.Native)
	}
	assert.Equal(t, natives, got)
}

func TestDoubleReleaseIsIgnored(t *testing.T) {
	dev, counter, a := newAllocator(t, 2)

	ref := a.AllocateImage(vri.ImageDesc{Extent: vri.Extent2D{Width: 4, Height: 4}, Format: vri.FormatRGBA8Unorm})
	img, _ := vri.Get(a, ref)
	native := img.Native()

	assert.True(t, a.Release(ref))
	assert.False(t, a.Release(ref))
	assert.False(t, a.ReleaseImmediate(ref))
	assert.Equal(t, 1, a.Pending(0))

	counter.Advance()
	counter.Advance()
	a.DrainSlot(0)
	assert.Equal(t, 1, dev.DestroyCount(native))
	assertClean(t, dev)
}

func TestReleaseAfterTeardownIsIgnored(t *testing.T) {
	dev, _, a := newAllocator(t, 2)

	ref := a.AllocateFence(true, "late")
	a.Teardown()
	assert.True(t, a.Torndown())

	assert.False(t, a.Release(ref))
	assert.False(t, a.ReleaseImmediate(ref))
	assert.True(t, a.AllocateBuffer(vri.BufferDesc{Size: 1}).IsZero())
	assert.Zero(t, dev.LiveTotal())
	assertClean(t, dev)
}

func TestTeardownDrainsQueuesThenDestroysNewestFirst(t *testing.T) {
	dev, _, a := newAllocator(t, 2)

	first := a.AllocateBuffer(vri.BufferDesc{Size: 1, Name: "first"})
	second := a.AllocateBuffer(vri.BufferDesc{Size: 1, Name: "second"})
	third := a.AllocateBuffer(vri.BufferDesc{Size: 1, Name: "third"})
	natives := map[string]vri.Native{}
	for name, ref := range map[string]vri.Ref[*vri.Buffer]{"first": first, "second": second, "third": third} {
		b, ok := vri.Get(a, ref)
		require.True(t, ok)
		natives[name] = b.Native()
	}

	a.Release(second)
	a.Teardown()
	a.Teardown()

	var order []vri.Native
	for _, d := range dev.Destroyed() {
		order = append(order, d.Native)
	}
	assert.Equal(t, []vri.Native{natives["second"], natives["third"], natives["first"]}, order)
	assertClean(t, dev)
}

func TestStaleReferenceNeverResolves(t *testing.T) {
	_, _, a := newAllocator(t, 2)

	old := a.AllocateShaderModule([]byte{0x03, 0x02, 0x23, 0x07}, "compute")
	a.ReleaseImmediate(old)
	fresh := a.AllocateShaderModule([]byte{0x03, 0x02, 0x23, 0x07}, "compute")

	assert.Equal(t, old.ID().Index, fresh.ID().Index)
	_, ok := vri.Get(a, old)
	assert.False(t, ok)
	assert.False(t, a.Contains(old))
	_, ok = vri.Get(a, fresh)
	assert.True(t, ok)

	var zero vri.Ref[*vri.ShaderModule]
	_, ok = vri.Get(a, zero)
	assert.False(t, ok)
}

func TestPooledObjectsAreFreedIntoTheirPool(t *testing.T) {
	dev, _, a := newAllocator(t, 2)

	pool := a.AllocateDescriptorPool(vri.DescriptorPoolDesc{
		MaxSets: 4,
		Sizes:   []vri.DescriptorPoolSize{{Type: vri.DescriptorStorageImage, Count: 4}},
	})
	bindings := []vri.DescriptorBinding{
		{Binding: 0, Type: vri.DescriptorStorageImage, Count: 1, Stages: vri.ShaderStageCompute},
	}
	layout := a.AllocateDescriptorSetLayout(bindings, "draw-image")
	bindings[0].Count = 8
	l, ok := vri.Get(a, layout)
	require.True(t, ok)
	require.Len(t, l.Bindings(), 1)
	// the layout keeps its own copy
	assert.Equal(t, uint32(1), l.Bindings()[0].Count)

	set := a.AllocateDescriptorSet(pool, layout, "draw-image-set")
	require.False(t, set.IsZero())

	p, _ := vri.Get(a, pool)
	poolNative := p.Native()
	a.ReleaseImmediate(set)

	destroyed := dev.Destroyed()
	require.Len(t, destroyed, 1)
	assert.Equal(t, vri.KindDescriptorSet, destroyed[0].Kind)
	assert.Equal(t, poolNative, destroyed[0].Parent)

	a.ReleaseImmediate(pool)
	assert.True(t, a.AllocateDescriptorSet(pool, layout, "orphan").IsZero())
	assertClean(t, dev)
}

func TestAdoptTakesOwnership(t *testing.T) {
	dev, _, a := newAllocator(t, 2)

	native, err := dev.CreateSemaphore()
	require.NoError(t, err)
	h := vri.NewHandle(dev, vri.KindSemaphore, native, vri.NullHandle, "external")

	ref := a.Adopt(h)
	require.False(t, ref.IsZero())
	assert.True(t, h.Destroyed())
	assert.Equal(t, vri.NullHandle, h.Native())

	h.Destroy()
	assert.True(t, dev.Alive(native))

	adopted, ok := vri.Get(a, ref)
	require.True(t, ok)
	assert.Equal(t, native, adopted.Native())
	assert.Equal(t, "external", adopted.Label())

	a.ReleaseImmediate(ref)
	assert.Equal(t, 1, dev.DestroyCount(native))
	assert.True(t, a.Adopt(h).IsZero())
	assertClean(t, dev)
}

func TestAllocatedObjectsGetDebugLabels(t *testing.T) {
	_, _, a := newAllocator(t, 1)

	named, _ := vri.Get(a, a.AllocateBuffer(vri.BufferDesc{Size: 1, Name: "indices"}))
	anonymous, _ := vri.Get(a, a.AllocateBuffer(vri.BufferDesc{Size: 1}))

	assert.Equal(t, "indices", named.Label())
	assert.Regexp(t, `^buffer-[0-9a-f-]{36}$`, anonymous.Label())
}

func TestCreateFailureIsFatal(t *testing.T) {
	dev, _, a := newAllocator(t, 2)
	dev.FailNext(vri.KindBuffer)

	expectFatal(t, func() {
		a.AllocateBuffer(vri.BufferDesc{Size: 16, Name: "doomed"})
	})
	assert.Zero(t, a.Len())
}

func TestBufferWrite(t *testing.T) {
	dev, _, a := newAllocator(t, 2)

	_, staging := stagingBuffer(t, a, 8)
	require.NoError(t, staging.Write(2, []byte{1, 2, 3}))
	assert.Equal(t, []byte{0, 0, 1, 2, 3, 0, 0, 0}, dev.Contents(staging.Native()))

	assert.ErrorIs(t, staging.Write(6, []byte{1, 2, 3}), core.ErrOutOfRange)

	local, _ := vri.Get(a, a.AllocateBuffer(vri.BufferDesc{Size: 8, Memory: vri.MemoryDeviceLocal}))
	assert.ErrorIs(t, local.Write(0, []byte{1}), core.ErrNotHostVisible)
}
