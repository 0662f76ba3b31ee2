package containers

import "sync/atomic"

// FrameCounter is the monotonically increasing frame number shared by every
// per-frame ring. The slot index of a frame is number % depth.
type FrameCounter struct {
	number atomic.Uint64
	depth  int
}

// NewFrameCounter returns a counter for the given buffering depth. A depth
// below 1 is treated as 1.
func NewFrameCounter(depth int) *FrameCounter {
	if depth < 1 {
		depth = 1
	}
	return &FrameCounter{depth: depth}
}

// Advance moves to the next frame and returns the new frame number.
func (c *FrameCounter) Advance() uint64 {
	return c.number.Add(1)
}

func (c *FrameCounter) Number() uint64 {
	return c.number.Load()
}

// Index is the slot of the current frame.
func (c *FrameCounter) Index() int {
	return int(c.number.Load() % uint64(c.depth))
}

func (c *FrameCounter) Depth() int {
	return c.depth
}

// Buffering is a fixed ring of per-frame payloads indexed by the shared
// frame counter. Slot K is only safe to reuse once the GPU work of its
// previous occupancy has finished; keeping that true is up to the owner.
type Buffering[T any] struct {
	counter *FrameCounter
	slots   []T
}

// NewBuffering builds one payload per slot of counter with fill.
func NewBuffering[T any](counter *FrameCounter, fill func(slot int) T) *Buffering[T] {
	b := &Buffering[T]{
		counter: counter,
		slots:   make([]T, counter.Depth()),
	}
	if fill != nil {
		for i := range b.slots {
			b.slots[i] = fill(i)
		}
	}
	return b
}

// Current returns the payload of the current frame's slot.
func (b *Buffering[T]) Current() T {
	return b.slots[b.counter.Index()]
}

// At returns the payload of slot i.
func (b *Buffering[T]) At(i int) T {
	return b.slots[i]
}

// Set replaces the payload of slot i.
func (b *Buffering[T]) Set(i int, v T) {
	b.slots[i] = v
}

func (b *Buffering[T]) CurrentIndex() int {
	return b.counter.Index()
}

func (b *Buffering[T]) FrameNumber() uint64 {
	return b.counter.Number()
}

// Advance moves the shared counter one frame forward.
func (b *Buffering[T]) Advance() uint64 {
	return b.counter.Advance()
}

func (b *Buffering[T]) Depth() int {
	return len(b.slots)
}

func (b *Buffering[T]) Counter() *FrameCounter {
	return b.counter
}

// Each calls fn for every slot in index order.
func (b *Buffering[T]) Each(fn func(slot int, v T)) {
	for i, v := range b.slots {
		fn(i, v)
	}
}
