package containers

import "errors"

var ErrQueueEmpty = errors.New("queue is empty")

// RingQueue is a FIFO queue over a circular buffer. It grows when full
// so Enqueue never fails.
type RingQueue[T any] struct {
	data       []T
	readIndex  int
	writeIndex int
	count      int
}

// Create a new RingQueue with an initial capacity.
func NewRingQueue[T any](size int) *RingQueue[T] {
	if size < 1 {
		size = 1
	}
	return &RingQueue[T]{
		data: make([]T, size),
	}
}

// Enqueue adds an element to the back of the queue
func (rq *RingQueue[T]) Enqueue(value T) {
	if rq.IsFull() {
		rq.grow()
	}
	rq.data[rq.writeIndex] = value
	rq.writeIndex = (rq.writeIndex + 1) % len(rq.data)
	rq.count++
}

// Dequeue removes and returns the front element in the queue
func (rq *RingQueue[T]) Dequeue() (T, error) {
	var zero T
	if rq.IsEmpty() {
		return zero, ErrQueueEmpty
	}

	value := rq.data[rq.readIndex]
	rq.data[rq.readIndex] = zero
	rq.readIndex = (rq.readIndex + 1) % len(rq.data)
	rq.count--
	return value, nil
}

// Peek returns the front element without removing it
func (rq *RingQueue[T]) Peek() (T, error) {
	if rq.IsEmpty() {
		var zero T
		return zero, ErrQueueEmpty
	}
	return rq.data[rq.readIndex], nil
}

// Drain dequeues every element in FIFO order, calling fn for each, and
// returns how many were removed. Elements enqueued by fn are not visited.
func (rq *RingQueue[T]) Drain(fn func(T)) int {
	n := rq.count
	for i := 0; i < n; i++ {
		v, _ := rq.Dequeue()
		fn(v)
	}
	return n
}

// Len returns the number of queued elements.
func (rq *RingQueue[T]) Len() int {
	return rq.count
}

// IsEmpty checks if the queue is empty
func (rq *RingQueue[T]) IsEmpty() bool {
	return rq.count == 0
}

// IsFull checks if the backing buffer has no free slot left
func (rq *RingQueue[T]) IsFull() bool {
	return rq.count == len(rq.data)
}

func (rq *RingQueue[T]) grow() {
	next := make([]T, len(rq.data)*2)
	for i := 0; i < rq.count; i++ {
		next[i] = rq.data[(rq.readIndex+i)%len(rq.data)]
	}
	rq.data = next
	rq.readIndex = 0
	rq.writeIndex = rq.count
}
