package containers

import (
	"fmt"
	"slices"
)

// ID addresses a value stored in an Arena. The generation makes a stale ID
// (one whose slot was freed and possibly reused) detectable in O(1).
type ID struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether id was never issued by an Arena.
func (id ID) IsZero() bool {
	return id.Generation == 0
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Index, id.Generation)
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	live       bool
	seq        uint64
}

// Arena is a slot array with generation-checked indices. It is not safe for
// concurrent use.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	count int
	seq   uint64
}

func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{
		slots: make([]arenaSlot[T], 0, capacity),
	}
}

// Insert stores v and returns its ID.
func (a *Arena[T]) Insert(v T) ID {
	a.seq++
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot[T]{})
		index = uint32(len(a.slots) - 1)
	}
	s := &a.slots[index]
	s.generation++
	if s.generation == 0 {
		// Generation 0 is reserved for the zero ID.
		s.generation = 1
	}
	s.value = v
	s.live = true
	s.seq = a.seq
	a.count++
	return ID{Index: index, Generation: s.generation}
}

// Get returns the value for id, or false when id is stale.
func (a *Arena[T]) Get(id ID) (T, bool) {
	if !a.Contains(id) {
		var zero T
		return zero, false
	}
	return a.slots[id.Index].value, true
}

// Contains reports whether id still refers to a live value.
func (a *Arena[T]) Contains(id ID) bool {
	if id.IsZero() || int(id.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[id.Index]
	return s.live && s.generation == id.Generation
}

// Remove frees the slot of id and returns its value. A stale id is a no-op.
func (a *Arena[T]) Remove(id ID) (T, bool) {
	var zero T
	if !a.Contains(id) {
		return zero, false
	}
	s := &a.slots[id.Index]
	v := s.value
	s.value = zero
	s.live = false
	a.free = append(a.free, id.Index)
	a.count--
	return v, true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.count
}

// RemoveAllReverse removes every live value, last inserted first, calling fn
// for each one after it has been removed.
func (a *Arena[T]) RemoveAllReverse(fn func(ID, T)) {
	ids := make([]ID, 0, a.count)
	for i := range a.slots {
		if a.slots[i].live {
			ids = append(ids, ID{Index: uint32(i), Generation: a.slots[i].generation})
		}
	}
	slices.SortFunc(ids, func(x, y ID) int {
		sx, sy := a.slots[x.Index].seq, a.slots[y.Index].seq
		switch {
		case sx > sy:
			return -1
		case sx < sy:
			return 1
		}
		return 0
	})
	for _, id := range ids {
		v, _ := a.Remove(id)
		fn(id, v)
	}
}
