package aerogpu

import (
	"errors"

	"github.com/aerovirt/aerogpu/mmio"
)

var (
	ErrArenaExhausted = errors.New("dma arena has no free slots")
	ErrArenaOverflow  = errors.New("buffer larger than a dma arena slot")
	ErrSlotReleased   = errors.New("dma slot already released")
)

// arena carves a guest physical region into fixed size slots. Every
// submission borrows slots for its command buffer copy and descriptor blob
// and returns them exactly once at retirement. Slots are handles into the
// pool; nothing outside the arena ever holds a raw address with an open
// ended lifetime.
type arena struct {
	mu       syncMutex
	mem      mmio.Mem
	baseGPA  uint64
	slotSize uint32
	free     []uint32
}

type arenaSlot struct {
	a        *arena
	index    uint32
	gpa      uint64
	used     uint32
	released bool
}

func newArena(mem mmio.Mem, baseGPA uint64, slotSize, slotCount uint32) *arena {
	a := &arena{
		mu:       newSyncMutex("arena"),
		mem:      mem,
		baseGPA:  baseGPA,
		slotSize: slotSize,
		free:     make([]uint32, slotCount),
	}
	for i := range a.free {
		a.free[i] = uint32(i)
	}
	return a
}

// alloc borrows a slot and fills it with b. The write happens outside any
// adapter lock; only the free list operation is serialized.
func (a *arena) alloc(b []byte) (*arenaSlot, error) {
	if uint32(len(b)) > a.slotSize {
		return nil, ErrArenaOverflow
	}

	a.mu.Lock()
	if len(a.free) == 0 {
		a.mu.Unlock()
		return nil, ErrArenaExhausted
	}
	idx := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.mu.Unlock()

	s := &arenaSlot{
		a:     a,
		index: idx,
		gpa:   a.baseGPA + uint64(idx)*uint64(a.slotSize),
		used:  uint32(len(b)),
	}
	if err := a.mem.WriteAt(s.gpa, b); err != nil {
		a.release(idx)
		return nil, err
	}
	return s, nil
}

func (a *arena) release(idx uint32) {
	a.mu.Lock()
	a.free = append(a.free, idx)
	a.mu.Unlock()
}

func (a *arena) freeSlots() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// release returns the slot to the pool. Releasing twice is a lifetime bug in
// the caller and reports ErrSlotReleased instead of corrupting the pool.
func (s *arenaSlot) release() error {
	if s.released {
		return ErrSlotReleased
	}
	s.released = true
	s.a.release(s.index)
	return nil
}
