package aerogpu

import (
	"errors"
	"math"

	"github.com/aerovirt/aerogpu/protocol"
)

var (
	ErrAllocationUnknown     = errors.New("allocation id is not known to this adapter")
	ErrAllocationNotResident = errors.New("allocation has no resident physical address")
	ErrAllocationTooLarge    = errors.New("allocation size does not fit the descriptor size field")
)

// Allocation is one GPU visible memory object. Submissions and the command
// stream refer to it by id, never by pointer; the physical address is
// resolved at submit time and must be current.
type Allocation struct {
	ID         uint64
	SizeBytes  uint64
	Flags      uint32
	PitchBytes uint32
	ShareToken uint64
	PhysAddr   uint64
	Resident   bool
}

// AllocationRef names an allocation inside a submission's ordered reference
// list.
type AllocationRef struct {
	ID uint64
}

type allocationTable struct {
	mu     syncMutex
	allocs map[uint64]*Allocation
	nextID uint64

	// Recent create trace for diagnostics; overwritten oldest first, the
	// write index never resets.
	trace      [protocol.MaxRecentAllocations]protocol.CreateAllocRecord
	traceIndex uint64
}

func newAllocationTable() *allocationTable {
	return &allocationTable{
		mu:     newSyncMutex("allocations"),
		allocs: make(map[uint64]*Allocation),
	}
}

// Create registers a new allocation. Ids increase monotonically and are never
// reused for the lifetime of the adapter.
func (t *allocationTable) Create(size uint64, flags, pitch uint32, shareToken uint64) *Allocation {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	a := &Allocation{
		ID:         t.nextID,
		SizeBytes:  size,
		Flags:      flags,
		PitchBytes: pitch,
		ShareToken: shareToken,
	}
	t.allocs[a.ID] = a

	t.trace[t.traceIndex%protocol.MaxRecentAllocations] = protocol.CreateAllocRecord{
		Seq:        t.traceIndex,
		ShareToken: shareToken,
		SizeBytes:  size,
		Flags:      flags,
		PitchBytes: pitch,
	}
	t.traceIndex++
	return a
}

func (t *allocationTable) Destroy(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.allocs[id]; !ok {
		return ErrAllocationUnknown
	}
	delete(t.allocs, id)
	return nil
}

// UpdateResidency refreshes the last known physical address after the OS
// pages the allocation in or relocates it. gpa 0 marks it evicted.
func (t *allocationTable) UpdateResidency(id uint64, gpa uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.allocs[id]
	if !ok {
		return ErrAllocationUnknown
	}
	a.PhysAddr = gpa
	a.Resident = gpa != 0
	return nil
}

// Resolve turns an ordered reference list into descriptor entries using the
// physical addresses valid right now. A non resident allocation fails the
// whole resolve; the caller must not submit partial work.
func (t *allocationTable) Resolve(refs []AllocationRef) ([]protocol.AllocationEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]protocol.AllocationEntry, len(refs))
	for i, r := range refs {
		a, ok := t.allocs[r.ID]
		if !ok {
			return nil, ErrAllocationUnknown
		}
		if !a.Resident {
			return nil, ErrAllocationNotResident
		}
		// The wire entry carries a u32 size.
		if a.SizeBytes > math.MaxUint32 {
			return nil, ErrAllocationTooLarge
		}
		out[i] = protocol.AllocationEntry{
			Handle:    a.ID,
			GPA:       a.PhysAddr,
			SizeBytes: uint32(a.SizeBytes),
		}
	}
	return out, nil
}

// traceSnapshot copies the recent create records oldest first.
func (t *allocationTable) traceSnapshot() (uint64, []protocol.CreateAllocRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.traceIndex
	if n > protocol.MaxRecentAllocations {
		n = protocol.MaxRecentAllocations
	}
	out := make([]protocol.CreateAllocRecord, 0, n)
	start := t.traceIndex - n
	for i := start; i < t.traceIndex; i++ {
		out = append(out, t.trace[i%protocol.MaxRecentAllocations])
	}
	return t.traceIndex, out
}
