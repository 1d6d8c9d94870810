package aerogpu

import (
	"errors"

	"github.com/aerovirt/aerogpu/mmio"
	"github.com/aerovirt/aerogpu/protocol"
)

// ErrRingFull is backpressure, not failure: the caller retries after a
// completion interrupt or surfaces an out-of-resources status. Nothing was
// written.
var ErrRingFull = errors.New("submission ring is full")

const defaultRingEntryCount = 256

// ringState owns the driver side of the hardware ring: the tail index and
// the entry memory. All mutation happens under the adapter's ring lock with
// exactly one logical producer; the device advances head on its own.
type ringState struct {
	bar mmio.BAR
	mem mmio.Mem

	format     protocol.RingFormat
	baseGPA    uint64
	entryCount uint32

	// Legacy format: masked into [0, entryCount). AGPU format: monotonic,
	// pending work is tail-head with unsigned wraparound.
	tail uint32

	scratch [protocol.AGPURingEntryLen]byte
}

func (r *ringState) stride() uint32 {
	if r.format == protocol.RingFormatAGPU {
		return protocol.AGPURingEntryLen
	}
	return protocol.LegacyRingEntryLen
}

// init programs the ring registers and clears both indices. The device sees
// an empty ring afterwards.
func (r *ringState) init() {
	mmio.Write64(r.bar, mmio.RegRingBaseLo, mmio.RegRingBaseHi, r.baseGPA)
	r.bar.Write32(mmio.RegRingEntryCount, r.entryCount)
	r.bar.Write32(mmio.RegRingHead, 0)
	r.bar.Write32(mmio.RegRingTail, 0)
	r.tail = 0
}

// push stages one submission entry: full check, entry write, tail advance.
// Caller holds the ring lock and rings the doorbell afterwards; the device
// must not observe the entry before every side effect of accepting it has
// landed.
func (r *ringState) push(fence uint64, dma *arenaSlot, desc *arenaSlot, allocCount int) error {
	head := r.bar.Read32(mmio.RegRingHead)

	var slot uint32
	var newTail uint32
	if r.format == protocol.RingFormatAGPU {
		if r.tail-head >= r.entryCount {
			return ErrRingFull
		}
		slot = r.tail % r.entryCount
		newTail = r.tail + 1

		e := protocol.AGPURingEntry{
			Fence:          fence,
			CmdGPA:         dma.gpa,
			CmdSize:        dma.used,
			AllocTableGPA:  desc.gpa + protocol.DescHeaderLen,
			AllocTableSize: uint32(allocCount * protocol.DescAllocLen),
		}
		e.Encode(r.scratch[:])
	} else {
		// Leave one slot open so tail==head stays unambiguous for empty.
		if (r.tail+1)%r.entryCount == head {
			return ErrRingFull
		}
		slot = r.tail
		newTail = (r.tail + 1) % r.entryCount

		e := protocol.LegacyRingEntry{
			Type:     protocol.RingEntrySubmit,
			Fence:    uint32(fence),
			DescSize: desc.used,
			DescGPA:  desc.gpa,
		}
		e.Encode(r.scratch[:protocol.LegacyRingEntryLen])
	}

	if err := r.mem.WriteAt(r.baseGPA+uint64(slot)*uint64(r.stride()), r.scratch[:r.stride()]); err != nil {
		return err
	}

	// The guest memory write above completes before these register writes;
	// mem and bar both serialize internally, which is the barrier the
	// doorbell ordering depends on.
	r.tail = newTail
	r.bar.Write32(mmio.RegRingTail, newTail)
	return nil
}

// doorbell makes the staged entries visible to the device.
func (r *ringState) doorbell() {
	r.bar.Write32(mmio.RegRingDoorbell, 1)
}

// snapshot reads the indices the way diagnostics want them: head straight
// from the register, tail from the driver copy.
func (r *ringState) snapshot() (head, tail uint32) {
	return r.bar.Read32(mmio.RegRingHead), r.tail
}

func (r *ringState) pending() uint32 {
	head, tail := r.snapshot()
	return protocol.PendingEntries(r.format, head, tail, r.entryCount)
}
