package protocol

import (
	"encoding/binary"
	"errors"
)

// Two ring layouts coexist. The legacy format masks its head/tail registers
// into [0, entryCount) and carries 24 byte entries. The AGPU format keeps
// head/tail monotonic and unmasked, so pending work is tail-head with
// unsigned wraparound, and its 40 byte descriptors additionally locate the
// allocation table for zero-copy resolution. Diagnostics must branch on the
// format tag, never assume one wraparound convention globally.

type RingFormat uint32

const (
	RingFormatLegacy RingFormat = 1
	RingFormatAGPU   RingFormat = 2
)

var ringFormatMap = map[RingFormat]string{
	RingFormatLegacy: "legacy",
	RingFormatAGPU:   "agpu",
}

func (f RingFormat) String() string {
	if n, ok := ringFormatMap[f]; ok {
		return n
	}
	return "unknown"
}

const (
	LegacyRingEntryLen = 24
	AGPURingEntryLen   = 40

	RingEntrySubmit uint32 = 1
)

var ErrRingEntryTooShort = errors.New("ring entry is too short")

// LegacyRingEntry is one slot of the legacy ring.
type LegacyRingEntry struct {
	Type     uint32
	Flags    uint32
	Fence    uint32
	DescSize uint32
	DescGPA  uint64
}

// Encode writes the entry into b. b must be capped at LegacyRingEntryLen or
// higher or this will panic.
func (e *LegacyRingEntry) Encode(b []byte) []byte {
	b = b[:LegacyRingEntryLen]
	binary.LittleEndian.PutUint32(b[0:4], e.Type)
	binary.LittleEndian.PutUint32(b[4:8], e.Flags)
	binary.LittleEndian.PutUint32(b[8:12], e.Fence)
	binary.LittleEndian.PutUint32(b[12:16], e.DescSize)
	binary.LittleEndian.PutUint64(b[16:24], e.DescGPA)
	return b
}

func (e *LegacyRingEntry) Parse(b []byte) error {
	if len(b) < LegacyRingEntryLen {
		return ErrRingEntryTooShort
	}
	e.Type = binary.LittleEndian.Uint32(b[0:4])
	e.Flags = binary.LittleEndian.Uint32(b[4:8])
	e.Fence = binary.LittleEndian.Uint32(b[8:12])
	e.DescSize = binary.LittleEndian.Uint32(b[12:16])
	e.DescGPA = binary.LittleEndian.Uint64(b[16:24])
	return nil
}

// AGPURingEntry is one slot of the newer ring format.
type AGPURingEntry struct {
	Fence          uint64
	CmdGPA         uint64
	CmdSize        uint32
	Flags          uint32
	AllocTableGPA  uint64
	AllocTableSize uint32
}

func (e *AGPURingEntry) Encode(b []byte) []byte {
	b = b[:AGPURingEntryLen]
	binary.LittleEndian.PutUint64(b[0:8], e.Fence)
	binary.LittleEndian.PutUint64(b[8:16], e.CmdGPA)
	binary.LittleEndian.PutUint32(b[16:20], e.CmdSize)
	binary.LittleEndian.PutUint32(b[20:24], e.Flags)
	binary.LittleEndian.PutUint64(b[24:32], e.AllocTableGPA)
	binary.LittleEndian.PutUint32(b[32:36], e.AllocTableSize)
	binary.LittleEndian.PutUint32(b[36:40], 0)
	return b
}

func (e *AGPURingEntry) Parse(b []byte) error {
	if len(b) < AGPURingEntryLen {
		return ErrRingEntryTooShort
	}
	e.Fence = binary.LittleEndian.Uint64(b[0:8])
	e.CmdGPA = binary.LittleEndian.Uint64(b[8:16])
	e.CmdSize = binary.LittleEndian.Uint32(b[16:20])
	e.Flags = binary.LittleEndian.Uint32(b[20:24])
	e.AllocTableGPA = binary.LittleEndian.Uint64(b[24:32])
	e.AllocTableSize = binary.LittleEndian.Uint32(b[32:36])
	return nil
}

// PendingEntries computes how many ring entries the device has not consumed
// yet, honoring the wraparound convention of the given format.
func PendingEntries(format RingFormat, head, tail, entryCount uint32) uint32 {
	switch format {
	case RingFormatAGPU:
		// Monotonic indices, unsigned subtraction handles wrap.
		return tail - head
	default:
		if tail >= head {
			return tail - head
		}
		return entryCount - head + tail
	}
}
