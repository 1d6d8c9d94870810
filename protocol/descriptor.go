package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Submission descriptor layout (little-endian):
// 0                                                                       31
// |-----------------------------------------------------------------------|
// |                           Version (uint32)                            |
// |-----------------------------------------------------------------------|
// |                             Type (uint32)                             |
// |-----------------------------------------------------------------------|
// |                            Fence (uint32)                             |
// |-----------------------------------------------------------------------|
// |                           Reserved (uint32)                           |
// |-----------------------------------------------------------------------|
// |                        DMA buffer GPA (uint64)                        |
// |-----------------------------------------------------------------------|
// |          DMA buffer size (uint32) | Allocation count (uint32)         |
// |-----------------------------------------------------------------------|
// | repeated: allocation handle (u64) | GPA (u64) | size (u32) | rsvd u32 |
//
// The blob is fully self describing: the host consumer needs nothing but the
// descriptor GPA and size from the ring entry to locate and execute it.

const (
	DescVersion   uint32 = 1
	DescHeaderLen        = 32
	DescAllocLen         = 24
)

type SubmitType uint32

const (
	SubmitRender  SubmitType = 1
	SubmitPresent SubmitType = 2
	SubmitPaging  SubmitType = 3
)

var submitTypeMap = map[SubmitType]string{
	SubmitRender:  "render",
	SubmitPresent: "present",
	SubmitPaging:  "paging",
}

func (t SubmitType) String() string {
	if n, ok := submitTypeMap[t]; ok {
		return n
	}
	return "unknown"
}

var (
	ErrDescTooShort     = errors.New("submission descriptor is too short")
	ErrDescBadVersion   = errors.New("unsupported submission descriptor version")
	ErrDescAllocsExceed = errors.New("allocation array exceeds descriptor size")
)

// AllocationEntry is one resolved allocation reference carried by a
// descriptor. GPA is the physical address valid at submit time.
type AllocationEntry struct {
	Handle    uint64
	GPA       uint64
	SizeBytes uint32
}

// Descriptor is the in-memory form of a submission blob. The trailing
// allocation array of the wire format is modeled as a slice and only
// flattened by Encode.
type Descriptor struct {
	Type          SubmitType
	Fence         uint32
	DMABufferGPA  uint64
	DMABufferSize uint32
	Allocations   []AllocationEntry
}

// EncodedLen reports the exact byte length Encode will produce.
func (d *Descriptor) EncodedLen() int {
	return DescHeaderLen + DescAllocLen*len(d.Allocations)
}

// Encode writes the descriptor into b. b must be capped at EncodedLen or
// higher or this will panic.
func (d *Descriptor) Encode(b []byte) []byte {
	b = b[:d.EncodedLen()]
	binary.LittleEndian.PutUint32(b[0:4], DescVersion)
	binary.LittleEndian.PutUint32(b[4:8], uint32(d.Type))
	binary.LittleEndian.PutUint32(b[8:12], d.Fence)
	binary.LittleEndian.PutUint32(b[12:16], 0)
	binary.LittleEndian.PutUint64(b[16:24], d.DMABufferGPA)
	binary.LittleEndian.PutUint32(b[24:28], d.DMABufferSize)
	binary.LittleEndian.PutUint32(b[28:32], uint32(len(d.Allocations)))
	for i, a := range d.Allocations {
		o := DescHeaderLen + DescAllocLen*i
		binary.LittleEndian.PutUint64(b[o:o+8], a.Handle)
		binary.LittleEndian.PutUint64(b[o+8:o+16], a.GPA)
		binary.LittleEndian.PutUint32(b[o+16:o+20], a.SizeBytes)
		binary.LittleEndian.PutUint32(b[o+20:o+24], 0)
	}
	return b
}

// Parse reads a descriptor blob. An unknown version is rejected outright, the
// consumer must not guess at the layout.
func (d *Descriptor) Parse(b []byte) error {
	if len(b) < DescHeaderLen {
		return ErrDescTooShort
	}
	v := binary.LittleEndian.Uint32(b[0:4])
	if v != DescVersion {
		return fmt.Errorf("%w: %d", ErrDescBadVersion, v)
	}
	d.Type = SubmitType(binary.LittleEndian.Uint32(b[4:8]))
	d.Fence = binary.LittleEndian.Uint32(b[8:12])
	d.DMABufferGPA = binary.LittleEndian.Uint64(b[16:24])
	d.DMABufferSize = binary.LittleEndian.Uint32(b[24:28])
	n := binary.LittleEndian.Uint32(b[28:32])
	if DescHeaderLen+DescAllocLen*int(n) > len(b) {
		return ErrDescAllocsExceed
	}
	d.Allocations = make([]AllocationEntry, n)
	for i := range d.Allocations {
		o := DescHeaderLen + DescAllocLen*i
		d.Allocations[i].Handle = binary.LittleEndian.Uint64(b[o : o+8])
		d.Allocations[i].GPA = binary.LittleEndian.Uint64(b[o+8 : o+16])
		d.Allocations[i].SizeBytes = binary.LittleEndian.Uint32(b[o+16 : o+20])
	}
	return nil
}
