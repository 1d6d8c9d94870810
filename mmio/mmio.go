// Package mmio defines the AeroGPU BAR0 register map and the access
// interfaces the driver uses to reach the device. The byte offsets are a
// stable ABI shared with the device model and must not be reassigned.
package mmio

const (
	// Identity block
	RegMagic      uint32 = 0x0000
	RegVersion    uint32 = 0x0004
	RegFeaturesLo uint32 = 0x0008
	RegFeaturesHi uint32 = 0x000C

	// Submission ring
	RegRingBaseLo     uint32 = 0x0010
	RegRingBaseHi     uint32 = 0x0014
	RegRingEntryCount uint32 = 0x0018
	RegRingHead       uint32 = 0x001C
	RegRingTail       uint32 = 0x0020
	RegRingDoorbell   uint32 = 0x0024

	// Legacy interrupt block
	RegIntStatus      uint32 = 0x0030
	RegIntAck         uint32 = 0x0034
	RegFenceCompleted uint32 = 0x0038

	// Scanout 0
	RegScanoutFbLo   uint32 = 0x0100
	RegScanoutFbHi   uint32 = 0x0104
	RegScanoutPitch  uint32 = 0x0108
	RegScanoutWidth  uint32 = 0x010C
	RegScanoutHeight uint32 = 0x0110
	RegScanoutFormat uint32 = 0x0114
	RegScanoutEnable uint32 = 0x0118

	// Cursor
	RegCursorX      uint32 = 0x0200
	RegCursorY      uint32 = 0x0204
	RegCursorEnable uint32 = 0x0208

	// Extended interrupt block
	RegIrqStatus uint32 = 0x0300
	RegIrqEnable uint32 = 0x0304
	RegIrqAck    uint32 = 0x0308

	// VBlank counters for scanout 0
	RegVblankSeqLo  uint32 = 0x0420
	RegVblankSeqHi  uint32 = 0x0424
	RegVblankTimeLo uint32 = 0x0428
	RegVblankTimeHi uint32 = 0x042C
	RegVblankPeriod uint32 = 0x0430
)

const (
	// Magic reads back as "ARGP", Version as major.minor packed 16/16.
	Magic   uint32 = 0x41524750
	Version uint32 = 0x0001_0000

	BarSizeBytes = 0x1_0000
)

// INT_STATUS bits (legacy block).
const (
	IntFence uint32 = 1 << 0
)

// IRQ_STATUS / IRQ_ENABLE bits (extended block).
const (
	IrqFence         uint32 = 1 << 0
	IrqScanoutVblank uint32 = 1 << 1
	IrqError         uint32 = 1 << 31
)

// Feature bits in FEATURES_LO.
const (
	FeatureFencePage uint32 = 1 << 0
	FeatureCursor    uint32 = 1 << 1
	FeatureScanout   uint32 = 1 << 2
	FeatureVblank    uint32 = 1 << 3
	FeatureTransfer  uint32 = 1 << 4
)

// Scanout pixel formats.
const (
	FormatX8R8G8B8 uint32 = 1
)

// BAR is a 32 bit register window. Implementations must make a Write32
// visible to a subsequent Read32 of the same offset and must tolerate reads
// of any aligned offset inside the BAR.
type BAR interface {
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
}

// Mem is the guest physical address space the ring, descriptors and DMA
// copies live in. The device resolves GPAs against it, the driver never
// hands out host pointers.
type Mem interface {
	ReadAt(gpa uint64, b []byte) error
	WriteAt(gpa uint64, b []byte) error
}

// Read64 reads a lo/hi register pair as one 64 bit value. lo must be the
// lower offset of the pair.
func Read64(b BAR, lo, hi uint32) uint64 {
	return uint64(b.Read32(lo)) | uint64(b.Read32(hi))<<32
}

// Write64 writes a 64 bit value across a lo/hi register pair.
func Write64(b BAR, lo, hi uint32, v uint64) {
	b.Write32(lo, uint32(v))
	b.Write32(hi, uint32(v>>32))
}
