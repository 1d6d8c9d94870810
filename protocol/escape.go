package protocol

import (
	"encoding/binary"
	"errors"
)

// Escape packets all start with the same 16 byte header:
// {version u32, op u32, size u32, reserved u32}, little-endian. size covers
// the whole packet including the header, and a response must report the size
// actually populated so callers can detect older, shorter response shapes.

const (
	EscapeVersion   uint32 = 1
	EscapeHeaderLen        = 16
)

type EscapeOp uint32

const (
	EscQueryDevice          EscapeOp = 1
	EscQueryDeviceV2        EscapeOp = 2
	EscQueryFence           EscapeOp = 3
	EscQueryPerf            EscapeOp = 4
	EscQueryVblank          EscapeOp = 5
	EscQueryScanout         EscapeOp = 6
	EscQueryError           EscapeOp = 7
	EscDumpRing             EscapeOp = 8
	EscDumpRingV2           EscapeOp = 9
	EscDumpCreateAllocation EscapeOp = 10
	EscMapSharedHandle      EscapeOp = 11
	EscSelftest             EscapeOp = 12
)

var escapeOpMap = map[EscapeOp]string{
	EscQueryDevice:          "queryDevice",
	EscQueryDeviceV2:        "queryDeviceV2",
	EscQueryFence:           "queryFence",
	EscQueryPerf:            "queryPerf",
	EscQueryVblank:          "queryVblank",
	EscQueryScanout:         "queryScanout",
	EscQueryError:           "queryError",
	EscDumpRing:             "dumpRing",
	EscDumpRingV2:           "dumpRingV2",
	EscDumpCreateAllocation: "dumpCreateAllocation",
	EscMapSharedHandle:      "mapSharedHandle",
	EscSelftest:             "selftest",
}

func (o EscapeOp) String() string {
	if n, ok := escapeOpMap[o]; ok {
		return n
	}
	return "unknown"
}

// EscapeStatus is the out-of-band result of an escape call. NotSupported is
// distinct so callers can probe for older driver versions and fall back.
type EscapeStatus uint32

const (
	StatusOK                EscapeStatus = 0
	StatusNotSupported      EscapeStatus = 1
	StatusInvalidParameter  EscapeStatus = 2
	StatusResourceExhausted EscapeStatus = 3
	StatusDeviceError       EscapeStatus = 4
)

var escapeStatusMap = map[EscapeStatus]string{
	StatusOK:                "ok",
	StatusNotSupported:      "notSupported",
	StatusInvalidParameter:  "invalidParameter",
	StatusResourceExhausted: "resourceExhausted",
	StatusDeviceError:       "deviceError",
}

func (s EscapeStatus) String() string {
	if n, ok := escapeStatusMap[s]; ok {
		return n
	}
	return "unknown"
}

var ErrEscapeTooShort = errors.New("escape packet is too short")

type EscapeHeader struct {
	Version  uint32
	Op       EscapeOp
	Size     uint32
	Reserved uint32
}

// Encode writes the header into b. b must be capped at EscapeHeaderLen or
// higher or this will panic.
func (h *EscapeHeader) Encode(b []byte) []byte {
	b = b[:EscapeHeaderLen]
	binary.LittleEndian.PutUint32(b[0:4], h.Version)
	binary.LittleEndian.PutUint32(b[4:8], uint32(h.Op))
	binary.LittleEndian.PutUint32(b[8:12], h.Size)
	binary.LittleEndian.PutUint32(b[12:16], h.Reserved)
	return b
}

func (h *EscapeHeader) Parse(b []byte) error {
	if len(b) < EscapeHeaderLen {
		return ErrEscapeTooShort
	}
	h.Version = binary.LittleEndian.Uint32(b[0:4])
	h.Op = EscapeOp(binary.LittleEndian.Uint32(b[4:8]))
	h.Size = binary.LittleEndian.Uint32(b[8:12])
	h.Reserved = binary.LittleEndian.Uint32(b[12:16])
	return nil
}

// NewEscapeRequest builds a request packet for op with the given payload.
func NewEscapeRequest(op EscapeOp, payload []byte) []byte {
	b := make([]byte, EscapeHeaderLen+len(payload))
	h := EscapeHeader{Version: EscapeVersion, Op: op, Size: uint32(len(b))}
	h.Encode(b)
	copy(b[EscapeHeaderLen:], payload)
	return b
}

const QueryDeviceOutLen = 8

type QueryDeviceOut struct {
	MMIOVersion uint32
}

func (q *QueryDeviceOut) Encode(b []byte) []byte {
	b = b[:QueryDeviceOutLen]
	binary.LittleEndian.PutUint32(b[0:4], q.MMIOVersion)
	binary.LittleEndian.PutUint32(b[4:8], 0)
	return b
}

func (q *QueryDeviceOut) Parse(b []byte) error {
	if len(b) < QueryDeviceOutLen {
		return ErrEscapeTooShort
	}
	q.MMIOVersion = binary.LittleEndian.Uint32(b[0:4])
	return nil
}

const QueryDeviceV2OutLen = 24

type QueryDeviceV2Out struct {
	DetectedMagic uint32
	ABIVersion    uint32
	FeaturesLo    uint32
	FeaturesHi    uint32
}

func (q *QueryDeviceV2Out) Encode(b []byte) []byte {
	b = b[:QueryDeviceV2OutLen]
	binary.LittleEndian.PutUint32(b[0:4], q.DetectedMagic)
	binary.LittleEndian.PutUint32(b[4:8], q.ABIVersion)
	binary.LittleEndian.PutUint32(b[8:12], q.FeaturesLo)
	binary.LittleEndian.PutUint32(b[12:16], q.FeaturesHi)
	binary.LittleEndian.PutUint64(b[16:24], 0)
	return b
}

func (q *QueryDeviceV2Out) Parse(b []byte) error {
	if len(b) < QueryDeviceV2OutLen {
		return ErrEscapeTooShort
	}
	q.DetectedMagic = binary.LittleEndian.Uint32(b[0:4])
	q.ABIVersion = binary.LittleEndian.Uint32(b[4:8])
	q.FeaturesLo = binary.LittleEndian.Uint32(b[8:12])
	q.FeaturesHi = binary.LittleEndian.Uint32(b[12:16])
	return nil
}

const QueryFenceOutLen = 16

type QueryFenceOut struct {
	LastSubmitted uint64
	LastCompleted uint64
}

func (q *QueryFenceOut) Encode(b []byte) []byte {
	b = b[:QueryFenceOutLen]
	binary.LittleEndian.PutUint64(b[0:8], q.LastSubmitted)
	binary.LittleEndian.PutUint64(b[8:16], q.LastCompleted)
	return b
}

func (q *QueryFenceOut) Parse(b []byte) error {
	if len(b) < QueryFenceOutLen {
		return ErrEscapeTooShort
	}
	q.LastSubmitted = binary.LittleEndian.Uint64(b[0:8])
	q.LastCompleted = binary.LittleEndian.Uint64(b[8:16])
	return nil
}

const QueryPerfOutLen = 56

// QueryPerfOut is a point-in-time counter snapshot; rates are derived by the
// caller from two snapshots via FenceDelta math.
type QueryPerfOut struct {
	Submitted   uint64
	Completed   uint64
	Doorbells   uint64
	Interrupts  uint64
	Vblanks     uint64
	Resets      uint64
	TimestampNs uint64
}

func (q *QueryPerfOut) Encode(b []byte) []byte {
	b = b[:QueryPerfOutLen]
	binary.LittleEndian.PutUint64(b[0:8], q.Submitted)
	binary.LittleEndian.PutUint64(b[8:16], q.Completed)
	binary.LittleEndian.PutUint64(b[16:24], q.Doorbells)
	binary.LittleEndian.PutUint64(b[24:32], q.Interrupts)
	binary.LittleEndian.PutUint64(b[32:40], q.Vblanks)
	binary.LittleEndian.PutUint64(b[40:48], q.Resets)
	binary.LittleEndian.PutUint64(b[48:56], q.TimestampNs)
	return b
}

func (q *QueryPerfOut) Parse(b []byte) error {
	if len(b) < QueryPerfOutLen {
		return ErrEscapeTooShort
	}
	q.Submitted = binary.LittleEndian.Uint64(b[0:8])
	q.Completed = binary.LittleEndian.Uint64(b[8:16])
	q.Doorbells = binary.LittleEndian.Uint64(b[16:24])
	q.Interrupts = binary.LittleEndian.Uint64(b[24:32])
	q.Vblanks = binary.LittleEndian.Uint64(b[32:40])
	q.Resets = binary.LittleEndian.Uint64(b[40:48])
	q.TimestampNs = binary.LittleEndian.Uint64(b[48:56])
	return nil
}

// QueryVblank flag bits.
const (
	VblankFlagValid     uint32 = 1 << 0
	VblankFlagSupported uint32 = 1 << 1
	VblankFlagStale     uint32 = 1 << 2
)

const QueryVblankOutLen = 40

type QueryVblankOut struct {
	ScanoutID  uint32
	Flags      uint32
	IrqEnable  uint32
	IrqStatus  uint32
	Seq        uint64
	LastTimeNs uint64
	PeriodNs   uint32
}

func (q *QueryVblankOut) Encode(b []byte) []byte {
	b = b[:QueryVblankOutLen]
	binary.LittleEndian.PutUint32(b[0:4], q.ScanoutID)
	binary.LittleEndian.PutUint32(b[4:8], q.Flags)
	binary.LittleEndian.PutUint32(b[8:12], q.IrqEnable)
	binary.LittleEndian.PutUint32(b[12:16], q.IrqStatus)
	binary.LittleEndian.PutUint64(b[16:24], q.Seq)
	binary.LittleEndian.PutUint64(b[24:32], q.LastTimeNs)
	binary.LittleEndian.PutUint32(b[32:36], q.PeriodNs)
	binary.LittleEndian.PutUint32(b[36:40], 0)
	return b
}

func (q *QueryVblankOut) Parse(b []byte) error {
	if len(b) < QueryVblankOutLen {
		return ErrEscapeTooShort
	}
	q.ScanoutID = binary.LittleEndian.Uint32(b[0:4])
	q.Flags = binary.LittleEndian.Uint32(b[4:8])
	q.IrqEnable = binary.LittleEndian.Uint32(b[8:12])
	q.IrqStatus = binary.LittleEndian.Uint32(b[12:16])
	q.Seq = binary.LittleEndian.Uint64(b[16:24])
	q.LastTimeNs = binary.LittleEndian.Uint64(b[24:32])
	q.PeriodNs = binary.LittleEndian.Uint32(b[32:36])
	return nil
}

const QueryScanoutOutLen = 56

// QueryScanoutOut reports both the driver's cached view of the scanout and
// the raw register readback so desync between them is visible.
type QueryScanoutOut struct {
	ScanoutID    uint32
	CachedEnable uint32
	CachedWidth  uint32
	CachedHeight uint32
	CachedFormat uint32
	CachedPitch  uint32
	MMIOEnable   uint32
	MMIOWidth    uint32
	MMIOHeight   uint32
	MMIOFormat   uint32
	MMIOPitch    uint32
	FBGPA        uint64
}

func (q *QueryScanoutOut) Encode(b []byte) []byte {
	b = b[:QueryScanoutOutLen]
	binary.LittleEndian.PutUint32(b[0:4], q.ScanoutID)
	binary.LittleEndian.PutUint32(b[4:8], q.CachedEnable)
	binary.LittleEndian.PutUint32(b[8:12], q.CachedWidth)
	binary.LittleEndian.PutUint32(b[12:16], q.CachedHeight)
	binary.LittleEndian.PutUint32(b[16:20], q.CachedFormat)
	binary.LittleEndian.PutUint32(b[20:24], q.CachedPitch)
	binary.LittleEndian.PutUint32(b[24:28], q.MMIOEnable)
	binary.LittleEndian.PutUint32(b[28:32], q.MMIOWidth)
	binary.LittleEndian.PutUint32(b[32:36], q.MMIOHeight)
	binary.LittleEndian.PutUint32(b[36:40], q.MMIOFormat)
	binary.LittleEndian.PutUint32(b[40:44], q.MMIOPitch)
	binary.LittleEndian.PutUint32(b[44:48], 0)
	binary.LittleEndian.PutUint64(b[48:56], q.FBGPA)
	return b
}

func (q *QueryScanoutOut) Parse(b []byte) error {
	if len(b) < QueryScanoutOutLen {
		return ErrEscapeTooShort
	}
	q.ScanoutID = binary.LittleEndian.Uint32(b[0:4])
	q.CachedEnable = binary.LittleEndian.Uint32(b[4:8])
	q.CachedWidth = binary.LittleEndian.Uint32(b[8:12])
	q.CachedHeight = binary.LittleEndian.Uint32(b[12:16])
	q.CachedFormat = binary.LittleEndian.Uint32(b[16:20])
	q.CachedPitch = binary.LittleEndian.Uint32(b[20:24])
	q.MMIOEnable = binary.LittleEndian.Uint32(b[24:28])
	q.MMIOWidth = binary.LittleEndian.Uint32(b[28:32])
	q.MMIOHeight = binary.LittleEndian.Uint32(b[32:36])
	q.MMIOFormat = binary.LittleEndian.Uint32(b[36:40])
	q.MMIOPitch = binary.LittleEndian.Uint32(b[40:44])
	q.FBGPA = binary.LittleEndian.Uint64(b[48:56])
	return nil
}

// Adapter error codes surfaced by QueryError.
type AdapterError uint32

const (
	AdapterErrNone         AdapterError = 0
	AdapterErrFenceDesync  AdapterError = 1
	AdapterErrVblankFrozen AdapterError = 2
	AdapterErrBadMagic     AdapterError = 3
	AdapterErrResetStorm   AdapterError = 4
)

var adapterErrorMap = map[AdapterError]string{
	AdapterErrNone:         "none",
	AdapterErrFenceDesync:  "fenceDesync",
	AdapterErrVblankFrozen: "vblankFrozen",
	AdapterErrBadMagic:     "badMagic",
	AdapterErrResetStorm:   "resetStorm",
}

func (e AdapterError) String() string {
	if n, ok := adapterErrorMap[e]; ok {
		return n
	}
	return "unknown"
}

const QueryErrorOutLen = 24

type QueryErrorOut struct {
	ErrorCode     AdapterError
	Flags         uint32
	LastSubmitted uint64
	LastCompleted uint64
}

func (q *QueryErrorOut) Encode(b []byte) []byte {
	b = b[:QueryErrorOutLen]
	binary.LittleEndian.PutUint32(b[0:4], uint32(q.ErrorCode))
	binary.LittleEndian.PutUint32(b[4:8], q.Flags)
	binary.LittleEndian.PutUint64(b[8:16], q.LastSubmitted)
	binary.LittleEndian.PutUint64(b[16:24], q.LastCompleted)
	return b
}

func (q *QueryErrorOut) Parse(b []byte) error {
	if len(b) < QueryErrorOutLen {
		return ErrEscapeTooShort
	}
	q.ErrorCode = AdapterError(binary.LittleEndian.Uint32(b[0:4]))
	q.Flags = binary.LittleEndian.Uint32(b[4:8])
	q.LastSubmitted = binary.LittleEndian.Uint64(b[8:16])
	q.LastCompleted = binary.LittleEndian.Uint64(b[16:24])
	return nil
}

// MaxRecentDescriptors bounds the descriptor window a ring dump may return.
const MaxRecentDescriptors = 64

const DumpRingInLen = 8

type DumpRingIn struct {
	RingID       uint32
	DescCapacity uint32
}

func (q *DumpRingIn) Encode(b []byte) []byte {
	b = b[:DumpRingInLen]
	binary.LittleEndian.PutUint32(b[0:4], q.RingID)
	binary.LittleEndian.PutUint32(b[4:8], q.DescCapacity)
	return b
}

func (q *DumpRingIn) Parse(b []byte) error {
	if len(b) < DumpRingInLen {
		return ErrEscapeTooShort
	}
	q.RingID = binary.LittleEndian.Uint32(b[0:4])
	q.DescCapacity = binary.LittleEndian.Uint32(b[4:8])
	return nil
}

const DumpRingOutFixedLen = 32

// DumpRingOut is the v2 ring dump; the v1 op returns the same fixed section
// with Format forced to zero and 24 byte descriptors lacking the allocation
// table fields. For the AGPU format the descriptor window is the most recent
// tail window, starting at tail minus DescCount.
type DumpRingOut struct {
	RingID        uint32
	Format        RingFormat
	RingSizeBytes uint32
	EntryCount    uint32
	Head          uint32
	Tail          uint32
	Descs         []AGPURingEntry
}

func (q *DumpRingOut) EncodedLen(v2 bool) int {
	if v2 {
		return DumpRingOutFixedLen + AGPURingEntryLen*len(q.Descs)
	}
	return DumpRingOutFixedLen + LegacyRingEntryLen*len(q.Descs)
}

func (q *DumpRingOut) Encode(b []byte, v2 bool) []byte {
	b = b[:q.EncodedLen(v2)]
	binary.LittleEndian.PutUint32(b[0:4], q.RingID)
	f := uint32(0)
	if v2 {
		f = uint32(q.Format)
	}
	binary.LittleEndian.PutUint32(b[4:8], f)
	binary.LittleEndian.PutUint32(b[8:12], q.RingSizeBytes)
	binary.LittleEndian.PutUint32(b[12:16], q.EntryCount)
	binary.LittleEndian.PutUint32(b[16:20], q.Head)
	binary.LittleEndian.PutUint32(b[20:24], q.Tail)
	binary.LittleEndian.PutUint32(b[24:28], uint32(len(q.Descs)))
	binary.LittleEndian.PutUint32(b[28:32], 0)
	for i := range q.Descs {
		d := &q.Descs[i]
		if v2 {
			d.Encode(b[DumpRingOutFixedLen+AGPURingEntryLen*i:])
		} else {
			e := LegacyRingEntry{
				Type:     RingEntrySubmit,
				Flags:    d.Flags,
				Fence:    uint32(d.Fence),
				DescSize: d.CmdSize,
				DescGPA:  d.CmdGPA,
			}
			e.Encode(b[DumpRingOutFixedLen+LegacyRingEntryLen*i:])
		}
	}
	return b
}

func (q *DumpRingOut) Parse(b []byte, v2 bool) error {
	if len(b) < DumpRingOutFixedLen {
		return ErrEscapeTooShort
	}
	q.RingID = binary.LittleEndian.Uint32(b[0:4])
	q.Format = RingFormat(binary.LittleEndian.Uint32(b[4:8]))
	q.RingSizeBytes = binary.LittleEndian.Uint32(b[8:12])
	q.EntryCount = binary.LittleEndian.Uint32(b[12:16])
	q.Head = binary.LittleEndian.Uint32(b[16:20])
	q.Tail = binary.LittleEndian.Uint32(b[20:24])
	n := binary.LittleEndian.Uint32(b[24:28])
	stride := LegacyRingEntryLen
	if v2 {
		stride = AGPURingEntryLen
	}
	if DumpRingOutFixedLen+stride*int(n) > len(b) {
		return ErrEscapeTooShort
	}
	q.Descs = make([]AGPURingEntry, n)
	for i := range q.Descs {
		o := DumpRingOutFixedLen + stride*i
		if v2 {
			if err := q.Descs[i].Parse(b[o:]); err != nil {
				return err
			}
			continue
		}
		var e LegacyRingEntry
		if err := e.Parse(b[o:]); err != nil {
			return err
		}
		q.Descs[i] = AGPURingEntry{
			Fence:   uint64(e.Fence),
			CmdGPA:  e.DescGPA,
			CmdSize: e.DescSize,
			Flags:   e.Flags,
		}
	}
	return nil
}

// MaxRecentAllocations bounds the CreateAllocation trace dump.
const MaxRecentAllocations = 32

const (
	DumpCreateAllocOutFixedLen = 16
	CreateAllocRecordLen       = 32
)

type CreateAllocRecord struct {
	Seq        uint64
	ShareToken uint64
	SizeBytes  uint64
	Flags      uint32
	PitchBytes uint32
}

type DumpCreateAllocationOut struct {
	WriteIndex uint64
	Capacity   uint32
	Records    []CreateAllocRecord
}

func (q *DumpCreateAllocationOut) EncodedLen() int {
	return DumpCreateAllocOutFixedLen + CreateAllocRecordLen*len(q.Records)
}

func (q *DumpCreateAllocationOut) Encode(b []byte) []byte {
	b = b[:q.EncodedLen()]
	binary.LittleEndian.PutUint64(b[0:8], q.WriteIndex)
	binary.LittleEndian.PutUint32(b[8:12], uint32(len(q.Records)))
	binary.LittleEndian.PutUint32(b[12:16], q.Capacity)
	for i, r := range q.Records {
		o := DumpCreateAllocOutFixedLen + CreateAllocRecordLen*i
		binary.LittleEndian.PutUint64(b[o:o+8], r.Seq)
		binary.LittleEndian.PutUint64(b[o+8:o+16], r.ShareToken)
		binary.LittleEndian.PutUint64(b[o+16:o+24], r.SizeBytes)
		binary.LittleEndian.PutUint32(b[o+24:o+28], r.Flags)
		binary.LittleEndian.PutUint32(b[o+28:o+32], r.PitchBytes)
	}
	return b
}

func (q *DumpCreateAllocationOut) Parse(b []byte) error {
	if len(b) < DumpCreateAllocOutFixedLen {
		return ErrEscapeTooShort
	}
	q.WriteIndex = binary.LittleEndian.Uint64(b[0:8])
	n := binary.LittleEndian.Uint32(b[8:12])
	q.Capacity = binary.LittleEndian.Uint32(b[12:16])
	if DumpCreateAllocOutFixedLen+CreateAllocRecordLen*int(n) > len(b) {
		return ErrEscapeTooShort
	}
	q.Records = make([]CreateAllocRecord, n)
	for i := range q.Records {
		o := DumpCreateAllocOutFixedLen + CreateAllocRecordLen*i
		q.Records[i].Seq = binary.LittleEndian.Uint64(b[o : o+8])
		q.Records[i].ShareToken = binary.LittleEndian.Uint64(b[o+8 : o+16])
		q.Records[i].SizeBytes = binary.LittleEndian.Uint64(b[o+16 : o+24])
		q.Records[i].Flags = binary.LittleEndian.Uint32(b[o+24 : o+28])
		q.Records[i].PitchBytes = binary.LittleEndian.Uint32(b[o+28 : o+32])
	}
	return nil
}

const MapSharedHandleInLen = 8

type MapSharedHandleIn struct {
	SharedHandle uint64
}

func (q *MapSharedHandleIn) Encode(b []byte) []byte {
	b = b[:MapSharedHandleInLen]
	binary.LittleEndian.PutUint64(b[0:8], q.SharedHandle)
	return b
}

func (q *MapSharedHandleIn) Parse(b []byte) error {
	if len(b) < MapSharedHandleInLen {
		return ErrEscapeTooShort
	}
	q.SharedHandle = binary.LittleEndian.Uint64(b[0:8])
	return nil
}

const MapSharedHandleOutLen = 16

type MapSharedHandleOut struct {
	SharedHandle uint64
	DebugToken   uint32
}

func (q *MapSharedHandleOut) Encode(b []byte) []byte {
	b = b[:MapSharedHandleOutLen]
	binary.LittleEndian.PutUint64(b[0:8], q.SharedHandle)
	binary.LittleEndian.PutUint32(b[8:12], q.DebugToken)
	binary.LittleEndian.PutUint32(b[12:16], 0)
	return b
}

func (q *MapSharedHandleOut) Parse(b []byte) error {
	if len(b) < MapSharedHandleOutLen {
		return ErrEscapeTooShort
	}
	q.SharedHandle = binary.LittleEndian.Uint64(b[0:8])
	q.DebugToken = binary.LittleEndian.Uint32(b[8:12])
	return nil
}

// Selftest result codes.
type SelftestCode uint32

const (
	SelftestOK              SelftestCode = 0
	SelftestErrInvalidState SelftestCode = 1
	SelftestErrRingNotReady SelftestCode = 2
	SelftestErrGpuBusy      SelftestCode = 3
	SelftestErrNoResources  SelftestCode = 4
	SelftestErrTimeout      SelftestCode = 5
)

var selftestCodeMap = map[SelftestCode]string{
	SelftestOK:              "ok",
	SelftestErrInvalidState: "invalidState",
	SelftestErrRingNotReady: "ringNotReady",
	SelftestErrGpuBusy:      "gpuBusy",
	SelftestErrNoResources:  "noResources",
	SelftestErrTimeout:      "timeout",
}

func (c SelftestCode) String() string {
	if n, ok := selftestCodeMap[c]; ok {
		return n
	}
	return "unknown"
}

const SelftestInLen = 8

type SelftestIn struct {
	TimeoutMs uint32
}

func (q *SelftestIn) Encode(b []byte) []byte {
	b = b[:SelftestInLen]
	binary.LittleEndian.PutUint32(b[0:4], q.TimeoutMs)
	binary.LittleEndian.PutUint32(b[4:8], 0)
	return b
}

func (q *SelftestIn) Parse(b []byte) error {
	if len(b) < SelftestInLen {
		return ErrEscapeTooShort
	}
	q.TimeoutMs = binary.LittleEndian.Uint32(b[0:4])
	return nil
}

const SelftestOutLen = 8

type SelftestOut struct {
	Passed    uint32
	ErrorCode SelftestCode
}

func (q *SelftestOut) Encode(b []byte) []byte {
	b = b[:SelftestOutLen]
	binary.LittleEndian.PutUint32(b[0:4], q.Passed)
	binary.LittleEndian.PutUint32(b[4:8], uint32(q.ErrorCode))
	return b
}

func (q *SelftestOut) Parse(b []byte) error {
	if len(b) < SelftestOutLen {
		return ErrEscapeTooShort
	}
	q.Passed = binary.LittleEndian.Uint32(b[0:4])
	q.ErrorCode = SelftestCode(binary.LittleEndian.Uint32(b[4:8]))
	return nil
}
