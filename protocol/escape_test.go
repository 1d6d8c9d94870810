package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeHeaderRoundTrip(t *testing.T) {
	b := NewEscapeRequest(EscQueryFence, nil)
	assert.Len(t, b, EscapeHeaderLen)

	h := &EscapeHeader{}
	require.NoError(t, h.Parse(b))
	assert.Equal(t, EscapeVersion, h.Version)
	assert.Equal(t, EscQueryFence, h.Op)
	assert.Equal(t, uint32(EscapeHeaderLen), h.Size)

	assert.Equal(t, ErrEscapeTooShort, h.Parse(b[:EscapeHeaderLen-1]))
}

func TestEscapeRequestWithPayload(t *testing.T) {
	in := &MapSharedHandleIn{SharedHandle: 0xfeed}
	b := NewEscapeRequest(EscMapSharedHandle, in.Encode(make([]byte, MapSharedHandleInLen)))
	assert.Len(t, b, EscapeHeaderLen+MapSharedHandleInLen)

	h := &EscapeHeader{}
	require.NoError(t, h.Parse(b))
	assert.Equal(t, uint32(len(b)), h.Size)

	got := &MapSharedHandleIn{}
	require.NoError(t, got.Parse(b[EscapeHeaderLen:]))
	assert.Equal(t, uint64(0xfeed), got.SharedHandle)
}

func TestQueryOutRoundTrips(t *testing.T) {
	fence := &QueryFenceOut{LastSubmitted: 30, LastCompleted: 28}
	got := &QueryFenceOut{}
	require.NoError(t, got.Parse(fence.Encode(make([]byte, QueryFenceOutLen))))
	assert.Equal(t, fence, got)

	perf := &QueryPerfOut{Submitted: 5, Completed: 4, Doorbells: 5, Interrupts: 9, Vblanks: 100, Resets: 1, TimestampNs: 12345}
	gotPerf := &QueryPerfOut{}
	require.NoError(t, gotPerf.Parse(perf.Encode(make([]byte, QueryPerfOutLen))))
	assert.Equal(t, perf, gotPerf)

	vb := &QueryVblankOut{ScanoutID: 0, Flags: VblankFlagValid | VblankFlagSupported, IrqEnable: 2, Seq: 600, LastTimeNs: 1e9, PeriodNs: 16666667}
	gotVb := &QueryVblankOut{}
	require.NoError(t, gotVb.Parse(vb.Encode(make([]byte, QueryVblankOutLen))))
	assert.Equal(t, vb, gotVb)

	sc := &QueryScanoutOut{ScanoutID: 0, CachedEnable: 1, CachedWidth: 1024, CachedHeight: 768, CachedFormat: 1, CachedPitch: 4096, MMIOEnable: 1, MMIOWidth: 1024, MMIOHeight: 768, MMIOFormat: 1, MMIOPitch: 4096, FBGPA: 0x80_0000}
	gotSc := &QueryScanoutOut{}
	require.NoError(t, gotSc.Parse(sc.Encode(make([]byte, QueryScanoutOutLen))))
	assert.Equal(t, sc, gotSc)

	qe := &QueryErrorOut{ErrorCode: AdapterErrFenceDesync, LastSubmitted: 10, LastCompleted: 12}
	gotQe := &QueryErrorOut{}
	require.NoError(t, gotQe.Parse(qe.Encode(make([]byte, QueryErrorOutLen))))
	assert.Equal(t, qe, gotQe)
}

func TestDumpRingOutBothShapes(t *testing.T) {
	out := &DumpRingOut{
		RingID:        0,
		Format:        RingFormatLegacy,
		RingSizeBytes: 256 * LegacyRingEntryLen,
		EntryCount:    256,
		Head:          3,
		Tail:          5,
		Descs: []AGPURingEntry{
			{Fence: 4, CmdGPA: 0x1000, CmdSize: 96, Flags: 0},
			{Fence: 5, CmdGPA: 0x2000, CmdSize: 128, Flags: 0},
		},
	}

	// v1 shape: no format tag, 24 byte descriptors
	b := out.Encode(make([]byte, out.EncodedLen(false)), false)
	assert.Len(t, b, DumpRingOutFixedLen+2*LegacyRingEntryLen)
	got := &DumpRingOut{}
	require.NoError(t, got.Parse(b, false))
	assert.Equal(t, RingFormat(0), got.Format)
	assert.Equal(t, uint32(3), got.Head)
	require.Len(t, got.Descs, 2)
	assert.Equal(t, uint64(5), got.Descs[1].Fence)
	assert.Equal(t, uint64(0x2000), got.Descs[1].CmdGPA)

	// v2 shape keeps the format tag and the allocation table fields
	out.Descs[0].AllocTableGPA = 0x9000
	out.Descs[0].AllocTableSize = 48
	b = out.Encode(make([]byte, out.EncodedLen(true)), true)
	assert.Len(t, b, DumpRingOutFixedLen+2*AGPURingEntryLen)
	got = &DumpRingOut{}
	require.NoError(t, got.Parse(b, true))
	assert.Equal(t, RingFormatLegacy, got.Format)
	assert.Equal(t, uint64(0x9000), got.Descs[0].AllocTableGPA)
}

func TestDumpCreateAllocationRoundTrip(t *testing.T) {
	out := &DumpCreateAllocationOut{
		WriteIndex: 9,
		Capacity:   MaxRecentAllocations,
		Records: []CreateAllocRecord{
			{Seq: 7, ShareToken: 0xabc, SizeBytes: 65536, Flags: 2, PitchBytes: 256},
			{Seq: 8, ShareToken: 0, SizeBytes: 4096, Flags: 0, PitchBytes: 0},
		},
	}

	b := out.Encode(make([]byte, out.EncodedLen()))
	got := &DumpCreateAllocationOut{}
	require.NoError(t, got.Parse(b))
	assert.Equal(t, out, got)
}

func TestSelftestRoundTrip(t *testing.T) {
	in := &SelftestIn{TimeoutMs: 1000}
	gotIn := &SelftestIn{}
	require.NoError(t, gotIn.Parse(in.Encode(make([]byte, SelftestInLen))))
	assert.Equal(t, in, gotIn)

	out := &SelftestOut{Passed: 0, ErrorCode: SelftestErrRingNotReady}
	gotOut := &SelftestOut{}
	require.NoError(t, gotOut.Parse(out.Encode(make([]byte, SelftestOutLen))))
	assert.Equal(t, out, gotOut)
}

func TestEscapeNames(t *testing.T) {
	assert.Equal(t, "queryFence", EscQueryFence.String())
	assert.Equal(t, "dumpRingV2", EscDumpRingV2.String())
	assert.Equal(t, "unknown", EscapeOp(99).String())

	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "notSupported", StatusNotSupported.String())
	assert.Equal(t, "unknown", EscapeStatus(99).String())

	assert.Equal(t, "fenceDesync", AdapterErrFenceDesync.String())
	assert.Equal(t, "ringNotReady", SelftestErrRingNotReady.String())
}
