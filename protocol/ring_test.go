package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyRingEntryRoundTrip(t *testing.T) {
	e := &LegacyRingEntry{
		Type:     RingEntrySubmit,
		Flags:    0,
		Fence:    77,
		DescSize: 128,
		DescGPA:  0x40_0000,
	}

	b := e.Encode(make([]byte, LegacyRingEntryLen))
	got := &LegacyRingEntry{}
	require.NoError(t, got.Parse(b))
	assert.Equal(t, e, got)

	assert.Equal(t, ErrRingEntryTooShort, got.Parse(b[:LegacyRingEntryLen-1]))
}

func TestAGPURingEntryRoundTrip(t *testing.T) {
	e := &AGPURingEntry{
		Fence:          1 << 40,
		CmdGPA:         0x50_0000,
		CmdSize:        256,
		Flags:          1,
		AllocTableGPA:  0x60_0000,
		AllocTableSize: 96,
	}

	b := e.Encode(make([]byte, AGPURingEntryLen))
	got := &AGPURingEntry{}
	require.NoError(t, got.Parse(b))
	assert.Equal(t, e, got)
}

func TestPendingEntriesLegacy(t *testing.T) {
	assert.Equal(t, uint32(0), PendingEntries(RingFormatLegacy, 5, 5, 256))
	assert.Equal(t, uint32(3), PendingEntries(RingFormatLegacy, 5, 8, 256))
	// Masked indices: tail wrapped below head
	assert.Equal(t, uint32(4), PendingEntries(RingFormatLegacy, 254, 2, 256))
}

func TestPendingEntriesAGPU(t *testing.T) {
	assert.Equal(t, uint32(0), PendingEntries(RingFormatAGPU, 1000, 1000, 256))
	assert.Equal(t, uint32(17), PendingEntries(RingFormatAGPU, 1000, 1017, 256))
	// Monotonic indices wrapping the 32 bit space
	assert.Equal(t, uint32(5), PendingEntries(RingFormatAGPU, math.MaxUint32-1, 3, 256))
}

func TestRingFormatName(t *testing.T) {
	assert.Equal(t, "legacy", RingFormatLegacy.String())
	assert.Equal(t, "agpu", RingFormatAGPU.String())
	assert.Equal(t, "unknown", RingFormat(9).String())
}
