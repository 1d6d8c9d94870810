package aerogpu

import (
	"testing"

	"github.com/aerovirt/aerogpu/devsim"
	"github.com/aerovirt/aerogpu/mmio"
	"github.com/aerovirt/aerogpu/protocol"
	"github.com/aerovirt/aerogpu/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBAR is a register file with no behavior behind it, for driving the
// adapter without the device model consuming anything.
type fakeBAR struct {
	regs map[uint32]uint32
}

func newFakeBAR() *fakeBAR {
	return &fakeBAR{regs: map[uint32]uint32{
		mmio.RegMagic:      mmio.Magic,
		mmio.RegVersion:    mmio.Version,
		mmio.RegFeaturesLo: mmio.FeatureCursor | mmio.FeatureScanout | mmio.FeatureVblank,
	}}
}

func (f *fakeBAR) Read32(off uint32) uint32     { return f.regs[off] }
func (f *fakeBAR) Write32(off uint32, v uint32) { f.regs[off] = v }

func newTestAdapter(t *testing.T) (*Adapter, *devsim.Device) {
	l := test.NewLogger()
	mem := devsim.NewMem(8 * 1024 * 1024)
	dev := devsim.New(l, mem, 60)

	a, err := NewAdapter(l, dev, mem, AdapterConfig{
		RingBaseGPA:    0x1000,
		RingEntryCount: 8,
		ArenaBaseGPA:   0x10000,
		ArenaSlotSize:  4096,
		ArenaSlotCount: 16,
	})
	require.NoError(t, err)
	dev.OnInterrupt(func() { a.ServiceInterrupt() })
	return a, dev
}

func renderStream() []byte {
	b := protocol.NewBuilder(0)
	b.Append(&protocol.Clear{Flags: 1})
	b.Append(&protocol.Draw{VertexCount: 3})
	return b.Bytes()
}

func TestAdapterSubmitCompletesAndRetires(t *testing.T) {
	a, _ := newTestAdapter(t)

	before := a.arena.freeSlots()
	fence, err := a.Submit(renderStream(), nil, protocol.SubmitRender)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fence)

	// The device model completes synchronously from the doorbell.
	submitted, completed := a.LastFences()
	assert.Equal(t, uint64(1), submitted)
	assert.Equal(t, uint64(1), completed)

	a.retire()
	assert.Equal(t, 0, a.PendingCount())
	assert.Equal(t, before, a.arena.freeSlots())
}

func TestAdapterFencesAreMonotonic(t *testing.T) {
	a, _ := newTestAdapter(t)

	var last uint64
	for i := 0; i < 5; i++ {
		fence, err := a.Submit(renderStream(), nil, protocol.SubmitRender)
		require.NoError(t, err)
		assert.Equal(t, last+1, fence)
		last = fence
	}

	submitted, completed := a.LastFences()
	assert.Equal(t, uint64(5), submitted)
	assert.Equal(t, uint64(5), completed)
}

func TestAdapterRejectsMalformedStream(t *testing.T) {
	a, _ := newTestAdapter(t)

	_, err := a.Submit([]byte{1, 2, 3}, nil, protocol.SubmitRender)
	require.Error(t, err)

	bad := renderStream()
	bad[0] ^= 0xFF
	_, err = a.Submit(bad, nil, protocol.SubmitRender)
	require.ErrorIs(t, err, protocol.ErrBadStreamMagic)

	submitted, _ := a.LastFences()
	assert.Equal(t, uint64(0), submitted, "a rejected submission must not consume a fence")
}

func TestAdapterCopiesBeforeEnqueue(t *testing.T) {
	a, _ := newTestAdapter(t)

	cmd := renderStream()
	fence, err := a.Submit(cmd, nil, protocol.SubmitRender)
	require.NoError(t, err)

	// Scribbling over the caller's buffer after Submit returns must not
	// affect what the device sees.
	for i := range cmd {
		cmd[i] = 0xAA
	}

	_, entries := a.subLog.snapshot(1)
	require.Len(t, entries, 1)
	assert.Equal(t, fence, entries[0].Fence)

	got := make([]byte, entries[0].DmaSize)
	require.NoError(t, a.mem.ReadAt(entries[0].DmaGPA, got))
	_, err = protocol.ValidateStream(got)
	assert.NoError(t, err)
}

func TestAdapterDescriptorCarriesAllocations(t *testing.T) {
	a, _ := newTestAdapter(t)

	al := a.CreateAllocation(0x2000, 0, 0, 0xBEEF, 0x400000)
	fence, err := a.Submit(renderStream(), []AllocationRef{{ID: al.ID}}, protocol.SubmitRender)
	require.NoError(t, err)

	_, entries := a.subLog.snapshot(1)
	require.Len(t, entries, 1)

	db := make([]byte, entries[0].DescSize)
	require.NoError(t, a.mem.ReadAt(entries[0].DescGPA, db))

	var d protocol.Descriptor
	require.NoError(t, d.Parse(db))
	assert.Equal(t, uint32(fence), d.Fence)
	assert.Equal(t, protocol.SubmitRender, d.Type)
	require.Len(t, d.Allocations, 1)
	assert.Equal(t, al.ID, d.Allocations[0].Handle)
	assert.Equal(t, uint64(0x400000), d.Allocations[0].GPA)
}

func TestAdapterSubmitFailsOnUnknownAllocation(t *testing.T) {
	a, _ := newTestAdapter(t)

	_, err := a.Submit(renderStream(), []AllocationRef{{ID: 42}}, protocol.SubmitRender)
	require.ErrorIs(t, err, ErrAllocationUnknown)
}

func TestAdapterSubmitFailsOnEvictedAllocation(t *testing.T) {
	a, _ := newTestAdapter(t)

	al := a.CreateAllocation(0x1000, 0, 0, 0, 0x400000)
	require.NoError(t, a.UpdateResidency(al.ID, 0))

	_, err := a.Submit(renderStream(), []AllocationRef{{ID: al.ID}}, protocol.SubmitRender)
	require.ErrorIs(t, err, ErrAllocationNotResident)
}

func TestAdapterRingFullBackpressure(t *testing.T) {
	l := test.NewLogger()
	mem := devsim.NewMem(1024 * 1024)
	bar := newFakeBAR()

	a, err := NewAdapter(l, bar, mem, AdapterConfig{
		RingBaseGPA:    0x1000,
		RingEntryCount: 4,
		ArenaBaseGPA:   0x10000,
		ArenaSlotSize:  4096,
		ArenaSlotCount: 32,
	})
	require.NoError(t, err)

	// Legacy format keeps one slot open, so a 4 entry ring takes 3.
	for i := 0; i < 3; i++ {
		_, err := a.Submit(renderStream(), nil, protocol.SubmitRender)
		require.NoError(t, err)
	}

	free := a.arena.freeSlots()
	_, err = a.Submit(renderStream(), nil, protocol.SubmitRender)
	require.ErrorIs(t, err, ErrRingFull)
	assert.Equal(t, free, a.arena.freeSlots(), "a refused submission must not leak slots")

	submitted, _ := a.LastFences()
	assert.Equal(t, uint64(3), submitted)
}

func TestAdapterAGPURingProducer(t *testing.T) {
	l := test.NewLogger()
	mem := devsim.NewMem(1024 * 1024)
	bar := newFakeBAR()

	a, err := NewAdapter(l, bar, mem, AdapterConfig{
		RingFormat:     protocol.RingFormatAGPU,
		RingBaseGPA:    0x1000,
		RingEntryCount: 4,
		ArenaBaseGPA:   0x10000,
		ArenaSlotSize:  4096,
		ArenaSlotCount: 32,
	})
	require.NoError(t, err)

	// Monotonic indices use every slot, no keep-one-open rule.
	for i := 0; i < 4; i++ {
		_, err := a.Submit(renderStream(), nil, protocol.SubmitRender)
		require.NoError(t, err)
	}
	assert.Equal(t, uint32(4), bar.Read32(mmio.RegRingTail))

	free := a.arena.freeSlots()
	_, err = a.Submit(renderStream(), nil, protocol.SubmitRender)
	require.ErrorIs(t, err, ErrRingFull)
	assert.Equal(t, free, a.arena.freeSlots(), "a refused submission must not leak slots")

	// The staged slots carry the 40 byte layout.
	eb := make([]byte, protocol.AGPURingEntryLen)
	require.NoError(t, mem.ReadAt(0x1000+2*protocol.AGPURingEntryLen, eb))
	var e protocol.AGPURingEntry
	require.NoError(t, e.Parse(eb))
	assert.Equal(t, uint64(3), e.Fence)
	assert.NotZero(t, e.CmdGPA)
	assert.NotZero(t, e.CmdSize)

	// After the device consumes two, the producer wraps into slot tail %
	// entryCount while the tail register stays unmasked.
	bar.regs[mmio.RegRingHead] = 2
	fence, err := a.Submit(renderStream(), nil, protocol.SubmitRender)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), fence)
	assert.Equal(t, uint32(5), bar.Read32(mmio.RegRingTail))

	require.NoError(t, mem.ReadAt(0x1000, eb))
	require.NoError(t, e.Parse(eb))
	assert.Equal(t, uint64(5), e.Fence)
}

func TestAdapterResetFromTimeout(t *testing.T) {
	l := test.NewLogger()
	mem := devsim.NewMem(1024 * 1024)
	bar := newFakeBAR()

	a, err := NewAdapter(l, bar, mem, AdapterConfig{
		RingBaseGPA:    0x1000,
		RingEntryCount: 8,
		ArenaBaseGPA:   0x10000,
		ArenaSlotSize:  4096,
		ArenaSlotCount: 16,
	})
	require.NoError(t, err)

	before := a.arena.freeSlots()
	for i := 0; i < 2; i++ {
		_, err := a.Submit(renderStream(), nil, protocol.SubmitRender)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, a.PendingCount())

	a.ResetFromTimeout()

	assert.Equal(t, 0, a.PendingCount())
	assert.Equal(t, before, a.arena.freeSlots())
	submitted, completed := a.LastFences()
	assert.Equal(t, submitted, completed)
	assert.Equal(t, uint32(0), bar.Read32(mmio.RegRingTail))

	// Fences keep counting up across the reset.
	fence, err := a.Submit(renderStream(), nil, protocol.SubmitRender)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), fence)
}

func TestAdapterRefusesWrongMagic(t *testing.T) {
	l := test.NewLogger()
	mem := devsim.NewMem(1024 * 1024)
	bar := newFakeBAR()
	bar.regs[mmio.RegMagic] = 0xDEADBEEF

	_, err := NewAdapter(l, bar, mem, AdapterConfig{RingBaseGPA: 0x1000})
	require.ErrorIs(t, err, ErrBadDeviceMagic)
}
