package aerogpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aerovirt/aerogpu/mmio"
	"github.com/aerovirt/aerogpu/protocol"
	"github.com/aerovirt/aerogpu/util"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAdapterFailed is returned once a fatal desync has been latched.
	// The adapter refuses new work instead of corrupting state; the cause
	// is available through the error query.
	ErrAdapterFailed = errors.New("adapter is in a failed state")

	ErrBadDeviceMagic = errors.New("device magic mismatch")
)

// AdapterConfig wires one adapter instance. Zero fields take defaults.
type AdapterConfig struct {
	RingFormat     protocol.RingFormat
	RingEntryCount uint32
	RingBaseGPA    uint64

	ArenaBaseGPA   uint64
	ArenaSlotSize  uint32
	ArenaSlotCount uint32

	TokenCacheSize int
}

const (
	defaultArenaSlotSize  = 64 * 1024
	defaultArenaSlotCount = 64
	defaultTokenCacheSize = 256
)

// Adapter is the per-device context: ring, fence counters, pending list,
// allocation table and vblank state all hang off it. There are no package
// globals; tests run several adapters side by side.
type Adapter struct {
	l   *logrus.Logger
	bar mmio.BAR
	mem mmio.Mem

	// ringLock serializes the single producer path: fence assignment, the
	// ring entry write and the doorbell. Critical sections under it stay
	// allocation free and bounded.
	ringLock syncMutex
	ring     ringState
	fenceBuf [4]byte

	lastSubmitted atomic.Uint64
	lastCompleted atomic.Uint64
	fatal         atomic.Uint32

	pendingLock syncMutex
	pending     []*submission

	arena  *arena
	allocs *allocationTable
	subLog *submissionLog
	vblank *vblankEstimator

	scanout scanoutState
	tokens  *tokenCache

	// dpc wakes the deferred worker, the stand-in for the DPC that does
	// retirement outside interrupt context.
	dpc chan struct{}

	metricSubmitted  metrics.Counter
	metricRetired    metrics.Counter
	metricRingFull   metrics.Counter
	metricRejected   metrics.Counter
	metricDoorbells  metrics.Counter
	metricInterrupts metrics.Counter
	metricSpurious   metrics.Counter
	metricVblanks    metrics.Counter
	metricResets     metrics.Counter
}

type submission struct {
	fence uint64
	typ   protocol.SubmitType
	dma   *arenaSlot
	desc  *arenaSlot
	when  time.Time
}

// NewAdapter probes the device identity, programs the ring and arms the
// interrupt blocks.
func NewAdapter(l *logrus.Logger, bar mmio.BAR, mem mmio.Mem, c AdapterConfig) (*Adapter, error) {
	magic := bar.Read32(mmio.RegMagic)
	if magic != mmio.Magic {
		return nil, util.NewContextualError(
			"Refusing adapter with wrong device magic",
			map[string]any{"magic": fmt.Sprintf("%#08x", magic)},
			ErrBadDeviceMagic,
		)
	}

	if c.RingFormat == 0 {
		c.RingFormat = protocol.RingFormatLegacy
	}
	if c.RingEntryCount == 0 {
		c.RingEntryCount = defaultRingEntryCount
	}
	if c.ArenaSlotSize == 0 {
		c.ArenaSlotSize = defaultArenaSlotSize
	}
	if c.ArenaSlotCount == 0 {
		c.ArenaSlotCount = defaultArenaSlotCount
	}
	if c.ArenaBaseGPA == 0 {
		c.ArenaBaseGPA = c.RingBaseGPA + uint64(c.RingEntryCount)*protocol.AGPURingEntryLen
	}
	if c.TokenCacheSize == 0 {
		c.TokenCacheSize = defaultTokenCacheSize
	}

	a := &Adapter{
		l:   l,
		bar: bar,
		mem: mem,
		ring: ringState{
			bar:        bar,
			mem:        mem,
			format:     c.RingFormat,
			baseGPA:    c.RingBaseGPA,
			entryCount: c.RingEntryCount,
		},
		ringLock:    newSyncMutex("ring"),
		pendingLock: newSyncMutex("pending"),
		scanout:     scanoutState{mu: newSyncMutex("scanout")},
		arena:       newArena(mem, c.ArenaBaseGPA, c.ArenaSlotSize, c.ArenaSlotCount),
		allocs:      newAllocationTable(),
		subLog:      newSubmissionLog(),
		tokens:      newTokenCache(c.TokenCacheSize),
		dpc:         make(chan struct{}, 1),

		metricSubmitted:  metrics.GetOrRegisterCounter("ring.submissions", nil),
		metricRetired:    metrics.GetOrRegisterCounter("ring.retired", nil),
		metricRingFull:   metrics.GetOrRegisterCounter("ring.full", nil),
		metricRejected:   metrics.GetOrRegisterCounter("ring.rejected", nil),
		metricDoorbells:  metrics.GetOrRegisterCounter("ring.doorbells", nil),
		metricInterrupts: metrics.GetOrRegisterCounter("interrupt.serviced", nil),
		metricSpurious:   metrics.GetOrRegisterCounter("interrupt.spurious", nil),
		metricVblanks:    metrics.GetOrRegisterCounter("interrupt.vblank", nil),
		metricResets:     metrics.GetOrRegisterCounter("adapter.resets", nil),
	}

	a.vblank = newVblankEstimator(time.Duration(bar.Read32(mmio.RegVblankPeriod)))

	a.ringLock.Lock()
	a.ring.init()
	a.ringLock.Unlock()

	// Clear anything latched from a previous life, then arm.
	bar.Write32(mmio.RegIntAck, 0xFFFFFFFF)
	bar.Write32(mmio.RegIrqAck, 0xFFFFFFFF)
	bar.Write32(mmio.RegIrqEnable, mmio.IrqFence|mmio.IrqScanoutVblank)

	l.WithFields(logrus.Fields{
		"ringFormat": c.RingFormat,
		"entryCount": c.RingEntryCount,
		"features":   fmt.Sprintf("%#x", bar.Read32(mmio.RegFeaturesLo)),
	}).Info("Adapter initialized")

	return a, nil
}

// CreateAllocation registers a GPU visible memory object and immediately
// marks it resident at gpa.
func (a *Adapter) CreateAllocation(size uint64, flags, pitch uint32, shareToken uint64, gpa uint64) *Allocation {
	al := a.allocs.Create(size, flags, pitch, shareToken)
	if gpa != 0 {
		_ = a.allocs.UpdateResidency(al.ID, gpa)
		al.PhysAddr = gpa
		al.Resident = true
	}
	return al
}

func (a *Adapter) DestroyAllocation(id uint64) error {
	return a.allocs.Destroy(id)
}

func (a *Adapter) UpdateResidency(id uint64, gpa uint64) error {
	return a.allocs.UpdateResidency(id, gpa)
}

// Submit validates a command stream, copies it and its resolved allocation
// list into adapter owned guest memory and pushes one ring entry for it.
// The caller's buffer may be reused the moment this returns. The assigned
// fence is returned; completion is observed through the fence counters.
func (a *Adapter) Submit(cmd []byte, refs []AllocationRef, typ protocol.SubmitType) (uint64, error) {
	if a.fatal.Load() != 0 {
		return 0, ErrAdapterFailed
	}

	if _, err := protocol.ValidateStream(cmd); err != nil {
		a.metricRejected.Inc(1)
		return 0, fmt.Errorf("rejecting submission: %w", err)
	}

	allocs, err := a.allocs.Resolve(refs)
	if err != nil {
		a.metricRejected.Inc(1)
		return 0, err
	}

	// Private copy of the command bytes, taken before anything is queued.
	dma, err := a.arena.alloc(cmd)
	if err != nil {
		return 0, err
	}

	desc := protocol.Descriptor{
		Type:          typ,
		DMABufferGPA:  dma.gpa,
		DMABufferSize: dma.used,
		Allocations:   allocs,
	}
	descSlot, err := a.arena.alloc(desc.Encode(make([]byte, desc.EncodedLen())))
	if err != nil {
		_ = dma.release()
		return 0, err
	}

	a.ringLock.Lock()
	fence := a.lastSubmitted.Load() + 1
	// The fence goes into the descriptor blob only now that its slot in
	// the FIFO is decided.
	binary.LittleEndian.PutUint32(a.fenceBuf[:], uint32(fence))
	if err = a.mem.WriteAt(descSlot.gpa+8, a.fenceBuf[:]); err == nil {
		err = a.ring.push(fence, dma, descSlot, len(allocs))
	}
	if err == nil {
		// Publish the new fence before the device can complete it; the
		// interrupt path compares completed against submitted.
		a.lastSubmitted.Store(fence)
		a.ring.doorbell()
	}
	a.ringLock.Unlock()

	if err != nil {
		_ = dma.release()
		_ = descSlot.release()
		if errors.Is(err, ErrRingFull) {
			a.metricRingFull.Inc(1)
			a.l.WithField("type", typ).Debug("Ring full, backpressuring submission")
		}
		return 0, err
	}

	a.pendingLock.Lock()
	a.pending = append(a.pending, &submission{
		fence: fence,
		typ:   typ,
		dma:   dma,
		desc:  descSlot,
		when:  time.Now(),
	})
	a.pendingLock.Unlock()

	// The device can complete a fence between the doorbell and the pending
	// append; make sure the deferred worker takes another look.
	if a.lastCompleted.Load() >= fence {
		select {
		case a.dpc <- struct{}{}:
		default:
		}
	}

	a.subLog.append(submissionLogEntry{
		Fence:    fence,
		Type:     typ,
		DmaGPA:   dma.gpa,
		DmaSize:  dma.used,
		DescGPA:  descSlot.gpa,
		DescSize: descSlot.used,
		When:     time.Now(),
	})

	a.metricSubmitted.Inc(1)
	a.metricDoorbells.Inc(1)
	return fence, nil
}

// retire frees every pending submission whose fence the device has
// completed. FIFO order holds because fences are assigned in ring order.
func (a *Adapter) retire() {
	completed := a.lastCompleted.Load()

	a.pendingLock.Lock()
	i := 0
	for ; i < len(a.pending) && a.pending[i].fence <= completed; i++ {
	}
	done := a.pending[:i:i]
	a.pending = a.pending[i:]
	a.pendingLock.Unlock()

	for _, s := range done {
		if err := s.dma.release(); err != nil {
			a.l.WithError(err).WithField("fence", s.fence).Error("DMA slot lifetime bug")
		}
		if err := s.desc.release(); err != nil {
			a.l.WithError(err).WithField("fence", s.fence).Error("Descriptor slot lifetime bug")
		}
		a.metricRetired.Inc(1)
	}

	if len(done) > 0 {
		a.l.WithFields(logrus.Fields{
			"retired":   len(done),
			"completed": completed,
		}).Debug("Retired submissions")
	}
}

// runDeferred is the passive-level worker that performs retirement and
// expensive reporting on behalf of the interrupt path.
func (a *Adapter) runDeferred(ctx context.Context) {
	var reported bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.dpc:
			a.retire()
			if code := a.fatal.Load(); code != 0 && !reported {
				reported = true
				a.l.WithField("code", protocol.AdapterError(code)).
					Error("Adapter latched a fatal error, refusing new submissions")
			}
		}
	}
}

// ResetFromTimeout abandons everything in flight after the caller's timeout
// machinery declared the device stuck: indices go back to zero, the fence
// counters meet, and pending resources are returned.
func (a *Adapter) ResetFromTimeout() {
	a.ringLock.Lock()
	a.ring.init()
	a.ringLock.Unlock()

	submitted := a.lastSubmitted.Load()
	a.lastCompleted.Store(submitted)

	a.pendingLock.Lock()
	abandoned := a.pending
	a.pending = nil
	a.pendingLock.Unlock()

	for _, s := range abandoned {
		_ = s.dma.release()
		_ = s.desc.release()
	}

	a.metricResets.Inc(1)
	a.l.WithFields(logrus.Fields{
		"abandoned": len(abandoned),
		"fence":     submitted,
	}).Warn("Adapter reset from timeout")
}

// LastFences returns the submitted/completed pair. Completed can trail but
// never leads.
func (a *Adapter) LastFences() (submitted, completed uint64) {
	return a.lastSubmitted.Load(), a.lastCompleted.Load()
}

// PendingCount reports submissions not yet retired.
func (a *Adapter) PendingCount() int {
	a.pendingLock.Lock()
	defer a.pendingLock.Unlock()
	return len(a.pending)
}

// FatalError reports the latched fatal code, if any.
func (a *Adapter) FatalError() protocol.AdapterError {
	return protocol.AdapterError(a.fatal.Load())
}

func (a *Adapter) failAdapter(code protocol.AdapterError) {
	if a.fatal.CompareAndSwap(0, uint32(code)) {
		// Reporting happens on the deferred path; interrupt context only
		// flips the latch.
		select {
		case a.dpc <- struct{}{}:
		default:
		}
	}
}

// PerfSnapshot samples the fence counters for rate computations.
func (a *Adapter) PerfSnapshot() PerfSample {
	return PerfSample{
		Submitted: a.lastSubmitted.Load(),
		Completed: a.lastCompleted.Load(),
	}
}
