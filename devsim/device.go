// Package devsim is an in-process model of the legacy AeroGPU device. It
// consumes the submission ring the way the real device model does: a
// doorbell write walks the pending entries, validates each descriptor and
// publishes the highest completed fence, and a vblank ticker drives the
// scanout counters. Tests, the self-test and the demo daemon all run the
// driver against this model.
package devsim

import (
	"context"
	"sync"
	"time"

	"github.com/aerovirt/aerogpu/mmio"
	"github.com/aerovirt/aerogpu/protocol"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultRefreshHz = 60

type Device struct {
	l   *logrus.Logger
	mem mmio.Mem

	mu sync.Mutex

	ringBase       uint64
	ringEntryCount uint32
	ringHead       uint32
	ringTail       uint32

	intStatus      uint32
	irqStatus      uint32
	irqEnable      uint32
	fenceCompleted uint32

	scanoutFb     uint64
	scanoutPitch  uint32
	scanoutWidth  uint32
	scanoutHeight uint32
	scanoutFormat uint32
	scanoutEnable uint32

	cursorX      uint32
	cursorY      uint32
	cursorEnable uint32

	vblankSeq    uint64
	vblankTimeNs uint64
	refreshHz    uint32

	booted time.Time
	intrCB func()

	metricSubmissions metrics.Counter
	metricBadDescs    metrics.Counter
	metricVblanks     metrics.Counter
}

func New(l *logrus.Logger, mem mmio.Mem, refreshHz uint32) *Device {
	if refreshHz == 0 {
		refreshHz = defaultRefreshHz
	}
	return &Device{
		l:                 l,
		mem:               mem,
		refreshHz:         refreshHz,
		booted:            time.Now(),
		metricSubmissions: metrics.GetOrRegisterCounter("devsim.submissions", nil),
		metricBadDescs:    metrics.GetOrRegisterCounter("devsim.bad_descriptors", nil),
		metricVblanks:     metrics.GetOrRegisterCounter("devsim.vblanks", nil),
	}
}

// OnInterrupt registers the callback invoked whenever the interrupt line is
// asserted. The callback runs without the device lock held and must behave
// like an ISR: read status, ack, return.
func (d *Device) OnInterrupt(f func()) {
	d.mu.Lock()
	d.intrCB = f
	d.mu.Unlock()
}

func (d *Device) periodNs() uint32 {
	return uint32((uint64(time.Second) + uint64(d.refreshHz) - 1) / uint64(d.refreshHz))
}

func (d *Device) Read32(off uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch off {
	case mmio.RegMagic:
		return mmio.Magic
	case mmio.RegVersion:
		return mmio.Version
	case mmio.RegFeaturesLo:
		return mmio.FeatureCursor | mmio.FeatureScanout | mmio.FeatureVblank
	case mmio.RegFeaturesHi:
		return 0
	case mmio.RegRingBaseLo:
		return uint32(d.ringBase)
	case mmio.RegRingBaseHi:
		return uint32(d.ringBase >> 32)
	case mmio.RegRingEntryCount:
		return d.ringEntryCount
	case mmio.RegRingHead:
		return d.ringHead
	case mmio.RegRingTail:
		return d.ringTail
	case mmio.RegIntStatus:
		return d.intStatus
	case mmio.RegFenceCompleted:
		return d.fenceCompleted
	case mmio.RegScanoutFbLo:
		return uint32(d.scanoutFb)
	case mmio.RegScanoutFbHi:
		return uint32(d.scanoutFb >> 32)
	case mmio.RegScanoutPitch:
		return d.scanoutPitch
	case mmio.RegScanoutWidth:
		return d.scanoutWidth
	case mmio.RegScanoutHeight:
		return d.scanoutHeight
	case mmio.RegScanoutFormat:
		return d.scanoutFormat
	case mmio.RegScanoutEnable:
		return d.scanoutEnable
	case mmio.RegCursorX:
		return d.cursorX
	case mmio.RegCursorY:
		return d.cursorY
	case mmio.RegCursorEnable:
		return d.cursorEnable
	case mmio.RegIrqStatus:
		return d.irqStatus
	case mmio.RegIrqEnable:
		return d.irqEnable
	case mmio.RegVblankSeqLo:
		return uint32(d.vblankSeq)
	case mmio.RegVblankSeqHi:
		return uint32(d.vblankSeq >> 32)
	case mmio.RegVblankTimeLo:
		return uint32(d.vblankTimeNs)
	case mmio.RegVblankTimeHi:
		return uint32(d.vblankTimeNs >> 32)
	case mmio.RegVblankPeriod:
		return d.periodNs()
	default:
		return 0
	}
}

func (d *Device) Write32(off uint32, v uint32) {
	d.mu.Lock()

	switch off {
	case mmio.RegRingBaseLo:
		d.ringBase = d.ringBase&^0xFFFF_FFFF | uint64(v)
	case mmio.RegRingBaseHi:
		d.ringBase = d.ringBase&0xFFFF_FFFF | uint64(v)<<32
	case mmio.RegRingEntryCount:
		d.ringEntryCount = v
	case mmio.RegRingHead:
		d.ringHead = v
	case mmio.RegRingTail:
		d.ringTail = v
	case mmio.RegRingDoorbell:
		d.processRing()
	case mmio.RegIntAck:
		d.intStatus &^= v
		if v&mmio.IntFence != 0 {
			// The legacy ack also retires the mirrored bit in the
			// extended block.
			d.irqStatus &^= mmio.IrqFence
		}
	case mmio.RegIrqAck:
		d.irqStatus &^= v
	case mmio.RegIrqEnable:
		if v&mmio.IrqScanoutVblank != 0 && d.irqEnable&mmio.IrqScanoutVblank == 0 {
			// Drop any vblank latched while disabled so the first
			// interrupt after enable is a fresh one.
			d.irqStatus &^= mmio.IrqScanoutVblank
		}
		d.irqEnable = v
	case mmio.RegScanoutFbLo:
		d.scanoutFb = d.scanoutFb&^0xFFFF_FFFF | uint64(v)
	case mmio.RegScanoutFbHi:
		d.scanoutFb = d.scanoutFb&0xFFFF_FFFF | uint64(v)<<32
	case mmio.RegScanoutPitch:
		d.scanoutPitch = v
	case mmio.RegScanoutWidth:
		d.scanoutWidth = v
	case mmio.RegScanoutHeight:
		d.scanoutHeight = v
	case mmio.RegScanoutFormat:
		d.scanoutFormat = v
	case mmio.RegScanoutEnable:
		d.scanoutEnable = v
	case mmio.RegCursorX:
		d.cursorX = v
	case mmio.RegCursorY:
		d.cursorY = v
	case mmio.RegCursorEnable:
		d.cursorEnable = v
	}

	cb, level := d.intrCB, d.level()
	d.mu.Unlock()

	if level && cb != nil {
		cb()
	}
}

func (d *Device) level() bool {
	return d.intStatus != 0 || d.irqStatus&d.irqEnable != 0
}

// processRing consumes entries from head to tail. Called with the lock held
// from the doorbell write.
func (d *Device) processRing() {
	count := d.ringEntryCount
	if count == 0 || d.ringBase == 0 {
		return
	}

	consumed := 0
	completed := d.fenceCompleted
	for d.ringHead != d.ringTail {
		idx := d.ringHead % count
		eb := make([]byte, protocol.LegacyRingEntryLen)
		if err := d.mem.ReadAt(d.ringBase+uint64(idx)*protocol.LegacyRingEntryLen, eb); err != nil {
			d.l.WithError(err).WithField("index", idx).Error("Failed to read ring entry")
			d.irqStatus |= mmio.IrqError
			break
		}

		var e protocol.LegacyRingEntry
		if err := e.Parse(eb); err != nil {
			d.irqStatus |= mmio.IrqError
			break
		}

		if e.Type == protocol.RingEntrySubmit {
			if err := d.executeSubmit(&e); err != nil {
				d.metricBadDescs.Inc(1)
				d.l.WithError(err).WithFields(logrus.Fields{
					"fence":   e.Fence,
					"descGpa": e.DescGPA,
				}).Error("Rejecting malformed submission descriptor")
				d.irqStatus |= mmio.IrqError
			} else if e.Fence > completed {
				completed = e.Fence
			}
		}

		d.ringHead = (d.ringHead + 1) % count
		consumed++
	}

	if consumed > 0 {
		d.metricSubmissions.Inc(int64(consumed))
		d.fenceCompleted = completed
		d.intStatus |= mmio.IntFence
		d.irqStatus |= mmio.IrqFence
		d.l.WithFields(logrus.Fields{
			"consumed":       consumed,
			"fenceCompleted": completed,
		}).Debug("Ring doorbell processed")
	}
}

// executeSubmit fetches and validates the descriptor blob a ring entry points
// at. Execution of the command stream itself is out of scope for the model;
// a descriptor that parses is considered done.
func (d *Device) executeSubmit(e *protocol.LegacyRingEntry) error {
	db := make([]byte, e.DescSize)
	if err := d.mem.ReadAt(e.DescGPA, db); err != nil {
		return err
	}

	var desc protocol.Descriptor
	if err := desc.Parse(db); err != nil {
		return err
	}

	// The command stream must still be well formed when the device sees it.
	cb := make([]byte, desc.DMABufferSize)
	if err := d.mem.ReadAt(desc.DMABufferGPA, cb); err != nil {
		return err
	}
	if _, err := protocol.ValidateStream(cb); err != nil {
		return err
	}
	return nil
}

// TickVblank advances the vblank counters by one frame. The Run loop calls
// this on the refresh cadence; tests call it directly.
func (d *Device) TickVblank() {
	d.mu.Lock()
	d.vblankSeq++
	d.vblankTimeNs = uint64(time.Since(d.booted).Nanoseconds())
	d.metricVblanks.Inc(1)
	if d.irqEnable&mmio.IrqScanoutVblank != 0 {
		d.irqStatus |= mmio.IrqScanoutVblank
	}
	cb, level := d.intrCB, d.level()
	d.mu.Unlock()

	if level && cb != nil {
		cb()
	}
}

// Run drives the vblank cadence until the context is canceled.
func (d *Device) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.NewTicker(time.Duration(d.periodNs()))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				d.TickVblank()
			}
		}
	})
	return g.Wait()
}
