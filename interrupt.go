package aerogpu

import (
	"time"

	"github.com/aerovirt/aerogpu/mmio"
	"github.com/aerovirt/aerogpu/protocol"
)

// ServiceInterrupt is the interrupt service routine. It reads the cause
// registers, acknowledges everything it observed and updates the fence and
// vblank state with a handful of register reads and atomics. Retirement and
// logging are deferred to runDeferred; this path never takes the ring or
// pending locks and never allocates.
//
// Returns false for a spurious interrupt so a shared-line caller can pass it
// to the next device.
func (a *Adapter) ServiceInterrupt() bool {
	intStatus := a.bar.Read32(mmio.RegIntStatus)
	irqStatus := a.bar.Read32(mmio.RegIrqStatus)

	if intStatus == 0 && irqStatus == 0 {
		a.metricSpurious.Inc(1)
		return false
	}

	// Ack exactly the bits seen. A cause latched between the read and the
	// ack stays pending and fires again.
	if intStatus != 0 {
		a.bar.Write32(mmio.RegIntAck, intStatus)
	}
	if irqStatus != 0 {
		a.bar.Write32(mmio.RegIrqAck, irqStatus)
	}

	if intStatus&mmio.IntFence != 0 || irqStatus&mmio.IrqFence != 0 {
		a.observeCompleted(uint64(a.bar.Read32(mmio.RegFenceCompleted)))
	}

	if irqStatus&mmio.IrqScanoutVblank != 0 {
		seq := mmio.Read64(a.bar, mmio.RegVblankSeqLo, mmio.RegVblankSeqHi)
		t := mmio.Read64(a.bar, mmio.RegVblankTimeLo, mmio.RegVblankTimeHi)
		a.vblank.observe(seq, t, time.Now())
		a.metricVblanks.Inc(1)
	}

	a.metricInterrupts.Inc(1)

	// Wake the deferred worker. The channel holds one token; a wakeup
	// already queued covers this interrupt too.
	select {
	case a.dpc <- struct{}{}:
	default:
	}
	return true
}

// observeCompleted folds a completed-fence register read into the tracker.
// The register is 32 bits while the tracked counter is 64; the low word is
// extended against the current value so wraparound keeps the counter
// monotonic.
func (a *Adapter) observeCompleted(low uint64) {
	for {
		cur := a.lastCompleted.Load()
		next := (cur &^ 0xFFFFFFFF) | low
		if next < cur {
			// The register moved past a 32 bit boundary, or the device
			// reported a stale value. Only a forward step within half the
			// counter space is believed to be a wrap.
			if cur-next > 0x80000000 {
				next += 1 << 32
			} else {
				return
			}
		}
		if next > a.lastSubmitted.Load() {
			// Completed may trail submitted but never lead it. A device
			// reporting fences that were never issued means the two sides
			// disagree about the ring, and nothing after this point can be
			// trusted.
			a.failAdapter(protocol.AdapterErrFenceDesync)
			return
		}
		if a.lastCompleted.CompareAndSwap(cur, next) {
			return
		}
	}
}
