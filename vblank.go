package aerogpu

import (
	"sync"
	"time"
)

const (
	// Bounds for a believable vblank period.
	minVblankPeriod = time.Millisecond
	maxVblankPeriod = time.Second

	// Lines of vertical blanking synthesized below the active height when
	// estimating the scanline position.
	vblankRegionLines = 45

	// Sequence is considered frozen after this many expected periods
	// without an interrupt.
	vblankStaleFactor = 3
)

// vblankEstimator tracks the vblank sequence and smooths the observed period
// so scanline queries can be answered from elapsed time instead of polling
// hardware. Updates come only from the interrupt path; reads come from
// queries on passive paths.
type vblankEstimator struct {
	mu sync.Mutex

	seq          uint64
	deviceTimeNs uint64
	lastTick     time.Time
	period       time.Duration
}

func newVblankEstimator(advertised time.Duration) *vblankEstimator {
	return &vblankEstimator{period: clampVblankPeriod(advertised)}
}

func clampVblankPeriod(p time.Duration) time.Duration {
	if p < minVblankPeriod {
		return minVblankPeriod
	}
	if p > maxVblankPeriod {
		return maxVblankPeriod
	}
	return p
}

// observe records one vblank interrupt. seq and deviceTimeNs are the device
// counter values read back from the registers; now is the host observation
// time used for smoothing and scanline synthesis.
func (v *vblankEstimator) observe(seq, deviceTimeNs uint64, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.lastTick.IsZero() && seq > v.seq {
		delta := now.Sub(v.lastTick) / time.Duration(seq-v.seq)
		// Quarter weight on the newest delta keeps single late interrupts
		// from swinging the estimate.
		v.period = clampVblankPeriod((v.period*3 + delta) / 4)
	}
	v.seq = seq
	v.deviceTimeNs = deviceTimeNs
	v.lastTick = now
}

type vblankSample struct {
	Seq          uint64
	DeviceTimeNs uint64
	PeriodNs     uint32
	Stale        bool
}

func (v *vblankEstimator) sample(now time.Time) vblankSample {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := vblankSample{
		Seq:          v.seq,
		DeviceTimeNs: v.deviceTimeNs,
		PeriodNs:     uint32(v.period.Nanoseconds()),
	}
	if v.lastTick.IsZero() || now.Sub(v.lastTick) > vblankStaleFactor*v.period {
		s.Stale = true
	}
	return s
}

// scanline synthesizes the beam position for a mode with the given active
// height. The reported position and InVBlank flag always agree: the line is
// inside [0, height) when not in vblank and inside the blanking region
// otherwise. A frozen sequence reports line 0, not in vblank, stale.
func (v *vblankEstimator) scanline(height uint32, now time.Time) (line uint32, inVblank bool, stale bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.lastTick.IsZero() || now.Sub(v.lastTick) > vblankStaleFactor*v.period {
		return 0, false, true
	}

	total := height + vblankRegionLines
	elapsed := now.Sub(v.lastTick) % v.period
	line = uint32(uint64(elapsed) * uint64(total) / uint64(v.period))
	if line >= total {
		line = total - 1
	}
	// The tick marks the start of vertical blanking, so the blank region
	// leads the frame.
	if line < vblankRegionLines {
		return height + line, true, false
	}
	return line - vblankRegionLines, false, false
}
