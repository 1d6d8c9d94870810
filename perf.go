package aerogpu

// PerfSample is a point-in-time fence counter snapshot taken from the perf
// query. Rates come from comparing two samples, never from a single one.
type PerfSample struct {
	Submitted uint64
	Completed uint64
}

// FenceDelta is the movement between two perf samples.
type FenceDelta struct {
	DeltaSubmitted  uint64
	DeltaCompleted  uint64
	CompletedPerSec float64
	// Reset is set when either counter moved backward, which means the
	// adapter restarted between the samples. Deltas are forced to zero
	// because they would be meaningless.
	Reset bool
}

// ComputeFenceDelta compares two samples taken dt seconds apart. dt of zero
// yields zero rate rather than dividing by it.
func ComputeFenceDelta(prev, now PerfSample, dt float64) FenceDelta {
	if now.Submitted < prev.Submitted || now.Completed < prev.Completed {
		return FenceDelta{Reset: true}
	}

	d := FenceDelta{
		DeltaSubmitted: now.Submitted - prev.Submitted,
		DeltaCompleted: now.Completed - prev.Completed,
	}
	if dt > 0 {
		d.CompletedPerSec = float64(d.DeltaCompleted) / dt
	}
	return d
}
