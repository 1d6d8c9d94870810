package aerogpu

import (
	"errors"
	"time"

	"github.com/aerovirt/aerogpu/mmio"
	"github.com/aerovirt/aerogpu/protocol"
)

const defaultSelftestTimeout = time.Second

// runSelftest exercises the whole submit path end to end: register sanity,
// a cursor write/readback, then a real present submission it waits on. The
// result carries the first failing stage.
func (a *Adapter) runSelftest(timeout time.Duration) protocol.SelftestOut {
	if timeout <= 0 {
		timeout = defaultSelftestTimeout
	}

	if a.fatal.Load() != 0 {
		return protocol.SelftestOut{ErrorCode: protocol.SelftestErrInvalidState}
	}
	if a.bar.Read32(mmio.RegMagic) != mmio.Magic {
		return protocol.SelftestOut{ErrorCode: protocol.SelftestErrInvalidState}
	}
	if a.bar.Read32(mmio.RegRingEntryCount) == 0 {
		return protocol.SelftestOut{ErrorCode: protocol.SelftestErrRingNotReady}
	}

	if a.bar.Read32(mmio.RegFeaturesLo)&mmio.FeatureCursor != 0 {
		prev := a.bar.Read32(mmio.RegCursorX)
		a.bar.Write32(mmio.RegCursorX, 0x5A5A)
		readback := a.bar.Read32(mmio.RegCursorX)
		a.bar.Write32(mmio.RegCursorX, prev)
		if readback != 0x5A5A {
			return protocol.SelftestOut{ErrorCode: protocol.SelftestErrInvalidState}
		}
	}

	b := protocol.NewBuilder(0)
	b.Append(&protocol.Present{})
	fence, err := a.Submit(b.Bytes(), nil, protocol.SubmitPresent)
	if err != nil {
		switch {
		case errors.Is(err, ErrRingFull):
			return protocol.SelftestOut{ErrorCode: protocol.SelftestErrGpuBusy}
		case errors.Is(err, ErrArenaExhausted):
			return protocol.SelftestOut{ErrorCode: protocol.SelftestErrNoResources}
		default:
			return protocol.SelftestOut{ErrorCode: protocol.SelftestErrInvalidState}
		}
	}

	deadline := time.Now().Add(timeout)
	for a.lastCompleted.Load() < fence {
		if time.Now().After(deadline) {
			return protocol.SelftestOut{ErrorCode: protocol.SelftestErrTimeout}
		}
		time.Sleep(time.Millisecond)
	}

	return protocol.SelftestOut{Passed: 1, ErrorCode: protocol.SelftestOK}
}
