package aerogpu

import (
	"time"

	"github.com/aerovirt/aerogpu/mmio"
	"github.com/aerovirt/aerogpu/protocol"
)

// tokenCache hands out small stable debug tokens for shared allocation
// handles so log output never has to print the raw handles. A handle keeps
// its token for the life of the adapter; once the cache is full new handles
// are refused rather than evicting somebody else's token.
type tokenCache struct {
	mu     syncMutex
	cap    int
	tokens map[uint64]uint32
	next   uint32
}

func newTokenCache(capacity int) *tokenCache {
	return &tokenCache{
		mu:     newSyncMutex("tokens"),
		cap:    capacity,
		tokens: make(map[uint64]uint32),
		next:   1,
	}
}

// token returns the stable token for handle, minting one if there is room.
func (t *tokenCache) token(handle uint64) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tok, ok := t.tokens[handle]; ok {
		return tok, true
	}
	if len(t.tokens) >= t.cap {
		return 0, false
	}
	tok := t.next
	t.next++
	t.tokens[handle] = tok
	return tok, true
}

// Escape services one debug escape packet and returns the response packet
// with its out-of-band status. The response header echoes the request op and
// reports the size actually populated. Unknown ops and unknown versions get
// StatusNotSupported so old tools can probe and fall back; malformed packets
// get StatusInvalidParameter.
func (a *Adapter) Escape(req []byte) ([]byte, protocol.EscapeStatus) {
	var h protocol.EscapeHeader
	if err := h.Parse(req); err != nil {
		return nil, protocol.StatusInvalidParameter
	}
	if h.Version != protocol.EscapeVersion {
		return protocol.NewEscapeRequest(h.Op, nil), protocol.StatusNotSupported
	}
	if int(h.Size) != len(req) {
		return nil, protocol.StatusInvalidParameter
	}
	payload := req[protocol.EscapeHeaderLen:]

	switch h.Op {
	case protocol.EscQueryDevice:
		out := protocol.QueryDeviceOut{MMIOVersion: a.bar.Read32(mmio.RegVersion)}
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, protocol.QueryDeviceOutLen))), protocol.StatusOK

	case protocol.EscQueryDeviceV2:
		out := protocol.QueryDeviceV2Out{
			DetectedMagic: a.bar.Read32(mmio.RegMagic),
			ABIVersion:    a.bar.Read32(mmio.RegVersion),
			FeaturesLo:    a.bar.Read32(mmio.RegFeaturesLo),
			FeaturesHi:    a.bar.Read32(mmio.RegFeaturesHi),
		}
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, protocol.QueryDeviceV2OutLen))), protocol.StatusOK

	case protocol.EscQueryFence:
		s, c := a.LastFences()
		out := protocol.QueryFenceOut{LastSubmitted: s, LastCompleted: c}
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, protocol.QueryFenceOutLen))), protocol.StatusOK

	case protocol.EscQueryPerf:
		out := protocol.QueryPerfOut{
			Submitted:   a.lastSubmitted.Load(),
			Completed:   a.lastCompleted.Load(),
			Doorbells:   uint64(a.metricDoorbells.Count()),
			Interrupts:  uint64(a.metricInterrupts.Count()),
			Vblanks:     uint64(a.metricVblanks.Count()),
			Resets:      uint64(a.metricResets.Count()),
			TimestampNs: uint64(time.Now().UnixNano()),
		}
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, protocol.QueryPerfOutLen))), protocol.StatusOK

	case protocol.EscQueryVblank:
		s := a.vblank.sample(time.Now())
		flags := uint32(0)
		if a.bar.Read32(mmio.RegFeaturesLo)&mmio.FeatureVblank != 0 {
			flags |= protocol.VblankFlagSupported
		}
		if s.Seq > 0 {
			flags |= protocol.VblankFlagValid
		}
		if s.Stale {
			flags |= protocol.VblankFlagStale
		}
		out := protocol.QueryVblankOut{
			Flags:      flags,
			IrqEnable:  a.bar.Read32(mmio.RegIrqEnable),
			IrqStatus:  a.bar.Read32(mmio.RegIrqStatus),
			Seq:        s.Seq,
			LastTimeNs: s.DeviceTimeNs,
			PeriodNs:   s.PeriodNs,
		}
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, protocol.QueryVblankOutLen))), protocol.StatusOK

	case protocol.EscQueryScanout:
		a.scanout.mu.Lock()
		mode := a.scanout.mode
		enabled := a.scanout.enabled
		a.scanout.mu.Unlock()
		out := protocol.QueryScanoutOut{
			CachedWidth:  mode.Width,
			CachedHeight: mode.Height,
			CachedFormat: mode.Format,
			CachedPitch:  mode.PitchBytes,
			MMIOEnable:   a.bar.Read32(mmio.RegScanoutEnable),
			MMIOWidth:    a.bar.Read32(mmio.RegScanoutWidth),
			MMIOHeight:   a.bar.Read32(mmio.RegScanoutHeight),
			MMIOFormat:   a.bar.Read32(mmio.RegScanoutFormat),
			MMIOPitch:    a.bar.Read32(mmio.RegScanoutPitch),
			FBGPA:        mmio.Read64(a.bar, mmio.RegScanoutFbLo, mmio.RegScanoutFbHi),
		}
		if enabled {
			out.CachedEnable = 1
		}
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, protocol.QueryScanoutOutLen))), protocol.StatusOK

	case protocol.EscQueryError:
		s, c := a.LastFences()
		out := protocol.QueryErrorOut{
			ErrorCode:     a.FatalError(),
			LastSubmitted: s,
			LastCompleted: c,
		}
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, protocol.QueryErrorOutLen))), protocol.StatusOK

	case protocol.EscDumpRing, protocol.EscDumpRingV2:
		var in protocol.DumpRingIn
		if err := in.Parse(payload); err != nil {
			return nil, protocol.StatusInvalidParameter
		}
		if in.RingID != 0 {
			return nil, protocol.StatusInvalidParameter
		}
		v2 := h.Op == protocol.EscDumpRingV2
		out := a.dumpRing(int(in.DescCapacity))
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, out.EncodedLen(v2)), v2)), protocol.StatusOK

	case protocol.EscDumpCreateAllocation:
		idx, recs := a.allocs.traceSnapshot()
		out := protocol.DumpCreateAllocationOut{
			WriteIndex: idx,
			Capacity:   protocol.MaxRecentAllocations,
			Records:    recs,
		}
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, out.EncodedLen()))), protocol.StatusOK

	case protocol.EscMapSharedHandle:
		var in protocol.MapSharedHandleIn
		if err := in.Parse(payload); err != nil {
			return nil, protocol.StatusInvalidParameter
		}
		if in.SharedHandle == 0 {
			return nil, protocol.StatusInvalidParameter
		}
		tok, ok := a.tokens.token(in.SharedHandle)
		if !ok {
			return nil, protocol.StatusResourceExhausted
		}
		out := protocol.MapSharedHandleOut{SharedHandle: in.SharedHandle, DebugToken: tok}
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, protocol.MapSharedHandleOutLen))), protocol.StatusOK

	case protocol.EscSelftest:
		var in protocol.SelftestIn
		if err := in.Parse(payload); err != nil {
			return nil, protocol.StatusInvalidParameter
		}
		out := a.runSelftest(time.Duration(in.TimeoutMs) * time.Millisecond)
		return protocol.NewEscapeRequest(h.Op, out.Encode(make([]byte, protocol.SelftestOutLen))), protocol.StatusOK

	default:
		return protocol.NewEscapeRequest(h.Op, nil), protocol.StatusNotSupported
	}
}

// dumpRing captures the ring geometry plus a window of the most recent
// submissions from the diagnostic log, newest last.
func (a *Adapter) dumpRing(capacity int) protocol.DumpRingOut {
	if capacity <= 0 || capacity > protocol.MaxRecentDescriptors {
		capacity = protocol.MaxRecentDescriptors
	}

	a.ringLock.Lock()
	head, tail := a.ring.snapshot()
	out := protocol.DumpRingOut{
		Format:        a.ring.format,
		RingSizeBytes: a.ring.entryCount * a.ring.stride(),
		EntryCount:    a.ring.entryCount,
		Head:          head,
		Tail:          tail,
	}
	a.ringLock.Unlock()

	_, entries := a.subLog.snapshot(capacity)
	out.Descs = make([]protocol.AGPURingEntry, len(entries))
	for i, e := range entries {
		d := protocol.AGPURingEntry{
			Fence:   e.Fence,
			CmdGPA:  e.DmaGPA,
			CmdSize: e.DmaSize,
		}
		if e.DescSize > protocol.DescHeaderLen {
			d.AllocTableGPA = e.DescGPA + protocol.DescHeaderLen
			d.AllocTableSize = e.DescSize - protocol.DescHeaderLen
		}
		out.Descs[i] = d
	}
	return out
}
