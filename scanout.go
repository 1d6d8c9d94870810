package aerogpu

import (
	"time"

	"github.com/aerovirt/aerogpu/mmio"
)

// ScanoutMode is a programmed display mode for scanout 0.
type ScanoutMode struct {
	Width      uint32
	Height     uint32
	PitchBytes uint32
	Format     uint32
	FBBase     uint64
}

// scanoutState caches the last programmed mode so queries answer from driver
// state and only fall back to the registers for cross checks.
type scanoutState struct {
	mu      syncMutex
	mode    ScanoutMode
	enabled bool
}

// SetScanout programs the mode registers and enables scanout 0. A zero pitch
// takes the tight pitch for the format.
func (a *Adapter) SetScanout(m ScanoutMode) {
	if m.Format == 0 {
		m.Format = mmio.FormatX8R8G8B8
	}
	if m.PitchBytes == 0 {
		m.PitchBytes = m.Width * 4
	}

	a.scanout.mu.Lock()
	mmio.Write64(a.bar, mmio.RegScanoutFbLo, mmio.RegScanoutFbHi, m.FBBase)
	a.bar.Write32(mmio.RegScanoutPitch, m.PitchBytes)
	a.bar.Write32(mmio.RegScanoutWidth, m.Width)
	a.bar.Write32(mmio.RegScanoutHeight, m.Height)
	a.bar.Write32(mmio.RegScanoutFormat, m.Format)
	a.bar.Write32(mmio.RegScanoutEnable, 1)
	a.scanout.mode = m
	a.scanout.enabled = true
	a.scanout.mu.Unlock()

	a.l.WithField("mode", m).Info("Scanout enabled")
}

// DisableScanout turns the output off. The cached mode survives so a
// re-enable does not need the caller to repeat it.
func (a *Adapter) DisableScanout() {
	a.scanout.mu.Lock()
	a.bar.Write32(mmio.RegScanoutEnable, 0)
	a.scanout.enabled = false
	a.scanout.mu.Unlock()
}

// ScanoutMode reports the cached mode and whether the output is enabled.
func (a *Adapter) ScanoutMode() (ScanoutMode, bool) {
	a.scanout.mu.Lock()
	defer a.scanout.mu.Unlock()
	return a.scanout.mode, a.scanout.enabled
}

// SetCursor moves the hardware cursor. Coordinates may land outside the
// active mode; the device clips.
func (a *Adapter) SetCursor(x, y int32, enable bool) {
	a.bar.Write32(mmio.RegCursorX, uint32(x))
	a.bar.Write32(mmio.RegCursorY, uint32(y))
	if enable {
		a.bar.Write32(mmio.RegCursorEnable, 1)
	} else {
		a.bar.Write32(mmio.RegCursorEnable, 0)
	}
}

// Scanline synthesizes the current beam position for the active mode from
// the vblank estimator. With scanout disabled or the estimator stale the
// position is line 0, not in vblank, stale.
func (a *Adapter) Scanline() (line uint32, inVblank bool, stale bool) {
	a.scanout.mu.Lock()
	height := a.scanout.mode.Height
	enabled := a.scanout.enabled
	a.scanout.mu.Unlock()

	if !enabled || height == 0 {
		return 0, false, true
	}
	return a.vblank.scanline(height, time.Now())
}

// VblankSample reports the estimator state for the vblank query.
func (a *Adapter) VblankSample() vblankSample {
	return a.vblank.sample(time.Now())
}
