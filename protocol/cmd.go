package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Command stream layout:
// 0                                                                       31
// |-----------------------------------------------------------------------|
// |                         Magic "ACMD" (uint32)                         |
// |-----------------------------------------------------------------------|
// |                          ABI version (uint32)                         |
// |-----------------------------------------------------------------------|
// |                  Stream size in bytes, incl header (uint32)           |
// |-----------------------------------------------------------------------|
// |             Flags (uint32) | Reserved (uint32) | Reserved (uint32)    |
// |-----------------------------------------------------------------------|
// | repeated: Opcode (uint32) | Size incl cmd header (uint32) | payload.. |
//
// All fields are little-endian. Every resource reference in a payload is a
// 32 bit handle or table index, never a pointer.

const (
	StreamMagic      uint32 = 0x444D4341 // "ACMD"
	StreamABIVersion uint32 = 1
	StreamHeaderLen         = 24
	CmdHeaderLen            = 8
)

type Opcode uint32

// Opcode ranges are a stable contract; decoders may skip an unknown opcode
// inside a known range as long as its declared size is well formed.
const (
	// Resource lifetime: 0x0001 - 0x00FF
	CmdCreateBuffer    Opcode = 0x0001
	CmdCreateTexture2D Opcode = 0x0002
	CmdDestroyResource Opcode = 0x0003
	CmdDirtyRange      Opcode = 0x0004
	CmdUploadResource  Opcode = 0x0005
	CmdCopyBuffer      Opcode = 0x0006

	// Shader/pipeline: 0x0100 - 0x01FF
	CmdCreateShaderDXBC  Opcode = 0x0101
	CmdDestroyShader     Opcode = 0x0102
	CmdCreateInputLayout Opcode = 0x0103
	CmdSetInputLayout    Opcode = 0x0104

	// Binding: 0x0200 - 0x02FF
	CmdBindShaders         Opcode = 0x0201
	CmdSetVertexBuffers    Opcode = 0x0202
	CmdSetIndexBuffer      Opcode = 0x0203
	CmdSetPrimitiveTopo    Opcode = 0x0204
	CmdSetRenderTargets    Opcode = 0x0205
	CmdSetViewport         Opcode = 0x0206
	CmdSetScissor          Opcode = 0x0207
	CmdSetShaderConstantsF Opcode = 0x0208

	// Draw: 0x0300 - 0x03FF
	CmdDraw        Opcode = 0x0301
	CmdDrawIndexed Opcode = 0x0302
	CmdClear       Opcode = 0x0303
	CmdDispatch    Opcode = 0x0304

	// Presentation: 0x0400 - 0x04FF
	CmdPresent   Opcode = 0x0401
	CmdPresentEx Opcode = 0x0402
)

var opcodeMap = map[Opcode]string{
	CmdCreateBuffer:        "createBuffer",
	CmdCreateTexture2D:     "createTexture2d",
	CmdDestroyResource:     "destroyResource",
	CmdDirtyRange:          "dirtyRange",
	CmdUploadResource:      "uploadResource",
	CmdCopyBuffer:          "copyBuffer",
	CmdCreateShaderDXBC:    "createShaderDxbc",
	CmdDestroyShader:       "destroyShader",
	CmdCreateInputLayout:   "createInputLayout",
	CmdSetInputLayout:      "setInputLayout",
	CmdBindShaders:         "bindShaders",
	CmdSetVertexBuffers:    "setVertexBuffers",
	CmdSetIndexBuffer:      "setIndexBuffer",
	CmdSetPrimitiveTopo:    "setPrimitiveTopology",
	CmdSetRenderTargets:    "setRenderTargets",
	CmdSetViewport:         "setViewport",
	CmdSetScissor:          "setScissor",
	CmdSetShaderConstantsF: "setShaderConstantsF",
	CmdDraw:                "draw",
	CmdDrawIndexed:         "drawIndexed",
	CmdClear:               "clear",
	CmdDispatch:            "dispatch",
	CmdPresent:             "present",
	CmdPresentEx:           "presentEx",
}

type OpcodeRange uint8

const (
	RangeUnknown      OpcodeRange = 0
	RangeResource     OpcodeRange = 1
	RangeShader       OpcodeRange = 2
	RangeBinding      OpcodeRange = 3
	RangeDraw         OpcodeRange = 4
	RangePresentation OpcodeRange = 5
)

var rangeMap = map[OpcodeRange]string{
	RangeUnknown:      "unknown",
	RangeResource:     "resource",
	RangeShader:       "shader",
	RangeBinding:      "binding",
	RangeDraw:         "draw",
	RangePresentation: "presentation",
}

var (
	ErrStreamTooShort    = errors.New("command stream is too short")
	ErrBadStreamMagic    = errors.New("command stream magic mismatch")
	ErrBadStreamVersion  = errors.New("unsupported command stream version")
	ErrStreamSizeBounds  = errors.New("command stream declared size out of bounds")
	ErrCmdSizeTooSmall   = errors.New("command size smaller than command header")
	ErrCmdSizeUnaligned  = errors.New("command size not 4 byte aligned")
	ErrCmdOverrunsStream = errors.New("command overruns stream end")
	ErrCmdUnknownOpcode  = errors.New("opcode outside every known range")
)

// Range reports which numeric partition an opcode belongs to.
func (o Opcode) Range() OpcodeRange {
	switch {
	case o >= 0x0001 && o <= 0x00FF:
		return RangeResource
	case o >= 0x0100 && o <= 0x01FF:
		return RangeShader
	case o >= 0x0200 && o <= 0x02FF:
		return RangeBinding
	case o >= 0x0300 && o <= 0x03FF:
		return RangeDraw
	case o >= 0x0400 && o <= 0x04FF:
		return RangePresentation
	default:
		return RangeUnknown
	}
}

func (o Opcode) String() string {
	if n, ok := opcodeMap[o]; ok {
		return n
	}
	return fmt.Sprintf("%s(%#06x)", rangeMap[o.Range()], uint32(o))
}

func (r OpcodeRange) String() string {
	if n, ok := rangeMap[r]; ok {
		return n
	}
	return "unknown"
}

type StreamHeader struct {
	Magic      uint32
	ABIVersion uint32
	SizeBytes  uint32
	Flags      uint32
}

// Encode writes the stream header into b. b must be capped at StreamHeaderLen
// or higher or this will panic.
func (h *StreamHeader) Encode(b []byte) []byte {
	b = b[:StreamHeaderLen]
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.ABIVersion)
	binary.LittleEndian.PutUint32(b[8:12], h.SizeBytes)
	binary.LittleEndian.PutUint32(b[12:16], h.Flags)
	binary.LittleEndian.PutUint32(b[16:20], 0)
	binary.LittleEndian.PutUint32(b[20:24], 0)
	return b
}

func (h *StreamHeader) Parse(b []byte) error {
	if len(b) < StreamHeaderLen {
		return ErrStreamTooShort
	}
	h.Magic = binary.LittleEndian.Uint32(b[0:4])
	h.ABIVersion = binary.LittleEndian.Uint32(b[4:8])
	h.SizeBytes = binary.LittleEndian.Uint32(b[8:12])
	h.Flags = binary.LittleEndian.Uint32(b[12:16])
	return nil
}

type CmdHeader struct {
	Opcode    Opcode
	SizeBytes uint32
}

func (h *CmdHeader) Encode(b []byte) []byte {
	b = b[:CmdHeaderLen]
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Opcode))
	binary.LittleEndian.PutUint32(b[4:8], h.SizeBytes)
	return b
}

func (h *CmdHeader) Parse(b []byte) error {
	if len(b) < CmdHeaderLen {
		return ErrStreamTooShort
	}
	h.Opcode = Opcode(binary.LittleEndian.Uint32(b[0:4]))
	h.SizeBytes = binary.LittleEndian.Uint32(b[4:8])
	return nil
}

// Decoder walks a command stream sequentially. A stream whose declared sizes
// do not hold together is rejected as a whole, partial decode results must
// not be acted on.
type Decoder struct {
	Header StreamHeader

	buf []byte
	off int
}

// NewDecoder validates the stream header and positions the decoder at the
// first command.
func NewDecoder(b []byte) (*Decoder, error) {
	d := &Decoder{buf: b}
	if err := d.Header.Parse(b); err != nil {
		return nil, err
	}
	if d.Header.Magic != StreamMagic {
		return nil, ErrBadStreamMagic
	}
	if d.Header.ABIVersion != StreamABIVersion {
		return nil, ErrBadStreamVersion
	}
	if d.Header.SizeBytes < StreamHeaderLen || int(d.Header.SizeBytes) > len(b) {
		return nil, ErrStreamSizeBounds
	}
	d.off = StreamHeaderLen
	return d, nil
}

// Next returns the next command header and its payload bytes (the bytes after
// the command header). io.EOF signals a clean end of stream. Any other error
// means the stream is malformed and the whole submission must be rejected.
func (d *Decoder) Next() (CmdHeader, []byte, error) {
	var h CmdHeader
	end := int(d.Header.SizeBytes)
	if d.off == end {
		return h, nil, io.EOF
	}
	if end-d.off < CmdHeaderLen {
		return h, nil, ErrStreamTooShort
	}
	if err := h.Parse(d.buf[d.off:]); err != nil {
		return h, nil, err
	}
	if h.SizeBytes < CmdHeaderLen {
		return h, nil, ErrCmdSizeTooSmall
	}
	if h.SizeBytes%4 != 0 {
		return h, nil, ErrCmdSizeUnaligned
	}
	if d.off+int(h.SizeBytes) > end {
		return h, nil, ErrCmdOverrunsStream
	}
	if h.Opcode.Range() == RangeUnknown {
		return h, nil, ErrCmdUnknownOpcode
	}
	payload := d.buf[d.off+CmdHeaderLen : d.off+int(h.SizeBytes)]
	d.off += int(h.SizeBytes)
	return h, payload, nil
}

// ValidateStream walks the whole stream and returns the command count. It is
// the submit-time gate: a stream it rejects must not reach the ring.
func ValidateStream(b []byte) (int, error) {
	d, err := NewDecoder(b)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		_, _, err := d.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
