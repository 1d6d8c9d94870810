package protocol

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestStream(t *testing.T) []byte {
	t.Helper()
	w := NewBuilder(0)
	w.Append(&CreateBuffer{Handle: 7, UsageFlags: 0x3, SizeBytes: 4096, BackingAllocID: 2})
	w.Append(&UploadResource{Handle: 7, DstOffset: 128, Data: []byte{1, 2, 3, 4, 5}})
	w.Append(&BindShaders{VS: 10, PS: 11})
	w.Append(&Draw{VertexCount: 3, StartVertex: 0})
	w.Append(&Present{ScanoutID: 0, Flags: 1})
	return w.Bytes()
}

func TestStreamRoundTrip(t *testing.T) {
	b := buildTestStream(t)

	d, err := NewDecoder(b)
	require.NoError(t, err)
	assert.Equal(t, StreamMagic, d.Header.Magic)
	assert.Equal(t, uint32(len(b)), d.Header.SizeBytes)

	h, p, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, CmdCreateBuffer, h.Opcode)
	cb := &CreateBuffer{}
	require.NoError(t, cb.Parse(p))
	assert.Equal(t, uint32(7), cb.Handle)
	assert.Equal(t, uint64(4096), cb.SizeBytes)
	assert.Equal(t, uint32(2), cb.BackingAllocID)

	h, p, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, CmdUploadResource, h.Opcode)
	up := &UploadResource{}
	require.NoError(t, up.Parse(p))
	assert.Equal(t, uint64(128), up.DstOffset)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, up.Data)
	// The packet itself stays 4 byte aligned even with an odd data length
	assert.Equal(t, uint32(0), h.SizeBytes%4)

	h, p, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, CmdBindShaders, h.Opcode)
	bs := &BindShaders{}
	require.NoError(t, bs.Parse(p))
	assert.Equal(t, uint32(10), bs.VS)
	assert.Equal(t, uint32(11), bs.PS)

	h, p, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, CmdDraw, h.Opcode)
	dr := &Draw{}
	require.NoError(t, dr.Parse(p))
	assert.Equal(t, uint32(3), dr.VertexCount)

	h, p, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, CmdPresent, h.Opcode)
	pr := &Present{}
	require.NoError(t, pr.Parse(p))
	assert.Equal(t, uint32(1), pr.Flags)

	_, _, err = d.Next()
	assert.Equal(t, io.EOF, err)

	n, err := ValidateStream(b)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestStreamHeaderValidation(t *testing.T) {
	b := buildTestStream(t)

	_, err := NewDecoder(b[:StreamHeaderLen-1])
	assert.Equal(t, ErrStreamTooShort, err)

	bad := append([]byte{}, b...)
	binary.LittleEndian.PutUint32(bad[0:4], 0xdeadbeef)
	_, err = NewDecoder(bad)
	assert.Equal(t, ErrBadStreamMagic, err)

	bad = append([]byte{}, b...)
	binary.LittleEndian.PutUint32(bad[4:8], 99)
	_, err = NewDecoder(bad)
	assert.Equal(t, ErrBadStreamVersion, err)

	bad = append([]byte{}, b...)
	binary.LittleEndian.PutUint32(bad[8:12], uint32(len(b)+8))
	_, err = NewDecoder(bad)
	assert.Equal(t, ErrStreamSizeBounds, err)
}

func TestTruncatedStreamRejected(t *testing.T) {
	b := buildTestStream(t)

	// Chop the final command mid payload but keep the declared stream size.
	// The final command must overrun and poison the whole walk.
	trunc := append([]byte{}, b[:len(b)-4]...)
	_, err := ValidateStream(trunc)
	assert.Equal(t, ErrStreamSizeBounds, err)

	// Same, but with the stream size re-declared to match the short buffer.
	binary.LittleEndian.PutUint32(trunc[8:12], uint32(len(trunc)))
	n, err := ValidateStream(trunc)
	assert.Equal(t, ErrCmdOverrunsStream, err)
	assert.Equal(t, 4, n)
}

func TestMalformedCmdSizes(t *testing.T) {
	w := NewBuilder(0)
	w.Append(&Draw{VertexCount: 3})
	b := w.Bytes()

	under := append([]byte{}, b...)
	binary.LittleEndian.PutUint32(under[StreamHeaderLen+4:], 4)
	_, err := ValidateStream(under)
	assert.Equal(t, ErrCmdSizeTooSmall, err)

	unaligned := append([]byte{}, b...)
	binary.LittleEndian.PutUint32(unaligned[StreamHeaderLen+4:], 10)
	_, err = ValidateStream(unaligned)
	assert.Equal(t, ErrCmdSizeUnaligned, err)
}

func TestUnknownOpcodeSkippedInsideKnownRange(t *testing.T) {
	w := NewBuilder(0)
	w.Append(&Draw{VertexCount: 3})
	b := w.Bytes()

	// A future draw-range opcode with a well formed size is skippable.
	binary.LittleEndian.PutUint32(b[StreamHeaderLen:], 0x03F0)
	n, err := ValidateStream(b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// An opcode outside every range is not.
	binary.LittleEndian.PutUint32(b[StreamHeaderLen:], 0x9000)
	_, err = ValidateStream(b)
	assert.Equal(t, ErrCmdUnknownOpcode, err)
}

func TestOpcodeRange(t *testing.T) {
	assert.Equal(t, RangeResource, CmdCreateBuffer.Range())
	assert.Equal(t, RangeShader, CmdCreateShaderDXBC.Range())
	assert.Equal(t, RangeBinding, CmdSetViewport.Range())
	assert.Equal(t, RangeDraw, CmdClear.Range())
	assert.Equal(t, RangePresentation, CmdPresentEx.Range())
	assert.Equal(t, RangeUnknown, Opcode(0).Range())
	assert.Equal(t, RangeUnknown, Opcode(0x0500).Range())

	assert.Equal(t, "draw", CmdDraw.String())
	assert.Equal(t, "draw(0x03f0)", Opcode(0x03F0).String())
	assert.Equal(t, "resource", RangeResource.String())
}

func TestVariableLengthPayloads(t *testing.T) {
	sh := &CreateShaderDXBC{Handle: 5, Stage: StagePixel, Bytecode: []byte{0xde, 0xad, 0xbe}}
	b := make([]byte, sh.BodyLen())
	sh.encodeBody(b)

	got := &CreateShaderDXBC{}
	require.NoError(t, got.Parse(b))
	assert.Equal(t, sh.Handle, got.Handle)
	assert.Equal(t, sh.Stage, got.Stage)
	assert.Equal(t, sh.Bytecode, got.Bytecode)

	vb := &SetVertexBuffers{
		StartSlot: 1,
		Bindings: []VertexBufferBinding{
			{Buffer: 3, StrideBytes: 16, OffsetBytes: 0},
			{Buffer: 4, StrideBytes: 32, OffsetBytes: 64},
		},
	}
	b = make([]byte, vb.BodyLen())
	vb.encodeBody(b)

	gotVb := &SetVertexBuffers{}
	require.NoError(t, gotVb.Parse(b))
	assert.Equal(t, vb.Bindings, gotVb.Bindings)

	// Declared count past the payload end must not parse.
	binary.LittleEndian.PutUint32(b[4:8], 9)
	assert.Equal(t, ErrPayloadTooShort, gotVb.Parse(b))
}
