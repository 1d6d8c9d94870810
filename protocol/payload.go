package protocol

import (
	"encoding/binary"
	"errors"
)

// Command is one encodable command stream packet. BodyLen excludes the
// command header and must already be 4 byte aligned.
type Command interface {
	CmdOpcode() Opcode
	BodyLen() int
	encodeBody(b []byte)
}

var ErrPayloadTooShort = errors.New("payload is too short for opcode")

// Builder accumulates commands and finalizes the stream header. The zero
// value is not usable, call NewBuilder.
type Builder struct {
	buf   []byte
	flags uint32
	count int
}

func NewBuilder(flags uint32) *Builder {
	b := &Builder{flags: flags}
	b.buf = make([]byte, StreamHeaderLen)
	return b
}

func (w *Builder) Append(c Command) *Builder {
	h := CmdHeader{Opcode: c.CmdOpcode(), SizeBytes: uint32(CmdHeaderLen + c.BodyLen())}
	off := len(w.buf)
	w.buf = append(w.buf, make([]byte, h.SizeBytes)...)
	h.Encode(w.buf[off:])
	c.encodeBody(w.buf[off+CmdHeaderLen:])
	w.count++
	return w
}

func (w *Builder) Count() int {
	return w.count
}

// Bytes patches the final size into the stream header and returns the whole
// stream. The builder may keep being appended to afterwards.
func (w *Builder) Bytes() []byte {
	h := StreamHeader{
		Magic:      StreamMagic,
		ABIVersion: StreamABIVersion,
		SizeBytes:  uint32(len(w.buf)),
		Flags:      w.flags,
	}
	h.Encode(w.buf)
	return w.buf
}

// pad4 rounds a variable region length up to the stream's 4 byte alignment.
func pad4(n int) int {
	return (n + 3) &^ 3
}

type CreateBuffer struct {
	Handle         uint32
	UsageFlags     uint32
	SizeBytes      uint64
	BackingAllocID uint32
	BackingOffset  uint32
}

func (c *CreateBuffer) CmdOpcode() Opcode { return CmdCreateBuffer }
func (c *CreateBuffer) BodyLen() int      { return 32 }

func (c *CreateBuffer) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.Handle)
	binary.LittleEndian.PutUint32(b[4:8], c.UsageFlags)
	binary.LittleEndian.PutUint64(b[8:16], c.SizeBytes)
	binary.LittleEndian.PutUint32(b[16:20], c.BackingAllocID)
	binary.LittleEndian.PutUint32(b[20:24], c.BackingOffset)
	binary.LittleEndian.PutUint64(b[24:32], 0)
}

func (c *CreateBuffer) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.Handle = binary.LittleEndian.Uint32(b[0:4])
	c.UsageFlags = binary.LittleEndian.Uint32(b[4:8])
	c.SizeBytes = binary.LittleEndian.Uint64(b[8:16])
	c.BackingAllocID = binary.LittleEndian.Uint32(b[16:20])
	c.BackingOffset = binary.LittleEndian.Uint32(b[20:24])
	return nil
}

type CreateTexture2D struct {
	Handle         uint32
	UsageFlags     uint32
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	BackingAllocID uint32
	BackingOffset  uint32
	PitchBytes     uint32
}

func (c *CreateTexture2D) CmdOpcode() Opcode { return CmdCreateTexture2D }
func (c *CreateTexture2D) BodyLen() int      { return 48 }

func (c *CreateTexture2D) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.Handle)
	binary.LittleEndian.PutUint32(b[4:8], c.UsageFlags)
	binary.LittleEndian.PutUint32(b[8:12], c.Width)
	binary.LittleEndian.PutUint32(b[12:16], c.Height)
	binary.LittleEndian.PutUint32(b[16:20], c.MipLevels)
	binary.LittleEndian.PutUint32(b[20:24], c.ArraySize)
	binary.LittleEndian.PutUint32(b[24:28], c.Format)
	binary.LittleEndian.PutUint32(b[28:32], c.SampleCount)
	binary.LittleEndian.PutUint32(b[32:36], c.BackingAllocID)
	binary.LittleEndian.PutUint32(b[36:40], c.BackingOffset)
	binary.LittleEndian.PutUint32(b[40:44], c.PitchBytes)
	binary.LittleEndian.PutUint32(b[44:48], 0)
}

func (c *CreateTexture2D) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.Handle = binary.LittleEndian.Uint32(b[0:4])
	c.UsageFlags = binary.LittleEndian.Uint32(b[4:8])
	c.Width = binary.LittleEndian.Uint32(b[8:12])
	c.Height = binary.LittleEndian.Uint32(b[12:16])
	c.MipLevels = binary.LittleEndian.Uint32(b[16:20])
	c.ArraySize = binary.LittleEndian.Uint32(b[20:24])
	c.Format = binary.LittleEndian.Uint32(b[24:28])
	c.SampleCount = binary.LittleEndian.Uint32(b[28:32])
	c.BackingAllocID = binary.LittleEndian.Uint32(b[32:36])
	c.BackingOffset = binary.LittleEndian.Uint32(b[36:40])
	c.PitchBytes = binary.LittleEndian.Uint32(b[40:44])
	return nil
}

type DestroyResource struct {
	Handle uint32
}

func (c *DestroyResource) CmdOpcode() Opcode { return CmdDestroyResource }
func (c *DestroyResource) BodyLen() int      { return 8 }

func (c *DestroyResource) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.Handle)
	binary.LittleEndian.PutUint32(b[4:8], 0)
}

func (c *DestroyResource) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.Handle = binary.LittleEndian.Uint32(b[0:4])
	return nil
}

// UploadResource carries its data inline; the declared DataSize precedes the
// variable region and the packet is padded back out to 4 byte alignment.
type UploadResource struct {
	Handle    uint32
	DstOffset uint64
	Data      []byte
}

func (c *UploadResource) CmdOpcode() Opcode { return CmdUploadResource }
func (c *UploadResource) BodyLen() int      { return 24 + pad4(len(c.Data)) }

func (c *UploadResource) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.Handle)
	binary.LittleEndian.PutUint32(b[4:8], 0)
	binary.LittleEndian.PutUint64(b[8:16], c.DstOffset)
	binary.LittleEndian.PutUint32(b[16:20], uint32(len(c.Data)))
	binary.LittleEndian.PutUint32(b[20:24], 0)
	copy(b[24:], c.Data)
}

func (c *UploadResource) Parse(b []byte) error {
	if len(b) < 24 {
		return ErrPayloadTooShort
	}
	c.Handle = binary.LittleEndian.Uint32(b[0:4])
	c.DstOffset = binary.LittleEndian.Uint64(b[8:16])
	n := binary.LittleEndian.Uint32(b[16:20])
	if 24+int(n) > len(b) {
		return ErrPayloadTooShort
	}
	c.Data = b[24 : 24+n]
	return nil
}

type CopyBuffer struct {
	DstHandle uint32
	SrcHandle uint32
	DstOffset uint64
	SrcOffset uint64
	SizeBytes uint64
	Flags     uint32
}

func (c *CopyBuffer) CmdOpcode() Opcode { return CmdCopyBuffer }
func (c *CopyBuffer) BodyLen() int      { return 40 }

func (c *CopyBuffer) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.DstHandle)
	binary.LittleEndian.PutUint32(b[4:8], c.SrcHandle)
	binary.LittleEndian.PutUint64(b[8:16], c.DstOffset)
	binary.LittleEndian.PutUint64(b[16:24], c.SrcOffset)
	binary.LittleEndian.PutUint64(b[24:32], c.SizeBytes)
	binary.LittleEndian.PutUint32(b[32:36], c.Flags)
	binary.LittleEndian.PutUint32(b[36:40], 0)
}

func (c *CopyBuffer) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.DstHandle = binary.LittleEndian.Uint32(b[0:4])
	c.SrcHandle = binary.LittleEndian.Uint32(b[4:8])
	c.DstOffset = binary.LittleEndian.Uint64(b[8:16])
	c.SrcOffset = binary.LittleEndian.Uint64(b[16:24])
	c.SizeBytes = binary.LittleEndian.Uint64(b[24:32])
	c.Flags = binary.LittleEndian.Uint32(b[32:36])
	return nil
}

type ShaderStage uint32

const (
	StageVertex  ShaderStage = 1
	StagePixel   ShaderStage = 2
	StageCompute ShaderStage = 3
)

type CreateShaderDXBC struct {
	Handle   uint32
	Stage    ShaderStage
	Bytecode []byte
}

func (c *CreateShaderDXBC) CmdOpcode() Opcode { return CmdCreateShaderDXBC }
func (c *CreateShaderDXBC) BodyLen() int      { return 16 + pad4(len(c.Bytecode)) }

func (c *CreateShaderDXBC) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.Handle)
	binary.LittleEndian.PutUint32(b[4:8], uint32(c.Stage))
	binary.LittleEndian.PutUint32(b[8:12], uint32(len(c.Bytecode)))
	binary.LittleEndian.PutUint32(b[12:16], 0)
	copy(b[16:], c.Bytecode)
}

func (c *CreateShaderDXBC) Parse(b []byte) error {
	if len(b) < 16 {
		return ErrPayloadTooShort
	}
	c.Handle = binary.LittleEndian.Uint32(b[0:4])
	c.Stage = ShaderStage(binary.LittleEndian.Uint32(b[4:8]))
	n := binary.LittleEndian.Uint32(b[8:12])
	if 16+int(n) > len(b) {
		return ErrPayloadTooShort
	}
	c.Bytecode = b[16 : 16+n]
	return nil
}

type BindShaders struct {
	VS uint32
	PS uint32
	CS uint32
}

func (c *BindShaders) CmdOpcode() Opcode { return CmdBindShaders }
func (c *BindShaders) BodyLen() int      { return 16 }

func (c *BindShaders) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.VS)
	binary.LittleEndian.PutUint32(b[4:8], c.PS)
	binary.LittleEndian.PutUint32(b[8:12], c.CS)
	binary.LittleEndian.PutUint32(b[12:16], 0)
}

func (c *BindShaders) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.VS = binary.LittleEndian.Uint32(b[0:4])
	c.PS = binary.LittleEndian.Uint32(b[4:8])
	c.CS = binary.LittleEndian.Uint32(b[8:12])
	return nil
}

type VertexBufferBinding struct {
	Buffer      uint32
	StrideBytes uint32
	OffsetBytes uint32
}

type SetVertexBuffers struct {
	StartSlot uint32
	Bindings  []VertexBufferBinding
}

func (c *SetVertexBuffers) CmdOpcode() Opcode { return CmdSetVertexBuffers }
func (c *SetVertexBuffers) BodyLen() int      { return 8 + 16*len(c.Bindings) }

func (c *SetVertexBuffers) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.StartSlot)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(c.Bindings)))
	for i, v := range c.Bindings {
		o := 8 + 16*i
		binary.LittleEndian.PutUint32(b[o:o+4], v.Buffer)
		binary.LittleEndian.PutUint32(b[o+4:o+8], v.StrideBytes)
		binary.LittleEndian.PutUint32(b[o+8:o+12], v.OffsetBytes)
		binary.LittleEndian.PutUint32(b[o+12:o+16], 0)
	}
}

func (c *SetVertexBuffers) Parse(b []byte) error {
	if len(b) < 8 {
		return ErrPayloadTooShort
	}
	c.StartSlot = binary.LittleEndian.Uint32(b[0:4])
	n := binary.LittleEndian.Uint32(b[4:8])
	if 8+16*int(n) > len(b) {
		return ErrPayloadTooShort
	}
	c.Bindings = make([]VertexBufferBinding, n)
	for i := range c.Bindings {
		o := 8 + 16*i
		c.Bindings[i].Buffer = binary.LittleEndian.Uint32(b[o : o+4])
		c.Bindings[i].StrideBytes = binary.LittleEndian.Uint32(b[o+4 : o+8])
		c.Bindings[i].OffsetBytes = binary.LittleEndian.Uint32(b[o+8 : o+12])
	}
	return nil
}

type SetIndexBuffer struct {
	Buffer      uint32
	Format      uint32
	OffsetBytes uint32
}

func (c *SetIndexBuffer) CmdOpcode() Opcode { return CmdSetIndexBuffer }
func (c *SetIndexBuffer) BodyLen() int      { return 16 }

func (c *SetIndexBuffer) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.Buffer)
	binary.LittleEndian.PutUint32(b[4:8], c.Format)
	binary.LittleEndian.PutUint32(b[8:12], c.OffsetBytes)
	binary.LittleEndian.PutUint32(b[12:16], 0)
}

func (c *SetIndexBuffer) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.Buffer = binary.LittleEndian.Uint32(b[0:4])
	c.Format = binary.LittleEndian.Uint32(b[4:8])
	c.OffsetBytes = binary.LittleEndian.Uint32(b[8:12])
	return nil
}

const MaxRenderTargets = 8

type SetRenderTargets struct {
	ColorCount  uint32
	DepthTarget uint32
	Colors      [MaxRenderTargets]uint32
}

func (c *SetRenderTargets) CmdOpcode() Opcode { return CmdSetRenderTargets }
func (c *SetRenderTargets) BodyLen() int      { return 40 }

func (c *SetRenderTargets) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.ColorCount)
	binary.LittleEndian.PutUint32(b[4:8], c.DepthTarget)
	for i, h := range c.Colors {
		binary.LittleEndian.PutUint32(b[8+4*i:12+4*i], h)
	}
}

func (c *SetRenderTargets) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.ColorCount = binary.LittleEndian.Uint32(b[0:4])
	c.DepthTarget = binary.LittleEndian.Uint32(b[4:8])
	for i := range c.Colors {
		c.Colors[i] = binary.LittleEndian.Uint32(b[8+4*i : 12+4*i])
	}
	return nil
}

// SetViewport carries f32 values as raw bits so the codec stays pure integer.
type SetViewport struct {
	XBits        uint32
	YBits        uint32
	WidthBits    uint32
	HeightBits   uint32
	MinDepthBits uint32
	MaxDepthBits uint32
}

func (c *SetViewport) CmdOpcode() Opcode { return CmdSetViewport }
func (c *SetViewport) BodyLen() int      { return 24 }

func (c *SetViewport) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.XBits)
	binary.LittleEndian.PutUint32(b[4:8], c.YBits)
	binary.LittleEndian.PutUint32(b[8:12], c.WidthBits)
	binary.LittleEndian.PutUint32(b[12:16], c.HeightBits)
	binary.LittleEndian.PutUint32(b[16:20], c.MinDepthBits)
	binary.LittleEndian.PutUint32(b[20:24], c.MaxDepthBits)
}

func (c *SetViewport) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.XBits = binary.LittleEndian.Uint32(b[0:4])
	c.YBits = binary.LittleEndian.Uint32(b[4:8])
	c.WidthBits = binary.LittleEndian.Uint32(b[8:12])
	c.HeightBits = binary.LittleEndian.Uint32(b[12:16])
	c.MinDepthBits = binary.LittleEndian.Uint32(b[16:20])
	c.MaxDepthBits = binary.LittleEndian.Uint32(b[20:24])
	return nil
}

type Draw struct {
	VertexCount uint32
	StartVertex uint32
}

func (c *Draw) CmdOpcode() Opcode { return CmdDraw }
func (c *Draw) BodyLen() int      { return 8 }

func (c *Draw) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.VertexCount)
	binary.LittleEndian.PutUint32(b[4:8], c.StartVertex)
}

func (c *Draw) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.VertexCount = binary.LittleEndian.Uint32(b[0:4])
	c.StartVertex = binary.LittleEndian.Uint32(b[4:8])
	return nil
}

type DrawIndexed struct {
	IndexCount uint32
	StartIndex uint32
	BaseVertex int32
}

func (c *DrawIndexed) CmdOpcode() Opcode { return CmdDrawIndexed }
func (c *DrawIndexed) BodyLen() int      { return 16 }

func (c *DrawIndexed) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.IndexCount)
	binary.LittleEndian.PutUint32(b[4:8], c.StartIndex)
	binary.LittleEndian.PutUint32(b[8:12], uint32(c.BaseVertex))
	binary.LittleEndian.PutUint32(b[12:16], 0)
}

func (c *DrawIndexed) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.IndexCount = binary.LittleEndian.Uint32(b[0:4])
	c.StartIndex = binary.LittleEndian.Uint32(b[4:8])
	c.BaseVertex = int32(binary.LittleEndian.Uint32(b[8:12]))
	return nil
}

type Clear struct {
	Flags     uint32
	RBits     uint32
	GBits     uint32
	BBits     uint32
	ABits     uint32
	DepthBits uint32
	Stencil   uint32
}

func (c *Clear) CmdOpcode() Opcode { return CmdClear }
func (c *Clear) BodyLen() int      { return 32 }

func (c *Clear) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.Flags)
	binary.LittleEndian.PutUint32(b[4:8], c.RBits)
	binary.LittleEndian.PutUint32(b[8:12], c.GBits)
	binary.LittleEndian.PutUint32(b[12:16], c.BBits)
	binary.LittleEndian.PutUint32(b[16:20], c.ABits)
	binary.LittleEndian.PutUint32(b[20:24], c.DepthBits)
	binary.LittleEndian.PutUint32(b[24:28], c.Stencil)
	binary.LittleEndian.PutUint32(b[28:32], 0)
}

func (c *Clear) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.Flags = binary.LittleEndian.Uint32(b[0:4])
	c.RBits = binary.LittleEndian.Uint32(b[4:8])
	c.GBits = binary.LittleEndian.Uint32(b[8:12])
	c.BBits = binary.LittleEndian.Uint32(b[12:16])
	c.ABits = binary.LittleEndian.Uint32(b[16:20])
	c.DepthBits = binary.LittleEndian.Uint32(b[20:24])
	c.Stencil = binary.LittleEndian.Uint32(b[24:28])
	return nil
}

type Dispatch struct {
	GroupCountX uint32
	GroupCountY uint32
	GroupCountZ uint32
}

func (c *Dispatch) CmdOpcode() Opcode { return CmdDispatch }
func (c *Dispatch) BodyLen() int      { return 16 }

func (c *Dispatch) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.GroupCountX)
	binary.LittleEndian.PutUint32(b[4:8], c.GroupCountY)
	binary.LittleEndian.PutUint32(b[8:12], c.GroupCountZ)
	binary.LittleEndian.PutUint32(b[12:16], 0)
}

func (c *Dispatch) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.GroupCountX = binary.LittleEndian.Uint32(b[0:4])
	c.GroupCountY = binary.LittleEndian.Uint32(b[4:8])
	c.GroupCountZ = binary.LittleEndian.Uint32(b[8:12])
	return nil
}

type Present struct {
	ScanoutID uint32
	Flags     uint32
}

func (c *Present) CmdOpcode() Opcode { return CmdPresent }
func (c *Present) BodyLen() int      { return 8 }

func (c *Present) encodeBody(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], c.ScanoutID)
	binary.LittleEndian.PutUint32(b[4:8], c.Flags)
}

func (c *Present) Parse(b []byte) error {
	if len(b) < c.BodyLen() {
		return ErrPayloadTooShort
	}
	c.ScanoutID = binary.LittleEndian.Uint32(b[0:4])
	c.Flags = binary.LittleEndian.Uint32(b[4:8])
	return nil
}
