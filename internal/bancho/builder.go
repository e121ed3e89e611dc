package bancho

import (
	"encoding/binary"
	"math"
)

// -------------------------------------------------------------------------
// Field Encoders
// -------------------------------------------------------------------------

// AppendUint16 appends a little-endian u16.
func AppendUint16(dst []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, v)
}

// AppendUint32 appends a little-endian u32.
func AppendUint32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

// AppendUint64 appends a little-endian u64.
func AppendUint64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// AppendInt16 appends a little-endian i16.
func AppendInt16(dst []byte, v int16) []byte {
	return AppendUint16(dst, uint16(v))
}

// AppendInt32 appends a little-endian i32.
func AppendInt32(dst []byte, v int32) []byte {
	return AppendUint32(dst, uint32(v))
}

// AppendInt64 appends a little-endian i64.
func AppendInt64(dst []byte, v int64) []byte {
	return AppendUint64(dst, uint64(v))
}

// AppendFloat32 appends a little-endian IEEE-754 f32.
func AppendFloat32(dst []byte, v float32) []byte {
	return AppendUint32(dst, math.Float32bits(v))
}

// AppendFloat64 appends a little-endian IEEE-754 f64.
func AppendFloat64(dst []byte, v float64) []byte {
	return AppendUint64(dst, math.Float64bits(v))
}

// AppendBool appends a single byte: 1 for true, 0 for false.
func AppendBool(dst []byte, v bool) []byte {
	if v {
		return append(dst, 1)
	}
	return append(dst, 0)
}

// AppendString appends the tagged string encoding: a single 0x00 byte
// for the empty string, otherwise 0x0b, a ULEB128 byte length, and the
// UTF-8 bytes.
func AppendString(dst []byte, s string) []byte {
	if s == "" {
		return append(dst, stringTagEmpty)
	}
	dst = append(dst, stringTagPrefix)
	dst = AppendULEB128(dst, uint32(len(s)))
	return append(dst, s...)
}

// AppendInt32List appends a u16 count followed by each i32.
func AppendInt32List(dst []byte, vals []int32) []byte {
	dst = AppendUint16(dst, uint16(len(vals)))
	for _, v := range vals {
		dst = AppendInt32(dst, v)
	}
	return dst
}

// AppendMessage appends the four-field chat message object.
func AppendMessage(dst []byte, m Message) []byte {
	dst = AppendString(dst, m.Sender)
	dst = AppendString(dst, m.Content)
	dst = AppendString(dst, m.Target)
	return AppendInt32(dst, m.SenderID)
}

// -------------------------------------------------------------------------
// Frame Assembly
// -------------------------------------------------------------------------

// newPacket frames payload under the 7-byte header for id.
func newPacket(id PacketID, payload []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(payload))
	out = AppendUint16(out, uint16(id))
	out = append(out, 0)
	out = AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

// emptyPacket frames a payload-less packet for id.
func emptyPacket(id PacketID) []byte {
	return newPacket(id, nil)
}

// -------------------------------------------------------------------------
// Builder
// -------------------------------------------------------------------------

// Builder accumulates encoded packets into a single response buffer.
// Appending is O(n) in the bytes appended; Build hands back the buffer
// without copying.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuilderFrom returns a Builder seeded with already-encoded packets.
func BuilderFrom(packets []byte) *Builder {
	return &Builder{buf: packets}
}

// Add appends one encoded packet (or packet batch) and returns the
// builder for chaining.
func (b *Builder) Add(packet []byte) *Builder {
	b.buf = append(b.buf, packet...)
	return b
}

// Len returns the number of buffered bytes.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Build returns the accumulated bytes.
func (b *Builder) Build() []byte {
	return b.buf
}
