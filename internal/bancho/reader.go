package bancho

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// Sentinel errors for packet decoding failures.
var (
	// ErrShortRead indicates a declared length runs past the available
	// bytes. On the frame level this aborts the whole batch.
	ErrShortRead = errors.New("short read")

	// ErrBadStringTag indicates a string field whose leading byte is
	// neither 0x00 (empty) nor 0x0b (ULEB128-prefixed).
	ErrBadStringTag = errors.New("bad string tag")

	// ErrBadUTF8 indicates string bytes that are not valid UTF-8.
	ErrBadUTF8 = errors.New("invalid utf-8 in string")

	// ErrULEB128Overflow indicates a ULEB128 value exceeding 32 bits.
	ErrULEB128Overflow = errors.New("uleb128 value overflows u32")
)

// HeaderSize is the fixed bancho frame header size in bytes:
// u16 opcode (LE) + u8 reserved + u32 payload length (LE).
const HeaderSize = 7

const (
	stringTagEmpty  = 0x00
	stringTagPrefix = 0x0b
)

// -------------------------------------------------------------------------
// ULEB128
// -------------------------------------------------------------------------

// ReadULEB128 decodes an unsigned LEB128 value from the front of buf.
// Returns the value and the number of bytes consumed.
func ReadULEB128(buf []byte) (uint32, int, error) {
	var (
		val   uint64
		shift uint
	)
	for i, b := range buf {
		val |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if val > math.MaxUint32 {
				return 0, 0, ErrULEB128Overflow
			}
			return uint32(val), i + 1, nil
		}
		shift += 7
		if shift > 35 {
			return 0, 0, ErrULEB128Overflow
		}
	}
	return 0, 0, fmt.Errorf("uleb128: %w", ErrShortRead)
}

// AppendULEB128 appends the unsigned LEB128 encoding of v to dst.
func AppendULEB128(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// -------------------------------------------------------------------------
// PayloadReader — sequential decoder over one payload
// -------------------------------------------------------------------------

// PayloadReader decodes typed fields from a single packet payload in
// declaration order. All integers are little-endian.
type PayloadReader struct {
	buf []byte
	pos int
}

// NewPayloadReader wraps payload for sequential reads.
func NewPayloadReader(payload []byte) *PayloadReader {
	return &PayloadReader{buf: payload}
}

// Remaining returns the number of unread bytes.
func (r *PayloadReader) Remaining() int {
	return len(r.buf) - r.pos
}

// take consumes n bytes or fails with ErrShortRead.
func (r *PayloadReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("need %d bytes, have %d: %w", n, len(r.buf)-r.pos, ErrShortRead)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Rest consumes and returns every unread byte.
func (r *PayloadReader) Rest() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// ReadUint8 reads one byte.
func (r *PayloadReader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt8 reads one signed byte.
func (r *PayloadReader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

// ReadBool reads one byte; zero is false, anything else is true.
func (r *PayloadReader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

// ReadUint16 reads a little-endian u16.
func (r *PayloadReader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt16 reads a little-endian i16.
func (r *PayloadReader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a little-endian u32.
func (r *PayloadReader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads a little-endian i32.
func (r *PayloadReader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a little-endian u64.
func (r *PayloadReader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadInt64 reads a little-endian i64.
func (r *PayloadReader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadFloat32 reads a little-endian IEEE-754 f32.
func (r *PayloadReader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 reads a little-endian IEEE-754 f64.
func (r *PayloadReader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString reads a tagged string: 0x00 for empty, 0x0b followed by a
// ULEB128 byte length and that many UTF-8 bytes.
func (r *PayloadReader) ReadString() (string, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return "", err
	}
	switch tag {
	case stringTagEmpty:
		return "", nil
	case stringTagPrefix:
		n, used, err := ReadULEB128(r.buf[r.pos:])
		if err != nil {
			return "", err
		}
		r.pos += used
		b, err := r.take(int(n))
		if err != nil {
			return "", err
		}
		if !utf8.Valid(b) {
			return "", ErrBadUTF8
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("tag 0x%02x: %w", tag, ErrBadStringTag)
	}
}

// ReadInt32List reads a u16 count followed by count little-endian i32s.
func (r *PayloadReader) ReadInt32List() ([]int32, error) {
	count, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, count)
	for i := 0; i < int(count); i++ {
		v, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadMessage reads the four-field chat message object.
func (r *PayloadReader) ReadMessage() (Message, error) {
	var m Message
	var err error
	if m.Sender, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Content, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Target, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.SenderID, err = r.ReadInt32(); err != nil {
		return m, err
	}
	return m, nil
}

// -------------------------------------------------------------------------
// PacketReader — frame iterator over a packet batch
// -------------------------------------------------------------------------

// Packet is one decoded frame: the opcode and its raw payload.
// Payload aliases the reader's buffer; callers must not retain it past
// the request.
type Packet struct {
	ID      PacketID
	Payload []byte
}

// UnknownOpcode reports whether the frame's opcode is outside the
// protocol table. Such frames are skipped by handlers, not fatal.
func (p Packet) UnknownOpcode() bool {
	return !p.ID.Known()
}

// PacketReader iterates the concatenated frames of a request body.
//
// A truncated trailing frame (declared payload length running past the
// buffer) terminates iteration and is reported via Err; everything
// decoded before it remains valid.
type PacketReader struct {
	buf []byte
	pos int
	err error
}

// NewPacketReader wraps body for frame iteration.
func NewPacketReader(body []byte) *PacketReader {
	return &PacketReader{buf: body}
}

// Next returns the next frame. The second return is false at end of
// stream or on a framing error (check Err to distinguish).
func (r *PacketReader) Next() (Packet, bool) {
	if r.err != nil {
		return Packet{}, false
	}
	if len(r.buf)-r.pos < HeaderSize {
		// Trailing bytes shorter than a header end the stream.
		return Packet{}, false
	}

	header := r.buf[r.pos : r.pos+HeaderSize]
	id := PacketID(binary.LittleEndian.Uint16(header[0:2]))
	payloadLen := int(binary.LittleEndian.Uint32(header[3:7]))

	if r.pos+HeaderSize+payloadLen > len(r.buf) {
		r.err = fmt.Errorf("packet %s declares %d payload bytes, %d available: %w",
			id, payloadLen, len(r.buf)-r.pos-HeaderSize, ErrShortRead)
		return Packet{}, false
	}

	r.pos += HeaderSize
	payload := r.buf[r.pos : r.pos+payloadLen]
	r.pos += payloadLen

	return Packet{ID: id, Payload: payload}, true
}

// Err returns the framing error that terminated iteration, if any.
func (r *PacketReader) Err() error {
	return r.err
}
