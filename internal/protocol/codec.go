// Package protocol implements the wire format: a 4-byte big-endian header
// (body length, opcode) followed by an opcode-specific body.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// HeaderLen is the size of the frame header.
	HeaderLen = 4
	// MaxPacketLen bounds the declared body length of any frame.
	MaxPacketLen = 1024

	CallSignLen = 32
	EmailLen    = 128
	MessageLen  = 128

	// ServerVersion is the 8-byte tag sent at the start of every handshake.
	ServerVersion = "BZFS1910"
	// NoSlot is sent in place of a slot id when the server is full.
	NoSlot byte = 0xFF

	// LastRealPlayer is the highest id a connected player can have; ids
	// above it address teams or the server.
	LastRealPlayer byte = 243
	ServerPlayer   byte = 253
	AllPlayers     byte = 254
	NoPlayer       byte = 255
)

var (
	ErrShortBuffer   = errors.New("protocol: short buffer")
	ErrFrameTooLarge = errors.New("protocol: declared length exceeds maximum packet size")
)

// Header is the fixed frame prefix.
type Header struct {
	Len  uint16
	Code Code
}

// ReadHeader decodes a frame header. A declared length above MaxPacketLen
// is a protocol violation.
func ReadHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("header too short: expected %d bytes, got %d: %w", HeaderLen, len(b), ErrShortBuffer)
	}
	h := Header{
		Len:  binary.BigEndian.Uint16(b[0:2]),
		Code: Code(binary.BigEndian.Uint16(b[2:4])),
	}
	if h.Len > MaxPacketLen {
		return h, fmt.Errorf("%s declared %d bytes: %w", h.Code, h.Len, ErrFrameTooLarge)
	}
	return h, nil
}

// Encode builds a complete frame.
func Encode(c Code, body []byte) []byte {
	frame := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(body)))
	binary.BigEndian.PutUint16(frame[2:4], uint16(c))
	copy(frame[HeaderLen:], body)
	return frame
}

// Handshake is the 9-byte greeting written to every accepted connection.
func Handshake(slot byte) []byte {
	b := make([]byte, 0, len(ServerVersion)+1)
	b = append(b, ServerVersion...)
	return append(b, slot)
}

// Writer appends big-endian fields to a body.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) U8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) U16(v uint16) *Writer {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) I16(v int16) *Writer { return w.U16(uint16(v)) }

func (w *Writer) U32(v uint32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) F32(v float32) *Writer { return w.U32(math.Float32bits(v)) }

func (w *Writer) Vec(v Vec3) *Writer {
	return w.F32(v[0]).F32(v[1]).F32(v[2])
}

// Str writes s into a NUL-padded field of exactly n bytes, truncating so
// the last byte is always NUL.
func (w *Writer) Str(s string, n int) *Writer {
	field := make([]byte, n)
	if len(s) > n-1 {
		s = s[:n-1]
	}
	copy(field, s)
	w.buf = append(w.buf, field...)
	return w
}

func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Reader consumes big-endian fields from a body. The first short read
// sticks; later reads return zero values and Err reports the failure.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }
func (r *Reader) Consumed() int  { return r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.Remaining() < n {
		r.err = fmt.Errorf("body too short: expected %d bytes, got %d: %w", r.off+n, len(r.buf), ErrShortBuffer)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) U16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) I16() int16 { return int16(r.U16()) }

func (r *Reader) U32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }

func (r *Reader) Vec() Vec3 {
	return Vec3{r.F32(), r.F32(), r.F32()}
}

// Str reads a NUL-padded field of n bytes.
func (r *Reader) Str(n int) string {
	b := r.take(n)
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (r *Reader) Raw(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
