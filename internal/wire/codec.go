package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// MaxStringLen is the largest UTF-8 string the wire format permits; the
// length prefix is a single byte.
const MaxStringLen = 255

// ErrStringTooLong is returned by WriteString when the given string would
// not fit in a single length-prefixed byte.
var ErrStringTooLong = errors.New("wire: string exceeds 255 bytes")

// Writer accumulates an outbound message using the shared big-endian,
// length-prefixed encoding. The zero value is ready to use.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter starts a message with its leading command byte already written.
func NewWriter(cmd Command) *Writer {
	w := &Writer{}
	w.buf.WriteByte(byte(cmd))
	return w
}

func (w *Writer) WriteU8(v uint8)   { w.buf.WriteByte(v) }
func (w *Writer) WriteU16(v uint16) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *Writer) WriteU32(v uint32) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *Writer) WriteU64(v uint64) { _ = binary.Write(&w.buf, binary.BigEndian, v) }

func (w *Writer) WriteI16(v int16) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *Writer) WriteI32(v int32) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *Writer) WriteI64(v int64) { _ = binary.Write(&w.buf, binary.BigEndian, v) }

func (w *Writer) WriteF32(v float32) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *Writer) WriteF64(v float64) { _ = binary.Write(&w.buf, binary.BigEndian, v) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

// WriteString writes a single length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) error {
	if len(s) > MaxStringLen {
		return ErrStringTooLong
	}
	w.buf.WriteByte(byte(len(s)))
	w.buf.WriteString(s)
	return nil
}

// WriteBytes appends raw bytes with no length prefix of its own; callers
// that need framing must write a length first.
func (w *Writer) WriteBytes(b []byte) { w.buf.Write(b) }

// Bytes returns the accumulated message.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Reader decodes a message body from a buffered stream. It is used after
// the leading command byte has already been consumed by the caller.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r *bufio.Reader) *Reader { return &Reader{r: r} }

func (r *Reader) ReadU8() (uint8, error) { return r.r.ReadByte() }

func (r *Reader) ReadU16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ReadString reads a single length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r.r, buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
