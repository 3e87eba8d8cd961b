// Package command builds the byte payloads written to BLE characteristics.
//
// A Builder is an append-only byte buffer with fluent integer and float encoders:
//
//	payload, err := command.NewBuilder(0x01).
//	    AppendUint16LE(256).
//	    AppendInt8(-1).
//	    AppendFloat32LE(0.1).
//	    Build()
//
// Integers are converted with two's complement and truncated to the requested width, so
// AppendUint8(-1) encodes 0xFF. An unsupported width does not append anything; the first such
// failure is kept and reported by Err and Build.
package command

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrUnsupportedWidth is wrapped by EncodingError when an integer width is not 1, 2 or 4 bytes.
var ErrUnsupportedWidth = errors.New("unsupported integer width")

// EncodingError describes a failed append.
type EncodingError struct {
	Op    string
	Width int
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: width %d: %v", e.Op, e.Width, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Builder accumulates an ordered byte sequence. The zero value is an empty builder.
// A Builder is not safe for concurrent use.
type Builder struct {
	buf []byte
	err error
}

// NewBuilder returns a builder seeded with a copy of seed.
func NewBuilder(seed ...byte) *Builder {
	return &Builder{buf: slices.Clone(seed)}
}

// AppendBytes appends data. Appending an empty slice leaves the content untouched.
func (b *Builder) AppendBytes(data []byte) *Builder {
	if len(data) == 0 {
		return b
	}
	b.buf = append(b.buf, data...)
	return b
}

// AppendInteger appends value encoded on width bytes (1, 2 or 4) in the requested byte order.
// Out-of-range values wrap around. signed selects the two's-complement interpretation; for a
// fixed width it yields the same bit pattern as the unsigned one.
func (b *Builder) AppendInteger(value int64, width int, littleEndian, signed bool) *Builder {
	var order binary.AppendByteOrder = binary.BigEndian
	if littleEndian {
		order = binary.LittleEndian
	}

	switch width {
	case 1:
		if signed {
			b.buf = append(b.buf, byte(int8(value)))
		} else {
			b.buf = append(b.buf, uint8(value))
		}
	case 2:
		if signed {
			b.buf = order.AppendUint16(b.buf, uint16(int16(value)))
		} else {
			b.buf = order.AppendUint16(b.buf, uint16(value))
		}
	case 4:
		if signed {
			b.buf = order.AppendUint32(b.buf, uint32(int32(value)))
		} else {
			b.buf = order.AppendUint32(b.buf, uint32(value))
		}
	default:
		if b.err == nil {
			b.err = &EncodingError{Op: "append integer", Width: width, Err: ErrUnsupportedWidth}
		}
	}
	return b
}

// AppendUint8 appends v as one unsigned byte.
func (b *Builder) AppendUint8(v int64) *Builder { return b.AppendInteger(v, 1, true, false) }

// AppendInt8 appends v as one signed byte.
func (b *Builder) AppendInt8(v int64) *Builder { return b.AppendInteger(v, 1, true, true) }

// AppendUint16LE appends v as a little-endian uint16.
func (b *Builder) AppendUint16LE(v int64) *Builder { return b.AppendInteger(v, 2, true, false) }

// AppendInt16LE appends v as a little-endian int16.
func (b *Builder) AppendInt16LE(v int64) *Builder { return b.AppendInteger(v, 2, true, true) }

// AppendUint32LE appends v as a little-endian uint32.
func (b *Builder) AppendUint32LE(v int64) *Builder { return b.AppendInteger(v, 4, true, false) }

// AppendInt32LE appends v as a little-endian int32.
func (b *Builder) AppendInt32LE(v int64) *Builder { return b.AppendInteger(v, 4, true, true) }

// AppendUint16BE appends v as a big-endian uint16.
func (b *Builder) AppendUint16BE(v int64) *Builder { return b.AppendInteger(v, 2, false, false) }

// AppendUint32BE appends v as a big-endian uint32.
func (b *Builder) AppendUint32BE(v int64) *Builder { return b.AppendInteger(v, 4, false, false) }

// AppendFloat32LE appends v as an IEEE-754 single precision value in little-endian order.
func (b *Builder) AppendFloat32LE(v float64) *Builder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, math.Float32bits(float32(v)))
	return b
}

// Bytes returns a copy of the current content. The result is never nil.
// A failed append leaves no trace in the content, so callers that use Bytes instead of Build
// must check Err to know whether every segment was encoded.
func (b *Builder) Bytes() []byte {
	return append([]byte{}, b.buf...)
}

// Array returns the current content as plain integers (0-255). Like Bytes, it does not report
// failed appends; check Err.
func (b *Builder) Array() []int {
	out := make([]int, len(b.buf))
	for i, v := range b.buf {
		out[i] = int(v)
	}
	return out
}

// Len returns the number of bytes accumulated so far.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Err returns the first encoding error, if any.
func (b *Builder) Err() error {
	return b.err
}

// Build returns a copy of the content together with the first encoding error.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.Bytes(), nil
}
