// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package packet

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// lengthFieldSize is the size of the leading total-length field. The
// length counts every byte of the packet, including the field itself.
const lengthFieldSize = 8

// DecodeError reports a malformed packet body: a field read that would
// run past the end of the payload, or bytes left over after the last
// field of a known command. A conformant client never produces either,
// so callers treat a DecodeError as a protocol-contract violation.
type DecodeError struct {
	// Reason describes the failed read.
	Reason string

	// Offset is the payload offset at which decoding failed.
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("packet decode error at offset %d: %s", e.Offset, e.Reason)
}

// Writer builds a single outbound packet. The leading length field is
// reserved at construction and patched by Finish once all fields have
// been appended.
type Writer struct {
	buffer []byte
}

// NewWriter returns a Writer with the length field reserved.
func NewWriter() *Writer {
	return &Writer{buffer: make([]byte, lengthFieldSize)}
}

// Int32 appends a little-endian signed 32-bit field.
func (w *Writer) Int32(value int32) {
	w.buffer = binary.LittleEndian.AppendUint32(w.buffer, uint32(value))
}

// Int64 appends a little-endian signed 64-bit field.
func (w *Writer) Int64(value int64) {
	w.buffer = binary.LittleEndian.AppendUint64(w.buffer, uint64(value))
}

// Uint64 appends a little-endian unsigned 64-bit field.
func (w *Writer) Uint64(value uint64) {
	w.buffer = binary.LittleEndian.AppendUint64(w.buffer, value)
}

// WString appends a wide string: a u64 UTF-16 code-unit count followed
// by the little-endian code units. Embedded NULs are preserved, which
// the environment-block convention (NUL-separated entries) relies on.
func (w *Writer) WString(value string) {
	units := utf16.Encode([]rune(value))
	w.Uint64(uint64(len(units)))
	for _, unit := range units {
		w.buffer = binary.LittleEndian.AppendUint16(w.buffer, unit)
	}
}

// Finish patches the length field and returns the complete packet. The
// Writer must not be used after Finish.
func (w *Writer) Finish() []byte {
	binary.LittleEndian.PutUint64(w.buffer[:lengthFieldSize], uint64(len(w.buffer)))
	return w.buffer
}

// Reader decodes the body of one packet (everything after the length
// field). Field accessors return zero values once an error has
// occurred; the first error sticks and is reported by Err and Finish.
type Reader struct {
	payload []byte
	offset  int
	err     error
}

// NewReader returns a Reader over a packet body. The caller strips the
// 8-byte length field before constructing the Reader; the framing layer
// guarantees the body is complete.
func NewReader(payload []byte) *Reader {
	return &Reader{payload: payload}
}

// Err returns the first decode error encountered, or nil.
func (r *Reader) Err() error { return r.err }

// Finish verifies that decoding succeeded and consumed the entire
// payload. Unconsumed trailing bytes after a known command are a
// protocol violation.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.offset != len(r.payload) {
		r.err = &DecodeError{
			Reason: fmt.Sprintf("%d trailing bytes after last field", len(r.payload)-r.offset),
			Offset: r.offset,
		}
	}
	return r.err
}

// take consumes n bytes, recording a DecodeError if fewer remain.
func (r *Reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.payload)-r.offset < n {
		r.err = &DecodeError{
			Reason: fmt.Sprintf("truncated %s: need %d bytes, have %d", what, n, len(r.payload)-r.offset),
			Offset: r.offset,
		}
		return nil
	}
	field := r.payload[r.offset : r.offset+n]
	r.offset += n
	return field
}

// Int32 reads a little-endian signed 32-bit field.
func (r *Reader) Int32() int32 {
	field := r.take(4, "int32")
	if field == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(field))
}

// Int64 reads a little-endian signed 64-bit field.
func (r *Reader) Int64() int64 {
	field := r.take(8, "int64")
	if field == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(field))
}

// Uint64 reads a little-endian unsigned 64-bit field.
func (r *Reader) Uint64() uint64 {
	field := r.take(8, "uint64")
	if field == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(field)
}

// WString reads a wide string written by Writer.WString.
func (r *Reader) WString() string {
	count := r.Uint64()
	if r.err != nil {
		return ""
	}
	if count > uint64(len(r.payload)-r.offset)/2 {
		r.err = &DecodeError{
			Reason: fmt.Sprintf("wide string count %d exceeds remaining payload", count),
			Offset: r.offset,
		}
		return ""
	}
	field := r.take(int(count)*2, "wide string")
	if field == nil {
		return ""
	}
	units := make([]uint16, count)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(field[i*2:])
	}
	return string(utf16.Decode(units))
}
