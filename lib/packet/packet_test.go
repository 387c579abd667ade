// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package packet

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	writer := NewWriter()
	writer.Int32(-7)
	writer.Uint64(0xDEADBEEF00112233)
	writer.Int64(-1)
	writer.WString("cmd.exe /c dir")
	writer.WString("")
	writer.WString("héllo wörld ☃")
	data := writer.Finish()

	declaredLength := binary.LittleEndian.Uint64(data[:8])
	if declaredLength != uint64(len(data)) {
		t.Fatalf("length field %d, want %d", declaredLength, len(data))
	}

	reader := NewReader(data[8:])
	if got := reader.Int32(); got != -7 {
		t.Errorf("Int32 = %d, want -7", got)
	}
	if got := reader.Uint64(); got != 0xDEADBEEF00112233 {
		t.Errorf("Uint64 = %#x", got)
	}
	if got := reader.Int64(); got != -1 {
		t.Errorf("Int64 = %d, want -1", got)
	}
	if got := reader.WString(); got != "cmd.exe /c dir" {
		t.Errorf("WString = %q", got)
	}
	if got := reader.WString(); got != "" {
		t.Errorf("empty WString = %q", got)
	}
	if got := reader.WString(); got != "héllo wörld ☃" {
		t.Errorf("non-ASCII WString = %q", got)
	}
	if err := reader.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestEmbeddedNULsSurvive(t *testing.T) {
	// The environment block convention packs NUL-separated KEY=VALUE
	// entries into one wide string.
	environment := "PATH=C:\\bin\x00HOME=C:\\Users\\x\x00\x00"
	writer := NewWriter()
	writer.WString(environment)
	reader := NewReader(writer.Finish()[8:])
	if got := reader.WString(); got != environment {
		t.Errorf("environment block = %q, want %q", got, environment)
	}
	if err := reader.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestTruncatedFieldIsDecodeError(t *testing.T) {
	writer := NewWriter()
	writer.Int32(1)
	data := writer.Finish()

	reader := NewReader(data[8:])
	reader.Int32()
	reader.Int64() // runs past the end
	err := reader.Finish()

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Finish = %v, want DecodeError", err)
	}
	if !strings.Contains(decodeErr.Reason, "truncated") {
		t.Errorf("Reason = %q, want truncation", decodeErr.Reason)
	}
}

func TestTrailingBytesIsDecodeError(t *testing.T) {
	writer := NewWriter()
	writer.Int32(2)
	writer.Int32(3)
	data := writer.Finish()

	reader := NewReader(data[8:])
	reader.Int32()
	err := reader.Finish()

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Finish = %v, want DecodeError", err)
	}
	if !strings.Contains(decodeErr.Reason, "trailing") {
		t.Errorf("Reason = %q, want trailing bytes", decodeErr.Reason)
	}
}

func TestOversizedWStringCountIsDecodeError(t *testing.T) {
	// A count field claiming more code units than the payload holds
	// must fail cleanly rather than over-allocate.
	writer := NewWriter()
	writer.Uint64(1 << 40)
	reader := NewReader(writer.Finish()[8:])
	reader.WString()
	var decodeErr *DecodeError
	if !errors.As(reader.Err(), &decodeErr) {
		t.Fatalf("Err = %v, want DecodeError", reader.Err())
	}
}

func TestErrorSticks(t *testing.T) {
	reader := NewReader([]byte{0x01})
	reader.Int32()
	firstErr := reader.Err()
	if firstErr == nil {
		t.Fatal("expected decode error")
	}
	// Later reads return zero values and preserve the first error.
	if got := reader.Int64(); got != 0 {
		t.Errorf("Int64 after error = %d, want 0", got)
	}
	if reader.Err() != firstErr {
		t.Errorf("Err changed after subsequent reads")
	}
}
