// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package oshandle

// EncodeValue widens a handle value to the signed 64-bit wire
// representation. On a 32-bit build the value sign-extends (matching
// the platform rule for sharing handles across bitness); on a 64-bit
// build valid handle values are already sign-extended 32-bit patterns,
// so the conversion is the identity.
func EncodeValue(handle uintptr) int64 {
	return int64(int(handle))
}

// DecodeValue narrows a wire value back to a handle. Inverse of
// EncodeValue for every value satisfying the 32-bit range guarantee.
func DecodeValue(value int64) uintptr {
	return uintptr(value)
}

// Duplicator creates and releases process-local copies of OS handles.
// Duplicate returns a new handle referring to the same resource; once
// its encoded value has been transmitted, ownership is logically
// transferred and the sender does not close it. A failing Duplicate has
// no recovery path — callers treat it as an unrecoverable environment
// failure.
type Duplicator interface {
	Duplicate(handle uintptr) (uintptr, error)
	Close(handle uintptr) error
}
