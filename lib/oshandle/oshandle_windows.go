// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package oshandle

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// System returns a Duplicator backed by the Win32 handle primitives.
// Duplicated handles carry the same access rights as the original and
// are not inheritable; the receiving process obtains them by value, not
// by inheritance.
func System() Duplicator { return systemDuplicator{} }

type systemDuplicator struct{}

func (systemDuplicator) Duplicate(handle uintptr) (uintptr, error) {
	current := windows.CurrentProcess()
	var duplicate windows.Handle
	err := windows.DuplicateHandle(
		current, windows.Handle(handle),
		current, &duplicate,
		0, false, windows.DUPLICATE_SAME_ACCESS)
	if err != nil {
		return 0, fmt.Errorf("duplicating handle %#x: %w", handle, err)
	}
	return uintptr(duplicate), nil
}

func (systemDuplicator) Close(handle uintptr) error {
	if err := windows.CloseHandle(windows.Handle(handle)); err != nil {
		return fmt.Errorf("closing handle %#x: %w", handle, err)
	}
	return nil
}
