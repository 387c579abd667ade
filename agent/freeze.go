// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "fmt"

// CalibrateFreezeMethod probes which repaint-freeze mechanism is
// side-effect-free on this console and configures the console to use
// it for the rest of the session.
//
// Older consoles run both mechanisms quickly, but the mark command
// moves the reported cursor position, so select-all is the less
// intrusive choice there. On newer consoles mark no longer moves the
// cursor while select-all burns CPU, so mark wins. A legacy-mode
// console on a new platform behaves like the old one, which rules out
// any static version check — the only safe selector is observing
// whether mark actually moves the cursor.
//
// The probe resizes the buffer to at least 2x2, parks the cursor on a
// known interior cell, freezes with mark, and checks whether the
// cursor stayed put. Run once before any scraping; the selection is
// immutable afterwards.
func CalibrateFreezeMethod(console Console, buffer ConsoleBuffer) (FreezeMethod, error) {
	info, err := buffer.Info()
	if err != nil {
		return 0, fmt.Errorf("reading buffer info: %w", err)
	}

	size := Coord{X: max(2, info.BufferSize.X), Y: max(2, info.BufferSize.Y)}
	if err := buffer.ResizeBuffer(size); err != nil {
		return 0, fmt.Errorf("resizing buffer for probe: %w", err)
	}
	if err := buffer.MoveWindow(Rect{Left: 0, Top: 0, Right: 2, Bottom: 2}); err != nil {
		return 0, fmt.Errorf("moving window for probe: %w", err)
	}
	initial := Coord{X: 1, Y: 1}
	if err := buffer.SetCursorPosition(initial); err != nil {
		return 0, fmt.Errorf("positioning cursor for probe: %w", err)
	}

	if console.Frozen() {
		return 0, fmt.Errorf("console already frozen before calibration")
	}
	console.SetFreezeMethod(FreezeMark)
	if err := console.SetFrozen(true); err != nil {
		return 0, fmt.Errorf("freezing for probe: %w", err)
	}
	position, err := buffer.CursorPosition()
	if unfreezeErr := console.SetFrozen(false); unfreezeErr != nil && err == nil {
		err = unfreezeErr
	}
	if err != nil {
		return 0, fmt.Errorf("probing cursor under freeze: %w", err)
	}

	method := FreezeSelectAll
	if position == initial {
		method = FreezeMark
	}
	console.SetFreezeMethod(method)
	return method, nil
}
