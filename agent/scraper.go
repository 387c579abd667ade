// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

// Scraper is the content differencing engine: it compares a console
// buffer snapshot against its previous state and writes terminal bytes
// to its output channel. The session calls it only while holding the
// console freeze guard.
type Scraper interface {
	// Scrape syncs the output channel with the buffer's content and
	// returns the buffer geometry observed.
	Scrape(buffer ConsoleBuffer) (BufferInfo, error)

	// ResizeWindow resizes the buffer and window to size and returns
	// the resulting geometry.
	ResizeWindow(buffer ConsoleBuffer, size Coord) (BufferInfo, error)

	// EnableMouseMode turns terminal mouse reporting on or off. The
	// session forces it off before output channels close.
	EnableMouseMode(enabled bool)
}

// DSRSender lets the input decoder request a Device Status Report
// probe. The terminal's reply brackets complete keypresses, so bytes
// before it can be decoded without waiting for more input.
type DSRSender interface {
	SendDSR()
}

// InputDecoder converts incoming terminal bytes into host input
// events. The session feeds it raw input-channel bytes and gives it a
// flush opportunity every poll tick so an incomplete escape sequence
// (e.g. a bare ESC) cannot stall forever.
type InputDecoder interface {
	// WriteInput decodes and applies raw terminal bytes.
	WriteInput(data []byte)

	// FlushIncompleteEscape applies any pending partial escape
	// sequence as literal input.
	FlushIncompleteEscape()

	// UpdateMouseInputFlags re-evaluates whether terminal mouse
	// reporting should be on, and returns the result.
	UpdateMouseInputFlags() bool

	// SetMouseWindowRect informs the decoder of the console window
	// rectangle, used to translate mouse coordinates.
	SetMouseWindowRect(window Rect)
}
