// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "fmt"

// Coord is a console cell position or buffer size.
type Coord struct {
	X int
	Y int
}

// Rect is a console window rectangle, inclusive of all four edges.
type Rect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// BufferInfo is a snapshot of a console buffer's geometry.
type BufferInfo struct {
	BufferSize     Coord
	CursorPosition Coord
	Window         Rect
}

// FreezeMethod selects the mechanism used to suspend console repaint
// while the buffer is read or resized. Two exist with opposite
// tradeoffs across platform versions; CalibrateFreezeMethod picks one
// empirically at startup.
type FreezeMethod int

const (
	// FreezeSelectAll suspends repaint via the select-all syscommand.
	FreezeSelectAll FreezeMethod = iota

	// FreezeMark suspends repaint via the mark syscommand.
	FreezeMark
)

func (m FreezeMethod) String() string {
	switch m {
	case FreezeSelectAll:
		return "select-all"
	case FreezeMark:
		return "mark"
	default:
		return fmt.Sprintf("FreezeMethod(%d)", int(m))
	}
}

// Console is the console-wide collaborator surface: title, repaint
// freezing, and screen buffer access.
type Console interface {
	// Title returns the console window title.
	Title() (string, error)

	// SetTitle sets the console window title.
	SetTitle(title string) error

	// Frozen reports whether repaint is currently suspended.
	Frozen() bool

	// FreezeMethod returns the configured freeze mechanism.
	FreezeMethod() FreezeMethod

	// SetFreezeMethod configures the freeze mechanism. Fixed for the
	// session once calibration has chosen.
	SetFreezeMethod(method FreezeMethod)

	// SetFrozen suspends or resumes console repaint using the
	// configured method.
	SetFrozen(frozen bool) error

	// OpenActiveBuffer opens the currently active screen buffer.
	OpenActiveBuffer() (ConsoleBuffer, error)

	// OpenStdoutBuffer opens the buffer behind the process's standard
	// output handle. Used instead of the active buffer in conerr mode,
	// where a child activating the error buffer would otherwise be
	// scraped twice.
	OpenStdoutBuffer() (ConsoleBuffer, error)

	// CreateErrorBuffer creates the dedicated screen buffer backing
	// the secondary error output.
	CreateErrorBuffer() (ConsoleBuffer, error)
}

// ConsoleBuffer is one screen buffer: geometry, cursor, and the output
// handle a child's stderr can be redirected to. Cell content access
// belongs to the scraper, not to this interface.
type ConsoleBuffer interface {
	Info() (BufferInfo, error)
	ResizeBuffer(size Coord) error
	MoveWindow(window Rect) error
	CursorPosition() (Coord, error)
	SetCursorPosition(position Coord) error

	// OutputHandle returns the OS handle for redirecting a child's
	// standard error into this buffer. Zero when the implementation
	// has no OS backing (tests).
	OutputHandle() uintptr

	// Close releases the buffer handle. Every buffer obtained from a
	// Console is owned by the caller and closed exactly once.
	Close() error
}
