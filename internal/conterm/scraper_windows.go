// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package conterm

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/kirill-gerasimenko/winpty/agent"
)

var (
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procReadConsoleOutputCharacter = kernel32.NewProc("ReadConsoleOutputCharacterW")
)

// bufferLineCount is the scrollback depth the scraper maintains in the
// screen buffer.
const bufferLineCount = 3000

// Mouse tracking sequences sent to the terminal when console-side mouse
// input is toggled. Button-event tracking with SGR encoding.
const (
	mouseTrackingOn  = "\x1b[?1002h\x1b[?1006h"
	mouseTrackingOff = "\x1b[?1006l\x1b[?1002l"
)

// Scraper emits console buffer content to one output channel.
type Scraper struct {
	output agent.Channel
	plain  bool

	size agent.Coord

	// syncedRow is the first buffer row not yet emitted as a complete
	// line; partialLength is how much of it has been emitted so far.
	syncedRow     int
	partialLength int

	mouseEnabled bool
}

// NewScraper returns a Scraper writing to output. In plain mode no
// escape sequences are emitted, only line text.
func NewScraper(output agent.Channel, initialSize agent.Coord, plain bool) *Scraper {
	return &Scraper{output: output, size: initialSize, plain: plain}
}

// Scrape emits everything the cursor has left behind since the last
// call. The console must be frozen by the caller for the duration.
func (s *Scraper) Scrape(buffer agent.ConsoleBuffer) (agent.BufferInfo, error) {
	info, err := buffer.Info()
	if err != nil {
		return agent.BufferInfo{}, err
	}
	cursor := info.CursorPosition

	// The buffer scrolled backwards under us (cleared, or the console
	// host renumbered rows after a scrollback trim). Restart from the
	// cursor line rather than re-emitting history.
	if cursor.Y < s.syncedRow {
		s.syncedRow = cursor.Y
		s.partialLength = 0
	}

	for row := s.syncedRow; row < cursor.Y; row++ {
		line, err := s.readRow(buffer, row, info.BufferSize.X)
		if err != nil {
			return agent.BufferInfo{}, err
		}
		if s.partialLength > 0 && len(line) >= s.partialLength {
			line = line[s.partialLength:]
		}
		s.output.Write([]byte(line + "\r\n"))
		s.partialLength = 0
	}
	s.syncedRow = cursor.Y

	// The cursor's own row may hold a partial line (e.g. a prompt).
	if cursor.X > 0 {
		line, err := s.readRow(buffer, cursor.Y, cursor.X)
		if err != nil {
			return agent.BufferInfo{}, err
		}
		if len(line) > s.partialLength {
			s.output.Write([]byte(line[s.partialLength:]))
			s.partialLength = len(line)
		} else if len(line) < s.partialLength {
			// The line was rewritten shorter. Without escapes the best
			// available rendition is a fresh line.
			if s.plain {
				s.output.Write([]byte("\r\n" + line))
			} else {
				s.output.Write([]byte("\r\x1b[K" + line))
			}
			s.partialLength = len(line)
		}
	} else if s.partialLength > 0 && cursor.Y == s.syncedRow {
		if !s.plain {
			s.output.Write([]byte("\r\x1b[K"))
		}
		s.partialLength = 0
	}

	return info, nil
}

// ResizeWindow resizes the screen buffer and window to the given
// dimensions, keeping the cursor line visible. The console must be
// frozen by the caller.
func (s *Scraper) ResizeWindow(buffer agent.ConsoleBuffer, size agent.Coord) (agent.BufferInfo, error) {
	info, err := buffer.Info()
	if err != nil {
		return agent.BufferInfo{}, err
	}

	// Shrinking the buffer width truncates lines in place; the window
	// must fit inside the buffer before the buffer can shrink, so order
	// the two calls by direction.
	bufferSize := agent.Coord{X: size.X, Y: bufferLineCount}
	top := info.CursorPosition.Y - size.Y + 1
	if top < 0 {
		top = 0
	}
	window := agent.Rect{Left: 0, Top: top, Right: size.X - 1, Bottom: top + size.Y - 1}

	if size.X >= info.BufferSize.X {
		if err := buffer.ResizeBuffer(bufferSize); err != nil {
			return agent.BufferInfo{}, err
		}
		if err := buffer.MoveWindow(window); err != nil {
			return agent.BufferInfo{}, err
		}
	} else {
		if err := buffer.MoveWindow(window); err != nil {
			return agent.BufferInfo{}, err
		}
		if err := buffer.ResizeBuffer(bufferSize); err != nil {
			return agent.BufferInfo{}, err
		}
	}

	s.size = size
	return buffer.Info()
}

// EnableMouseMode emits the terminal-side mouse tracking toggle on
// transitions. No-op in plain mode.
func (s *Scraper) EnableMouseMode(enabled bool) {
	if s.plain || enabled == s.mouseEnabled {
		return
	}
	s.mouseEnabled = enabled
	if enabled {
		s.output.Write([]byte(mouseTrackingOn))
	} else {
		s.output.Write([]byte(mouseTrackingOff))
	}
}

// readRow reads up to width characters of one buffer row, with
// trailing blanks trimmed.
func (s *Scraper) readRow(buffer agent.ConsoleBuffer, row, width int) (string, error) {
	if width <= 0 {
		return "", nil
	}
	characters := make([]uint16, width)
	coord := uint32(uint16(int16(0))) | uint32(uint16(int16(row)))<<16
	var read uint32
	ok, _, err := procReadConsoleOutputCharacter.Call(
		buffer.OutputHandle(),
		uintptr(unsafe.Pointer(&characters[0])),
		uintptr(width),
		uintptr(coord),
		uintptr(unsafe.Pointer(&read)))
	if ok == 0 {
		return "", fmt.Errorf("ReadConsoleOutputCharacter row %d: %w", row, err)
	}
	line := windows.UTF16ToString(characters[:read])
	return strings.TrimRight(line, " "), nil
}
