// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package conterm

import (
	"strconv"
	"strings"
	"unicode/utf8"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/kirill-gerasimenko/winpty/agent"
)

var procWriteConsoleInput = kernel32.NewProc("WriteConsoleInputW")

// Mouse input policy, mirroring the agent's mouse mode values.
const (
	mouseModeNone  = 0
	mouseModeAuto  = 1
	mouseModeForce = 2
)

// Console input record layout for WriteConsoleInputW. The union in
// INPUT_RECORD is sized by its largest member; KEY_EVENT_RECORD and
// MOUSE_EVENT_RECORD both fit in 16 bytes.
const (
	keyEvent   = 0x0001
	mouseEvent = 0x0002
)

type inputRecord struct {
	eventType uint16
	_         uint16

	// event is the INPUT_RECORD union, sized for its largest member
	// and aligned for the 32-bit fields of the event structs.
	event [4]uint32
}

type keyEventRecord struct {
	keyDown         int32
	repeatCount     uint16
	virtualKeyCode  uint16
	virtualScanCode uint16
	unicodeChar     uint16
	controlKeyState uint32
}

type mouseEventRecord struct {
	position        windows.Coord
	buttonState     uint32
	controlKeyState uint32
	eventFlags      uint32
}

// Virtual key codes for decoded escape sequences.
const (
	vkReturn = 0x0D
	vkEscape = 0x1B
	vkPrior  = 0x21
	vkNext   = 0x22
	vkEnd    = 0x23
	vkHome   = 0x24
	vkLeft   = 0x25
	vkUp     = 0x26
	vkRight  = 0x27
	vkDown   = 0x28
	vkInsert = 0x2D
	vkDelete = 0x2E
)

const enableMouseInput = 0x0010

// InputWriter decodes terminal input bytes into console input records
// on the conin handle.
type InputWriter struct {
	conin     windows.Handle
	dsr       agent.DSRSender
	mouseMode int

	// pending holds an unfinished escape sequence between WriteInput
	// calls. A DSR probe is issued when it is retained, so the reply
	// bounds how long a lone ESC can stay ambiguous.
	pending []byte

	mouseWindow agent.Rect
	mouseActive bool

	// sink receives decoded record batches; the console queue in
	// production, replaced in tests.
	sink func([]inputRecord)
}

// NewInputWriter returns an InputWriter feeding the given conin handle.
func NewInputWriter(conin windows.Handle, dsr agent.DSRSender, mouseMode int) *InputWriter {
	writer := &InputWriter{conin: conin, dsr: dsr, mouseMode: mouseMode}
	writer.sink = writer.postConsole
	return writer
}

// WriteInput decodes data, prefixed by any bytes held back from the
// previous call.
func (w *InputWriter) WriteInput(data []byte) {
	data = append(w.pending, data...)
	w.pending = nil

	var records []inputRecord
	for len(data) > 0 {
		if data[0] != 0x1b {
			rune_, size := utf8.DecodeRune(data)
			if rune_ == utf8.RuneError && !utf8.FullRune(data) {
				// A split multi-byte character; wait for the rest.
				w.pending = data
				break
			}
			records = append(records, keyPress(rune_)...)
			data = data[size:]
			continue
		}

		consumed, sequence := w.decodeEscape(data)
		if consumed == 0 {
			// Unfinished sequence. Hold it and probe the terminal; the
			// DSR reply guarantees another WriteInput follows, at which
			// point a still-lone ESC is flushed as a keypress.
			w.pending = data
			w.dsr.SendDSR()
			break
		}
		records = append(records, sequence...)
		data = data[consumed:]
	}

	w.post(records)
}

// FlushIncompleteEscape emits a held-back partial escape sequence as
// literal keypresses: the leading ESC as an escape key, the rest as
// characters. Called on the poll tick, so a bare ESC or a truncated
// sequence is delivered even when the terminal never answers the DSR
// probe (or the probe was suppressed by plain mode). A held split
// multi-byte character is not flushed; its remaining bytes are already
// in flight.
func (w *InputWriter) FlushIncompleteEscape() {
	if len(w.pending) == 0 || w.pending[0] != 0x1b {
		return
	}
	data := w.pending
	w.pending = nil

	var records []inputRecord
	for len(data) > 0 {
		rune_, size := utf8.DecodeRune(data)
		if rune_ == 0x1b {
			records = append(records, specialKey(vkEscape)...)
		} else {
			records = append(records, keyPress(rune_)...)
		}
		data = data[size:]
	}
	w.post(records)
}

// UpdateMouseInputFlags reports whether mouse events should flow. In
// auto mode this follows the console application's own input mode, so
// mouse support switches on exactly when the foreground program asks
// the console for mouse events.
func (w *InputWriter) UpdateMouseInputFlags() bool {
	switch w.mouseMode {
	case mouseModeForce:
		w.mouseActive = true
	case mouseModeNone:
		w.mouseActive = false
	default:
		var mode uint32
		if err := windows.GetConsoleMode(w.conin, &mode); err == nil {
			w.mouseActive = mode&enableMouseInput != 0
		}
	}
	return w.mouseActive
}

// SetMouseWindowRect records the scraped window for translating
// terminal mouse coordinates into buffer coordinates.
func (w *InputWriter) SetMouseWindowRect(window agent.Rect) {
	w.mouseWindow = window
}

// decodeEscape decodes one escape sequence at the start of data,
// returning the bytes consumed and the records to post. consumed == 0
// means the sequence is incomplete.
func (w *InputWriter) decodeEscape(data []byte) (int, []inputRecord) {
	if len(data) < 2 {
		return 0, nil
	}
	if data[1] != '[' {
		// ESC + ordinary character: Alt-modified keypress; deliver the
		// character (the console convention for Alt is lossy anyway).
		rune_, size := utf8.DecodeRune(data[1:])
		return 1 + size, keyPress(rune_)
	}

	// CSI sequence: ESC [ parameters... final byte in @ through ~.
	for index := 2; index < len(data); index++ {
		final := data[index]
		if final < 0x40 || final > 0x7e {
			continue
		}
		body := string(data[2:index])
		return index + 1, w.decodeCSI(body, final)
	}
	return 0, nil
}

func (w *InputWriter) decodeCSI(body string, final byte) []inputRecord {
	switch final {
	case 'A':
		return specialKey(vkUp)
	case 'B':
		return specialKey(vkDown)
	case 'C':
		return specialKey(vkRight)
	case 'D':
		return specialKey(vkLeft)
	case 'H':
		return specialKey(vkHome)
	case 'F':
		return specialKey(vkEnd)
	case 'R':
		// The cursor-position report answering a DSR probe; consumed
		// silently, its only job was to flush the input stream.
		return nil
	case '~':
		switch body {
		case "2":
			return specialKey(vkInsert)
		case "3":
			return specialKey(vkDelete)
		case "5":
			return specialKey(vkPrior)
		case "6":
			return specialKey(vkNext)
		}
		return nil
	case 'M', 'm':
		if strings.HasPrefix(body, "<") {
			return w.decodeMouseSGR(body[1:], final == 'M')
		}
		return nil
	default:
		return nil
	}
}

// decodeMouseSGR translates one SGR mouse report (button;col;row) into
// a console mouse event. Terminal coordinates are 1-based and relative
// to the window; console coordinates are 0-based buffer positions.
func (w *InputWriter) decodeMouseSGR(body string, pressed bool) []inputRecord {
	parts := strings.Split(body, ";")
	if len(parts) != 3 {
		return nil
	}
	button, err1 := strconv.Atoi(parts[0])
	column, err2 := strconv.Atoi(parts[1])
	row, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}

	event := mouseEventRecord{
		position: windows.Coord{
			X: int16(column - 1 + w.mouseWindow.Left),
			Y: int16(row - 1 + w.mouseWindow.Top),
		},
	}
	if pressed {
		switch button & 0x3 {
		case 0:
			event.buttonState = 0x1 // FROM_LEFT_1ST_BUTTON_PRESSED
		case 1:
			event.buttonState = 0x4 // FROM_LEFT_2ND_BUTTON_PRESSED
		case 2:
			event.buttonState = 0x2 // RIGHTMOST_BUTTON_PRESSED
		}
	}
	if button&0x20 != 0 {
		event.eventFlags = 0x1 // MOUSE_MOVED
	}

	record := inputRecord{eventType: mouseEvent}
	*(*mouseEventRecord)(unsafe.Pointer(&record.event)) = event
	return []inputRecord{record}
}

// keyPress synthesizes down and up events for one character.
func keyPress(character rune) []inputRecord {
	virtualKey := uint16(0)
	if character == '\r' {
		virtualKey = vkReturn
	}
	units := utf16Units(character)
	var records []inputRecord
	for _, unit := range units {
		records = append(records,
			makeKeyRecord(true, virtualKey, unit),
			makeKeyRecord(false, virtualKey, unit))
	}
	return records
}

// specialKey synthesizes down and up events for a virtual key with no
// character value.
func specialKey(virtualKey uint16) []inputRecord {
	return []inputRecord{
		makeKeyRecord(true, virtualKey, 0),
		makeKeyRecord(false, virtualKey, 0),
	}
}

func makeKeyRecord(down bool, virtualKey, unicodeChar uint16) inputRecord {
	event := keyEventRecord{
		repeatCount:    1,
		virtualKeyCode: virtualKey,
		unicodeChar:    unicodeChar,
	}
	if down {
		event.keyDown = 1
	}
	record := inputRecord{eventType: keyEvent}
	*(*keyEventRecord)(unsafe.Pointer(&record.event)) = event
	return record
}

func utf16Units(character rune) []uint16 {
	if character < 0x10000 {
		return []uint16{uint16(character)}
	}
	character -= 0x10000
	return []uint16{
		0xd800 + uint16(character>>10),
		0xdc00 + uint16(character&0x3ff),
	}
}

// post hands the records to the sink, skipping empty batches.
func (w *InputWriter) post(records []inputRecord) {
	if len(records) == 0 {
		return
	}
	w.sink(records)
}

// postConsole writes the records to the console input queue.
func (w *InputWriter) postConsole(records []inputRecord) {
	var written uint32
	procWriteConsoleInput.Call(
		uintptr(w.conin),
		uintptr(unsafe.Pointer(&records[0])),
		uintptr(len(records)),
		uintptr(unsafe.Pointer(&written)))
}
