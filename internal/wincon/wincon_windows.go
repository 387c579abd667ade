// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package wincon

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/kirill-gerasimenko/winpty/agent"
)

var (
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")
	user32   = windows.NewLazySystemDLL("user32.dll")

	procSetConsoleScreenBufferSize = kernel32.NewProc("SetConsoleScreenBufferSize")
	procSetConsoleWindowInfo       = kernel32.NewProc("SetConsoleWindowInfo")
	procCreateConsoleScreenBuffer  = kernel32.NewProc("CreateConsoleScreenBuffer")
	procGetConsoleTitle            = kernel32.NewProc("GetConsoleTitleW")
	procSetConsoleTitle            = kernel32.NewProc("SetConsoleTitleW")
	procGetConsoleWindow           = kernel32.NewProc("GetConsoleWindow")

	procSendMessage = user32.NewProc("SendMessageW")
)

// Window messages and syscommands used to suspend console repainting.
// Select-all and mark are the two selection modes the console host
// offers; entering either one pauses output processing, and an ESC
// keypress leaves it.
const (
	wmChar       = 0x0102
	wmSysCommand = 0x0112

	scConsoleMark      = 0xFFF2
	scConsoleSelectAll = 0xFFF5

	escapeChar = 27
)

// Console drives the console this process is attached to.
type Console struct {
	window       windows.HWND
	frozen       bool
	freezeMethod agent.FreezeMethod
}

// New locates the console window. The process must already be attached
// to the console it will supervise.
func New() (*Console, error) {
	handle, _, _ := procGetConsoleWindow.Call()
	if handle == 0 {
		return nil, fmt.Errorf("no console window attached to this process")
	}
	return &Console{window: windows.HWND(handle)}, nil
}

func (c *Console) Title() (string, error) {
	// The console title is capped well below this; a zero return with
	// no buffer written means an empty title, not an error.
	buffer := make([]uint16, 1024)
	length, _, err := procGetConsoleTitle.Call(
		uintptr(unsafe.Pointer(&buffer[0])), uintptr(len(buffer)))
	if length == 0 && !errIsSuccess(err) {
		return "", fmt.Errorf("GetConsoleTitle: %w", err)
	}
	return windows.UTF16ToString(buffer[:length]), nil
}

func (c *Console) SetTitle(title string) error {
	title16, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return fmt.Errorf("console title: %w", err)
	}
	ok, _, callErr := procSetConsoleTitle.Call(uintptr(unsafe.Pointer(title16)))
	if ok == 0 {
		return fmt.Errorf("SetConsoleTitle: %w", callErr)
	}
	return nil
}

func (c *Console) Frozen() bool { return c.frozen }

func (c *Console) FreezeMethod() agent.FreezeMethod { return c.freezeMethod }

func (c *Console) SetFreezeMethod(method agent.FreezeMethod) { c.freezeMethod = method }

// SetFrozen suspends or resumes console repainting by entering or
// leaving a selection mode. SendMessage is synchronous: when it
// returns, the console host has processed the transition.
func (c *Console) SetFrozen(frozen bool) error {
	if frozen == c.frozen {
		return nil
	}
	if frozen {
		command := uintptr(scConsoleSelectAll)
		if c.freezeMethod == agent.FreezeMark {
			command = scConsoleMark
		}
		procSendMessage.Call(uintptr(c.window), wmSysCommand, command, 0)
	} else {
		procSendMessage.Call(uintptr(c.window), wmChar, escapeChar, 0)
	}
	c.frozen = frozen
	return nil
}

// OpenActiveBuffer opens whichever screen buffer is currently
// displayed, which tracks the child switching buffers (e.g. a
// full-screen editor).
func (c *Console) OpenActiveBuffer() (agent.ConsoleBuffer, error) {
	name16, err := windows.UTF16PtrFromString("CONOUT$")
	if err != nil {
		return nil, err
	}
	handle, err := windows.CreateFile(name16,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("opening CONOUT$: %w", err)
	}
	return &Buffer{handle: handle, owned: true}, nil
}

// OpenStdoutBuffer returns the buffer behind this process's standard
// output, which stays fixed even if the child activates another buffer.
func (c *Console) OpenStdoutBuffer() (agent.ConsoleBuffer, error) {
	handle, err := windows.GetStdHandle(windows.STD_OUTPUT_HANDLE)
	if err != nil {
		return nil, fmt.Errorf("stdout handle: %w", err)
	}
	return &Buffer{handle: handle}, nil
}

// CreateErrorBuffer creates a fresh inheritable screen buffer to serve
// as the child's stderr.
func (c *Console) CreateErrorBuffer() (agent.ConsoleBuffer, error) {
	security := windows.SecurityAttributes{InheritHandle: 1}
	security.Length = uint32(unsafe.Sizeof(security))
	handle, _, err := procCreateConsoleScreenBuffer.Call(
		uintptr(windows.GENERIC_READ|windows.GENERIC_WRITE),
		uintptr(windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE),
		uintptr(unsafe.Pointer(&security)),
		1, // CONSOLE_TEXTMODE_BUFFER
		0)
	if windows.Handle(handle) == windows.InvalidHandle {
		return nil, fmt.Errorf("CreateConsoleScreenBuffer: %w", err)
	}
	return &Buffer{handle: windows.Handle(handle), owned: true}, nil
}

// Buffer is one console screen buffer. owned buffers carry a handle
// this package opened and may close; the stdout buffer's handle belongs
// to the process.
type Buffer struct {
	handle windows.Handle
	owned  bool
}

func (b *Buffer) Info() (agent.BufferInfo, error) {
	var info windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(b.handle, &info); err != nil {
		return agent.BufferInfo{}, fmt.Errorf("GetConsoleScreenBufferInfo: %w", err)
	}
	return agent.BufferInfo{
		BufferSize:     agent.Coord{X: int(info.Size.X), Y: int(info.Size.Y)},
		CursorPosition: agent.Coord{X: int(info.CursorPosition.X), Y: int(info.CursorPosition.Y)},
		Window: agent.Rect{
			Left:   int(info.Window.Left),
			Top:    int(info.Window.Top),
			Right:  int(info.Window.Right),
			Bottom: int(info.Window.Bottom),
		},
	}, nil
}

func (b *Buffer) ResizeBuffer(size agent.Coord) error {
	coord := windows.Coord{X: int16(size.X), Y: int16(size.Y)}
	ok, _, err := procSetConsoleScreenBufferSize.Call(
		uintptr(b.handle), packCoord(coord))
	if ok == 0 {
		return fmt.Errorf("SetConsoleScreenBufferSize %dx%d: %w", size.X, size.Y, err)
	}
	return nil
}

func (b *Buffer) MoveWindow(window agent.Rect) error {
	rect := windows.SmallRect{
		Left:   int16(window.Left),
		Top:    int16(window.Top),
		Right:  int16(window.Right),
		Bottom: int16(window.Bottom),
	}
	ok, _, err := procSetConsoleWindowInfo.Call(
		uintptr(b.handle), 1, uintptr(unsafe.Pointer(&rect)))
	if ok == 0 {
		return fmt.Errorf("SetConsoleWindowInfo: %w", err)
	}
	return nil
}

func (b *Buffer) CursorPosition() (agent.Coord, error) {
	info, err := b.Info()
	if err != nil {
		return agent.Coord{}, err
	}
	return info.CursorPosition, nil
}

func (b *Buffer) SetCursorPosition(position agent.Coord) error {
	coord := windows.Coord{X: int16(position.X), Y: int16(position.Y)}
	if err := windows.SetConsoleCursorPosition(b.handle, coord); err != nil {
		return fmt.Errorf("SetConsoleCursorPosition: %w", err)
	}
	return nil
}

func (b *Buffer) OutputHandle() uintptr { return uintptr(b.handle) }

// Close releases the buffer handle if this package owns it.
func (b *Buffer) Close() error {
	if !b.owned {
		return nil
	}
	return windows.CloseHandle(b.handle)
}

// packCoord passes a COORD by value: the Win32 ABI packs the two int16
// fields into a single 32-bit argument.
func packCoord(coord windows.Coord) uintptr {
	return uintptr(uint32(uint16(coord.X)) | uint32(uint16(coord.Y))<<16)
}

func errIsSuccess(err error) bool {
	errno, ok := err.(syscall.Errno)
	return ok && errno == 0
}
