// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kirill-gerasimenko/winpty/lib/clock"
	"github.com/kirill-gerasimenko/winpty/lib/packet"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel is an in-memory Channel. Inbound bytes are staged with
// feed; outbound bytes accumulate in written. The outbound backlog is
// an explicit field so tests can model bytes queued but not yet
// delivered, independent of what was written.
type fakeChannel struct {
	name           string
	connecting     bool
	closed         bool
	inbound        []byte
	written        bytes.Buffer
	backlog        int
	readBufferSize int
}

func (c *fakeChannel) feed(data []byte) { c.inbound = append(c.inbound, data...) }

func (c *fakeChannel) Name() string       { return c.name }
func (c *fakeChannel) IsConnecting() bool { return c.connecting }
func (c *fakeChannel) IsClosed() bool     { return c.closed }
func (c *fakeChannel) Close()             { c.closed = true }

func (c *fakeChannel) Write(data []byte) { c.written.Write(data) }

func (c *fakeChannel) Peek(n int) []byte {
	if n > len(c.inbound) {
		n = len(c.inbound)
	}
	return c.inbound[:n]
}

func (c *fakeChannel) Read(n int) []byte {
	if n > len(c.inbound) {
		n = len(c.inbound)
	}
	data := c.inbound[:n]
	c.inbound = c.inbound[n:]
	return data
}

func (c *fakeChannel) ReadAll() []byte {
	data := c.inbound
	c.inbound = nil
	return data
}

func (c *fakeChannel) BytesAvailable() int        { return len(c.inbound) }
func (c *fakeChannel) BytesToSend() int           { return c.backlog }
func (c *fakeChannel) ReadBufferSize() int        { return c.readBufferSize }
func (c *fakeChannel) SetReadBufferSize(size int) { c.readBufferSize = size }

// fakeChannelFactory hands out fakeChannels and remembers them by kind
// (conin, conout, conerr) extracted from the generated name.
type fakeChannelFactory struct {
	created    map[string]*fakeChannel
	connecting map[string]bool
}

func newFakeChannelFactory() *fakeChannelFactory {
	return &fakeChannelFactory{
		created:    make(map[string]*fakeChannel),
		connecting: make(map[string]bool),
	}
}

func (f *fakeChannelFactory) Listen(name string, mode ChannelMode) (Channel, error) {
	kind := "unknown"
	for _, candidate := range []string{"conin", "conout", "conerr"} {
		if strings.Contains(name, candidate) {
			kind = candidate
			break
		}
	}
	channel := &fakeChannel{name: name, connecting: f.connecting[kind]}
	f.created[kind] = channel
	return channel, nil
}

// fakeBuffer is an in-memory ConsoleBuffer. closes counts Close calls
// so tests can assert the open/close pairing.
type fakeBuffer struct {
	info         BufferInfo
	handle       uintptr
	resizes      []Coord
	windowMoves  []Rect
	cursorWrites []Coord
	closes       int
}

func (b *fakeBuffer) Info() (BufferInfo, error) { return b.info, nil }

func (b *fakeBuffer) ResizeBuffer(size Coord) error {
	b.info.BufferSize = size
	b.resizes = append(b.resizes, size)
	return nil
}

func (b *fakeBuffer) MoveWindow(window Rect) error {
	b.info.Window = window
	b.windowMoves = append(b.windowMoves, window)
	return nil
}

func (b *fakeBuffer) CursorPosition() (Coord, error) { return b.info.CursorPosition, nil }

func (b *fakeBuffer) SetCursorPosition(position Coord) error {
	b.info.CursorPosition = position
	b.cursorWrites = append(b.cursorWrites, position)
	return nil
}

func (b *fakeBuffer) OutputHandle() uintptr { return b.handle }

func (b *fakeBuffer) Close() error { b.closes++; return nil }

// fakeConsole is an in-memory Console. When markMovesCursor is set,
// freezing with the mark method resets the probe buffer's cursor to
// the origin, emulating a console where mark is not side-effect-free.
type fakeConsole struct {
	title           string
	frozen          bool
	method          FreezeMethod
	markMovesCursor bool
	cursorVictim    *fakeBuffer

	active   *fakeBuffer
	stdout   *fakeBuffer
	errorBuf *fakeBuffer

	freezes   int
	unfreezes int
}

func newFakeConsole() *fakeConsole {
	console := &fakeConsole{
		active: &fakeBuffer{info: BufferInfo{BufferSize: Coord{X: 80, Y: 300}}, handle: 0x10},
		stdout: &fakeBuffer{info: BufferInfo{BufferSize: Coord{X: 80, Y: 300}}, handle: 0x14},
		errorBuf: &fakeBuffer{
			info:   BufferInfo{BufferSize: Coord{X: 80, Y: 300}},
			handle: 0x18,
		},
	}
	console.cursorVictim = console.active
	return console
}

func (c *fakeConsole) Title() (string, error)   { return c.title, nil }
func (c *fakeConsole) SetTitle(t string) error  { c.title = t; return nil }
func (c *fakeConsole) Frozen() bool             { return c.frozen }
func (c *fakeConsole) FreezeMethod() FreezeMethod { return c.method }

func (c *fakeConsole) SetFreezeMethod(method FreezeMethod) { c.method = method }

func (c *fakeConsole) SetFrozen(frozen bool) error {
	if frozen {
		c.freezes++
		if c.method == FreezeMark && c.markMovesCursor && c.cursorVictim != nil {
			c.cursorVictim.info.CursorPosition = Coord{X: 0, Y: 0}
		}
	} else {
		c.unfreezes++
	}
	c.frozen = frozen
	return nil
}

func (c *fakeConsole) OpenActiveBuffer() (ConsoleBuffer, error) { return c.active, nil }
func (c *fakeConsole) OpenStdoutBuffer() (ConsoleBuffer, error) { return c.stdout, nil }
func (c *fakeConsole) CreateErrorBuffer() (ConsoleBuffer, error) {
	return c.errorBuf, nil
}

// fakeScraper records scrapes and resizes and notes whether the
// console was frozen during each call, for guard assertions.
type fakeScraper struct {
	console *fakeConsole
	info    BufferInfo

	scrapes          int
	frozenDuringCall []bool
	resizes          []Coord
	mouseModes       []bool
}

func (s *fakeScraper) Scrape(buffer ConsoleBuffer) (BufferInfo, error) {
	s.scrapes++
	s.frozenDuringCall = append(s.frozenDuringCall, s.console.frozen)
	return s.info, nil
}

func (s *fakeScraper) ResizeWindow(buffer ConsoleBuffer, size Coord) (BufferInfo, error) {
	s.resizes = append(s.resizes, size)
	s.frozenDuringCall = append(s.frozenDuringCall, s.console.frozen)
	s.info.Window = Rect{Left: 0, Top: 0, Right: size.X - 1, Bottom: size.Y - 1}
	return s.info, nil
}

func (s *fakeScraper) EnableMouseMode(enabled bool) {
	s.mouseModes = append(s.mouseModes, enabled)
}

// fakeInputDecoder records everything the session feeds it.
type fakeInputDecoder struct {
	dsr       DSRSender
	written   bytes.Buffer
	flushes   int
	wantMouse bool
	rects     []Rect
}

func (d *fakeInputDecoder) WriteInput(data []byte)    { d.written.Write(data) }
func (d *fakeInputDecoder) FlushIncompleteEscape()    { d.flushes++ }
func (d *fakeInputDecoder) UpdateMouseInputFlags() bool { return d.wantMouse }
func (d *fakeInputDecoder) SetMouseWindowRect(window Rect) {
	d.rects = append(d.rects, window)
}

// fakeProcess is a Process whose exit state tests flip directly.
type fakeProcess struct {
	handle uintptr
	exited bool
	closes int
}

func (p *fakeProcess) Exited() (bool, error) { return p.exited, nil }
func (p *fakeProcess) Handle() uintptr       { return p.handle }
func (p *fakeProcess) Close() error          { p.closes++; return nil }

// fakeLauncher returns a scripted result and records specs.
type fakeLauncher struct {
	result LaunchResult
	err    error
	specs  []LaunchSpec
}

func (l *fakeLauncher) Launch(spec LaunchSpec) (LaunchResult, error) {
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return LaunchResult{}, l.err
	}
	return l.result, nil
}

// dupOffset distinguishes duplicated handle values from originals.
const dupOffset = 0x1000

// fakeDuplicator duplicates by offsetting the value and records closes.
type fakeDuplicator struct {
	closed []uintptr
}

func (d *fakeDuplicator) Duplicate(handle uintptr) (uintptr, error) {
	return handle + dupOffset, nil
}

func (d *fakeDuplicator) Close(handle uintptr) error {
	d.closed = append(d.closed, handle)
	return nil
}

// sessionFixture bundles a Session with every fake behind it. setup
// holds the raw setup packet captured at construction; the control
// channel's outbound buffer starts clean for reply assertions.
type sessionFixture struct {
	session    *Session
	control    *fakeChannel
	conin      *fakeChannel
	conout     *fakeChannel
	conerr     *fakeChannel
	console    *fakeConsole
	launcher   *fakeLauncher
	duplicator *fakeDuplicator
	scrapers   []*fakeScraper
	input      *fakeInputDecoder
	clk        *clock.FakeClock
	setup      []byte
}

// newTestSession builds a session over fakes. connectingKinds lists
// data channels ("conin", "conout", "conerr") that should still be
// awaiting their client.
func newTestSession(t *testing.T, flags uint64, connectingKinds ...string) *sessionFixture {
	t.Helper()

	fixture := &sessionFixture{
		control:    &fakeChannel{name: "control"},
		console:    newFakeConsole(),
		launcher:   &fakeLauncher{},
		duplicator: &fakeDuplicator{},
		clk:        clock.Fake(time.Unix(0, 0)),
	}
	fixture.launcher.result = LaunchResult{
		Process:      &fakeProcess{handle: 0x40},
		ThreadHandle: 0x44,
		PID:          1234,
	}

	factory := newFakeChannelFactory()
	for _, kind := range connectingKinds {
		factory.connecting[kind] = true
	}

	session, err := NewSession(SessionConfig{
		Logger:      discardLogger(),
		Clock:       fixture.clk,
		Flags:       flags,
		InitialSize: Coord{X: 80, Y: 24},
		Console:     fixture.console,
		Control:     fixture.control,
		Channels:    factory,
		Launcher:    fixture.launcher,
		Handles:     fixture.duplicator,
		NewScraper: func(output Channel, initialSize Coord) Scraper {
			scraper := &fakeScraper{
				console: fixture.console,
				info:    BufferInfo{Window: Rect{Right: initialSize.X - 1, Bottom: initialSize.Y - 1}},
			}
			fixture.scrapers = append(fixture.scrapers, scraper)
			return scraper
		},
		NewInputDecoder: func(dsr DSRSender, mouseMode int) InputDecoder {
			fixture.input = &fakeInputDecoder{dsr: dsr}
			return fixture.input
		},
		PipeNamePrefix: `\\.\pipe\winpty-`,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	fixture.session = session
	fixture.conin = factory.created["conin"]
	fixture.conout = factory.created["conout"]
	fixture.conerr = factory.created["conerr"]

	fixture.setup = append([]byte(nil), fixture.control.written.Bytes()...)
	fixture.control.written.Reset()
	return fixture
}

// feedControl stages bytes on the control channel and runs the
// reassembly loop, as a readiness event would.
func (f *sessionFixture) feedControl(data []byte) {
	f.control.feed(data)
	f.session.pollControlChannel()
}

// buildPacket frames a command packet the way a client would.
func buildPacket(build func(*packet.Writer)) []byte {
	writer := packet.NewWriter()
	build(writer)
	return writer.Finish()
}

func buildSetSize(cols, rows int32) []byte {
	return buildPacket(func(w *packet.Writer) {
		w.Int32(CommandSetSize)
		w.Int32(cols)
		w.Int32(rows)
	})
}

func buildStartProcess(command StartProcessCommand) []byte {
	return buildPacket(func(w *packet.Writer) {
		w.Int32(CommandStartProcess)
		w.Uint64(command.SpawnFlags)
		w.Int32(boolToInt32(command.WantProcessHandle))
		w.Int32(boolToInt32(command.WantThreadHandle))
		w.WString(command.Program)
		w.WString(command.Cmdline)
		w.WString(command.Cwd)
		w.WString(command.Env)
		w.WString(command.Desktop)
	})
}

func boolToInt32(value bool) int32 {
	if value {
		return 1
	}
	return 0
}

// takeReplies splits everything written to the control channel into
// packet bodies (length field stripped) and clears the buffer.
func (f *sessionFixture) takeReplies(t *testing.T) [][]byte {
	t.Helper()
	data := f.control.written.Bytes()
	f.control.written.Reset()

	var replies [][]byte
	for len(data) > 0 {
		if len(data) < 8 {
			t.Fatalf("truncated reply stream: %d bytes left", len(data))
		}
		length := binary.LittleEndian.Uint64(data[:8])
		if uint64(len(data)) < length {
			t.Fatalf("reply declares %d bytes, stream has %d", length, len(data))
		}
		replies = append(replies, data[8:length])
		data = data[length:]
	}
	return replies
}

// takeOneReply asserts exactly one reply was written and returns a
// Reader over its body.
func (f *sessionFixture) takeOneReply(t *testing.T) *packet.Reader {
	t.Helper()
	replies := f.takeReplies(t)
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	return packet.NewReader(replies[0])
}

func expectPanic(t *testing.T, substring string, run func()) {
	t.Helper()
	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatalf("expected panic containing %q", substring)
		}
		message, ok := recovered.(string)
		if !ok || !strings.Contains(message, substring) {
			t.Fatalf("panic = %v, want message containing %q", recovered, substring)
		}
	}()
	run()
}
