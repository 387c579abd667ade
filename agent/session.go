// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirill-gerasimenko/winpty/lib/clock"
	"github.com/kirill-gerasimenko/winpty/lib/oshandle"
	"github.com/kirill-gerasimenko/winpty/lib/packet"
)

// packetLengthFieldSize is the size of the leading total-length field
// of a control packet. The declared length counts these bytes too.
const packetLengthFieldSize = 8

// SessionConfig assembles a Session. Control, Console, Channels,
// Launcher, Handles, NewScraper, and NewInputDecoder are required;
// everything else has a default.
type SessionConfig struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// PollInterval is the lifecycle tick interval. Defaults to 25ms,
	// tuned for interactive scraping latency.
	PollInterval time.Duration

	// Flags are the agent flag bits (FlagConerr and friends), fixed
	// for the session.
	Flags uint64

	// MouseMode is passed through to the input decoder.
	MouseMode int

	// InitialSize is the terminal size the scrapers start from.
	InitialSize Coord

	// Console is the console collaborator.
	Console Console

	// Control is the already-connected duplex control channel.
	Control Channel

	// Channels creates the data channels the session serves.
	Channels ChannelFactory

	// Launcher creates the child process.
	Launcher Launcher

	// Handles duplicates and releases exported OS handles.
	Handles oshandle.Duplicator

	// NewScraper builds a content scraper writing to the given output
	// channel.
	NewScraper func(output Channel, initialSize Coord) Scraper

	// NewInputDecoder builds the terminal input decoder. The session
	// passes itself as the DSRSender.
	NewInputDecoder func(dsr DSRSender, mouseMode int) InputDecoder

	// ControlReadBufferSize is applied to the control channel at
	// startup (default 64 KiB). The channel still grows past it on
	// demand.
	ControlReadBufferSize int

	// DataReadBufferSize is applied to the input data channel at
	// startup (default 64 KiB).
	DataReadBufferSize int

	// PipeNamePrefix is prepended to generated data channel names.
	PipeNamePrefix string

	// Events delivers channel readiness notifications to the run
	// loop. Channel implementations (and the transport wiring) send
	// the ready channel here. Created if nil.
	Events chan Channel
}

// Session is the agent's supervisory state machine. It owns the child
// process handle and every channel for the session's lifetime, and all
// of its methods run on the single session goroutine.
type Session struct {
	logger *slog.Logger
	clk    clock.Clock

	pollInterval time.Duration
	useConerr    bool
	plainMode    bool
	mouseMode    int

	console     Console
	errorBuffer ConsoleBuffer

	primaryScraper Scraper
	errorScraper   Scraper
	input          InputDecoder
	launcher       Launcher
	handles        oshandle.Duplicator

	control Channel
	conin   Channel
	conout  Channel
	conerr  Channel

	events chan Channel

	child              Process
	autoShutdown       bool
	exitAfterShutdown  bool
	closingOutputPipes bool
	controlClosed      bool

	currentTitle string
}

// NewSession builds a session: it opens the console buffers,
// calibrates the freeze method, creates and announces the data
// channels, and wires the scrapers and input decoder. No child process
// exists until the client sends StartProcess.
func NewSession(configuration SessionConfig) (*Session, error) {
	switch {
	case configuration.Console == nil:
		return nil, errors.New("agent: SessionConfig.Console is required")
	case configuration.Control == nil:
		return nil, errors.New("agent: SessionConfig.Control is required")
	case configuration.Channels == nil:
		return nil, errors.New("agent: SessionConfig.Channels is required")
	case configuration.Launcher == nil:
		return nil, errors.New("agent: SessionConfig.Launcher is required")
	case configuration.Handles == nil:
		return nil, errors.New("agent: SessionConfig.Handles is required")
	case configuration.NewScraper == nil:
		return nil, errors.New("agent: SessionConfig.NewScraper is required")
	case configuration.NewInputDecoder == nil:
		return nil, errors.New("agent: SessionConfig.NewInputDecoder is required")
	}

	session := &Session{
		logger:       configuration.Logger,
		clk:          configuration.Clock,
		pollInterval: configuration.PollInterval,
		useConerr:    configuration.Flags&FlagConerr != 0,
		plainMode:    configuration.Flags&FlagPlainOutput != 0,
		mouseMode:    configuration.MouseMode,
		console:      configuration.Console,
		control:      configuration.Control,
		launcher:     configuration.Launcher,
		handles:      configuration.Handles,
		events:       configuration.Events,
	}
	if session.logger == nil {
		session.logger = slog.Default()
	}
	if session.clk == nil {
		session.clk = clock.Real()
	}
	if session.pollInterval <= 0 {
		session.pollInterval = 25 * time.Millisecond
	}
	if session.events == nil {
		session.events = make(chan Channel, 64)
	}
	controlReadBuffer := configuration.ControlReadBufferSize
	if controlReadBuffer <= 0 {
		controlReadBuffer = 64 * 1024
	}
	dataReadBuffer := configuration.DataReadBufferSize
	if dataReadBuffer <= 0 {
		dataReadBuffer = 64 * 1024
	}

	primaryBuffer, err := session.openPrimaryBuffer()
	if err != nil {
		return nil, fmt.Errorf("opening primary buffer: %w", err)
	}
	if session.useConerr {
		session.errorBuffer, err = session.console.CreateErrorBuffer()
		if err != nil {
			return nil, fmt.Errorf("creating error buffer: %w", err)
		}
	}

	method, err := CalibrateFreezeMethod(session.console, primaryBuffer)
	session.closeBuffer(primaryBuffer)
	if err != nil {
		return nil, fmt.Errorf("calibrating freeze method: %w", err)
	}
	session.logger.Info("selected console freeze method", "method", method)

	session.control.SetReadBufferSize(controlReadBuffer)

	factory := configuration.Channels
	suffix := uuid.NewString()
	channelName := func(kind string) string {
		return configuration.PipeNamePrefix + kind + "-" + suffix
	}
	session.conin, err = factory.Listen(channelName("conin"), ChannelRead)
	if err != nil {
		return nil, fmt.Errorf("creating conin channel: %w", err)
	}
	session.conin.SetReadBufferSize(dataReadBuffer)
	session.conout, err = factory.Listen(channelName("conout"), ChannelWrite)
	if err != nil {
		return nil, fmt.Errorf("creating conout channel: %w", err)
	}
	if session.useConerr {
		session.conerr, err = factory.Listen(channelName("conerr"), ChannelWrite)
		if err != nil {
			return nil, fmt.Errorf("creating conerr channel: %w", err)
		}
	}

	session.writeSetupPacket()

	session.primaryScraper = configuration.NewScraper(session.conout, configuration.InitialSize)
	if session.useConerr {
		session.errorScraper = configuration.NewScraper(session.conerr, configuration.InitialSize)
	}
	session.input = configuration.NewInputDecoder(session, configuration.MouseMode)

	if err := session.console.SetTitle(session.currentTitle); err != nil {
		return nil, fmt.Errorf("setting initial console title: %w", err)
	}

	return session, nil
}

// Notify posts a channel readiness event to the run loop. Safe to call
// from transport goroutines; a full event queue drops the notification,
// which is harmless because every handler re-examines complete channel
// state (and the poll tick re-runs the drain check regardless).
func (s *Session) Notify(channel Channel) {
	select {
	case s.events <- channel:
	default:
	}
}

// Run drives the session: one cooperative loop multiplexing the poll
// ticker and channel readiness events. It returns nil once the session
// has shut down cleanly — the control channel closed (or
// exit-after-shutdown was requested) and every output channel has
// drained and closed — or the context's error on cancellation.
func (s *Session) Run(ctx context.Context) error {
	ticker := s.clk.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for !s.finished() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.onTick()
		case channel := <-s.events:
			s.onChannelEvent(channel)
		}
	}
	return nil
}

// finished reports whether the run loop should exit: output channels
// fully drained and closed, with shutdown triggered either by the
// remote end (control channel closed) or by an exit-after-shutdown
// spawn completing its drain.
func (s *Session) finished() bool {
	if !s.outputChannelsClosed() {
		return false
	}
	return s.controlClosed || (s.exitAfterShutdown && s.closingOutputPipes)
}

func (s *Session) outputChannelsClosed() bool {
	if !s.conout.IsClosed() {
		return false
	}
	return s.conerr == nil || s.conerr.IsClosed()
}

// onChannelEvent dispatches one readiness notification.
func (s *Session) onChannelEvent(channel Channel) {
	switch channel {
	case s.conout, s.conerr:
		s.autoCloseOutputChannels()
	case s.conin:
		s.pollInputChannel()
	case s.control:
		s.pollControlChannel()
	}
}

// pollInputChannel forwards buffered terminal input to the decoder.
func (s *Session) pollInputChannel() {
	data := s.conin.ReadAll()
	if len(data) > 0 {
		s.input.WriteInput(data)
	}
}

// pollControlChannel reassembles and dispatches every complete packet
// currently buffered. A single readiness notification may carry
// several packets, or none.
func (s *Session) pollControlChannel() {
	if s.control.IsClosed() {
		s.logger.Info("control channel closed, shutting down")
		s.startShutdown()
		return
	}

	for {
		header := s.control.Peek(packetLengthFieldSize)
		if len(header) < packetLengthFieldSize {
			break
		}
		packetSize := binary.LittleEndian.Uint64(header)
		if packetSize < packetLengthFieldSize {
			panic(fmt.Sprintf("agent: control packet declares impossible length %d", packetSize))
		}
		if uint64(s.control.BytesAvailable()) < packetSize {
			// Not fully buffered yet. Grow the read buffer when the
			// declared length exceeds its capacity, so an oversized
			// packet cannot stall forever.
			if uint64(s.control.ReadBufferSize()) < packetSize {
				s.control.SetReadBufferSize(int(packetSize))
			}
			break
		}
		data := s.control.Read(int(packetSize))
		if uint64(len(data)) != packetSize {
			panic(fmt.Sprintf("agent: short control read: %d of %d bytes", len(data), packetSize))
		}
		s.dispatch(data[packetLengthFieldSize:])
	}
}

// dispatch decodes the command tag and routes one packet body. A
// malformed body from a fully-buffered packet is a protocol-contract
// violation: conformant clients never send one, so the session aborts
// rather than guessing.
func (s *Session) dispatch(payload []byte) {
	reader := packet.NewReader(payload)
	tag := reader.Int32()
	if err := reader.Err(); err != nil {
		panic(fmt.Sprintf("agent: control packet without command tag: %v", err))
	}

	switch tag {
	case CommandStartProcess:
		command, err := decodeStartProcess(reader)
		if err != nil {
			panic(fmt.Sprintf("agent: malformed StartProcess packet: %v", err))
		}
		s.handleStartProcess(command)
	case CommandSetSize:
		command, err := decodeSetSize(reader)
		if err != nil {
			panic(fmt.Sprintf("agent: malformed SetSize packet: %v", err))
		}
		s.handleSetSize(command)
	default:
		s.logger.Info("ignoring unrecognized control command", "tag", tag)
	}
}

// writePacket frames and queues one reply on the control channel.
func (s *Session) writePacket(writer *packet.Writer) {
	s.control.Write(writer.Finish())
}

// writeSetupPacket announces the data channel names to the client. Sent
// exactly once, before any command arrives, and carries no command tag.
func (s *Session) writeSetupPacket() {
	writer := packet.NewWriter()
	writer.WString(s.conin.Name())
	writer.WString(s.conout.Name())
	if s.conerr != nil {
		writer.WString(s.conerr.Name())
	}
	s.writePacket(writer)
}

// handleStartProcess creates the child process and replies with exactly
// one StartProcessResult.
func (s *Session) handleStartProcess(command StartProcessCommand) {
	// A second StartProcess while a child exists, or after shutdown
	// began, violates the client contract — it is never seen on the
	// wire from a conformant client.
	if s.child != nil {
		panic("agent: StartProcess while a child process is active")
	}
	if s.closingOutputPipes {
		panic("agent: StartProcess during shutdown")
	}

	// Refuse to launch while any data channel is still waiting for its
	// client. Launching earlier risks unbounded output buildup, and if
	// auto-shutdown races the connect, output could be lost outright:
	// the channel would close before it ever opened. Replying instead
	// of launching makes the race impossible.
	if pending := s.pendingChannelNames(); pending != "" {
		s.logger.Warn("rejecting StartProcess, data channels not connected", "channels", pending)
		reply := packet.NewWriter()
		reply.Int32(StartResultPipesStillOpen)
		reply.WString(pending)
		s.writePacket(reply)
		return
	}

	spec := LaunchSpec{
		Program:      command.Program,
		Cmdline:      command.Cmdline,
		Cwd:          command.Cwd,
		Env:          command.Env,
		Desktop:      command.Desktop,
		InheritStdio: s.useConerr,
	}
	if s.useConerr {
		spec.StderrHandle = s.errorBuffer.OutputHandle()
	}

	result, err := s.launcher.Launch(spec)
	if err != nil {
		var launchErr *LaunchError
		if !errors.As(err, &launchErr) {
			panic(fmt.Sprintf("agent: launcher failed outside the OS error contract: %v", err))
		}
		s.logger.Warn("child process creation failed", "error_code", launchErr.Code)
		reply := packet.NewWriter()
		reply.Int32(StartResultCreateProcessFailed)
		reply.Int32(int32(launchErr.Code))
		s.writePacket(reply)
		return
	}

	var replyProcess, replyThread int64
	if command.WantProcessHandle {
		replyProcess = s.exportHandle(result.Process.Handle())
	}
	if command.WantThreadHandle {
		replyThread = s.exportHandle(result.ThreadHandle)
	}
	// The thread handle is never retained; the duplicated copy (if
	// any) now belongs to the client.
	if err := s.handles.Close(result.ThreadHandle); err != nil {
		s.logger.Warn("closing thread handle", "error", err)
	}

	s.child = result.Process
	s.autoShutdown = command.SpawnFlags&SpawnFlagAutoShutdown != 0
	s.exitAfterShutdown = command.SpawnFlags&SpawnFlagExitAfterShutdown != 0
	s.logger.Info("child process created",
		"pid", result.PID,
		"auto_shutdown", s.autoShutdown)

	reply := packet.NewWriter()
	reply.Int32(StartResultProcessCreated)
	reply.Int64(replyProcess)
	reply.Int64(replyThread)
	s.writePacket(reply)
}

// exportHandle duplicates a handle for transmission and encodes it for
// a receiver of either bitness. Failure to duplicate has no recovery
// path: the environment is broken, and the session dies with it.
func (s *Session) exportHandle(handle uintptr) int64 {
	duplicate, err := s.handles.Duplicate(handle)
	if err != nil {
		panic(fmt.Sprintf("agent: %v", err))
	}
	return oshandle.EncodeValue(duplicate)
}

// pendingChannelNames returns a comma-separated list of data channels
// still awaiting their client connection, or "" if all are connected.
func (s *Session) pendingChannelNames() string {
	var pending []string
	for _, channel := range []Channel{s.conin, s.conout, s.conerr} {
		if channel != nil && channel.IsConnecting() {
			pending = append(pending, channel.Name())
		}
	}
	return strings.Join(pending, ", ")
}

// handleSetSize resizes the console window and acknowledges. The
// acknowledgement is sent even when the dimensions are out of range
// and the resize is dropped: a misbehaving value must not break the
// session, and the client's request/reply pairing must stay intact.
func (s *Session) handleSetSize(command SetSizeCommand) {
	s.resizeWindow(int(command.Cols), int(command.Rows))
	s.writePacket(packet.NewWriter())
}

// startShutdown begins the drain: no more scraping, output channels
// close as their backlogs empty.
func (s *Session) startShutdown() {
	s.controlClosed = true
	s.closingOutputPipes = true
	s.autoCloseOutputChannels()
}

// SendDSR writes a Device Status Report query to the primary output
// channel. The terminal's reply lets the input decoder treat earlier
// bytes as complete keypresses. Suppressed in plain mode, where escape
// output is forbidden.
func (s *Session) SendDSR() {
	if !s.plainMode && !s.conout.IsClosed() {
		s.conout.Write([]byte("\x1b[6n"))
	}
}
