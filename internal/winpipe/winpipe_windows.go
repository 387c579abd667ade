// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package winpipe

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/windows"

	"github.com/kirill-gerasimenko/winpty/agent"
)

const (
	// pumpChunkSize is the unit of one kernel read.
	pumpChunkSize = 4096

	// defaultReadBufferSize caps the inbound buffer until the session
	// asks for more.
	defaultReadBufferSize = 64 * 1024

	// defaultKernelBufferSize is the pipe buffer size hint passed to
	// the kernel, matching what clients allocate on their side.
	defaultKernelBufferSize = 8192
)

// Factory creates pipe-backed channels and reports their readiness
// changes through notify.
type Factory struct {
	logger           *slog.Logger
	notify           func(agent.Channel)
	kernelBufferSize int
}

// NewFactory returns a Factory. notify is invoked from pump goroutines
// whenever a channel's observable state changes; it must be safe for
// concurrent use (agent.Session.Notify is). kernelBufferSize sizes the
// kernel-side pipe buffers; zero means the default.
func NewFactory(logger *slog.Logger, notify func(agent.Channel), kernelBufferSize int) *Factory {
	if kernelBufferSize <= 0 {
		kernelBufferSize = defaultKernelBufferSize
	}
	return &Factory{logger: logger, notify: notify, kernelBufferSize: kernelBufferSize}
}

// Listen creates a single-instance named pipe server for one data
// channel and starts waiting for its client in the background. The
// returned channel reports IsConnecting until the client arrives.
func (f *Factory) Listen(name string, mode agent.ChannelMode) (agent.Channel, error) {
	var access uint32
	switch mode {
	case agent.ChannelRead:
		access = windows.PIPE_ACCESS_INBOUND
	case agent.ChannelWrite:
		access = windows.PIPE_ACCESS_OUTBOUND
	default:
		return nil, fmt.Errorf("unknown channel mode %d", mode)
	}
	handle, err := createServer(name, access, f.kernelBufferSize)
	if err != nil {
		return nil, fmt.Errorf("creating pipe %s: %w", name, err)
	}

	pipe := newPipe(f, name, mode, handle)
	pipe.connecting = true
	go pipe.acceptAndPump()
	return pipe, nil
}

// Serve wraps an already-connected duplex pipe handle, typically the
// dialed control pipe.
func (f *Factory) Serve(name string, handle windows.Handle) agent.Channel {
	pipe := newPipe(f, name, agent.ChannelRead, handle)
	pipe.duplex = true
	pipe.startPumps()
	return pipe
}

// CreateServer creates a duplex named pipe server endpoint without
// waiting for a client. Used by the client side for the control pipe,
// which must exist before the agent process is spawned.
func CreateServer(name string) (windows.Handle, error) {
	handle, err := createServer(name, windows.PIPE_ACCESS_DUPLEX, defaultKernelBufferSize)
	if err != nil {
		return 0, fmt.Errorf("creating pipe %s: %w", name, err)
	}
	return handle, nil
}

// WaitClient blocks until a client connects to a server endpoint from
// CreateServer.
func WaitClient(handle windows.Handle) error {
	return connect(handle)
}

// Dial opens the client end of a pipe served by another process.
func Dial(name string) (windows.Handle, error) {
	name16, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, fmt.Errorf("pipe name: %w", err)
	}
	handle, err := windows.CreateFile(name16,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("opening pipe %s: %w", name, err)
	}
	return handle, nil
}

func createServer(name string, access uint32, bufferSize int) (windows.Handle, error) {
	name16, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, fmt.Errorf("pipe name: %w", err)
	}
	// A second instance of an agent pipe name is always an imposter.
	access |= windows.FILE_FLAG_FIRST_PIPE_INSTANCE
	return windows.CreateNamedPipe(name16, access,
		windows.PIPE_TYPE_BYTE|windows.PIPE_READMODE_BYTE|windows.PIPE_WAIT,
		1, uint32(bufferSize), uint32(bufferSize), 0, nil)
}

func connect(handle windows.Handle) error {
	err := windows.ConnectNamedPipe(handle, nil)
	// The client can win the race and connect between CreateNamedPipe
	// and ConnectNamedPipe; that is a success.
	if err == windows.ERROR_PIPE_CONNECTED {
		return nil
	}
	return err
}

// pipe is one channel endpoint. The mutex guards every field below it;
// the conds wake the pumps when there is room to read or data to send.
type pipe struct {
	factory *Factory
	name    string
	mode    agent.ChannelMode
	duplex  bool
	handle  windows.Handle

	mu         sync.Mutex
	readable   *sync.Cond
	writable   *sync.Cond
	connecting bool
	closed     bool

	inbound        []byte
	outbound       []byte
	readBufferSize int
}

func newPipe(factory *Factory, name string, mode agent.ChannelMode, handle windows.Handle) *pipe {
	p := &pipe{
		factory:        factory,
		name:           name,
		mode:           mode,
		handle:         handle,
		readBufferSize: defaultReadBufferSize,
	}
	p.readable = sync.NewCond(&p.mu)
	p.writable = sync.NewCond(&p.mu)
	return p
}

func (p *pipe) acceptAndPump() {
	err := connect(p.handle)

	p.mu.Lock()
	p.connecting = false
	if err != nil {
		p.closeLocked()
		p.mu.Unlock()
		p.factory.logger.Warn("pipe client never connected", "name", p.name, "error", err)
		p.factory.notify(p)
		return
	}
	p.mu.Unlock()

	p.factory.logger.Info("pipe client connected", "name", p.name)
	p.startPumps()
	p.factory.notify(p)
}

func (p *pipe) startPumps() {
	if p.duplex || p.mode == agent.ChannelRead {
		go p.readPump()
	}
	if p.duplex || p.mode == agent.ChannelWrite {
		go p.writePump()
	}
}

// readPump moves bytes from the kernel into the inbound buffer,
// pausing while the buffer is at capacity.
func (p *pipe) readPump() {
	chunk := make([]byte, pumpChunkSize)
	for {
		p.mu.Lock()
		for !p.closed && len(p.inbound) >= p.readBufferSize {
			p.readable.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		var transferred uint32
		err := windows.ReadFile(p.handle, chunk, &transferred, nil)

		p.mu.Lock()
		if err != nil {
			p.closeLocked()
			p.mu.Unlock()
			if err != windows.ERROR_BROKEN_PIPE {
				p.factory.logger.Warn("pipe read failed", "name", p.name, "error", err)
			}
			p.factory.notify(p)
			return
		}
		p.inbound = append(p.inbound, chunk[:transferred]...)
		p.mu.Unlock()
		p.factory.notify(p)
	}
}

// writePump drains the outbound queue into the kernel. A drained queue
// is reported to the session, which may be waiting on the backlog for
// auto-shutdown.
func (p *pipe) writePump() {
	for {
		p.mu.Lock()
		for !p.closed && len(p.outbound) == 0 {
			p.writable.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		data := p.outbound
		p.outbound = nil
		p.mu.Unlock()

		for len(data) > 0 {
			var transferred uint32
			if err := windows.WriteFile(p.handle, data, &transferred, nil); err != nil {
				p.mu.Lock()
				p.closeLocked()
				p.mu.Unlock()
				if err != windows.ERROR_BROKEN_PIPE {
					p.factory.logger.Warn("pipe write failed", "name", p.name, "error", err)
				}
				p.factory.notify(p)
				return
			}
			data = data[transferred:]
		}

		p.mu.Lock()
		drained := len(p.outbound) == 0
		p.mu.Unlock()
		if drained {
			p.factory.notify(p)
		}
	}
}

func (p *pipe) Name() string { return p.name }

func (p *pipe) IsConnecting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connecting
}

func (p *pipe) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close tears the pipe down. Any queued outbound bytes are abandoned;
// the session only closes after the backlog drains, so in practice the
// queue is empty.
func (p *pipe) Close() {
	p.mu.Lock()
	p.closeLocked()
	p.mu.Unlock()
}

func (p *pipe) closeLocked() {
	if p.closed {
		return
	}
	p.closed = true
	windows.CloseHandle(p.handle)
	p.readable.Broadcast()
	p.writable.Broadcast()
}

func (p *pipe) Write(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.outbound = append(p.outbound, data...)
	p.writable.Signal()
}

func (p *pipe) Peek(n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.inbound) {
		n = len(p.inbound)
	}
	// The session consumes the result before the next poll, so a view
	// into the buffer is safe: the pump only appends.
	return p.inbound[:n]
}

func (p *pipe) Read(n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.inbound) {
		n = len(p.inbound)
	}
	data := make([]byte, n)
	copy(data, p.inbound)
	p.inbound = p.inbound[n:]
	p.readable.Signal()
	return data
}

func (p *pipe) ReadAll() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	data := p.inbound
	p.inbound = nil
	p.readable.Signal()
	return data
}

func (p *pipe) BytesAvailable() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inbound)
}

func (p *pipe) BytesToSend() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outbound)
}

func (p *pipe) ReadBufferSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readBufferSize
}

// SetReadBufferSize applies a new read buffer capacity in either
// direction. Growing wakes a pump stalled on a full buffer; shrinking
// below the current fill level just pauses reads until the session
// drains the excess.
func (p *pipe) SetReadBufferSize(size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size <= 0 || size == p.readBufferSize {
		return
	}
	grew := size > p.readBufferSize
	p.readBufferSize = size
	if grew {
		p.readable.Broadcast()
	}
}
