// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

// ChannelMode selects the transfer direction of a data channel from
// the agent's point of view.
type ChannelMode int

const (
	// ChannelRead receives bytes from the client (terminal input).
	ChannelRead ChannelMode = iota

	// ChannelWrite sends bytes to the client (scraped output).
	ChannelWrite
)

// Channel is the byte-stream IPC surface the session drives. The
// implementation owns the I/O; the session only sees buffered state.
// All methods are called from the session loop; implementations must
// tolerate concurrent internal I/O against these calls.
//
// Reads are buffered: Peek inspects without consuming, Read consumes,
// and BytesAvailable reports what is currently buffered. Writes are
// queued: Write never blocks, and BytesToSend reports the outbound
// backlog that has not yet reached the client.
type Channel interface {
	// Name returns the channel's transport name (e.g. a pipe path).
	Name() string

	// IsConnecting reports whether the channel is a server endpoint
	// still awaiting its client connection.
	IsConnecting() bool

	// IsClosed reports whether the channel has been closed, locally or
	// by the remote end.
	IsClosed() bool

	// Close closes the channel. Queued outbound bytes are discarded;
	// callers drain BytesToSend first when delivery matters.
	Close()

	// Write queues data for transmission.
	Write(data []byte)

	// Peek returns up to n buffered bytes without consuming them.
	Peek(n int) []byte

	// Read consumes and returns up to n buffered bytes.
	Read(n int) []byte

	// ReadAll consumes and returns all buffered bytes.
	ReadAll() []byte

	// BytesAvailable returns the number of buffered inbound bytes.
	BytesAvailable() int

	// BytesToSend returns the outbound backlog in bytes.
	BytesToSend() int

	// ReadBufferSize returns the current read buffer capacity.
	ReadBufferSize() int

	// SetReadBufferSize grows (or shrinks) the read buffer capacity.
	// The session grows it when a declared packet length exceeds the
	// current capacity, so an oversized packet cannot stall forever.
	SetReadBufferSize(size int)
}

// ChannelFactory creates server data channels. The session names them;
// the factory binds the transport.
type ChannelFactory interface {
	// Listen creates a server channel at name, awaiting one client
	// connection.
	Listen(name string, mode ChannelMode) (Channel, error)
}
