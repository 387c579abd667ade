// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "github.com/kirill-gerasimenko/winpty/lib/packet"

// Command tags carried in the 4-byte field after the packet length.
// Unrecognized tags are logged and ignored so newer clients can talk to
// older agents.
const (
	// CommandStartProcess asks the agent to create the child process.
	CommandStartProcess int32 = 1

	// CommandSetSize asks the agent to resize the console window.
	CommandSetSize int32 = 2
)

// StartProcess reply result tags. Exactly one is sent per
// StartProcess command.
const (
	// StartResultPipesStillOpen reports that one or more data channels
	// have no connected client yet; no launch was attempted.
	StartResultPipesStillOpen int32 = 0

	// StartResultProcessCreated reports a successful launch, followed
	// by the encoded process and thread handle values (zero when not
	// requested).
	StartResultProcessCreated int32 = 1

	// StartResultCreateProcessFailed reports a failed launch, followed
	// by the OS error code.
	StartResultCreateProcessFailed int32 = 2
)

// Spawn flags carried in a StartProcess command.
const (
	// SpawnFlagAutoShutdown arms auto-shutdown: once the child exits,
	// output channels drain and close automatically.
	SpawnFlagAutoShutdown uint64 = 0x1

	// SpawnFlagExitAfterShutdown additionally terminates the session
	// run loop once draining completes.
	SpawnFlagExitAfterShutdown uint64 = 0x2
)

// Agent flags fixed at session construction.
const (
	// FlagConerr enables the secondary error output: a dedicated
	// console buffer and data channel for the child's stderr.
	FlagConerr uint64 = 0x1

	// FlagPlainOutput disables escape-sequence output (no DSR probe).
	FlagPlainOutput uint64 = 0x2

	// FlagColorEscapes re-enables color escapes in plain mode. Consumed
	// by the terminal engine; the session only carries it through.
	FlagColorEscapes uint64 = 0x4
)

// Mouse input modes, fixed at session construction and interpreted by
// the input decoder.
const (
	MouseModeNone  = 0
	MouseModeAuto  = 1
	MouseModeForce = 2
)

// Console geometry bounds for SetSize. The scraped buffer holds
// bufferLineCount lines and the window must leave at least one line of
// headroom.
const (
	maxWindowWidth  = 9999
	bufferLineCount = 3000
)

// StartProcessCommand is the decoded form of a StartProcess packet.
// Empty string fields mean "use the platform default" and are passed to
// process creation as absent arguments, never as empty strings.
type StartProcessCommand struct {
	SpawnFlags        uint64
	WantProcessHandle bool
	WantThreadHandle  bool
	Program           string
	Cmdline           string
	Cwd               string
	Env               string
	Desktop           string
}

// SetSizeCommand is the decoded form of a SetSize packet.
type SetSizeCommand struct {
	Cols int32
	Rows int32
}

// decodeStartProcess reads a StartProcess body from r. The reader must
// be positioned after the command tag. Trailing bytes are an error.
func decodeStartProcess(r *packet.Reader) (StartProcessCommand, error) {
	command := StartProcessCommand{
		SpawnFlags:        r.Uint64(),
		WantProcessHandle: r.Int32() != 0,
		WantThreadHandle:  r.Int32() != 0,
		Program:           r.WString(),
		Cmdline:           r.WString(),
		Cwd:               r.WString(),
		Env:               r.WString(),
		Desktop:           r.WString(),
	}
	return command, r.Finish()
}

// decodeSetSize reads a SetSize body from r.
func decodeSetSize(r *packet.Reader) (SetSizeCommand, error) {
	command := SetSizeCommand{
		Cols: r.Int32(),
		Rows: r.Int32(),
	}
	return command, r.Finish()
}
