// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "fmt"

// LaunchSpec describes the child process to create. String fields left
// empty mean "platform default"; the launcher must translate them to
// absent arguments, not empty strings.
type LaunchSpec struct {
	Program string
	Cmdline string
	Cwd     string

	// Env is the environment block: NUL-separated KEY=VALUE entries,
	// double-NUL-terminated. Empty inherits the agent's environment.
	Env string

	Desktop string

	// InheritStdio wires the child's standard input/output to the
	// agent's own and redirects its standard error to StderrHandle.
	// Handle inheritance is enabled for this launch only.
	InheritStdio bool

	// StderrHandle is the error-buffer output handle the child's
	// stderr is redirected to when InheritStdio is set.
	StderrHandle uintptr
}

// Process is a created child process. The session owns it exclusively
// and closes it exactly once.
type Process interface {
	// Exited reports, without blocking, whether the process has
	// terminated.
	Exited() (bool, error)

	// Handle returns the OS process handle for export.
	Handle() uintptr

	// Close releases the process handle.
	Close() error
}

// LaunchResult is a successful launch. The caller duplicates whichever
// handles the client asked for, then must close ThreadHandle
// immediately — it is never retained.
type LaunchResult struct {
	Process      Process
	ThreadHandle uintptr

	// PID is the platform process identifier, used only for logging.
	PID uint32
}

// LaunchError is an expected operational failure of process creation,
// carrying the platform error code the client receives in the
// CreateProcessFailed reply.
type LaunchError struct {
	Code uint32
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("process creation failed with OS error %d", e.Code)
}

// Launcher creates the child process. A failed creation returns a
// *LaunchError and leaves no partial state behind; any other error is
// an environment failure.
type Launcher interface {
	Launch(spec LaunchSpec) (LaunchResult, error)
}
