// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the supervisory agent of the pseudo-terminal
// bridge: the control protocol, command dispatch, child process launch,
// and the poll-driven lifecycle that ties output-channel draining to
// child-process exit.
//
// The package is organized around the control and data flow:
//
//   - protocol.go: command tags, flag bits, and typed command decoding
//   - channel.go: the byte-stream IPC channel surface the session drives
//   - console.go: console buffer and freeze-control collaborator interfaces
//   - scraper.go: content scraper and input decoder collaborator interfaces
//   - launch.go: child process creation
//   - freeze.go: startup calibration of the console freeze method
//   - session.go: session state, packet reassembly, dispatch, replies
//   - lifecycle.go: the poll tick, auto-shutdown draining, teardown
//
// A session runs as a single cooperative loop: Run multiplexes the
// poll ticker and channel readiness events, and every handler runs to
// completion before the next event is taken. Nothing here spawns
// workers; concurrency lives inside the channel implementations.
package agent
