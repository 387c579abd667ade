// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// Package winpipe serves the agent's channels over Windows named
// pipes. Each pipe runs a read pump and a write pump goroutine; the
// session goroutine only ever touches the in-memory buffers, and every
// state change (client connected, bytes arrived, backlog drained, pipe
// broken) is posted to the session as a readiness notification.
package winpipe
