// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// Package wincon implements the agent's console abstraction over the
// Win32 console API. Calls with x/sys/windows wrappers use them; the
// rest (screen buffer management, title, window messages) go through
// lazily-loaded kernel32 and user32 procedures.
package wincon
