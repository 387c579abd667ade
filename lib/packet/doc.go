// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// Package packet implements the length-prefixed binary packet format of
// the agent control protocol.
//
// A packet is a little-endian byte sequence: an 8-byte total length
// (counting itself), then raw fields in a fixed per-command order. Wide
// strings are a u64 UTF-16 code-unit count followed by the code units.
// The codec performs no I/O: a Writer builds exactly one packet, and a
// Reader consumes a payload already known to hold exactly one complete
// packet body.
package packet
