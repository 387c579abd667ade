// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// Package oshandle converts OS resource handles to and from the 64-bit
// wire representation used by the control protocol, and abstracts the
// duplication primitive that makes a handle transferable to another
// process.
//
// The value transform relies on a platform guarantee: kernel handle
// values fit in 32 bits, and a 32-bit handle sign-extends to the
// equivalent 64-bit handle. A 64-bit agent can therefore hand a handle
// value to a 32-bit client (which truncates) or a 64-bit client (which
// uses it as-is), and either reconstructs an equivalent handle. The
// transform is a pure function pair so it can be tested without real
// OS resources.
package oshandle
