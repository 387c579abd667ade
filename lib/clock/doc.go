// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code injects
// Real(); tests inject Fake() and advance it explicitly, which makes
// poll-driven lifecycle code deterministic under test.
package clock
