// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the standard binary entrypoint error
// handler shared by the winpty commands.
package process
