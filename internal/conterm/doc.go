// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// Package conterm converts between console screen buffers and a
// terminal byte stream. The scraper reads completed lines out of the
// buffer and emits them as text; the input writer decodes terminal
// bytes into synthesized console input records.
//
// The scraping model is deliberately line-oriented: it follows the
// cursor down the buffer and emits each line once it is left behind,
// which renders sequential command output faithfully and degrades to a
// repaint for full-screen programs.
package conterm
