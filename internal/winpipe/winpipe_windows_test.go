// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package winpipe

import (
	"io"
	"log/slog"
	"testing"

	"github.com/kirill-gerasimenko/winpty/agent"
)

func newTestPipe() *pipe {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := NewFactory(logger, func(agent.Channel) {}, 0)
	return newPipe(factory, `\\.\pipe\winpty-conin-test`, agent.ChannelRead, 0)
}

func TestSetReadBufferSizeGrowsAndShrinks(t *testing.T) {
	p := newTestPipe()
	if got := p.ReadBufferSize(); got != defaultReadBufferSize {
		t.Fatalf("initial read buffer = %d, want %d", got, defaultReadBufferSize)
	}

	p.SetReadBufferSize(256 * 1024)
	if got := p.ReadBufferSize(); got != 256*1024 {
		t.Errorf("after grow = %d, want %d", got, 256*1024)
	}

	p.SetReadBufferSize(16 * 1024)
	if got := p.ReadBufferSize(); got != 16*1024 {
		t.Errorf("after shrink = %d, want %d", got, 16*1024)
	}
}

func TestSetReadBufferSizeIgnoresNonPositive(t *testing.T) {
	p := newTestPipe()
	p.SetReadBufferSize(0)
	p.SetReadBufferSize(-1)
	if got := p.ReadBufferSize(); got != defaultReadBufferSize {
		t.Errorf("read buffer = %d, want default %d untouched", got, defaultReadBufferSize)
	}
}
