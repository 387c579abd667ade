// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"strings"
	"testing"
)

func TestTickScrapesUnderFreeze(t *testing.T) {
	fixture := newTestSession(t, FlagConerr)
	fixture.session.onTick()

	for index, scraper := range fixture.scrapers {
		if scraper.scrapes != 1 {
			t.Errorf("scraper %d scrapes = %d, want 1", index, scraper.scrapes)
		}
		for _, frozen := range scraper.frozenDuringCall {
			if !frozen {
				t.Errorf("scraper %d ran with the console unfrozen", index)
			}
		}
	}
	// Calibration freezes once during construction; every scrape freeze
	// must have a matching unfreeze.
	if fixture.console.freezes != fixture.console.unfreezes {
		t.Errorf("freezes = %d, unfreezes = %d", fixture.console.freezes, fixture.console.unfreezes)
	}
}

func TestTickFlushesIncompleteEscape(t *testing.T) {
	fixture := newTestSession(t, 0)
	fixture.session.onTick()
	fixture.session.onTick()
	if fixture.input.flushes != 2 {
		t.Errorf("escape flushes = %d, want 2", fixture.input.flushes)
	}
}

func TestInputForwardedToDecoder(t *testing.T) {
	fixture := newTestSession(t, 0)
	fixture.conin.feed([]byte("ls\r"))
	fixture.session.onChannelEvent(fixture.conin)

	if got := fixture.input.written.String(); got != "ls\r" {
		t.Errorf("decoder received %q, want %q", got, "ls\r")
	}
}

func TestTitleChangeEmitsOnce(t *testing.T) {
	fixture := newTestSession(t, 0)
	fixture.console.title = "Command Prompt"

	fixture.session.onTick()
	if got := fixture.conout.written.String(); got != "\x1b]0;Command Prompt\x07" {
		t.Fatalf("conout = %q, want one title sequence", got)
	}

	fixture.conout.written.Reset()
	fixture.session.onTick()
	if got := fixture.conout.written.Len(); got != 0 {
		t.Errorf("unchanged title re-emitted %d bytes", got)
	}

	fixture.console.title = "vim"
	fixture.session.onTick()
	if got := fixture.conout.written.String(); !strings.Contains(got, "\x1b]0;vim\x07") {
		t.Errorf("conout = %q, want new title sequence", got)
	}
}

func TestExitDetectionTickStillScrapes(t *testing.T) {
	fixture := newTestSession(t, 0)
	child := fixture.startChild(t, SpawnFlagAutoShutdown)

	child.exited = true
	fixture.session.onTick()

	// The tick that notices the exit still captures final output.
	if got := fixture.scrapers[0].scrapes; got != 1 {
		t.Errorf("scrapes on detection tick = %d, want 1", got)
	}
	if child.closes != 1 {
		t.Errorf("child handle closes = %d, want 1", child.closes)
	}

	// Later ticks scrape nothing and never touch the handle again.
	fixture.session.onTick()
	fixture.session.onTick()
	if got := fixture.scrapers[0].scrapes; got != 1 {
		t.Errorf("scrapes after shutdown = %d, want 1", got)
	}
	if child.closes != 1 {
		t.Errorf("child handle closed again: %d closes", child.closes)
	}
}

func TestAutoShutdownWaitsForBacklog(t *testing.T) {
	fixture := newTestSession(t, 0)
	child := fixture.startChild(t, SpawnFlagAutoShutdown)

	fixture.conout.backlog = 512
	child.exited = true
	fixture.session.onTick()
	if fixture.conout.IsClosed() {
		t.Fatal("output channel closed with bytes still queued")
	}

	fixture.session.onTick()
	if fixture.conout.IsClosed() {
		t.Fatal("output channel closed before the backlog drained")
	}

	fixture.conout.backlog = 0
	fixture.session.onTick()
	if !fixture.conout.IsClosed() {
		t.Error("output channel open after its backlog drained")
	}
}

func TestDrainCheckRunsOnOutputChannelEvent(t *testing.T) {
	fixture := newTestSession(t, 0)
	child := fixture.startChild(t, SpawnFlagAutoShutdown)

	fixture.conout.backlog = 512
	child.exited = true
	fixture.session.onTick()

	// The transport reports the queue drained between ticks.
	fixture.conout.backlog = 0
	fixture.session.onChannelEvent(fixture.conout)
	if !fixture.conout.IsClosed() {
		t.Error("drained channel not closed on its readiness event")
	}
}

func TestWithoutAutoShutdownExitIsIgnored(t *testing.T) {
	fixture := newTestSession(t, 0)
	child := fixture.startChild(t, 0)

	child.exited = true
	fixture.session.onTick()
	fixture.session.onTick()

	if fixture.conout.IsClosed() {
		t.Error("output channel closed without auto-shutdown armed")
	}
	if got := fixture.scrapers[0].scrapes; got != 2 {
		t.Errorf("scrapes = %d, want 2", got)
	}
}

func TestMouseModeForcedOffDuringDrain(t *testing.T) {
	fixture := newTestSession(t, 0)
	child := fixture.startChild(t, SpawnFlagAutoShutdown)
	fixture.input.wantMouse = true

	fixture.session.onTick()
	modes := fixture.scrapers[0].mouseModes
	if len(modes) == 0 || !modes[len(modes)-1] {
		t.Fatalf("mouse modes = %v, want trailing true before exit", modes)
	}

	child.exited = true
	fixture.session.onTick()
	modes = fixture.scrapers[0].mouseModes
	if modes[len(modes)-1] {
		t.Errorf("mouse mode still on during drain: %v", modes)
	}
}

func TestRunReturnsOnceFinished(t *testing.T) {
	fixture := newTestSession(t, 0)
	child := fixture.startChild(t, SpawnFlagAutoShutdown|SpawnFlagExitAfterShutdown)
	child.exited = true
	fixture.session.onTick()
	fixture.session.onTick()

	if !fixture.session.finished() {
		t.Fatal("session not finished after exit-after-shutdown drain")
	}
	if err := fixture.session.Run(context.Background()); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestRunReturnsContextError(t *testing.T) {
	fixture := newTestSession(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := fixture.session.Run(ctx); err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestControlCloseWithoutExitAfterShutdownFinishes(t *testing.T) {
	fixture := newTestSession(t, 0)
	fixture.startChild(t, SpawnFlagAutoShutdown)

	fixture.control.Close()
	fixture.session.onChannelEvent(fixture.control)
	if !fixture.session.finished() {
		t.Error("session not finished after control close with drained outputs")
	}
}

func TestNotifyDeliversToRunLoop(t *testing.T) {
	fixture := newTestSession(t, 0)
	fixture.session.Notify(fixture.conin)

	select {
	case channel := <-fixture.session.events:
		if channel != fixture.conin {
			t.Errorf("delivered channel = %v, want conin", channel)
		}
	default:
		t.Error("no event queued after Notify")
	}
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	fixture := newTestSession(t, 0)
	for range cap(fixture.session.events) {
		fixture.session.Notify(fixture.conin)
	}
	// Must not block.
	fixture.session.Notify(fixture.conin)
}

func TestCloseReleasesEverythingOnce(t *testing.T) {
	fixture := newTestSession(t, FlagConerr)
	child := fixture.startChild(t, 0)

	fixture.session.Close()
	fixture.session.Close()

	if child.closes != 1 {
		t.Errorf("child handle closes = %d, want 1", child.closes)
	}
	for _, channel := range []*fakeChannel{fixture.conin, fixture.conout, fixture.conerr, fixture.control} {
		if !channel.IsClosed() {
			t.Errorf("channel %q left open", channel.Name())
		}
	}
}

func TestCalibrationBufferClosed(t *testing.T) {
	fixture := newTestSession(t, 0)
	if got := fixture.console.active.closes; got != 1 {
		t.Errorf("primary buffer closes after construction = %d, want 1", got)
	}
}

func TestScrapeAndResizeCloseTheirBuffer(t *testing.T) {
	fixture := newTestSession(t, 0)
	base := fixture.console.active.closes

	fixture.session.onTick()
	fixture.session.onTick()
	fixture.feedControl(buildSetSize(100, 40))

	// Two scrapes and one resize, each opening and closing the primary
	// buffer once.
	if got := fixture.console.active.closes - base; got != 3 {
		t.Errorf("primary buffer closes = %d, want 3", got)
	}
}

func TestErrorBufferClosedOnceWithSession(t *testing.T) {
	fixture := newTestSession(t, FlagConerr)
	fixture.session.onTick()

	if got := fixture.console.errorBuf.closes; got != 0 {
		t.Fatalf("error buffer closed mid-session: %d closes", got)
	}
	fixture.session.Close()
	fixture.session.Close()
	if got := fixture.console.errorBuf.closes; got != 1 {
		t.Errorf("error buffer closes = %d, want 1", got)
	}
}

func TestConerrModeScrapesStdoutBuffer(t *testing.T) {
	fixture := newTestSession(t, FlagConerr)
	fixture.session.onTick()

	// In conerr mode the primary scrape reads the original stdout
	// buffer, not the active one, so a child switching to the error
	// buffer is not scraped twice.
	if fixture.session.useConerr != true {
		t.Fatal("fixture not in conerr mode")
	}
	if len(fixture.scrapers) != 2 {
		t.Fatalf("scraper count = %d, want 2", len(fixture.scrapers))
	}
	if fixture.scrapers[1].scrapes != 1 {
		t.Errorf("error scraper scrapes = %d, want 1", fixture.scrapers[1].scrapes)
	}
}

func TestConerrLaunchInheritsErrorBuffer(t *testing.T) {
	fixture := newTestSession(t, FlagConerr)
	fixture.startChild(t, 0)

	spec := fixture.launcher.specs[0]
	if !spec.InheritStdio {
		t.Error("conerr launch without stdio inheritance")
	}
	if spec.StderrHandle != fixture.console.errorBuf.handle {
		t.Errorf("stderr handle = %#x, want error buffer handle %#x",
			spec.StderrHandle, fixture.console.errorBuf.handle)
	}
}
