// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "fmt"

// onTick runs one lifecycle poll. Ordering is deliberate: the exit
// check runs before scraping, and the scrape decision is taken before
// the exit check mutates state, so the tick that detects the exit
// still captures the child's final output — one scrape after exit,
// none on later ticks.
func (s *Session) onTick() {
	wantMouseMode := s.input.UpdateMouseInputFlags()

	// Give the decoder a chance to flush a pending partial escape
	// sequence (e.g. a bare ESC keypress).
	s.input.FlushIncompleteEscape()

	shouldScrape := !s.closingOutputPipes

	if s.autoShutdown && s.child != nil {
		exited, err := s.child.Exited()
		if err != nil {
			panic(fmt.Sprintf("agent: %v", err))
		}
		if exited {
			if err := s.child.Close(); err != nil {
				s.logger.Warn("closing child process handle", "error", err)
			}
			s.child = nil
			// Closing the output channels is the exit signal to the
			// client; any buffered output drains first.
			s.closingOutputPipes = true
			s.logger.Info("child process exited, draining output channels")
		}
	}

	if shouldScrape {
		s.syncConsoleTitle()
		s.scrapeBuffers()
	}

	// Mouse mode must be off before the output channel closes, so the
	// drain state overrides the decoder's wish.
	s.primaryScraper.EnableMouseMode(wantMouseMode && !s.closingOutputPipes)

	s.autoCloseOutputChannels()
}

// autoCloseOutputChannels closes each output channel whose outbound
// backlog has drained, once shutdown has begun. Channels with pending
// bytes stay open; the check re-runs every tick and on every output
// channel event until all are closed.
func (s *Session) autoCloseOutputChannels() {
	if !s.closingOutputPipes {
		return
	}
	for _, channel := range []Channel{s.conout, s.conerr} {
		if channel == nil || channel.IsClosed() {
			continue
		}
		if channel.BytesToSend() == 0 {
			s.logger.Info("closing output channel", "name", channel.Name())
			channel.Close()
		}
	}
}

// openPrimaryBuffer opens the buffer to scrape. Re-opened on every
// scrape because the active buffer can change under the session, and
// closed again by the caller once the operation completes. In conerr
// mode the process's original stdout buffer is used instead of the
// active one: a child activating the error buffer would otherwise get
// scraped by both scrapers.
func (s *Session) openPrimaryBuffer() (ConsoleBuffer, error) {
	if s.useConerr {
		return s.console.OpenStdoutBuffer()
	}
	return s.console.OpenActiveBuffer()
}

// closeBuffer releases a per-operation console buffer. A failing close
// is logged rather than propagated; the handle is gone either way.
func (s *Session) closeBuffer(buffer ConsoleBuffer) {
	if err := buffer.Close(); err != nil {
		s.logger.Warn("closing console buffer", "error", err)
	}
}

// withFrozenConsole runs op with console repaint suspended. The
// unfreeze is guaranteed on every exit path; a failing unfreeze is
// logged rather than propagated so it cannot mask op's error.
func (s *Session) withFrozenConsole(op func() error) error {
	if err := s.console.SetFrozen(true); err != nil {
		return fmt.Errorf("freezing console: %w", err)
	}
	defer func() {
		if err := s.console.SetFrozen(false); err != nil {
			s.logger.Error("unfreezing console", "error", err)
		}
	}()
	return op()
}

// scrapeBuffers captures console content into the output channels. A
// console API failure here has no degraded mode — the session aborts.
func (s *Session) scrapeBuffers() {
	err := s.withFrozenConsole(func() error {
		buffer, err := s.openPrimaryBuffer()
		if err != nil {
			return err
		}
		defer s.closeBuffer(buffer)
		info, err := s.primaryScraper.Scrape(buffer)
		if err != nil {
			return err
		}
		s.input.SetMouseWindowRect(info.Window)
		if s.errorScraper != nil {
			if _, err := s.errorScraper.Scrape(s.errorBuffer); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		panic(fmt.Sprintf("agent: scraping console: %v", err))
	}
}

// resizeWindow applies a size change, dropping out-of-range requests.
// The drop is silent on the wire — the SetSize acknowledgement is sent
// regardless — because a misbehaving client value should degrade to a
// no-op, not kill the session.
func (s *Session) resizeWindow(cols, rows int) {
	if cols < 1 || cols > maxWindowWidth || rows < 1 || rows > bufferLineCount-1 {
		s.logger.Warn("ignoring out-of-range resize", "cols", cols, "rows", rows)
		return
	}
	size := Coord{X: cols, Y: rows}
	err := s.withFrozenConsole(func() error {
		buffer, err := s.openPrimaryBuffer()
		if err != nil {
			return err
		}
		defer s.closeBuffer(buffer)
		info, err := s.primaryScraper.ResizeWindow(buffer, size)
		if err != nil {
			return err
		}
		s.input.SetMouseWindowRect(info.Window)
		if s.errorScraper != nil {
			if _, err := s.errorScraper.ResizeWindow(s.errorBuffer, size); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		panic(fmt.Sprintf("agent: resizing console: %v", err))
	}
}

// syncConsoleTitle mirrors console title changes to the terminal as an
// OSC 0 sequence. Only emits when the title actually changed.
func (s *Session) syncConsoleTitle() {
	title, err := s.console.Title()
	if err != nil {
		panic(fmt.Sprintf("agent: reading console title: %v", err))
	}
	if title == s.currentTitle {
		return
	}
	s.conout.Write([]byte("\x1b]0;" + title + "\x07"))
	s.currentTitle = title
}

// Close tears the session down: the child process handle (if still
// held), the error buffer, and every channel are released exactly
// once. Safe to call after Run returns, including on error paths.
func (s *Session) Close() {
	if s.child != nil {
		if err := s.child.Close(); err != nil {
			s.logger.Warn("closing child process handle", "error", err)
		}
		s.child = nil
	}
	if s.errorBuffer != nil {
		s.closeBuffer(s.errorBuffer)
		s.errorBuffer = nil
	}
	for _, channel := range []Channel{s.conin, s.conout, s.conerr, s.control} {
		if channel != nil && !channel.IsClosed() {
			channel.Close()
		}
	}
}
