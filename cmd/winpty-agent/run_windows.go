// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/windows"

	"github.com/kirill-gerasimenko/winpty/agent"
	"github.com/kirill-gerasimenko/winpty/internal/conterm"
	"github.com/kirill-gerasimenko/winpty/internal/wincon"
	"github.com/kirill-gerasimenko/winpty/internal/winpipe"
	"github.com/kirill-gerasimenko/winpty/lib/clock"
	"github.com/kirill-gerasimenko/winpty/lib/config"
	"github.com/kirill-gerasimenko/winpty/lib/oshandle"
)

func run(options runOptions, configuration config.Config, logger *slog.Logger) error {
	// Ctrl-C on this console belongs to the child process; the agent
	// must survive it to keep supervising.
	signal.Ignore(os.Interrupt)

	// The client serves the control pipe and spawns this process with
	// its name, so it is guaranteed to exist by now.
	controlHandle, err := winpipe.Dial(options.controlPipe)
	if err != nil {
		return err
	}

	console, err := wincon.New()
	if err != nil {
		return err
	}
	coninHandle, err := windows.GetStdHandle(windows.STD_INPUT_HANDLE)
	if err != nil {
		return fmt.Errorf("stdin handle: %w", err)
	}

	events := make(chan agent.Channel, 64)
	notify := func(channel agent.Channel) {
		select {
		case events <- channel:
		default:
		}
	}
	factory := winpipe.NewFactory(logger, notify, configuration.OutboundBufferBytes)
	control := factory.Serve(options.controlPipe, controlHandle)

	plain := options.flags&agent.FlagPlainOutput != 0
	session, err := agent.NewSession(agent.SessionConfig{
		Logger:       logger,
		Clock:        clock.Real(),
		PollInterval: configuration.PollInterval(),
		Flags:        options.flags,
		MouseMode:    options.mouseMode,
		InitialSize:  agent.Coord{X: options.cols, Y: options.rows},
		Console:      console,
		Control:      control,
		Channels:     factory,
		Launcher:     agent.SystemLauncher(),
		Handles:      oshandle.System(),
		NewScraper: func(output agent.Channel, initialSize agent.Coord) agent.Scraper {
			return conterm.NewScraper(output, initialSize, plain)
		},
		NewInputDecoder: func(dsr agent.DSRSender, mouseMode int) agent.InputDecoder {
			return conterm.NewInputWriter(coninHandle, dsr, mouseMode)
		},
		ControlReadBufferSize: configuration.ControlReadBufferBytes,
		DataReadBufferSize:    configuration.DataReadBufferBytes,
		PipeNamePrefix:        configuration.PipeNamePrefix,
		Events:                events,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	logger.Info("agent session starting", "control_pipe", options.controlPipe)
	return session.Run(context.Background())
}
