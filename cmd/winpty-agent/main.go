// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// winpty-agent supervises a hidden console on behalf of a terminal
// client. The client serves a control pipe, spawns this process
// attached to the console, and passes the control pipe name as the
// only argument; everything else is negotiated over the protocol.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/kirill-gerasimenko/winpty/agent"
	"github.com/kirill-gerasimenko/winpty/lib/config"
	"github.com/kirill-gerasimenko/winpty/lib/process"
)

type runOptions struct {
	controlPipe  string
	flags        uint64
	mouseMode    int
	cols         int
	rows         int
	plainOutput  bool
	colorEscapes bool
}

func main() {
	var (
		configPath   = pflag.String("config", "", "configuration file path (overrides "+config.EnvVar+")")
		conerr       = pflag.Bool("conerr", false, "serve a separate error output channel")
		plainOutput  = pflag.Bool("plain-output", false, "emit plain text without escape sequences")
		colorEscapes = pflag.Bool("color-escapes", false, "keep color escapes in plain output mode")
		mouseMode    = pflag.String("mouse-mode", "auto", "mouse input handling: none, auto, or force")
		cols         = pflag.Int("cols", 80, "initial terminal width")
		rows         = pflag.Int("rows", 25, "initial terminal height")
		logLevel     = pflag.String("log-level", "", "log level: debug, info, warn, or error")
	)
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <control-pipe-name>\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(2)
	}

	configuration, err := config.Load(*configPath)
	if err != nil {
		process.Fatal(err)
	}

	level := configuration.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		process.Fatal(err)
	}

	options := runOptions{
		controlPipe:  pflag.Arg(0),
		cols:         *cols,
		rows:         *rows,
		plainOutput:  *plainOutput,
		colorEscapes: *colorEscapes,
	}
	if *conerr {
		options.flags |= agent.FlagConerr
	}
	if *plainOutput {
		options.flags |= agent.FlagPlainOutput
	}
	if *colorEscapes {
		options.flags |= agent.FlagColorEscapes
	}
	switch *mouseMode {
	case "none":
		options.mouseMode = agent.MouseModeNone
	case "auto":
		options.mouseMode = agent.MouseModeAuto
	case "force":
		options.mouseMode = agent.MouseModeForce
	default:
		process.Fatal(fmt.Errorf("unknown mouse mode %q", *mouseMode))
	}

	if err := run(options, configuration, logger); err != nil {
		process.Fatal(err)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	return slog.New(handler), nil
}
