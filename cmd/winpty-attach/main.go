// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

// winpty-attach runs a console program under a winpty-agent and relays
// it to the current terminal: it serves the control pipe, spawns the
// agent on a fresh hidden console, connects the data pipes the agent
// announces, and bridges them to stdin and stdout in raw mode.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/kirill-gerasimenko/winpty/lib/process"
)

type attachOptions struct {
	agentPath string
	mouseMode string
	cmdline   string
}

func main() {
	var (
		agentPath = pflag.String("agent", "winpty-agent.exe", "path to the agent executable")
		mouseMode = pflag.String("mouse-mode", "auto", "mouse input handling: none, auto, or force")
	)
	pflag.Parse()

	if pflag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <command> [args...]\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(2)
	}

	options := attachOptions{
		agentPath: *agentPath,
		mouseMode: *mouseMode,
		cmdline:   buildCmdline(pflag.Args()),
	}
	exitCode, err := attach(options)
	if err != nil {
		process.Fatal(err)
	}
	os.Exit(exitCode)
}

// buildCmdline joins argv into a Windows command line, quoting
// arguments that contain spaces. Embedded quotes are the caller's
// problem, as they are for every Windows launcher.
func buildCmdline(arguments []string) string {
	cmdline := ""
	for index, argument := range arguments {
		if index > 0 {
			cmdline += " "
		}
		if argument != "" && !containsSpace(argument) {
			cmdline += argument
		} else {
			cmdline += `"` + argument + `"`
		}
	}
	return cmdline
}

func containsSpace(s string) bool {
	for _, character := range s {
		if character == ' ' || character == '\t' {
			return true
		}
	}
	return false
}
