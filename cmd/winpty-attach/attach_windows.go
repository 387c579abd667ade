// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/windows"
	"golang.org/x/term"

	"github.com/kirill-gerasimenko/winpty/agent"
	"github.com/kirill-gerasimenko/winpty/internal/winpipe"
	"github.com/kirill-gerasimenko/winpty/lib/packet"
)

func attach(options attachOptions) (int, error) {
	controlPipe := `\\.\pipe\winpty-control-` + uuid.NewString()

	stdinFd := int(os.Stdin.Fd())
	cols, rows := 80, 25
	if term.IsTerminal(stdinFd) {
		if width, height, err := term.GetSize(stdinFd); err == nil {
			cols, rows = width, height
		}
	}

	// The control pipe must exist before the agent starts, so that the
	// agent can dial it unconditionally.
	controlHandle, err := winpipe.CreateServer(controlPipe)
	if err != nil {
		return 0, err
	}

	// The agent must run attached to its own console, hidden from the
	// user; the terminal it serves is ours.
	command := exec.Command(options.agentPath,
		"--mouse-mode", options.mouseMode,
		"--cols", strconv.Itoa(cols),
		"--rows", strconv.Itoa(rows),
		controlPipe)
	command.Stderr = os.Stderr
	command.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_CONSOLE,
		HideWindow:    true,
	}
	if err := command.Start(); err != nil {
		windows.CloseHandle(controlHandle)
		return 0, fmt.Errorf("starting agent: %w", err)
	}
	defer command.Process.Kill()

	if err := winpipe.WaitClient(controlHandle); err != nil {
		windows.CloseHandle(controlHandle)
		return 0, fmt.Errorf("waiting for agent on control pipe: %w", err)
	}
	control := os.NewFile(uintptr(controlHandle), controlPipe)
	defer control.Close()

	coninName, conoutName, err := readSetupPacket(control)
	if err != nil {
		return 0, err
	}
	conin, err := openPipeFile(coninName)
	if err != nil {
		return 0, err
	}
	defer conin.Close()
	conout, err := openPipeFile(conoutName)
	if err != nil {
		return 0, err
	}
	defer conout.Close()

	if term.IsTerminal(stdinFd) {
		state, err := term.MakeRaw(stdinFd)
		if err != nil {
			return 0, fmt.Errorf("entering raw mode: %w", err)
		}
		defer term.Restore(stdinFd, state)
	}

	if err := startProcess(control, options.cmdline); err != nil {
		return 0, err
	}

	go io.Copy(conin, os.Stdin)
	io.Copy(os.Stdout, conout)

	// conout closing means the child exited and its output drained.
	if err := command.Wait(); err != nil {
		return 0, fmt.Errorf("agent exited abnormally: %w", err)
	}
	return 0, nil
}

// openPipeFile dials a pipe the agent serves. The setup packet arrives
// after the agent has created its data pipe servers, so by the time
// their names are known the dial cannot race the listen.
func openPipeFile(name string) (*os.File, error) {
	handle, err := winpipe.Dial(name)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(handle), name), nil
}

// readSetupPacket reads the channel announcement the agent sends first
// on every control connection.
func readSetupPacket(control *os.File) (conin, conout string, err error) {
	body, err := readPacket(control)
	if err != nil {
		return "", "", fmt.Errorf("reading setup packet: %w", err)
	}
	reader := packet.NewReader(body)
	conin = reader.WString()
	conout = reader.WString()
	if err := reader.Err(); err != nil {
		return "", "", fmt.Errorf("decoding setup packet: %w", err)
	}
	return conin, conout, nil
}

// startProcess sends StartProcess and checks the result.
func startProcess(control *os.File, cmdline string) error {
	writer := packet.NewWriter()
	writer.Int32(agent.CommandStartProcess)
	writer.Uint64(agent.SpawnFlagAutoShutdown | agent.SpawnFlagExitAfterShutdown)
	writer.Int32(0) // process handle not wanted
	writer.Int32(0) // thread handle not wanted
	writer.WString("")
	writer.WString(cmdline)
	writer.WString("")
	writer.WString("")
	writer.WString("")
	if _, err := control.Write(writer.Finish()); err != nil {
		return fmt.Errorf("sending StartProcess: %w", err)
	}

	body, err := readPacket(control)
	if err != nil {
		return fmt.Errorf("reading StartProcess reply: %w", err)
	}
	reader := packet.NewReader(body)
	switch result := reader.Int32(); result {
	case agent.StartResultProcessCreated:
		return nil
	case agent.StartResultPipesStillOpen:
		return fmt.Errorf("agent reports unconnected channels: %s", reader.WString())
	case agent.StartResultCreateProcessFailed:
		return fmt.Errorf("process creation failed with code %d", reader.Int32())
	default:
		return fmt.Errorf("unknown StartProcess result %d", result)
	}
}

// readPacket reads one length-prefixed packet and returns its body.
func readPacket(source io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(source, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint64(header[:])
	if length < 8 || length > 1<<20 {
		return nil, fmt.Errorf("implausible packet length %d", length)
	}
	body := make([]byte, length-8)
	if _, err := io.ReadFull(source, body); err != nil {
		return nil, err
	}
	return body, nil
}
