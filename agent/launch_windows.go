// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package agent

import (
	"errors"
	"fmt"
	"syscall"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	waitObject0 = 0
	waitTimeout = 0x102
)

// SystemLauncher returns the Launcher backed by Win32 process
// creation.
func SystemLauncher() Launcher { return systemLauncher{} }

type systemLauncher struct{}

func (systemLauncher) Launch(spec LaunchSpec) (LaunchResult, error) {
	program, err := optionalUTF16Ptr(spec.Program)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("program: %w", err)
	}
	cwd, err := optionalUTF16Ptr(spec.Cwd)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("cwd: %w", err)
	}
	desktop, err := optionalUTF16Ptr(spec.Desktop)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("desktop: %w", err)
	}

	// The command line must be a mutable buffer — CreateProcessW is
	// documented to write into it.
	var cmdline *uint16
	if spec.Cmdline != "" {
		buffer := append(utf16.Encode([]rune(spec.Cmdline)), 0)
		cmdline = &buffer[0]
	}

	// The environment block carries its separators and terminator in
	// the string itself, so no NUL is appended here.
	var environment *uint16
	if spec.Env != "" {
		buffer := utf16.Encode([]rune(spec.Env))
		environment = &buffer[0]
	}

	startup := windows.StartupInfo{Desktop: desktop}
	startup.Cb = uint32(unsafe.Sizeof(startup))
	inheritHandles := false
	if spec.InheritStdio {
		inheritHandles = true
		startup.Flags |= windows.STARTF_USESTDHANDLES
		stdin, err := windows.GetStdHandle(windows.STD_INPUT_HANDLE)
		if err != nil {
			return LaunchResult{}, fmt.Errorf("stdin handle: %w", err)
		}
		stdout, err := windows.GetStdHandle(windows.STD_OUTPUT_HANDLE)
		if err != nil {
			return LaunchResult{}, fmt.Errorf("stdout handle: %w", err)
		}
		startup.StdInput = stdin
		startup.StdOutput = stdout
		startup.StdErr = windows.Handle(spec.StderrHandle)
	}

	var processInfo windows.ProcessInformation
	err = windows.CreateProcess(
		program, cmdline, nil, nil,
		inheritHandles,
		windows.CREATE_UNICODE_ENVIRONMENT,
		environment, cwd, &startup, &processInfo)
	if err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) {
			return LaunchResult{}, &LaunchError{Code: uint32(errno)}
		}
		return LaunchResult{}, fmt.Errorf("CreateProcess: %w", err)
	}

	return LaunchResult{
		Process: &windowsProcess{
			handle: processInfo.Process,
			pid:    processInfo.ProcessId,
		},
		ThreadHandle: uintptr(processInfo.Thread),
		PID:          processInfo.ProcessId,
	}, nil
}

// optionalUTF16Ptr converts s for a Win32 optional string argument:
// empty becomes a nil pointer, never an empty string.
func optionalUTF16Ptr(s string) (*uint16, error) {
	if s == "" {
		return nil, nil
	}
	return windows.UTF16PtrFromString(s)
}

type windowsProcess struct {
	handle windows.Handle
	pid    uint32
}

func (p *windowsProcess) Exited() (bool, error) {
	event, err := windows.WaitForSingleObject(p.handle, 0)
	if err != nil {
		return false, fmt.Errorf("polling process %d: %w", p.pid, err)
	}
	switch event {
	case waitObject0:
		return true, nil
	case waitTimeout:
		return false, nil
	default:
		return false, fmt.Errorf("polling process %d: unexpected wait result %#x", p.pid, event)
	}
}

func (p *windowsProcess) Handle() uintptr { return uintptr(p.handle) }

func (p *windowsProcess) Close() error {
	return windows.CloseHandle(p.handle)
}
