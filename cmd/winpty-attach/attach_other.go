// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package main

import "errors"

func attach(options attachOptions) (int, error) {
	return 0, errors.New("winpty-attach drives a Windows console agent and only runs on Windows")
}
