// Copyright 2026 The winpty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package main

import (
	"errors"
	"log/slog"

	"github.com/kirill-gerasimenko/winpty/lib/config"
)

func run(options runOptions, configuration config.Config, logger *slog.Logger) error {
	return errors.New("winpty-agent supervises a Windows console and only runs on Windows")
}
