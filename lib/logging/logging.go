// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the daemon's structured logger: a slog JSON
// handler writing to a size-rotated file.
//
// The daemon's stdio is redirected to /dev/null once it detaches, so
// the log file is its only sink. [Logger.Reopen] rotates the file on
// request (the start-daemon request uses it after early boot, when the
// log directory may have only just become writable).
package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes where and how the daemon logs.
type Config struct {
	// Path is the log file. Required.
	Path string

	// Level is the minimum level written.
	Level slog.Level

	// MaxSizeMB rotates the file once it exceeds this size. Zero uses
	// lumberjack's default (100 MB).
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Zero keeps all.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// Logger is a slog.Logger bound to a rotating file.
type Logger struct {
	*slog.Logger
	rotator *lumberjack.Logger
}

// New creates the log file's directory if needed and returns a logger
// writing JSON records to it.
func New(config Config) (*Logger, error) {
	if config.Path == "" {
		return nil, errors.New("logging: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		Compress:   config.Compress,
		LocalTime:  true,
	}
	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
		Level: config.Level,
	})
	return &Logger{
		Logger:  slog.New(handler).With("process", "magiskd"),
		rotator: rotator,
	}, nil
}

// Reopen rotates the current file aside and starts a fresh one.
func (l *Logger) Reopen() error {
	return l.rotator.Rotate()
}

// Close closes the underlying file. Later writes reopen it.
func (l *Logger) Close() error {
	return l.rotator.Close()
}
