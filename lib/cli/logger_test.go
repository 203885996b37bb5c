// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	var text bytes.Buffer
	newLogger(&text, true, slog.LevelInfo).Info("connected", "socket", "magiskd")
	if !strings.Contains(text.String(), "msg=connected") {
		t.Errorf("terminal output = %q, want text format", text.String())
	}

	var structured bytes.Buffer
	newLogger(&structured, false, slog.LevelInfo).Info("connected", "socket", "magiskd")
	var record map[string]any
	if err := json.Unmarshal(structured.Bytes(), &record); err != nil {
		t.Fatalf("piped output %q is not JSON: %v", structured.String(), err)
	}
	if record["socket"] != "magiskd" {
		t.Errorf("socket = %v, want magiskd", record["socket"])
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buffer bytes.Buffer
	logger := newLogger(&buffer, false, slog.LevelWarn)
	logger.Info("quiet")
	if buffer.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buffer.String())
	}
}
