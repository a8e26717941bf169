// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "annotation",
		Quiet:   true,
	})

	logger.Info("change applied", "type", "LocationEndChange")
	logger.Debug("detail", "key", "value")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "annotation_") {
		t.Errorf("log file %q should carry the service prefix", entries[0].Name())
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "change applied") {
		t.Errorf("log file missing info entry: %s", content)
	}
	if !strings.Contains(content, `"service":"annotation"`) {
		t.Errorf("log file entries missing service attribute: %s", content)
	}
}

func TestLogger_With(t *testing.T) {
	logger := New(Config{Quiet: true})
	child := logger.With("assembly", "asm1")
	if child == logger {
		t.Fatal("With should return a new logger")
	}
	if child.Slog() == nil {
		t.Fatal("child logger missing slog backend")
	}
}

func TestMultiHandler_FansOut(t *testing.T) {
	dir := t.TempDir()
	fileA, err := os.Create(filepath.Join(dir, "a.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer fileA.Close()
	fileB, err := os.Create(filepath.Join(dir, "b.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer fileB.Close()

	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(fileA, nil),
		slog.NewJSONHandler(fileB, nil),
	}}
	logger := slog.New(h)
	logger.Info("fan out")

	for _, f := range []string{"a.log", "b.log"} {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "fan out") {
			t.Errorf("%s missing record", f)
		}
	}

	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("multiHandler should be enabled at info")
	}
}
