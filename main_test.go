package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antibyte/raamcode/pkg/configuration"
)

func writeProgram(t *testing.T, name, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunFile(t *testing.T) {
	configuration.InitializeDefaults()
	defer configuration.Reset()

	tests := []struct {
		name     string
		file     string
		source   string
		variant  string
		exitCode int
		stdout   string
		stderr   string
	}{
		{"latin file", "add.bf", "+++.", "", 0, "\x03", ""},
		{"rc file is devanagari", "add.rc", "श श श न", "", 0, "\x03", ""},
		{"rc file condenses words", "chant.rc", "शशि शशि नमन", "", 0, "\x02\x02", ""},
		{"flag overrides extension", "add.rc", "+++.", "latin", 0, "\x03", ""},
		{"flag selects devanagari", "add.txt", "शशशन", "raam", 0, "\x03", ""},
		{"machine error keeps output", "left.bf", "+.<", "", 1, "\x01", "DATA POINTER LEFT THE TAPE AT INDEX 2"},
		{"unknown variant", "add.bf", "+.", "klingon", 2, "", "UNKNOWN GLYPH VARIANT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeProgram(t, tt.file, tt.source)
			var stdout, stderr bytes.Buffer

			code := runFile(&stdout, &stderr, path, tt.variant)
			if code != tt.exitCode {
				t.Errorf("expected exit code %d, got %d (stderr %q)", tt.exitCode, code, stderr.String())
			}
			if stdout.String() != tt.stdout {
				t.Errorf("expected output %q, got %q", tt.stdout, stdout.String())
			}
			if !strings.Contains(stderr.String(), tt.stderr) {
				t.Errorf("expected %q on stderr, got %q", tt.stderr, stderr.String())
			}
		})
	}
}

func TestRunFileMissing(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runFile(&stdout, &stderr, filepath.Join(t.TempDir(), "missing.bf"), ""); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Error reading") {
		t.Errorf("unexpected stderr %q", stderr.String())
	}
}
