package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitializeWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, INFO)
	defer Close()

	Debug(AreaInterpreter, "hidden %d", 1)
	Info(AreaInterpreter, "visible %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry written at INFO level: %q", out)
	}
	if !strings.Contains(out, "[INTERPRETER] visible 2") {
		t.Errorf("info entry missing: %q", out)
	}
}

func TestDisableArea(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, DEBUG)
	defer Close()

	DisableArea(AreaSession)
	if GetAreaStatus(AreaSession) {
		t.Fatal("session area should be disabled")
	}
	SessionInfo("dropped")
	AuthInfo("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "[AUTH] kept") {
		t.Errorf("unexpected log output %q", out)
	}

	EnableArea(AreaSession)
	if !GetAreaStatus(AreaSession) {
		t.Error("session area should be enabled again")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"WARNING": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for in, expected := range tests {
		if got := parseLogLevel(in); got != expected {
			t.Errorf("parseLogLevel(%q) = %d, expected %d", in, got, expected)
		}
	}
}

func TestListAreasReturnsCopy(t *testing.T) {
	areas := ListAreas()
	areas[0] = "changed"
	if ListAreas()[0] != AreaInterpreter {
		t.Error("ListAreas exposed its backing slice")
	}
}
