package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCLIHandlerFormatsAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(ModeCLI, &buf, slog.LevelDebug).With("component", "builder")
	logger.WithGroup("build").Info("staged context", "agent", "a1", "files", 4)

	line := buf.String()
	if !strings.HasPrefix(line, "INFO ") {
		t.Fatalf("unexpected level prefix: %q", line)
	}
	for _, want := range []string{"| staged context", "component=builder", "build.agent=a1", "build.files=4"} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}
}

func TestCLIHandlerQuotesErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(ModeCLI, &buf, nil).Error("build failed", "error", errors.New("exit status 1"))

	if !strings.Contains(buf.String(), `error="exit status 1"`) {
		t.Fatalf("expected quoted error, got %q", buf.String())
	}
}

func TestCLIHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(ModeCLI, &buf, slog.LevelWarn).Info("hidden")

	if buf.Len() != 0 {
		t.Fatalf("expected info record to be filtered, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, err := ParseLevel("warning")
	if err != nil {
		t.Fatalf("ParseLevel() error = %v", err)
	}
	if level != slog.LevelWarn {
		t.Fatalf("ParseLevel() = %v, want %v", level, slog.LevelWarn)
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("ParseLevel() error = nil, want error")
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseMode("json")
	if err != nil || mode != ModeJSON {
		t.Fatalf("ParseMode(json) = %v, %v", mode, err)
	}
	if _, err := ParseMode("xml"); err == nil {
		t.Fatal("ParseMode() error = nil, want error")
	}
}
