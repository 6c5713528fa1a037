package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.raw)
		if err != nil {
			t.Errorf("parseLevel(%q) failed: %v", tt.raw, err)
			continue
		}
		if got.Level() != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	if _, err := parseLevel("verbose"); err == nil {
		t.Error("parseLevel(verbose) should fail")
	}
}

func TestManager_LevelFilter(t *testing.T) {
	var out bytes.Buffer
	m := NewManagerWriter(&out)
	if err := m.Configure("info", ""); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	m.Logger().Debug("hidden")
	m.Logger().Info("shown", "component", "test")

	if strings.Contains(out.String(), "hidden") {
		t.Errorf("debug record written at info level: %q", out.String())
	}
	if !strings.Contains(out.String(), "shown") || !strings.Contains(out.String(), "component=test") {
		t.Errorf("info record missing: %q", out.String())
	}
}

func TestManager_LogFile(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "scpi.log")

	m := NewManagerWriter(&out)
	if err := m.Configure("debug", path); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	m.Logger().Debug("to both")
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to both") || !strings.Contains(out.String(), "to both") {
		t.Errorf("record not fanned out: file=%q console=%q", data, out.String())
	}
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestFanoutWriter(t *testing.T) {
	var ok bytes.Buffer
	w := newFanoutWriter(failWriter{}, &ok, nil)
	if n, err := w.Write([]byte("abc")); err != nil || n != 3 {
		t.Errorf("Write = %d, %v; one healthy writer should be enough", n, err)
	}

	w = newFanoutWriter(failWriter{})
	if _, err := w.Write([]byte("abc")); err == nil {
		t.Error("Write should fail when every writer fails")
	}
}
