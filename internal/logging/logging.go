// Package logging 配置命令行工具的 slog 日志。
// 日志写到 stderr，stdout 只留给仪器响应。
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Manager 持有日志配置和可选的日志文件。
type Manager struct {
	mu     sync.RWMutex
	out    io.Writer
	logger *slog.Logger
	file   *os.File
}

func NewManager() *Manager {
	return NewManagerWriter(os.Stderr)
}

// NewManagerWriter 以 out 作为控制台输出。
func NewManagerWriter(out io.Writer) *Manager {
	m := &Manager{out: out}
	m.logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return m
}

// Configure 设置级别；filePath 非空时同时追加写入该文件。
func (m *Manager) Configure(level, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	writer := m.out
	if filePath != "" {
		file, err := os.OpenFile(filepath.Clean(filePath), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		m.file = file
		writer = newFanoutWriter(m.out, file)
	}

	m.logger = slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: lvl}))
	return nil
}

func (m *Manager) Logger() *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return err
		}
		m.file = nil
	}
	return nil
}

func parseLevel(raw string) (slog.Leveler, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, errors.Errorf("unsupported log level: %q", raw)
	}
}

// fanoutWriter 把同一份输出写给多个目标，任一成功即视为成功。
type fanoutWriter struct {
	writers []io.Writer
}

func newFanoutWriter(writers ...io.Writer) io.Writer {
	filtered := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			filtered = append(filtered, w)
		}
	}
	return &fanoutWriter{writers: filtered}
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	var (
		wroteAny bool
		firstErr error
	)

	for _, dst := range w.writers {
		n, err := dst.Write(p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		wroteAny = true
	}

	if wroteAny || firstErr == nil {
		return len(p), nil
	}
	return 0, firstErr
}
