package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/spam-report/config"
)

// setupLogger builds the text logger for cfg. console receives every record;
// with a log directory a copy goes to a timestamped file as well.
func setupLogger(cfg config.Config, console io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("spam-report-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(console, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(console, opts)
	return slog.New(handler), cleanup, nil
}

// wireLog writes the raw IMAP exchange to a logger at debug level, one
// record per protocol line. LOGIN arguments are masked, and so is every line
// between a LOGIN command and its tagged reply, which covers passwords sent
// as literals.
type wireLog struct {
	logger *slog.Logger

	mu       sync.Mutex
	loginTag string
}

func newWireLog(logger *slog.Logger) *wireLog {
	return &wireLog{logger: logger}
}

func (w *wireLog) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(string(p), "\r\n"), "\n") {
		w.logger.Debug("imap", "wire", w.mask(strings.TrimRight(line, "\r")))
	}
	return len(p), nil
}

func (w *wireLog) mask(line string) string {
	if w.loginTag != "" {
		if strings.HasPrefix(line, w.loginTag+" ") {
			w.loginTag = ""
			return line
		}
		return "***"
	}
	if masked := maskLogin(line); masked != line {
		w.loginTag, _, _ = strings.Cut(line, " ")
		return masked
	}
	return line
}

func maskLogin(line string) string {
	if idx := strings.Index(strings.ToUpper(line), " LOGIN "); idx >= 0 {
		return line[:idx+len(" LOGIN ")] + "***"
	}
	return line
}
