package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
)

// Logger is the process-wide logger. It discards output until SetupLogger runs,
// so packages can log safely from tests.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	FilePermission = 0644
	DirPermission  = 0755
	timeFormat     = "2006-01-02 15:04:05"
)

// level is shared by every logger SetupLogger builds, so SetVerbose can
// change it after setup.
var level = new(slog.LevelVar)

func SetupLogger(w io.Writer, verbose bool) {
	SetVerbose(verbose)

	Logger = slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: timeFormat,
	}))
}

// SetVerbose switches between debug and info level.
func SetVerbose(verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
		return
	}
	level.Set(slog.LevelInfo)
}

// Verbose reports whether debug logging is on.
func Verbose() bool {
	return level.Level() <= slog.LevelDebug
}

// SetupLogWriter returns stdout, or stdout teed into logPath when set.
// The returned file must be closed by the caller.
func SetupLogWriter(logPath string) (io.Writer, *os.File, error) {
	if logPath == "" {
		return os.Stdout, nil, nil
	}

	if dir := filepath.Dir(logPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, DirPermission); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FilePermission)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return io.MultiWriter(os.Stdout, f), f, nil
}
