package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Level is the minimum severity a logger will emit.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a leveled wrapper around the standard log package. The chat
// transcript owns stdout, so log lines go to a file or stderr.
type Logger struct {
	level Level
	out   *log.Logger
	file  *os.File
}

var defaultLogger *Logger

// Init builds the package default logger. An empty path logs to stderr;
// persist appends to an existing file instead of truncating it.
func Init(levelStr, path string, persist bool) error {
	lg, err := New(ParseLevel(levelStr), path, persist)
	if err != nil {
		return err
	}
	if defaultLogger != nil {
		defaultLogger.Close()
	}
	defaultLogger = lg
	return nil
}

func New(level Level, path string, persist bool) (*Logger, error) {
	if path == "" {
		return &Logger{level: level, out: log.New(os.Stderr, "", log.LstdFlags)}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if persist {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		level: level,
		out:   log.New(file, "", log.LstdFlags),
		file:  file,
	}, nil
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.out.Printf("[%s] %s", level.String(), fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// Package-level functions log through the default logger and are no-ops
// before Init, so libraries can log unconditionally.

func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(format, args...)
	}
}

// Close flushes and closes the default logger's file, if any.
func Close() {
	if defaultLogger != nil {
		defaultLogger.Close()
	}
}
