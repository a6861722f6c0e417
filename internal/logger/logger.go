// Package logger provides the leveled logger used across the engine.
// It supports three levels: off (no output), normal (info/warn/error),
// and verbose (includes debug). Output goes through a zap core; file
// output is rotated by lumberjack. The logger is safe for concurrent use.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level controls the verbosity of the logger.
type Level int

const (
	// LevelOff disables all log output.
	LevelOff Level = iota
	// LevelNormal enables info, warn, and error output.
	LevelNormal
	// LevelVerbose enables all output including debug.
	LevelVerbose
)

// ParseLevel maps "off", "normal" and "verbose" (plus the aliases "quiet",
// "info" and "debug") to a Level. Unknown names yield LevelNormal.
func ParseLevel(name string) Level {
	switch name {
	case "off", "quiet", "none":
		return LevelOff
	case "verbose", "debug":
		return LevelVerbose
	default:
		return LevelNormal
	}
}

// FileConfig describes a rotated log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// levelBox is shared between a logger and its named children.
type levelBox struct {
	mu    sync.RWMutex
	level Level
}

// Logger is a leveled logger. All methods are safe for concurrent use.
type Logger struct {
	box   *levelBox
	sugar *zap.SugaredLogger
	out   io.Writer
}

// New creates a logger with the given level, writing to the given output.
// If out is nil, os.Stderr is used.
func New(level Level, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return build(level, out)
}

// NewFile creates a logger writing to a size-rotated file. The directory is
// created if needed.
func NewFile(level Level, fc FileConfig) *Logger {
	if dir := filepath.Dir(fc.Path); dir != "" && dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	w := &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
	}
	return build(level, w)
}

func build(level Level, out io.Writer) *Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "T"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = ""

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(out),
		zap.DebugLevel, // gating happens in Logger so SetLevel stays cheap
	)

	return &Logger{
		box:   &levelBox{level: level},
		sugar: zap.New(core).Sugar(),
		out:   out,
	}
}

// Named returns a child logger whose messages carry the given name. The
// child shares the parent's level.
func (l *Logger) Named(name string) *Logger {
	return &Logger{box: l.box, sugar: l.sugar.Named(name), out: l.out}
}

// Writer returns the underlying output, for redirecting the stdlib log
// package to the same destination.
func (l *Logger) Writer() io.Writer { return l.out }

// Zap exposes the underlying zap logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger { return l.sugar.Desugar() }

// Sync flushes buffered output.
func (l *Logger) Sync() error { return l.sugar.Sync() }

// SetLevel changes the log level at runtime.
func (l *Logger) SetLevel(level Level) {
	l.box.mu.Lock()
	defer l.box.mu.Unlock()
	l.box.level = level
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() Level {
	l.box.mu.RLock()
	defer l.box.mu.RUnlock()
	return l.box.level
}

// Debug logs a message at debug level (only visible in verbose mode).
func (l *Logger) Debug(format string, args ...any) {
	if l.GetLevel() >= LevelVerbose {
		l.sugar.Debugf(format, args...)
	}
}

// Info logs a message at info level.
func (l *Logger) Info(format string, args ...any) {
	if l.GetLevel() >= LevelNormal {
		l.sugar.Infof(format, args...)
	}
}

// Warn logs a message at warn level.
func (l *Logger) Warn(format string, args ...any) {
	if l.GetLevel() >= LevelNormal {
		l.sugar.Warnf(format, args...)
	}
}

// Error logs a message at error level.
func (l *Logger) Error(format string, args ...any) {
	if l.GetLevel() >= LevelNormal {
		l.sugar.Errorf(format, args...)
	}
}
