// Package log provides structured logging for the enricher commands.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog.Logger. A nil *Logger discards debug and info messages
// and sends warnings and errors to the default slog logger.
type Logger struct {
	*slog.Logger
	LogFile string
	Start   time.Time
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%s: invalid log level", level)
}

// New creates a logger. With a non-empty dir, JSON records go to a rotating
// file under dir; otherwise text records go to stderr.
func New(name, level, dir string) *Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	l := &Logger{Start: time.Now()}
	if dir == "" {
		l.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	} else {
		w := &lumberjack.Logger{
			Filename:   filepath.Join(dir, name+".slog"),
			MaxSize:    64, // MB
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		}
		l.LogFile = w.Filename
		l.Logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}

	l.Info("Hello logging", slog.Time("start", l.Start))
	l.Info("System information",
		slog.String("GOARCH", runtime.GOARCH),
		slog.String("GOOS", runtime.GOOS),
		slog.Int("NumCPUs", runtime.NumCPU()))
	return l
}

// NewWriter creates a text logger writing to w, mostly for tests.
func NewWriter(w io.Writer, level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
		Start:  time.Now(),
	}
}

func (l *Logger) enabled(level slog.Level) bool {
	return l != nil && l.Logger != nil && l.Logger.Enabled(context.Background(), level)
}

func (l *Logger) Debug(msg string, args ...any) {
	if l.enabled(slog.LevelDebug) {
		l.Logger.Debug(msg, args...)
	}
}

// Debugf logs a printf-style debug message.
func (l *Logger) Debugf(msg string, args ...any) {
	if l.enabled(slog.LevelDebug) {
		l.Logger.Debug(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Info(msg string, args ...any) {
	if l.enabled(slog.LevelInfo) {
		l.Logger.Info(msg, args...)
	}
}

func (l *Logger) Infof(msg string, args ...any) {
	if l.enabled(slog.LevelInfo) {
		l.Logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Warn(msg string, args ...any) {
	if l == nil || l.Logger == nil {
		slog.Warn(msg, args...)
	} else {
		l.Logger.Warn(msg, args...)
	}
}

func (l *Logger) Warnf(msg string, args ...any) {
	l.Warn(fmt.Sprintf(msg, args...))
}

func (l *Logger) Error(msg string, args ...any) {
	if l == nil || l.Logger == nil {
		slog.Error(msg, args...)
	} else {
		l.Logger.Error(msg, args...)
	}
}

func (l *Logger) Errorf(msg string, args ...any) {
	l.Error(fmt.Sprintf(msg, args...))
}

// With returns a logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.Logger == nil {
		return l
	}
	return &Logger{
		Logger:  l.Logger.With(args...),
		LogFile: l.LogFile,
		Start:   l.Start,
	}
}
