// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log is a small leveled logging shim shared by the pe and clr
// packages. It intentionally stays tiny: a Logger writes key/value pairs,
// a Helper adds the printf-style convenience methods callers actually
// use, and a Filter wraps a Logger to drop records below a level.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int8

// Severities, lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level's name.
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

// Logger writes a leveled, keyvals-shaped log record.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

type stdLogger struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdLogger returns a Logger that writes "time level msg key=val ..."
// lines to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{out: w}
}

func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := fmt.Sprintf("%s %-5s", time.Now().Format("2006-01-02T15:04:05.000"), level)
	for i := 0; i+1 < len(keyvals); i += 2 {
		buf += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
	}
	if len(keyvals)%2 == 1 {
		buf += fmt.Sprintf(" %v", keyvals[len(keyvals)-1])
	}
	_, err := fmt.Fprintln(l.out, buf)
	return err
}

// Option configures a filtering Logger.
type Option func(*filter)

type filter struct {
	Logger
	level Level
}

// FilterLevel drops any record below level.
func FilterLevel(level Level) Option {
	return func(f *filter) {
		f.level = level
	}
}

// NewFilter wraps logger with the given options applied.
func NewFilter(logger Logger, opts ...Option) Logger {
	f := &filter{Logger: logger, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.Logger.Log(level, keyvals...)
}

// Helper adds printf-style convenience methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in a Helper.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

// Debug logs at debug level.
func (h *Helper) Debug(a ...interface{}) { h.logger.Log(LevelDebug, "msg", fmt.Sprint(a...)) }

// Debugf logs a formatted message at debug level.
func (h *Helper) Debugf(format string, a ...interface{}) {
	h.logger.Log(LevelDebug, "msg", fmt.Sprintf(format, a...))
}

// Info logs at info level.
func (h *Helper) Info(a ...interface{}) { h.logger.Log(LevelInfo, "msg", fmt.Sprint(a...)) }

// Infof logs a formatted message at info level.
func (h *Helper) Infof(format string, a ...interface{}) {
	h.logger.Log(LevelInfo, "msg", fmt.Sprintf(format, a...))
}

// Warn logs at warn level.
func (h *Helper) Warn(a ...interface{}) { h.logger.Log(LevelWarn, "msg", fmt.Sprint(a...)) }

// Warnf logs a formatted message at warn level.
func (h *Helper) Warnf(format string, a ...interface{}) {
	h.logger.Log(LevelWarn, "msg", fmt.Sprintf(format, a...))
}

// Error logs at error level.
func (h *Helper) Error(a ...interface{}) { h.logger.Log(LevelError, "msg", fmt.Sprint(a...)) }

// Errorf logs a formatted message at error level.
func (h *Helper) Errorf(format string, a ...interface{}) {
	h.logger.Log(LevelError, "msg", fmt.Sprintf(format, a...))
}

// DefaultLogger is a filtered stderr logger at LevelError, used whenever a
// caller does not supply one of their own.
func DefaultLogger() Logger {
	return NewFilter(NewStdLogger(os.Stderr), FilterLevel(LevelError))
}
