// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Two-level (Info and Debug) logging on top of log/slog with a tint console
// handler. Both levels are disabled until explicitly enabled.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// Level above any slog level, used to silence logger completely.
const levelOff = slog.Level(100)

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
	level            = new(slog.LevelVar)
	logger *slog.Logger
)

func init() {
	level.Set(levelOff)
	logger = newLogger(output)
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		AddSource:  true,
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !isTerminal(w),
	}))
}

// isTerminal reports if w is a character device (a console).
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	logger = newLogger(w)
}

// Logger returns underlying structured logger, e.g. for attribute-rich records.
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// EnableInfoLogger helper function to explicitly enable Info level.
func EnableInfoLogger() {
	// Do not downgrade from debug.
	if level.Level() > slog.LevelInfo {
		level.Set(slog.LevelInfo)
	}
}

// EnableDebugLogger helper function to explicitly enable Debug (and Info) level.
func EnableDebugLogger() {
	level.Set(slog.LevelDebug)
}

// Disable turns off all logging.
func Disable() {
	level.Set(levelOff)
}

// emit writes a record attributing the source location to the caller of
// Info/Infof/Debug/Debugf.
func emit(l slog.Level, msg string) {
	lg := Logger()
	ctx := context.Background()
	if !lg.Enabled(ctx, l) {
		return
	}
	var pcs [1]uintptr
	// Skip runtime.Callers, emit and exported wrapper.
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), l, msg, pcs[0])
	_ = lg.Handler().Handle(ctx, r)
}

func Info(v ...interface{}) {
	emit(slog.LevelInfo, fmt.Sprint(v...))
}

func Infof(format string, v ...interface{}) {
	emit(slog.LevelInfo, fmt.Sprintf(format, v...))
}

func Debug(v ...interface{}) {
	emit(slog.LevelDebug, fmt.Sprint(v...))
}

func Debugf(format string, v ...interface{}) {
	emit(slog.LevelDebug, fmt.Sprintf(format, v...))
}
