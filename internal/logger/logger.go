// Package logger builds the hclog loggers used across tunevault and keeps a
// package-level default for call sites that have no injected logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Options controls how a logger is built.
type Options struct {
	Name   string
	Level  string // trace, debug, info, warn, error
	Format string // json or text
	Color  bool
	Output io.Writer
}

var (
	defaultLogger hclog.Logger = hclog.New(&hclog.LoggerOptions{
		Name:   "tunevault",
		Level:  levelFromEnv(),
		Output: os.Stderr,
	})
	defaultMu sync.RWMutex
)

// New creates an hclog logger from the given options.
func New(opts Options) hclog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	name := opts.Name
	if name == "" {
		name = "tunevault"
	}

	color := hclog.ColorOff
	if opts.Color && !strings.EqualFold(opts.Format, "json") {
		color = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(levelOrDefault(opts.Level)),
		Output:     output,
		JSONFormat: strings.EqualFold(opts.Format, "json"),
		Color:      color,
	})
}

// SetDefault replaces the package-level logger.
func SetDefault(l hclog.Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default returns the package-level logger.
func Default() hclog.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Named returns a sub-logger of the default logger.
func Named(name string) hclog.Logger {
	return Default().Named(name)
}

// OrDefault returns l, or a named default logger when l is nil.
func OrDefault(l hclog.Logger, name string) hclog.Logger {
	if l != nil {
		return l
	}
	return Named(name)
}

// Info logs informational messages with key/value pairs
func Info(msg string, args ...interface{}) {
	Default().Info(msg, args...)
}

// Warn logs warning messages
func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

// Error logs error messages
func Error(msg string, args ...interface{}) {
	Default().Error(msg, args...)
}

// Debug logs debug messages
func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}

func levelFromEnv() hclog.Level {
	return hclog.LevelFromString(levelOrDefault(os.Getenv("TUNEVAULT_LOG_LEVEL")))
}

func levelOrDefault(level string) string {
	if hclog.LevelFromString(level) == hclog.NoLevel {
		return "info"
	}
	return level
}
