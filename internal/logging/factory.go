// Package logging hands out component loggers with per-component levels.
package logging

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Factory provides component-aware loggers with consistent field naming.
type Factory struct {
	base   *log.Logger
	levels map[string]log.Level

	mu      sync.Mutex
	loggers map[string]*log.Logger
}

// New creates a base logger writing to w at the given level name. Unknown
// level names fall back to info.
func New(w io.Writer, level string) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           ParseLevel(level),
	})
}

// NewFactory creates a factory over base. componentLevels maps component
// names to level names and overrides the base level for those components.
func NewFactory(base *log.Logger, componentLevels map[string]string) *Factory {
	levels := make(map[string]log.Level, len(componentLevels))
	for name, level := range componentLevels {
		levels[strings.ToLower(name)] = ParseLevel(level)
	}
	return &Factory{
		base:    base,
		levels:  levels,
		loggers: make(map[string]*log.Logger),
	}
}

// Discard returns a factory whose loggers write nowhere. Tests use it.
func Discard() *Factory {
	return NewFactory(log.New(io.Discard), nil)
}

// ForComponent returns the logger for a component, creating it on first use.
// Every record carries a "component" field.
func (f *Factory) ForComponent(name string) *log.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.loggers[name]; ok {
		return l
	}
	l := f.base.With("component", name)
	if level, ok := f.levels[strings.ToLower(name)]; ok {
		l.SetLevel(level)
	}
	f.loggers[name] = l
	return l
}

// ParseLevel converts a level name to a log.Level, defaulting to info.
func ParseLevel(name string) log.Level {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return log.InfoLevel
	}
	return level
}
