// Package logger wraps logrus with the component-scoped defaults used across
// the auditor's services and commands.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls how a Logger is constructed.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // "json" or "text"
	Output io.Writer // defaults to os.Stderr
}

// Logger is a logrus logger bound to a component name. Entries created through
// WithField, WithFields and WithError carry the component field.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger from cfg.
func New(component string, cfg Config) *Logger {
	base := logrus.New()
	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stderr)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetLevel(ParseLevel(cfg.Level))
	return &Logger{Logger: base, component: component}
}

// NewDefault returns an info-level text logger for component.
func NewDefault(component string) *Logger {
	return New(component, Config{Level: "info"})
}

// ParseLevel converts a level name to a logrus level, falling back to info.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Component returns a logger for another component sharing the same output,
// formatter and level.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger, component: name}
}

// Name returns the component name.
func (l *Logger) Name() string {
	return l.component
}

// Entry returns an entry pre-populated with the component field.
func (l *Logger) Entry() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}

// WithField creates an entry with a single field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Entry().WithField(key, value)
}

// WithFields creates an entry with multiple fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Entry().WithFields(fields)
}

// WithError creates an entry carrying err.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Entry().WithError(err)
}
