package utils

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger provides leveled, printf-style logging on top of logrus. Fields
// attached with WithFields are carried by every line the derived logger
// writes.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a text logger on stdout at info level.
func NewLogger() *Logger {
	return NewLoggerWith("info", "text", os.Stdout)
}

// NewLoggerWith builds a logger with the given level ("debug", "info", ...)
// and format ("text" or "json").
func NewLoggerWith(level, format string, out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)

	if strings.EqualFold(format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	return &Logger{entry: logrus.NewEntry(base)}
}

// NewDiscardLogger returns a logger that drops everything. Used in tests.
func NewDiscardLogger() *Logger {
	return NewLoggerWith("panic", "text", io.Discard)
}

// WithFields returns a derived logger carrying the given fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithField is WithFields for a single key.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Info(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

// Writer exposes the underlying output, e.g. for gin's request logger.
func (l *Logger) Writer() io.Writer {
	return l.entry.Logger.Out
}
