package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger provides leveled logging throughout the application. Messages keep
// the "[component] text" convention; structured fields ride along via With.
type Logger struct {
	entry *logrus.Entry
}

// LogOptions selects level, format and output for NewLoggerWithOptions.
type LogOptions struct {
	Level      string
	Format     string // text or json
	File       string // empty writes to stdout
	MaxAgeDays int
}

// NewLogger creates a text Logger at info level writing to stdout.
func NewLogger() *Logger {
	l, _ := NewLoggerWithOptions(LogOptions{Level: "info", Format: "text"})
	return l
}

// NewLoggerWithOptions builds a Logger; an invalid level or format is an error.
func NewLoggerWithOptions(opts LogOptions) (*Logger, error) {
	base := logrus.New()

	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", opts.Level)
	}
	base.SetLevel(lvl)

	switch opts.Format {
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	base.SetOutput(logOutput(opts))
	return &Logger{entry: logrus.NewEntry(base)}, nil
}

func logOutput(opts LogOptions) io.Writer {
	if opts.File == "" {
		return os.Stdout
	}
	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 7
	}
	return &lumberjack.Logger{
		Filename: opts.File,
		MaxAge:   maxAge,
		MaxSize:  100,
		Compress: true,
	}
}

// NewDiscardLogger returns a Logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
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
