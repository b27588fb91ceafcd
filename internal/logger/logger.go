package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation controls how the log file is rolled over.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options selects the level and sinks of a logger. Without a file the
// logger always writes to stderr; stdout is left to command output.
type Options struct {
	Level    string
	File     string
	Rotation Rotation
	Console  bool
}

// New builds a JSON logger for opts.
func New(opts Options) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	out, err := sink(opts)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(formatter())
	log.SetOutput(out)
	return log, nil
}

func formatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyFunc:  "function",
		},
	}
}

func sink(opts Options) (io.Writer, error) {
	if opts.File == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}

	rolling := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.Rotation.MaxSizeMB,
		MaxBackups: opts.Rotation.MaxBackups,
		MaxAge:     opts.Rotation.MaxAgeDays,
		Compress:   opts.Rotation.Compress,
	}
	if !opts.Console {
		return rolling, nil
	}
	return io.MultiWriter(rolling, os.Stderr), nil
}

// Discard returns a logger that drops every entry.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// ForFile tags entries with the file being worked on and the operation.
func ForFile(log *logrus.Logger, path, operation string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"file":      path,
		"operation": operation,
	})
}
