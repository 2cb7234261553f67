// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	combinedLogName = "combined.log"
	errorLogName    = "error.log"
)

// Config configures log output.
type Config struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is "text" or "json". Defaults to text.
	Format string `yaml:"format"`

	// Dir enables rolling combined.log and error.log files in this
	// directory. Console output is kept.
	Dir string `yaml:"dir"`

	// MaxSizeMB is the size at which a log file rotates. Defaults to 100.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept. Defaults to 5.
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays deletes rotated files older than this. Defaults to 30.
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// DefaultConfig returns console logging at info.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     FormatText,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// Validate checks level and format.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("parsing log level %q: %w", c.Level, err)
	}

	switch strings.ToLower(c.Format) {
	case "", FormatText, FormatJSON:
	default:
		return fmt.Errorf("unsupported log format %q", c.Format)
	}

	return nil
}

// Logger is a configured logger and the files it writes to.
type Logger struct {
	*logrus.Logger

	closers []io.Closer
}

// New builds a logger writing to stdout and, when Dir is set, to rolling
// files. The caller must Close it to release the files.
func New(cfg Config) (*Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, console io.Writer) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := logrus.ParseLevel(cfg.Level)

	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(formatter(cfg.Format))

	l := &Logger{Logger: log}

	if cfg.Dir == "" {
		log.SetOutput(console)

		return l, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	combined := rolling(cfg, combinedLogName)
	errs := rolling(cfg, errorLogName)

	log.SetOutput(io.MultiWriter(console, combined))
	log.AddHook(&levelFileHook{
		writer:    errs,
		formatter: formatter(cfg.Format),
		levels:    []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
	})

	l.closers = append(l.closers, combined, errs)

	return l, nil
}

// Close flushes and closes the log files.
func (l *Logger) Close() error {
	var first error

	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}

	l.closers = nil

	return first
}

func formatter(format string) logrus.Formatter {
	if strings.ToLower(format) == FormatJSON {
		return &logrus.JSONFormatter{}
	}

	return &logrus.TextFormatter{FullTimestamp: true}
}

func rolling(cfg Config, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    max(1, cfg.MaxSizeMB),
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// levelFileHook copies entries at the given levels to a separate writer.
type levelFileHook struct {
	writer    io.Writer
	formatter logrus.Formatter
	levels    []logrus.Level
}

func (h *levelFileHook) Levels() []logrus.Level {
	return h.levels
}

func (h *levelFileHook) Fire(e *logrus.Entry) error {
	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}

	_, err = h.writer.Write(line)

	return err
}
