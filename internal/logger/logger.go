package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls where and how log events are written.
type Config struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stderr"` // stdout, stderr, file path, or "dir:<path>"
	TimeFormat string `yaml:"time_format"`
}

// New builds a zerolog logger. The returned closer releases the log file, if any.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}

	var output io.Writer
	var closer io.Closer = nopCloser{}
	switch {
	case cfg.Output == "" || cfg.Output == "stderr":
		output = os.Stderr
	case cfg.Output == "stdout":
		output = os.Stdout
	default:
		path := cfg.Output
		if dir, ok := strings.CutPrefix(path, "dir:"); ok {
			path = SessionFile(dir, "engine", time.Now())
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("could not open log file: %w", err)
		}
		output = file
		closer = file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: timeFormat,
			NoColor:    closer != (nopCloser{}),
		}
	}

	l := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
	return l, closer, nil
}

// SessionFile returns the per-day log file path for a name, e.g. logs/BTCUSDT_2025-01-02.log.
func SessionFile(dir, name string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, at.Format("2006-01-02")))
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
