package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger = zerolog.Nop()

	logFile *os.File
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// File, when set, receives an uncolored copy of every line. The file is
	// opened in append-only mode.
	File string

	// NoColor disables ANSI colors on the console writer
	NoColor bool
}

// Init initializes the global logger
func Init(cfg Config) error {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var console io.Writer
	if cfg.JSONOutput {
		console = output
	} else {
		console = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}

	writer := console
	if cfg.File != "" {
		f, err := openAppend(cfg.File)
		if err != nil {
			return err
		}
		Close()
		logFile = f
		writer = zerolog.MultiLevelWriter(console, zerolog.ConsoleWriter{
			Out:        f,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	Logger = zerolog.New(writer).With().Timestamp().Logger()
	return nil
}

// Close releases the log file opened by Init, if any
func Close() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// ParseLevel maps a Level to a zerolog level, defaulting to info
func ParseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithDeploymentID creates a child logger with deployment_id field
func WithDeploymentID(id string) zerolog.Logger {
	return Logger.With().Str("deployment_id", id).Logger()
}

// WithStep derives a logger for one pipeline step from parent, keeping its
// fields
func WithStep(parent zerolog.Logger, step string) zerolog.Logger {
	return parent.With().Str("step", step).Logger()
}
