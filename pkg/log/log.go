// Package log provides structured logging for agentd using zerolog.
//
// The start command calls Init once from its resolved loglevel; the
// private service processes do not call it. WithService, WithConnID,
// and WithChildContext derive component-scoped child loggers.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithService creates a child logger scoped to a service name (dataservice,
// notification, canonization, protocol, ...).
func WithService(service string) zerolog.Logger {
	return Logger.With().Str("service", service).Logger()
}

// WithConnID creates a child logger scoped to a connection identifier.
func WithConnID(connID string) zerolog.Logger {
	return Logger.With().Str("conn_id", connID).Logger()
}

// WithChildContext creates a child logger scoped to a data-service child
// context index.
func WithChildContext(idx int) zerolog.Logger {
	return Logger.With().Int("child_context", idx).Logger()
}

// Helper functions for common logging patterns against the global logger.
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
