// Package blog provides structured logging for burrow using zerolog.
//
// It wraps zerolog to give JSON-structured logging with component-scoped
// child loggers and a handful of helpers for the log lines the cache
// engine, fanout router and integrity checker emit on their own.
package blog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once via Init.
var Logger zerolog.Logger

// Level is a burrow log level name.
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

func init() {
	// A usable default so library callers who never call Init still get
	// output instead of a zero-value logger that silently drops lines.
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init (re)configures the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
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
		output = os.Stderr
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

// WithComponent returns a child logger tagging every line with the
// emitting component (e.g. "cache", "fanout", "heap").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithShard tags a child logger with the fanout shard index.
func WithShard(index int) zerolog.Logger {
	return Logger.With().Int("shard", index).Logger()
}

// WithOp tags a child logger with the engine operation name, for the
// get/set/add/... call sites that want one line per invocation.
func WithOp(op string) zerolog.Logger {
	return Logger.With().Str("op", op).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}
